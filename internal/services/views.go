package services

import (
	"time"

	"github.com/google/uuid"

	"classlink/internal/domain/conversation"
	"classlink/internal/domain/message"
	"classlink/internal/domain/notification"
	"classlink/internal/domain/user"
)

// UserInfo is the sender projection embedded in formatted payloads.
type UserInfo struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}

// MessageView is the wire shape of a message, shared by REST responses,
// cached windows and realtime events.
type MessageView struct {
	ID              uuid.UUID            `json:"id"`
	ConversationID  uuid.UUID            `json:"conversation_id"`
	SenderID        uuid.UUID            `json:"sender_id"`
	Sender          *UserInfo            `json:"sender,omitempty"`
	ReceiverID      *uuid.UUID           `json:"receiver_id,omitempty"`
	Content         string               `json:"content,omitempty"`
	Type            string               `json:"type"`
	ReplyToID       *uuid.UUID           `json:"reply_to_id,omitempty"`
	ClientMessageID string               `json:"client_message_id,omitempty"`
	Attachments     []message.Attachment `json:"attachments,omitempty"`
	Reactions       message.ReactionMap  `json:"reactions,omitempty"`
	IsEdited        bool                 `json:"is_edited"`
	EditedAt        *time.Time           `json:"edited_at,omitempty"`
	IsDeleted       bool                 `json:"is_deleted"`
	CreatedAt       time.Time            `json:"created_at"`
}

// ParticipantView is a participant inside a conversation view.
type ParticipantView struct {
	UserID      uuid.UUID `json:"user_id"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// ConversationView is the wire shape of a conversation summary.
type ConversationView struct {
	ID            uuid.UUID         `json:"id"`
	Type          string            `json:"type"`
	Name          string            `json:"name,omitempty"`
	Description   string            `json:"description,omitempty"`
	AvatarURL     string            `json:"avatar_url,omitempty"`
	CreatedBy     *uuid.UUID        `json:"created_by,omitempty"`
	Participants  []ParticipantView `json:"participants"`
	UnreadCount   int               `json:"unread_count"`
	LastMessage   *MessageView      `json:"last_message,omitempty"`
	LastMessageAt *time.Time        `json:"last_message_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ConversationPage is one page of a user's conversation list. The first page
// is what the cache holds.
type ConversationPage struct {
	Conversations []ConversationView `json:"conversations"`
	Total         int64              `json:"total"`
	Page          int                `json:"page"`
}

// MessagePage is one pagination window, always chronologically ascending.
type MessagePage struct {
	Messages   []MessageView `json:"messages"`
	NextCursor string        `json:"next_cursor,omitempty"`
	PrevCursor string        `json:"prev_cursor,omitempty"`
}

// NotificationView is the wire shape of a notification.
type NotificationView struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"user_id"`
	SenderID  *uuid.UUID        `json:"sender_id,omitempty"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Priority  string            `json:"priority"`
	ActionURL string            `json:"action_url,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	IsRead    bool              `json:"is_read"`
	CreatedAt time.Time         `json:"created_at"`
}

func newMessageView(m message.Message, sender *user.User) MessageView {
	view := MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           m.Type,
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		CreatedAt:      m.CreatedAt,
	}
	if sender != nil {
		view.Sender = &UserInfo{ID: sender.ID, DisplayName: sender.DisplayName, AvatarURL: sender.AvatarURL}
	}
	if m.ReceiverID.Valid {
		id := m.ReceiverID.UUID
		view.ReceiverID = &id
	}
	if m.Content.Valid {
		view.Content = m.Content.String
	}
	if m.ReplyToID.Valid {
		id := m.ReplyToID.UUID
		view.ReplyToID = &id
	}
	if m.ClientMessageID.Valid {
		view.ClientMessageID = m.ClientMessageID.String
	}
	if m.EditedAt.Valid {
		t := m.EditedAt.Time
		view.EditedAt = &t
	}
	if meta, err := m.DecodeMetadata(); err == nil {
		view.Attachments = meta.Attachments
	}
	if reactions, err := m.DecodeReactions(); err == nil && len(reactions) > 0 {
		view.Reactions = reactions
	}
	if m.IsDeleted {
		view.Content = ""
		view.Attachments = nil
	}
	return view
}

func newConversationView(c conversation.Conversation, unread int, last *MessageView, users map[uuid.UUID]user.User) ConversationView {
	view := ConversationView{
		ID:          c.ID,
		Type:        c.Type,
		UnreadCount: unread,
		LastMessage: last,
		CreatedAt:   c.CreatedAt,
	}
	if c.Name.Valid {
		view.Name = c.Name.String
	}
	if c.Description.Valid {
		view.Description = c.Description.String
	}
	if c.AvatarURL.Valid {
		view.AvatarURL = c.AvatarURL.String
	}
	if c.CreatedBy.Valid {
		id := c.CreatedBy.UUID
		view.CreatedBy = &id
	}
	if c.LastMessageAt.Valid {
		t := c.LastMessageAt.Time
		view.LastMessageAt = &t
	}
	for _, p := range c.Participants {
		if !p.Active() {
			continue
		}
		pv := ParticipantView{UserID: p.UserID, Role: p.Role, JoinedAt: p.JoinedAt}
		if u, ok := users[p.UserID]; ok {
			pv.DisplayName = u.DisplayName
			pv.AvatarURL = u.AvatarURL
		}
		view.Participants = append(view.Participants, pv)
	}
	return view
}

func newNotificationView(n notification.Notification, data map[string]string) NotificationView {
	view := NotificationView{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Content:   n.Content,
		Priority:  n.Priority,
		Data:      data,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
	if n.SenderID.Valid {
		id := n.SenderID.UUID
		view.SenderID = &id
	}
	if n.ActionURL.Valid {
		view.ActionURL = n.ActionURL.String
	}
	return view
}

func userPtr(users map[uuid.UUID]user.User, id uuid.UUID) *user.User {
	if u, ok := users[id]; ok {
		return &u
	}
	return nil
}
