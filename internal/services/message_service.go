package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"classlink/internal/domain"
	"classlink/internal/domain/conversation"
	"classlink/internal/domain/message"
	"classlink/internal/domain/user"
	"classlink/internal/repository"
	classlink_errors "classlink/pkg/errors"
	"classlink/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxMessagePageSize = 50
	maxBatchDelete     = 50
)

type MessageService struct {
	db            *gorm.DB
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	users         repository.UserRepository
	cache         ConversationCache
	broadcaster   Broadcaster
	logger        *logger.Logger
	editWindow    time.Duration
}

func NewMessageService(
	db *gorm.DB,
	messages repository.MessageRepository,
	conversations repository.ConversationRepository,
	users repository.UserRepository,
	cache ConversationCache,
	broadcaster Broadcaster,
	l *logger.Logger,
	editWindow time.Duration,
) *MessageService {
	if editWindow == 0 {
		editWindow = 15 * time.Minute
	}
	return &MessageService{
		db:            db,
		messages:      messages,
		conversations: conversations,
		users:         users,
		cache:         cache,
		broadcaster:   broadcaster,
		logger:        l,
		editWindow:    editWindow,
	}
}

// SendMessageInput is the payload of a send call. Exactly one of
// ConversationID or ReceiverID must be set; ReceiverID alone targets (and
// lazily creates) the direct conversation with that user.
type SendMessageInput struct {
	ConversationID  *uuid.UUID
	ReceiverID      *uuid.UUID
	Content         string
	Type            string
	ReplyToID       *uuid.UUID
	ClientMessageID string
	Attachments     []message.Attachment
}

// MessagePageOptions selects a pagination window.
type MessagePageOptions struct {
	Cursor    string
	Direction string // "before" (default) or "after"
	Limit     int
}

// BatchDeleteResult reports per-item outcomes of a batch delete.
type BatchDeleteResult struct {
	Deleted   int         `json:"deleted"`
	Failed    int         `json:"failed"`
	FailedIDs []uuid.UUID `json:"failed_ids,omitempty"`
}

// SendMessage persists a message and projects it onto the cache and the
// realtime channel. Retries carrying the same client_message_id return the
// original message instead of creating a duplicate.
func (s *MessageService) SendMessage(ctx context.Context, input SendMessageInput, senderID uuid.UUID) (MessageView, error) {
	if input.Content == "" && len(input.Attachments) == 0 {
		return MessageView{}, classlink_errors.ErrValidationFailed
	}

	conv, created, err := s.resolveConversation(ctx, input, senderID)
	if err != nil {
		return MessageView{}, err
	}

	receiverID := uuid.NullUUID{}
	if conv.Type == string(domain.ConversationTypeDirect) {
		for _, p := range conv.Participants {
			if p.UserID != senderID {
				receiverID = uuid.NullUUID{UUID: p.UserID, Valid: true}
				break
			}
		}
	}

	if input.ReplyToID != nil {
		parent, err := s.messages.GetByID(ctx, *input.ReplyToID)
		if err != nil || parent.ConversationID != conv.ID {
			return MessageView{}, classlink_errors.ErrInvalidReference
		}
	}

	// Idempotent retry: an existing message with the same client key wins.
	if input.ClientMessageID != "" {
		existing, err := s.messages.GetByClientMessageID(ctx, conv.ID, input.ClientMessageID)
		if err == nil {
			return s.formatMessage(ctx, existing), nil
		}
		if !errors.Is(err, classlink_errors.ErrNotFound) {
			return MessageView{}, err
		}
	}

	msgType := input.Type
	if len(input.Attachments) > 0 {
		msgType = message.TypeForAttachments(input.Attachments)
	} else if msgType == "" {
		msgType = string(domain.MessageTypeText)
	}

	metadata := "{}"
	if len(input.Attachments) > 0 {
		data, err := json.Marshal(message.MetadataPayload{Attachments: input.Attachments})
		if err != nil {
			return MessageView{}, err
		}
		metadata = string(data)
	}

	now := time.Now()
	msg := message.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Type:           msgType,
		Metadata:       metadata,
		Reactions:      "{}",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if input.Content != "" {
		msg.Content = sql.NullString{String: input.Content, Valid: true}
	}
	if input.ReplyToID != nil {
		msg.ReplyToID = uuid.NullUUID{UUID: *input.ReplyToID, Valid: true}
	}
	if input.ClientMessageID != "" {
		msg.ClientMessageID = sql.NullString{String: input.ClientMessageID, Valid: true}
	}

	err = s.withTx(ctx, func(msgs repository.MessageRepository, convs repository.ConversationRepository) error {
		if err := msgs.Create(ctx, &msg); err != nil {
			return err
		}
		if err := convs.SetLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
			return err
		}
		return convs.IncrementUnread(ctx, conv.ID, senderID)
	})
	if err != nil {
		// A concurrent retry beat us to the insert; hand back its row.
		if errors.Is(err, classlink_errors.ErrAlreadyExists) && input.ClientMessageID != "" {
			if existing, lookupErr := s.messages.GetByClientMessageID(ctx, conv.ID, input.ClientMessageID); lookupErr == nil {
				return s.formatMessage(ctx, existing), nil
			}
		}
		return MessageView{}, err
	}

	view := s.formatMessage(ctx, msg)
	s.projectNewMessage(ctx, conv, created, view)
	return view, nil
}

// projectNewMessage pushes the committed message onto the cache (within the
// request, before any realtime emit) and then to the conversation room.
// Every step is best-effort: the store already holds the truth.
func (s *MessageService) projectNewMessage(ctx context.Context, conv conversation.Conversation, created bool, view MessageView) {
	if s.cache != nil {
		if raw, err := json.Marshal(view); err == nil {
			if err := s.cache.AddMessage(ctx, conv.ID, raw); err != nil {
				s.logger.Errorf("cache add message: %s", err)
			}
		}
		for _, p := range conv.Participants {
			if err := s.cache.InvalidateUser(ctx, p.UserID); err != nil {
				s.logger.Errorf("cache invalidate user %s: %s", p.UserID, err)
			}
		}
	}

	if s.broadcaster != nil {
		if created {
			for _, p := range conv.Participants {
				s.broadcaster.EmitToUser(p.UserID, EventConversationCreated, conv.ID)
			}
		}
		s.broadcaster.EmitToConversation(conv.ID, EventMessageNew, view)
	}
}

// resolveConversation finds the target conversation and verifies the sender
// may post to it. When only a receiver is given, the direct conversation is
// found or lazily created; the pair lookup is repeated immediately before
// insert to shrink the create race to a last-writer-wins window.
func (s *MessageService) resolveConversation(ctx context.Context, input SendMessageInput, senderID uuid.UUID) (conversation.Conversation, bool, error) {
	if input.ConversationID != nil {
		conv, err := s.conversations.GetByID(ctx, *input.ConversationID)
		if err != nil {
			return conversation.Conversation{}, false, err
		}
		active, err := s.conversations.IsActiveParticipant(ctx, conv.ID, senderID)
		if err != nil {
			return conversation.Conversation{}, false, err
		}
		if !active {
			return conversation.Conversation{}, false, classlink_errors.ErrAccessDenied
		}
		return conv, false, nil
	}

	if input.ReceiverID == nil || *input.ReceiverID == senderID {
		return conversation.Conversation{}, false, classlink_errors.ErrValidationFailed
	}
	receiverID := *input.ReceiverID

	if _, err := s.users.GetByID(ctx, receiverID); err != nil {
		if errors.Is(err, classlink_errors.ErrNotFound) {
			return conversation.Conversation{}, false, classlink_errors.ErrInvalidReference
		}
		return conversation.Conversation{}, false, err
	}

	conv, err := s.conversations.GetDirectConversation(ctx, senderID, receiverID)
	if err == nil {
		// A hidden side becomes visible again when a new message lands.
		for _, p := range conv.Participants {
			if !p.Active() {
				if err := s.conversations.RestoreParticipant(ctx, conv.ID, p.UserID); err != nil {
					s.logger.Errorf("restore participant %s: %s", p.UserID, err)
				}
			}
		}
		return conv, false, nil
	}
	if !errors.Is(err, classlink_errors.ErrNotFound) {
		return conversation.Conversation{}, false, err
	}

	// Re-check right before insert: a concurrent send may have created the
	// pair since the first lookup.
	if conv, err := s.conversations.GetDirectConversation(ctx, senderID, receiverID); err == nil {
		return conv, false, nil
	}

	now := time.Now()
	conv = conversation.Conversation{
		ID:        uuid.New(),
		Type:      string(domain.ConversationTypeDirect),
		CreatedBy: uuid.NullUUID{UUID: senderID, Valid: true},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.conversations.Create(ctx, &conv); err != nil {
		return conversation.Conversation{}, false, err
	}
	for _, userID := range []uuid.UUID{senderID, receiverID} {
		p := &conversation.Participant{
			ConversationID: conv.ID,
			UserID:         userID,
			Role:           string(domain.ParticipantRoleMember),
			JoinedAt:       now,
		}
		if err := s.conversations.AddParticipant(ctx, p); err != nil {
			return conversation.Conversation{}, false, err
		}
		conv.Participants = append(conv.Participants, *p)
	}
	return conv, true, nil
}

// GetConversationMessages returns one chronological window of messages. As a
// side effect, a non-zero unread counter for the caller is reset in the
// background; a failed reset is logged, never surfaced.
func (s *MessageService) GetConversationMessages(ctx context.Context, conversationID, userID uuid.UUID, opts MessagePageOptions) (MessagePage, error) {
	active, err := s.conversations.IsActiveParticipant(ctx, conversationID, userID)
	if err != nil {
		return MessagePage{}, err
	}
	if !active {
		return MessagePage{}, classlink_errors.ErrAccessDenied
	}

	limit := opts.Limit
	if limit <= 0 || limit > maxMessagePageSize {
		limit = maxMessagePageSize
	}
	direction := opts.Direction
	if direction == "" {
		direction = "before"
	}
	if direction != "before" && direction != "after" {
		return MessagePage{}, classlink_errors.ErrValidationFailed
	}

	cursor, err := decodeCursor(opts.Cursor)
	if err != nil {
		return MessagePage{}, err
	}

	// The uncursored latest page is the hot path; serve it from the cached
	// window when the window can fill it.
	if cursor.IsZero() && direction == "before" && s.cache != nil {
		if page, ok := s.pageFromCache(ctx, conversationID, limit); ok {
			s.resetUnreadAsync(conversationID, userID)
			return page, nil
		}
	}

	rows, err := s.messages.GetPage(ctx, conversationID, cursor, direction, limit)
	if err != nil {
		return MessagePage{}, err
	}
	if direction == "before" {
		// Raw page is newest-first; flip to chronological ascending.
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	page := s.buildPage(ctx, rows)

	if cursor.IsZero() && direction == "before" && s.cache != nil {
		if data, err := json.Marshal(page.Messages); err == nil {
			if err := s.cache.SetMessages(ctx, conversationID, data); err != nil {
				s.logger.Errorf("cache set messages: %s", err)
			}
		}
	}

	s.resetUnreadAsync(conversationID, userID)
	return page, nil
}

func (s *MessageService) buildPage(ctx context.Context, rows []message.Message) MessagePage {
	page := MessagePage{Messages: make([]MessageView, 0, len(rows))}
	if len(rows) == 0 {
		return page
	}

	senderIDs := make([]uuid.UUID, 0, len(rows))
	seen := make(map[uuid.UUID]bool, len(rows))
	for _, m := range rows {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	senders, err := s.users.GetByIDs(ctx, senderIDs)
	if err != nil {
		s.logger.Errorf("load senders: %s", err)
		senders = map[uuid.UUID]user.User{}
	}

	for _, m := range rows {
		var sender *user.User
		if u, ok := senders[m.SenderID]; ok {
			sender = &u
		}
		page.Messages = append(page.Messages, newMessageView(m, sender))
	}

	page.PrevCursor = encodeCursor(page.Messages[0].CreatedAt)
	page.NextCursor = encodeCursor(page.Messages[len(page.Messages)-1].CreatedAt)
	return page
}

func (s *MessageService) pageFromCache(ctx context.Context, conversationID uuid.UUID, limit int) (MessagePage, bool) {
	data, err := s.cache.GetMessages(ctx, conversationID)
	if err != nil {
		s.logger.Errorf("cache get messages: %s", err)
		return MessagePage{}, false
	}
	if data == nil {
		return MessagePage{}, false
	}
	var views []MessageView
	if err := json.Unmarshal(data, &views); err != nil {
		s.logger.Errorf("cache decode messages: %s", err)
		return MessagePage{}, false
	}
	if len(views) < limit {
		return MessagePage{}, false
	}
	views = views[len(views)-limit:]
	return MessagePage{
		Messages:   views,
		PrevCursor: encodeCursor(views[0].CreatedAt),
		NextCursor: encodeCursor(views[len(views)-1].CreatedAt),
	}, true
}

func (s *MessageService) resetUnreadAsync(conversationID, userID uuid.UUID) {
	p, err := s.conversations.GetParticipant(context.Background(), conversationID, userID)
	if err != nil || p.UnreadCount == 0 {
		return
	}
	go func() {
		if err := s.conversations.ResetUnread(context.Background(), conversationID, userID); err != nil {
			s.logger.Errorf("reset unread for %s in %s: %s", userID, conversationID, err)
		}
	}()
}

// ToggleReaction toggles the user's reaction on a message, keeping at most
// one reaction per user across the whole map. The read-modify-write runs
// under a row lock so concurrent reactors cannot drop each other's update.
func (s *MessageService) ToggleReaction(ctx context.Context, messageID uuid.UUID, emoji string, userID uuid.UUID) (message.ReactionMap, error) {
	if emoji == "" {
		return nil, classlink_errors.ErrValidationFailed
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	active, err := s.conversations.IsActiveParticipant(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, classlink_errors.ErrAccessDenied
	}

	var reactions message.ReactionMap
	err = s.withTx(ctx, func(msgs repository.MessageRepository, _ repository.ConversationRepository) error {
		locked, err := msgs.GetByIDForUpdate(ctx, messageID)
		if err != nil {
			return err
		}
		rm, err := locked.DecodeReactions()
		if err != nil {
			return err
		}
		rm.Toggle(emoji, userID)
		encoded, err := message.EncodeReactions(rm)
		if err != nil {
			return err
		}
		if err := msgs.UpdateReactions(ctx, messageID, encoded); err != nil {
			return err
		}
		reactions = rm
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateConversation(ctx, msg.ConversationID); err != nil {
			s.logger.Errorf("cache invalidate conversation: %s", err)
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.EmitToConversation(msg.ConversationID, EventReactionUpdated, map[string]any{
			"message_id":      messageID,
			"conversation_id": msg.ConversationID,
			"reactions":       reactions,
		})
	}
	return reactions, nil
}

// EditMessage updates a message's content. Only the sender may edit, and only
// within the freshness window.
func (s *MessageService) EditMessage(ctx context.Context, messageID uuid.UUID, content string, userID uuid.UUID) (MessageView, error) {
	if content == "" {
		return MessageView{}, classlink_errors.ErrValidationFailed
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return MessageView{}, err
	}
	if msg.SenderID != userID {
		return MessageView{}, classlink_errors.ErrAccessDenied
	}
	if msg.IsDeleted {
		return MessageView{}, classlink_errors.ErrNotFound
	}
	if time.Since(msg.CreatedAt) > s.editWindow {
		return MessageView{}, classlink_errors.ErrValidationFailed
	}

	now := time.Now()
	msg.Content = sql.NullString{String: content, Valid: true}
	msg.IsEdited = true
	msg.EditedAt = sql.NullTime{Time: now, Valid: true}
	msg.UpdatedAt = now
	if err := s.messages.Update(ctx, msg); err != nil {
		return MessageView{}, err
	}

	view := s.formatMessage(ctx, msg)
	if s.cache != nil {
		if err := s.cache.InvalidateConversation(ctx, msg.ConversationID); err != nil {
			s.logger.Errorf("cache invalidate conversation: %s", err)
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.EmitToConversation(msg.ConversationID, EventMessageUpdated, view)
	}
	return view, nil
}

// DeleteMessage tombstones a message. Only the sender may delete.
func (s *MessageService) DeleteMessage(ctx context.Context, messageID, userID uuid.UUID) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return classlink_errors.ErrAccessDenied
	}
	if err := s.messages.SoftDelete(ctx, messageID); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.RemoveMessage(ctx, msg.ConversationID, messageID); err != nil {
			s.logger.Errorf("cache remove message: %s", err)
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.EmitToConversation(msg.ConversationID, EventMessageDeleted, map[string]any{
			"message_id":      messageID,
			"conversation_id": msg.ConversationID,
		})
	}
	return nil
}

// DeleteBatchMessages permanently removes up to maxBatchDelete messages the
// caller sent. One bad id fails that item, not the whole batch.
func (s *MessageService) DeleteBatchMessages(ctx context.Context, ids []uuid.UUID, userID uuid.UUID) (BatchDeleteResult, error) {
	if len(ids) == 0 || len(ids) > maxBatchDelete {
		return BatchDeleteResult{}, classlink_errors.ErrValidationFailed
	}

	var result BatchDeleteResult
	for _, id := range ids {
		msg, err := s.messages.GetByID(ctx, id)
		if err != nil || msg.SenderID != userID {
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, id)
			continue
		}
		if err := s.messages.HardDelete(ctx, id); err != nil {
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, id)
			continue
		}
		result.Deleted++
		if s.cache != nil {
			if err := s.cache.RemoveMessage(ctx, msg.ConversationID, id); err != nil {
				s.logger.Errorf("cache remove message: %s", err)
			}
		}
	}
	return result, nil
}

func (s *MessageService) formatMessage(ctx context.Context, m message.Message) MessageView {
	var sender *user.User
	if u, err := s.users.GetByID(ctx, m.SenderID); err == nil {
		sender = &u
	}
	return newMessageView(m, sender)
}

func (s *MessageService) withTx(ctx context.Context, fn func(repository.MessageRepository, repository.ConversationRepository) error) error {
	if s.db == nil {
		return fn(s.messages, s.conversations)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(repository.NewMessageRepository(tx), repository.NewConversationRepository(tx))
	})
}
