package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"classlink/internal/domain"
	"classlink/internal/domain/conversation"
	"classlink/internal/repository"
	classlink_errors "classlink/pkg/errors"
	"classlink/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxConversationPageSize = 25

// DeleteOutcome names what DeleteConversation actually did; the action
// depends on conversation type and the caller's role.
type DeleteOutcome string

const (
	DeleteOutcomeHidden  DeleteOutcome = "hidden"
	DeleteOutcomeLeft    DeleteOutcome = "left"
	DeleteOutcomeDeleted DeleteOutcome = "deleted"
)

type ConversationService struct {
	db            *gorm.DB
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	users         repository.UserRepository
	cache         ConversationCache
	broadcaster   Broadcaster
	logger        *logger.Logger
}

func NewConversationService(
	db *gorm.DB,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	cache ConversationCache,
	broadcaster Broadcaster,
	l *logger.Logger,
) *ConversationService {
	return &ConversationService{
		db:            db,
		conversations: conversations,
		messages:      messages,
		users:         users,
		cache:         cache,
		broadcaster:   broadcaster,
		logger:        l,
	}
}

// CreateGroupInput carries the group creation payload. The creator is always
// added as admin and must not appear in ParticipantIDs.
type CreateGroupInput struct {
	Name           string
	Description    string
	AvatarURL      string
	ParticipantIDs []uuid.UUID
}

// ListConversations returns one page of the caller's conversation list,
// newest activity first. The first page is served from the per-user cache
// when present.
func (s *ConversationService) ListConversations(ctx context.Context, userID uuid.UUID, page, limit int) (ConversationPage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > maxConversationPageSize {
		limit = maxConversationPageSize
	}

	if page == 1 && s.cache != nil {
		if data, err := s.cache.GetUserList(ctx, userID); err != nil {
			s.logger.Errorf("cache get conversations: %s", err)
		} else if data != nil {
			var cached ConversationPage
			if err := json.Unmarshal(data, &cached); err == nil && len(cached.Conversations) <= limit {
				return cached, nil
			}
		}
	}

	convs, total, err := s.conversations.GetUserConversations(ctx, userID, page, limit)
	if err != nil {
		return ConversationPage{}, err
	}

	result := ConversationPage{
		Conversations: make([]ConversationView, 0, len(convs)),
		Total:         total,
		Page:          page,
	}
	if len(convs) == 0 {
		if page == 1 {
			s.storeUserList(ctx, userID, result)
		}
		return result, nil
	}

	convIDs := make([]uuid.UUID, 0, len(convs))
	lastMsgIDs := make([]uuid.UUID, 0, len(convs))
	userIDSet := map[uuid.UUID]bool{}
	for _, c := range convs {
		convIDs = append(convIDs, c.ID)
		if c.LastMessageID.Valid {
			lastMsgIDs = append(lastMsgIDs, c.LastMessageID.UUID)
		}
		for _, p := range c.Participants {
			userIDSet[p.UserID] = true
		}
	}

	unread, err := s.conversations.UnreadCounts(ctx, userID, convIDs)
	if err != nil {
		s.logger.Errorf("load unread counts: %s", err)
		unread = map[uuid.UUID]int{}
	}
	lastMessages, err := s.messages.GetByIDs(ctx, lastMsgIDs)
	if err != nil {
		s.logger.Errorf("load last messages: %s", err)
		lastMessages = nil
	}
	for _, m := range lastMessages {
		userIDSet[m.SenderID] = true
	}

	userIDs := make([]uuid.UUID, 0, len(userIDSet))
	for id := range userIDSet {
		userIDs = append(userIDs, id)
	}
	userMap, err := s.users.GetByIDs(ctx, userIDs)
	if err != nil {
		s.logger.Errorf("load participants: %s", err)
		userMap = nil
	}

	for _, c := range convs {
		var last *MessageView
		if c.LastMessageID.Valid {
			if m, ok := lastMessages[c.LastMessageID.UUID]; ok {
				view := newMessageView(m, userPtr(userMap, m.SenderID))
				last = &view
			}
		}
		result.Conversations = append(result.Conversations, newConversationView(c, unread[c.ID], last, userMap))
	}

	if page == 1 {
		s.storeUserList(ctx, userID, result)
	}
	return result, nil
}

func (s *ConversationService) storeUserList(ctx context.Context, userID uuid.UUID, page ConversationPage) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := s.cache.SetUserList(ctx, userID, data); err != nil {
		s.logger.Errorf("cache set conversations: %s", err)
	}
}

// GetConversation returns a single conversation the caller participates in.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (ConversationView, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return ConversationView{}, err
	}
	active := false
	for _, p := range conv.Participants {
		if p.UserID == userID && p.Active() {
			active = true
			break
		}
	}
	if !active {
		return ConversationView{}, classlink_errors.ErrAccessDenied
	}

	userIDs := make([]uuid.UUID, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		userIDs = append(userIDs, p.UserID)
	}
	userMap, err := s.users.GetByIDs(ctx, userIDs)
	if err != nil {
		userMap = nil
	}

	p, err := s.conversations.GetParticipant(ctx, conversationID, userID)
	unreadCount := 0
	if err == nil {
		unreadCount = p.UnreadCount
	}

	var last *MessageView
	if conv.LastMessageID.Valid {
		if m, err := s.messages.GetByID(ctx, conv.LastMessageID.UUID); err == nil {
			view := newMessageView(m, userPtr(userMap, m.SenderID))
			last = &view
		}
	}
	return newConversationView(conv, unreadCount, last, userMap), nil
}

// CreateGroup creates a named group conversation with the caller as admin.
func (s *ConversationService) CreateGroup(ctx context.Context, input CreateGroupInput, creatorID uuid.UUID) (ConversationView, error) {
	if input.Name == "" || len(input.ParticipantIDs) == 0 {
		return ConversationView{}, classlink_errors.ErrValidationFailed
	}
	memberIDs := make([]uuid.UUID, 0, len(input.ParticipantIDs))
	seen := map[uuid.UUID]bool{creatorID: true}
	for _, id := range input.ParticipantIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		memberIDs = append(memberIDs, id)
	}
	if len(memberIDs) == 0 {
		return ConversationView{}, classlink_errors.ErrValidationFailed
	}

	userMap, err := s.users.GetByIDs(ctx, memberIDs)
	if err != nil {
		return ConversationView{}, err
	}
	for _, id := range memberIDs {
		if _, ok := userMap[id]; !ok {
			return ConversationView{}, classlink_errors.ErrInvalidReference
		}
	}

	now := time.Now()
	conv := conversation.Conversation{
		ID:        uuid.New(),
		Type:      string(domain.ConversationTypeGroup),
		Name:      sql.NullString{String: input.Name, Valid: true},
		CreatedBy: uuid.NullUUID{UUID: creatorID, Valid: true},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.Description != "" {
		conv.Description = sql.NullString{String: input.Description, Valid: true}
	}
	if input.AvatarURL != "" {
		conv.AvatarURL = sql.NullString{String: input.AvatarURL, Valid: true}
	}

	err = s.withTx(ctx, func(convs repository.ConversationRepository) error {
		if err := convs.Create(ctx, &conv); err != nil {
			return err
		}
		creator := &conversation.Participant{
			ConversationID: conv.ID,
			UserID:         creatorID,
			Role:           string(domain.ParticipantRoleAdmin),
			JoinedAt:       now,
		}
		if err := convs.AddParticipant(ctx, creator); err != nil {
			return err
		}
		conv.Participants = append(conv.Participants, *creator)
		for _, id := range memberIDs {
			p := &conversation.Participant{
				ConversationID: conv.ID,
				UserID:         id,
				Role:           string(domain.ParticipantRoleMember),
				JoinedAt:       now,
			}
			if err := convs.AddParticipant(ctx, p); err != nil {
				return err
			}
			conv.Participants = append(conv.Participants, *p)
		}
		return nil
	})
	if err != nil {
		return ConversationView{}, err
	}

	for _, p := range conv.Participants {
		if s.cache != nil {
			if err := s.cache.InvalidateUser(ctx, p.UserID); err != nil {
				s.logger.Errorf("cache invalidate user %s: %s", p.UserID, err)
			}
		}
		if s.broadcaster != nil {
			s.broadcaster.EmitToUser(p.UserID, EventConversationCreated, conv.ID)
		}
	}

	return newConversationView(conv, 0, nil, userMap), nil
}

// DeleteConversation removes the conversation from the caller's view. For a
// direct chat the caller's side is hidden and the other side keeps its copy.
// For a group the caller leaves; the last remaining admin (or the creator)
// purges the whole conversation for everyone.
func (s *ConversationService) DeleteConversation(ctx context.Context, conversationID, userID uuid.UUID) (DeleteOutcome, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return "", err
	}
	p, err := s.conversations.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		return "", err
	}
	if !p.Active() {
		return "", classlink_errors.ErrAccessDenied
	}

	if conv.Type == string(domain.ConversationTypeDirect) {
		if err := s.conversations.MarkParticipantLeft(ctx, conversationID, userID); err != nil {
			return "", err
		}
		s.invalidateAfterDelete(ctx, []uuid.UUID{userID}, conversationID, false)
		return DeleteOutcomeHidden, nil
	}

	remaining, err := s.conversations.CountActiveParticipants(ctx, conversationID)
	if err != nil {
		return "", err
	}
	isOwner := p.Role == string(domain.ParticipantRoleAdmin) ||
		(conv.CreatedBy.Valid && conv.CreatedBy.UUID == userID)

	if remaining <= 1 && isOwner {
		memberIDs := make([]uuid.UUID, 0, len(conv.Participants))
		for _, part := range conv.Participants {
			memberIDs = append(memberIDs, part.UserID)
		}
		err = s.withTxMessages(ctx, func(convs repository.ConversationRepository, msgs repository.MessageRepository) error {
			if err := msgs.DeleteByConversation(ctx, conversationID); err != nil {
				return err
			}
			if err := convs.RemoveParticipants(ctx, conversationID); err != nil {
				return err
			}
			return convs.HardDelete(ctx, conversationID)
		})
		if err != nil {
			return "", err
		}
		s.invalidateAfterDelete(ctx, memberIDs, conversationID, true)
		return DeleteOutcomeDeleted, nil
	}

	if err := s.conversations.MarkParticipantLeft(ctx, conversationID, userID); err != nil {
		return "", err
	}
	s.invalidateAfterDelete(ctx, []uuid.UUID{userID}, conversationID, false)
	return DeleteOutcomeLeft, nil
}

func (s *ConversationService) invalidateAfterDelete(ctx context.Context, userIDs []uuid.UUID, conversationID uuid.UUID, dropMessages bool) {
	if s.cache == nil {
		return
	}
	for _, id := range userIDs {
		if err := s.cache.InvalidateUser(ctx, id); err != nil {
			s.logger.Errorf("cache invalidate user %s: %s", id, err)
		}
	}
	if dropMessages {
		if err := s.cache.InvalidateConversation(ctx, conversationID); err != nil {
			s.logger.Errorf("cache invalidate conversation: %s", err)
		}
	}
}

// MarkConversationAsRead zeroes the caller's unread counter.
func (s *ConversationService) MarkConversationAsRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	active, err := s.conversations.IsActiveParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !active {
		return classlink_errors.ErrAccessDenied
	}
	if err := s.conversations.ResetUnread(ctx, conversationID, userID); err != nil {
		if errors.Is(err, classlink_errors.ErrNotFound) {
			return nil
		}
		return err
	}
	if s.cache != nil {
		if err := s.cache.InvalidateUser(ctx, userID); err != nil {
			s.logger.Errorf("cache invalidate user %s: %s", userID, err)
		}
	}
	return nil
}

// IsActiveParticipant reports whether the user may join the conversation's
// realtime room.
func (s *ConversationService) IsActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	return s.conversations.IsActiveParticipant(ctx, conversationID, userID)
}

func (s *ConversationService) withTx(ctx context.Context, fn func(repository.ConversationRepository) error) error {
	if s.db == nil {
		return fn(s.conversations)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(repository.NewConversationRepository(tx))
	})
}

func (s *ConversationService) withTxMessages(ctx context.Context, fn func(repository.ConversationRepository, repository.MessageRepository) error) error {
	if s.db == nil {
		return fn(s.conversations, s.messages)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(repository.NewConversationRepository(tx), repository.NewMessageRepository(tx))
	})
}
