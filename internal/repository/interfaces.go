package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"classlink/internal/domain/conversation"
	"classlink/internal/domain/message"
	"classlink/internal/domain/notification"
	"classlink/internal/domain/user"
)

type ConversationRepository interface {
	Create(ctx context.Context, c *conversation.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
	Update(ctx context.Context, c conversation.Conversation) error
	HardDelete(ctx context.Context, id uuid.UUID) error

	GetUserConversations(ctx context.Context, userID uuid.UUID, page, limit int) ([]conversation.Conversation, int64, error)
	GetDirectConversation(ctx context.Context, userID1, userID2 uuid.UUID) (conversation.Conversation, error)

	AddParticipant(ctx context.Context, p *conversation.Participant) error
	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Participant, error)
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]conversation.Participant, error)
	IsActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	MarkParticipantLeft(ctx context.Context, conversationID, userID uuid.UUID) error
	RestoreParticipant(ctx context.Context, conversationID, userID uuid.UUID) error
	RemoveParticipants(ctx context.Context, conversationID uuid.UUID) error
	CountActiveParticipants(ctx context.Context, conversationID uuid.UUID) (int64, error)

	SetLastMessage(ctx context.Context, conversationID, messageID uuid.UUID, at time.Time) error
	IncrementUnread(ctx context.Context, conversationID uuid.UUID, excludeUserID uuid.UUID) error
	ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error
	UnreadCounts(ctx context.Context, userID uuid.UUID, conversationIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]message.Message, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (message.Message, error)
	Update(ctx context.Context, m message.Message) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	HardDelete(ctx context.Context, id uuid.UUID) error
	DeleteByConversation(ctx context.Context, conversationID uuid.UUID) error

	GetByClientMessageID(ctx context.Context, conversationID uuid.UUID, clientMessageID string) (message.Message, error)
	GetPage(ctx context.Context, conversationID uuid.UUID, cursor time.Time, direction string, limit int) ([]message.Message, error)
	UpdateReactions(ctx context.Context, id uuid.UUID, reactions string) error
}

type NotificationRepository interface {
	CreateBatch(ctx context.Context, rows []*notification.Notification) error
	GetUserNotifications(ctx context.Context, userID uuid.UUID, page, limit int) ([]notification.Notification, int64, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error

	AddSubscription(ctx context.Context, s *notification.TopicSubscription) error
	RemoveSubscription(ctx context.Context, userID uuid.UUID, topicKey, sourceRef string) (int64, error)
	CountSubscriptions(ctx context.Context, userID uuid.UUID, topicKey string) (int64, error)
	GetTopicSubscriptions(ctx context.Context, topicKey string) ([]notification.TopicSubscription, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]user.User, error)
}
