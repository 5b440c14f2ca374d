package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// ConversationCache fronts the store for read-heavy conversation views. Only
// the services in this package write to it, and only through these calls,
// inside the same request that performed the underlying write. Failures are
// logged and degrade to cache-miss behaviour; they never fail a request.
type ConversationCache interface {
	GetUserList(ctx context.Context, userID uuid.UUID) ([]byte, error)
	SetUserList(ctx context.Context, userID uuid.UUID, data []byte) error
	InvalidateUser(ctx context.Context, userID uuid.UUID) error

	GetMessages(ctx context.Context, conversationID uuid.UUID) ([]byte, error)
	SetMessages(ctx context.Context, conversationID uuid.UUID, data []byte) error
	InvalidateConversation(ctx context.Context, conversationID uuid.UUID) error
	AddMessage(ctx context.Context, conversationID uuid.UUID, msg json.RawMessage) error
	RemoveMessage(ctx context.Context, conversationID uuid.UUID, messageID uuid.UUID) error
}
