package services

import (
	"github.com/google/uuid"
)

// Realtime event names, keyed by room in the hub.
const (
	EventMessageNew          = "message:new"
	EventMessageUpdated      = "message:updated"
	EventMessageDeleted      = "message:deleted"
	EventReactionUpdated     = "reaction:updated"
	EventConversationCreated = "conversation:created"
	EventNotificationNew     = "notification:new"
	EventTyping              = "typing"
	EventPresence            = "presence"
)

// Broadcaster is the realtime boundary. Every emit is fire-and-forget: the
// write path never blocks on delivery and a failed emit never rolls back the
// underlying write.
type Broadcaster interface {
	EmitToConversation(conversationID uuid.UUID, event string, payload any)
	EmitToUser(userID uuid.UUID, event string, payload any)
}
