package httpdto

import (
	"github.com/google/uuid"

	"classlink/internal/domain/message"
)

type SendMessageRequest struct {
	ConversationID  *uuid.UUID           `json:"conversation_id"`
	ReceiverID      *uuid.UUID           `json:"receiver_id"`
	Content         string               `json:"content" binding:"omitempty,max=10000"`
	Type            string               `json:"type" binding:"omitempty,oneof=text image video audio document mixed"`
	ReplyToID       *uuid.UUID           `json:"reply_to_id"`
	ClientMessageID string               `json:"client_message_id" binding:"omitempty,max=128"`
	Attachments     []message.Attachment `json:"attachments" binding:"omitempty,max=10"`
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required,min=1,max=10000"`
}

type ToggleReactionRequest struct {
	Emoji string `json:"emoji" binding:"required,min=1,max=32"`
}

type BatchDeleteRequest struct {
	MessageIDs []uuid.UUID `json:"message_ids" binding:"required,min=1,max=50"`
}
