package httpdto

import "github.com/google/uuid"

type CreateGroupRequest struct {
	Name           string      `json:"name" binding:"required,min=1,max=128"`
	Description    string      `json:"description" binding:"omitempty,max=512"`
	AvatarURL      string      `json:"avatar_url" binding:"omitempty,url"`
	ParticipantIDs []uuid.UUID `json:"participant_ids" binding:"required,min=1,max=256"`
}

type DeleteConversationResponse struct {
	Action string `json:"action"` // hidden, left or deleted
}
