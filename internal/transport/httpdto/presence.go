package httpdto

import "github.com/google/uuid"

type PresenceQueryRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" binding:"required,min=1,max=100"`
}
