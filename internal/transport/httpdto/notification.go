package httpdto

import "github.com/google/uuid"

type ClassEventRequest struct {
	ClassID   uuid.UUID         `json:"class_id" binding:"required"`
	Title     string            `json:"title" binding:"required,min=1,max=256"`
	Body      string            `json:"body" binding:"omitempty,max=4000"`
	Priority  string            `json:"priority" binding:"omitempty,oneof=low normal high urgent"`
	ActionURL string            `json:"action_url" binding:"omitempty,url"`
	Data      map[string]string `json:"data" binding:"omitempty,max=16"`
}

type MembershipEventRequest struct {
	Kind      string     `json:"kind" binding:"required"`
	ClassID   uuid.UUID  `json:"class_id" binding:"required"`
	UserID    uuid.UUID  `json:"user_id" binding:"required"`
	StudentID *uuid.UUID `json:"student_id"`
}
