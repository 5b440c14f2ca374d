package user

import (
	"time"

	"github.com/google/uuid"
)

// User is the projection of the platform's users table that the messaging
// subsystem needs for sender info in formatted payloads. Account management
// lives in the surrounding school-management service.
type User struct {
	ID          uuid.UUID
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (User) TableName() string {
	return "users"
}
