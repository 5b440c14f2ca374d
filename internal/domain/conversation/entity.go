package conversation

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Conversation represents the conversations table
type Conversation struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type          string
	Name          sql.NullString
	Description   sql.NullString
	AvatarURL     sql.NullString
	CreatedBy     uuid.NullUUID
	IsActive      bool
	LastMessageID uuid.NullUUID
	LastMessageAt sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Relationships
	Participants []Participant
}

// Participant represents the participants table. LeftAt doubles as the
// soft-delete flag: a participant with LeftAt set has hidden or left the
// conversation but the row is kept so the other side stays intact.
type Participant struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Role           string
	UnreadCount    int
	JoinedAt       time.Time
	LeftAt         sql.NullTime
}

// Active reports whether the participant can still see the conversation.
func (p Participant) Active() bool {
	return !p.LeftAt.Valid
}

func (Conversation) TableName() string {
	return "conversations"
}

func (Participant) TableName() string {
	return "participants"
}
