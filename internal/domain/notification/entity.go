package notification

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Notification is one persisted delivery for one recipient. Fan-out never
// shares a row between recipients.
type Notification struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index"`
	SenderID   uuid.NullUUID
	Type       string
	Title      string
	Content    string
	Priority   string
	ActionURL  sql.NullString
	ActionData string
	IsRead     bool
	ReadAt     sql.NullTime
	CreatedAt  time.Time
}

// TopicSubscription records one reason a user is joined to a push topic.
// SourceRef names the originating relationship (enrollment, teaching
// assignment, parent link), so a parent with two children in the same class
// holds two rows and is only unsubscribed at the provider once both are gone.
// The unique index makes re-adding the same reason a duplicate-key error,
// which the service treats as a no-op.
type TopicSubscription struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_topic_subscription_source,priority:1"`
	TopicKey  string    `gorm:"not null;uniqueIndex:idx_topic_subscription_source,priority:2"`
	SourceRef string    `gorm:"not null;uniqueIndex:idx_topic_subscription_source,priority:3"`
	CreatedAt time.Time
}

func (Notification) TableName() string {
	return "notifications"
}

func (TopicSubscription) TableName() string {
	return "topic_subscriptions"
}

// Source refs for topic subscription rows.
const (
	SourceEnrollment = "enrollment"
	SourceTeacher    = "teacher"
)

// ParentSourceRef names the parent-child link that ties a parent to a class
// topic. Each child contributes its own ref.
func ParentSourceRef(studentID uuid.UUID) string {
	return "parent:" + studentID.String()
}
