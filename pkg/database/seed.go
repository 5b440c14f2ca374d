package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"classlink/internal/domain"
	"classlink/internal/domain/conversation"
	"classlink/internal/domain/message"
	"classlink/internal/domain/notification"
	"classlink/internal/domain/user"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedConfig controls how much sample data is generated.
type SeedConfig struct {
	UserCount    int
	WithMessages bool
}

func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		UserCount:    6,
		WithMessages: true,
	}
}

// SeedResult reports what was created.
type SeedResult struct {
	Users         []user.User
	Conversations []conversation.Conversation
	ClassID       uuid.UUID
}

// Seed populates a development database with sample users, a direct and a
// group conversation, message history, and topic subscriptions for one class.
// Inserts are idempotent on primary key so running it twice is safe.
func Seed(cfg *SeedConfig) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	if DB == nil {
		return nil, fmt.Errorf("database not connected")
	}

	result := &SeedResult{ClassID: uuid.MustParse("6f1b2ad4-0000-4000-8000-000000000001")}

	users, err := seedUsers(cfg.UserCount)
	if err != nil {
		return nil, fmt.Errorf("seed users: %w", err)
	}
	result.Users = users

	convs, err := seedConversations(users)
	if err != nil {
		return nil, fmt.Errorf("seed conversations: %w", err)
	}
	result.Conversations = convs

	if cfg.WithMessages && len(convs) > 0 {
		if err := seedMessages(convs, users); err != nil {
			return nil, fmt.Errorf("seed messages: %w", err)
		}
	}

	if err := seedTopicSubscriptions(result.ClassID, users); err != nil {
		return nil, fmt.Errorf("seed topic subscriptions: %w", err)
	}

	log.Printf("Seeded %d users, %d conversations, class %s", len(users), len(convs), result.ClassID)
	return result, nil
}

var sampleUsers = []struct {
	id          string
	displayName string
}{
	{"9a0e0001-0000-4000-8000-000000000001", "Alice Johnson"},
	{"9a0e0002-0000-4000-8000-000000000002", "Bob Smith"},
	{"9a0e0003-0000-4000-8000-000000000003", "Carla Mendes"},
	{"9a0e0004-0000-4000-8000-000000000004", "Daniel Okafor"},
	{"9a0e0005-0000-4000-8000-000000000005", "Erin Walsh"},
	{"9a0e0006-0000-4000-8000-000000000006", "Farid Hassan"},
	{"9a0e0007-0000-4000-8000-000000000007", "Grace Liu"},
	{"9a0e0008-0000-4000-8000-000000000008", "Hector Ruiz"},
}

func seedUsers(count int) ([]user.User, error) {
	if count > len(sampleUsers) {
		count = len(sampleUsers)
	}
	users := make([]user.User, 0, count)
	now := time.Now()
	for i := 0; i < count; i++ {
		u := user.User{
			ID:          uuid.MustParse(sampleUsers[i].id),
			DisplayName: sampleUsers[i].displayName,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&u).Error; err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func seedConversations(users []user.User) ([]conversation.Conversation, error) {
	var convs []conversation.Conversation
	now := time.Now()

	if len(users) >= 2 {
		direct := conversation.Conversation{
			ID:        uuid.MustParse("c0a80001-0000-4000-8000-000000000001"),
			Type:      string(domain.ConversationTypeDirect),
			CreatedBy: uuid.NullUUID{UUID: users[0].ID, Valid: true},
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&direct).Error; err != nil {
				return err
			}
			for _, u := range users[:2] {
				p := conversation.Participant{
					ConversationID: direct.ID,
					UserID:         u.ID,
					Role:           string(domain.ParticipantRoleMember),
					JoinedAt:       now,
				}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		convs = append(convs, direct)
	}

	if len(users) >= 3 {
		group := conversation.Conversation{
			ID:          uuid.MustParse("c0a80002-0000-4000-8000-000000000002"),
			Type:        string(domain.ConversationTypeGroup),
			Name:        nullString("Year 5 Parents"),
			Description: nullString("Coordination for the Year 5 class"),
			CreatedBy:   uuid.NullUUID{UUID: users[0].ID, Valid: true},
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&group).Error; err != nil {
				return err
			}
			for i, u := range users {
				role := string(domain.ParticipantRoleMember)
				if i == 0 {
					role = string(domain.ParticipantRoleAdmin)
				}
				p := conversation.Participant{
					ConversationID: group.ID,
					UserID:         u.ID,
					Role:           role,
					JoinedAt:       now,
				}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		convs = append(convs, group)
	}

	return convs, nil
}

var sampleMessages = []string{
	"Hi, did the permission slips go out today?",
	"Yes, they went home with the students this afternoon.",
	"Reminder that the field trip is on Friday.",
	"Thanks for the update!",
	"Can someone confirm the pickup time?",
	"Pickup is at 3:30 as usual.",
}

func seedMessages(convs []conversation.Conversation, users []user.User) error {
	base := time.Now().Add(-time.Duration(len(sampleMessages)) * time.Minute)
	for _, conv := range convs {
		var lastID uuid.UUID
		var lastAt time.Time
		for i, content := range sampleMessages {
			m := message.Message{
				ID:             deterministicID(conv.ID, i),
				ConversationID: conv.ID,
				SenderID:       users[i%2].ID,
				Content:        nullString(content),
				Type:           string(domain.MessageTypeText),
				Metadata:       "{}",
				CreatedAt:      base.Add(time.Duration(i) * time.Minute),
				UpdatedAt:      base.Add(time.Duration(i) * time.Minute),
			}
			if err := DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
				return err
			}
			lastID, lastAt = m.ID, m.CreatedAt
		}
		err := DB.Model(&conversation.Conversation{}).Where("id = ?", conv.ID).Updates(map[string]any{
			"last_message_id": lastID,
			"last_message_at": lastAt,
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func seedTopicSubscriptions(classID uuid.UUID, users []user.User) error {
	categories := []domain.NotificationCategory{
		domain.CategoryClassUpdates,
		domain.CategoryClassComments,
	}
	for i, u := range users {
		sourceRef := notification.SourceEnrollment
		if i == 0 {
			sourceRef = notification.SourceTeacher
		}
		for _, cat := range categories {
			topicKey := fmt.Sprintf("class_%s_%s", classID, cat)
			sub := notification.TopicSubscription{
				ID:        uuid.NewSHA1(u.ID, []byte(topicKey+sourceRef)),
				UserID:    u.ID,
				TopicKey:  topicKey,
				SourceRef: sourceRef,
				CreatedAt: time.Now(),
			}
			err := DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&sub).Error
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func deterministicID(convID uuid.UUID, n int) uuid.UUID {
	return uuid.NewSHA1(convID, []byte(fmt.Sprintf("seed-message-%d", n)))
}

func nullString(s string) (ns sql.NullString) {
	ns.String = s
	ns.Valid = true
	return ns
}

