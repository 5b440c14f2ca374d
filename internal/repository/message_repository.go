package repository

import (
	"context"
	"errors"
	"time"

	"classlink/internal/domain/message"
	classlink_errors "classlink/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return classlink_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, classlink_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]message.Message, error) {
	result := make(map[uuid.UUID]message.Message, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var messages []message.Message
	err := r.db.WithContext(ctx).Where("id IN (?)", ids).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		result[m.ID] = m
	}
	return result, nil
}

// GetByIDForUpdate locks the message row for the life of the surrounding
// transaction. Reaction read-modify-write goes through this to avoid lost
// updates from concurrent reactors.
func (r *PostgresMessageRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, classlink_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) Update(ctx context.Context, m message.Message) error {
	res := r.db.WithContext(ctx).Save(&m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return classlink_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND NOT is_deleted", id).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"deleted_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return classlink_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) HardDelete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&message.Message{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return classlink_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) DeleteByConversation(ctx context.Context, conversationID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Delete(&message.Message{}, "conversation_id = ?", conversationID).Error
}

func (r *PostgresMessageRepository) GetByClientMessageID(ctx context.Context, conversationID uuid.UUID, clientMessageID string) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND client_message_id = ?", conversationID, clientMessageID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, classlink_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

// GetPage returns one pagination window. direction "before" walks into
// history (rows come back newest first and the caller reverses them),
// "after" walks toward the present in ascending order. A zero cursor means
// "from the newest message".
func (r *PostgresMessageRepository) GetPage(ctx context.Context, conversationID uuid.UUID, cursor time.Time, direction string, limit int) ([]message.Message, error) {
	var messages []message.Message
	q := r.db.WithContext(ctx).
		Where("conversation_id = ? AND NOT is_deleted", conversationID)

	if direction == "after" {
		if !cursor.IsZero() {
			q = q.Where("created_at > ?", cursor)
		}
		q = q.Order("created_at ASC")
	} else {
		if !cursor.IsZero() {
			q = q.Where("created_at < ?", cursor)
		}
		q = q.Order("created_at DESC")
	}

	if err := q.Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PostgresMessageRepository) UpdateReactions(ctx context.Context, id uuid.UUID, reactions string) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"reactions":  reactions,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return classlink_errors.ErrNotFound
	}
	return nil
}
