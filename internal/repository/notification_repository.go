package repository

import (
	"context"
	"errors"
	"time"

	"classlink/internal/domain/notification"
	classlink_errors "classlink/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresNotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// CreateBatch inserts all recipient rows in a single bulk statement.
func (r *PostgresNotificationRepository) CreateBatch(ctx context.Context, rows []*notification.Notification) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

func (r *PostgresNotificationRepository) GetUserNotifications(ctx context.Context, userID uuid.UUID, page, limit int) ([]notification.Notification, int64, error) {
	var items []notification.Notification
	var total int64

	q := r.db.WithContext(ctx).
		Model(&notification.Notification{}).
		Where("user_id = ?", userID)

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&notification.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return classlink_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresNotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&notification.Notification{}).
		Where("user_id = ? AND NOT is_read", userID).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": time.Now(),
		}).Error
}

func (r *PostgresNotificationRepository) AddSubscription(ctx context.Context, s *notification.TopicSubscription) error {
	res := r.db.WithContext(ctx).Create(s)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return classlink_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresNotificationRepository) RemoveSubscription(ctx context.Context, userID uuid.UUID, topicKey, sourceRef string) (int64, error) {
	res := r.db.WithContext(ctx).
		Delete(&notification.TopicSubscription{},
			"user_id = ? AND topic_key = ? AND source_ref = ?", userID, topicKey, sourceRef)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *PostgresNotificationRepository) CountSubscriptions(ctx context.Context, userID uuid.UUID, topicKey string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&notification.TopicSubscription{}).
		Where("user_id = ? AND topic_key = ?", userID, topicKey).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresNotificationRepository) GetTopicSubscriptions(ctx context.Context, topicKey string) ([]notification.TopicSubscription, error) {
	var subs []notification.TopicSubscription
	err := r.db.WithContext(ctx).
		Where("topic_key = ?", topicKey).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}
