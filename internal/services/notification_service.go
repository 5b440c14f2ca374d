package services

import (
	"context"
	"encoding/json"
	"time"

	"classlink/internal/domain"
	"classlink/internal/domain/notification"
	"classlink/internal/push"
	"classlink/internal/repository"
	classlink_errors "classlink/pkg/errors"
	"classlink/pkg/logger"

	"github.com/google/uuid"
)

const maxNotificationPageSize = 50

// SubscriberResolver answers who receives a class event. Backed by the
// roster tables; comment events reach a narrower audience than updates.
type SubscriberResolver interface {
	GetClassUpdateSubscribers(ctx context.Context, classID uuid.UUID) ([]uuid.UUID, error)
	GetClassCommentSubscribers(ctx context.Context, classID uuid.UUID) ([]uuid.UUID, error)
}

// ClassEventInput describes one class event to fan out.
type ClassEventInput struct {
	ClassID   uuid.UUID
	ActorID   uuid.UUID
	Title     string
	Body      string
	Priority  domain.NotificationPriority
	ActionURL string
	Data      map[string]string
}

// NotificationService fans class events out across the delivery channels.
// The persisted rows are the authoritative record; push, realtime and email
// are best-effort on top of them.
type NotificationService struct {
	notifications repository.NotificationRepository
	resolver      SubscriberResolver
	provider      push.Provider
	broadcaster   Broadcaster
	emails        push.EmailQueue
	logger        *logger.Logger
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	resolver SubscriberResolver,
	provider push.Provider,
	broadcaster Broadcaster,
	emails push.EmailQueue,
	l *logger.Logger,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		resolver:      resolver,
		provider:      provider,
		broadcaster:   broadcaster,
		emails:        emails,
		logger:        l,
	}
}

// NotifyClassUpdate fans an announcement out to everyone subscribed to the
// class updates topic, except the actor.
func (s *NotificationService) NotifyClassUpdate(ctx context.Context, input ClassEventInput) error {
	recipients, err := s.resolver.GetClassUpdateSubscribers(ctx, input.ClassID)
	if err != nil {
		return err
	}
	return s.dispatch(ctx, input, domain.CategoryClassUpdates, recipients)
}

// NotifyClassComment fans a comment event out to the class comments topic,
// except the actor.
func (s *NotificationService) NotifyClassComment(ctx context.Context, input ClassEventInput) error {
	recipients, err := s.resolver.GetClassCommentSubscribers(ctx, input.ClassID)
	if err != nil {
		return err
	}
	return s.dispatch(ctx, input, domain.CategoryClassComments, recipients)
}

func (s *NotificationService) dispatch(ctx context.Context, input ClassEventInput, category domain.NotificationCategory, recipients []uuid.UUID) error {
	if input.Title == "" {
		return classlink_errors.ErrValidationFailed
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	targets := make([]uuid.UUID, 0, len(recipients))
	seen := map[uuid.UUID]bool{input.ActorID: true}
	for _, id := range recipients {
		if seen[id] {
			continue
		}
		seen[id] = true
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return nil
	}

	actionData := "{}"
	if len(input.Data) > 0 {
		if encoded, err := json.Marshal(input.Data); err == nil {
			actionData = string(encoded)
		}
	}

	now := time.Now()
	rows := make([]*notification.Notification, 0, len(targets))
	for _, userID := range targets {
		row := &notification.Notification{
			ID:         uuid.New(),
			UserID:     userID,
			SenderID:   uuid.NullUUID{UUID: input.ActorID, Valid: input.ActorID != uuid.Nil},
			Type:       string(category),
			Title:      input.Title,
			Content:    input.Body,
			Priority:   string(priority),
			ActionData: actionData,
			CreatedAt:  now,
		}
		if input.ActionURL != "" {
			row.ActionURL.String = input.ActionURL
			row.ActionURL.Valid = true
		}
		rows = append(rows, row)
	}

	// Persistence is the one step whose failure fails the whole operation.
	if err := s.notifications.CreateBatch(ctx, rows); err != nil {
		return err
	}

	topic := TopicKey(input.ClassID, category)
	if err := s.provider.SendToTopic(ctx, topic, push.TopicMessage{
		Title: input.Title,
		Body:  input.Body,
		Data:  input.Data,
	}); err != nil {
		s.logger.Errorf("push send topic=%s: %s", topic, err)
	}

	for _, row := range rows {
		if s.broadcaster != nil {
			s.broadcaster.EmitToUser(row.UserID, EventNotificationNew, newNotificationView(*row, input.Data))
		}
		if s.emails != nil {
			job := push.EmailJob{
				NotificationID: row.ID,
				UserID:         row.UserID,
				Title:          input.Title,
				Content:        input.Body,
				Priority:       string(priority),
				EnqueuedAt:     now,
			}
			if err := s.emails.Enqueue(ctx, job); err != nil {
				s.logger.Errorf("email enqueue user=%s: %s", row.UserID, err)
			}
		}
	}
	return nil
}

// ListNotifications returns one page of the user's notifications, newest
// first.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, page, limit int) ([]NotificationView, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > maxNotificationPageSize {
		limit = maxNotificationPageSize
	}
	rows, total, err := s.notifications.GetUserNotifications(ctx, userID, page, limit)
	if err != nil {
		return nil, 0, err
	}
	views := make([]NotificationView, 0, len(rows))
	for _, row := range rows {
		var data map[string]string
		if row.ActionData != "" && row.ActionData != "{}" {
			if err := json.Unmarshal([]byte(row.ActionData), &data); err != nil {
				data = nil
			}
		}
		views = append(views, newNotificationView(row, data))
	}
	return views, total, nil
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (s *NotificationService) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.notifications.MarkRead(ctx, id, userID)
}

// MarkAllNotificationsRead marks every unread notification of the caller.
func (s *NotificationService) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) error {
	return s.notifications.MarkAllRead(ctx, userID)
}
