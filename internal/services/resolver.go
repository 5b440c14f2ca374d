package services

import (
	"context"

	"classlink/internal/domain"
	"classlink/internal/repository"

	"github.com/google/uuid"
)

// TopicSubscriberResolver answers fan-out audiences from the stored topic
// subscription rows, which the TopicManager keeps aligned with the roster.
type TopicSubscriberResolver struct {
	subscriptions repository.NotificationRepository
}

func NewTopicSubscriberResolver(subscriptions repository.NotificationRepository) *TopicSubscriberResolver {
	return &TopicSubscriberResolver{subscriptions: subscriptions}
}

func (r *TopicSubscriberResolver) GetClassUpdateSubscribers(ctx context.Context, classID uuid.UUID) ([]uuid.UUID, error) {
	return r.subscribers(ctx, TopicKey(classID, domain.CategoryClassUpdates))
}

func (r *TopicSubscriberResolver) GetClassCommentSubscribers(ctx context.Context, classID uuid.UUID) ([]uuid.UUID, error) {
	return r.subscribers(ctx, TopicKey(classID, domain.CategoryClassComments))
}

func (r *TopicSubscriberResolver) subscribers(ctx context.Context, topic string) ([]uuid.UUID, error) {
	rows, err := r.subscriptions.GetTopicSubscriptions(ctx, topic)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(rows))
	users := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		if seen[row.UserID] {
			continue
		}
		seen[row.UserID] = true
		users = append(users, row.UserID)
	}
	return users, nil
}
