package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classlink/internal/domain"
	"classlink/internal/domain/notification"
	"classlink/internal/push"
	"classlink/internal/repository"
	classlink_errors "classlink/pkg/errors"
	"classlink/pkg/logger"

	"github.com/google/uuid"
)

// Membership event kinds delivered by the roster side of the platform.
const (
	MemberEnrolled  = "member_enrolled"
	MemberWithdrawn = "member_withdrawn"
	TeacherAssigned = "teacher_assigned"
	TeacherRemoved  = "teacher_removed"
	ParentLinked    = "parent_linked"
	ParentUnlinked  = "parent_unlinked"
)

// MembershipEvent is one roster change affecting class topic membership.
// StudentID is set only for parent link events.
type MembershipEvent struct {
	Kind      string
	ClassID   uuid.UUID
	UserID    uuid.UUID
	StudentID uuid.UUID
}

// ClassMemberResolver answers who should currently be subscribed to a class,
// keyed by the relationship that puts them there. It is backed by the roster
// tables owned by the wider platform.
type ClassMemberResolver interface {
	// ClassMembers returns source refs per user for the given class:
	// "enrollment" and "teacher" entries plus one "parent:<studentID>"
	// entry per parent-child link.
	ClassMembers(ctx context.Context, classID uuid.UUID) (map[uuid.UUID][]string, error)
}

// TopicKey builds the provider topic name for one class and category.
func TopicKey(classID uuid.UUID, category domain.NotificationCategory) string {
	return fmt.Sprintf("class_%s_%s", classID, category)
}

// TopicManager keeps provider topic membership in sync with roster state.
// Every reason a user belongs to a topic is a subscription row; the provider
// is only called when the first row appears or the last one goes away.
type TopicManager struct {
	subscriptions repository.NotificationRepository
	provider      push.Provider
	logger        *logger.Logger
}

func NewTopicManager(subscriptions repository.NotificationRepository, provider push.Provider, l *logger.Logger) *TopicManager {
	return &TopicManager{subscriptions: subscriptions, provider: provider, logger: l}
}

var classCategories = []domain.NotificationCategory{
	domain.CategoryClassUpdates,
	domain.CategoryClassComments,
}

// HandleMembershipEvent applies one roster change to both class topics.
func (m *TopicManager) HandleMembershipEvent(ctx context.Context, ev MembershipEvent) error {
	sourceRef, subscribe, err := classifyEvent(ev)
	if err != nil {
		return err
	}
	for _, category := range classCategories {
		topic := TopicKey(ev.ClassID, category)
		if subscribe {
			err = m.subscribe(ctx, ev.UserID, topic, sourceRef)
		} else {
			err = m.unsubscribe(ctx, ev.UserID, topic, sourceRef)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func classifyEvent(ev MembershipEvent) (sourceRef string, subscribe bool, err error) {
	switch ev.Kind {
	case MemberEnrolled:
		return notification.SourceEnrollment, true, nil
	case MemberWithdrawn:
		return notification.SourceEnrollment, false, nil
	case TeacherAssigned:
		return notification.SourceTeacher, true, nil
	case TeacherRemoved:
		return notification.SourceTeacher, false, nil
	case ParentLinked, ParentUnlinked:
		if ev.StudentID == uuid.Nil {
			return "", false, classlink_errors.ErrValidationFailed
		}
		return notification.ParentSourceRef(ev.StudentID), ev.Kind == ParentLinked, nil
	default:
		return "", false, classlink_errors.ErrValidationFailed
	}
}

// subscribe records one membership reason and joins the provider topic when
// it is the user's first reason for that topic.
func (m *TopicManager) subscribe(ctx context.Context, userID uuid.UUID, topic, sourceRef string) error {
	before, err := m.subscriptions.CountSubscriptions(ctx, userID, topic)
	if err != nil {
		return err
	}
	row := &notification.TopicSubscription{
		ID:        uuid.New(),
		UserID:    userID,
		TopicKey:  topic,
		SourceRef: sourceRef,
		CreatedAt: time.Now(),
	}
	if err := m.subscriptions.AddSubscription(ctx, row); err != nil {
		// The same reason applied twice is a no-op.
		if errors.Is(err, classlink_errors.ErrAlreadyExists) {
			return nil
		}
		return err
	}
	if before == 0 {
		if err := m.provider.SubscribeToTopic(ctx, userID, topic); err != nil {
			m.logger.Errorf("provider subscribe user=%s topic=%s: %s", userID, topic, err)
		}
	}
	return nil
}

// unsubscribe drops one membership reason and leaves the provider topic only
// when no reason remains.
func (m *TopicManager) unsubscribe(ctx context.Context, userID uuid.UUID, topic, sourceRef string) error {
	removed, err := m.subscriptions.RemoveSubscription(ctx, userID, topic, sourceRef)
	if err != nil {
		return err
	}
	if removed == 0 {
		return nil
	}
	remaining, err := m.subscriptions.CountSubscriptions(ctx, userID, topic)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := m.provider.UnsubscribeFromTopic(ctx, userID, topic); err != nil {
			m.logger.Errorf("provider unsubscribe user=%s topic=%s: %s", userID, topic, err)
		}
	}
	return nil
}

// ResyncClass reconciles stored subscriptions for a class against the roster.
// Safe to run repeatedly; used to recover from missed membership events.
func (m *TopicManager) ResyncClass(ctx context.Context, classID uuid.UUID, resolver ClassMemberResolver) error {
	desired, err := resolver.ClassMembers(ctx, classID)
	if err != nil {
		return err
	}

	for _, category := range classCategories {
		topic := TopicKey(classID, category)
		current, err := m.subscriptions.GetTopicSubscriptions(ctx, topic)
		if err != nil {
			return err
		}

		type key struct {
			userID    uuid.UUID
			sourceRef string
		}
		have := make(map[key]bool, len(current))
		for _, sub := range current {
			have[key{sub.UserID, sub.SourceRef}] = true
		}
		want := make(map[key]bool)
		for userID, refs := range desired {
			for _, ref := range refs {
				want[key{userID, ref}] = true
			}
		}

		for k := range want {
			if !have[k] {
				if err := m.subscribe(ctx, k.userID, topic, k.sourceRef); err != nil {
					return err
				}
			}
		}
		for k := range have {
			if !want[k] {
				if err := m.unsubscribe(ctx, k.userID, topic, k.sourceRef); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
