package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"classlink/internal/domain"
	"classlink/internal/domain/notification"
)

func newTopicFixture() (*TopicManager, *fakeNotificationRepo, *fakeProvider) {
	repo := newFakeNotificationRepo()
	provider := &fakeProvider{}
	return NewTopicManager(repo, provider, testLogger()), repo, provider
}

func TestEnrollmentSubscribesBothCategories(t *testing.T) {
	mgr, repo, provider := newTopicFixture()
	classID, studentID := uuid.New(), uuid.New()

	err := mgr.HandleMembershipEvent(context.Background(), MembershipEvent{
		Kind: MemberEnrolled, ClassID: classID, UserID: studentID,
	})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}

	for _, category := range []domain.NotificationCategory{domain.CategoryClassUpdates, domain.CategoryClassComments} {
		rows, _ := repo.GetTopicSubscriptions(context.Background(), TopicKey(classID, category))
		if len(rows) != 1 {
			t.Fatalf("category %s: %d rows, want 1", category, len(rows))
		}
	}
	if subs := provider.byOp("subscribe"); len(subs) != 2 {
		t.Fatalf("provider subscribe calls = %d, want 2", len(subs))
	}
}

func TestParentWithTwoChildrenUnsubscribesOnlyAfterBoth(t *testing.T) {
	mgr, _, provider := newTopicFixture()
	classID, parentID := uuid.New(), uuid.New()
	childA, childB := uuid.New(), uuid.New()

	for _, child := range []uuid.UUID{childA, childB} {
		if err := mgr.HandleMembershipEvent(context.Background(), MembershipEvent{
			Kind: ParentLinked, ClassID: classID, UserID: parentID, StudentID: child,
		}); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	// Two reasons, one provider join per topic.
	if subs := provider.byOp("subscribe"); len(subs) != 2 {
		t.Fatalf("provider subscribe calls = %d, want 2 (one per category)", len(subs))
	}

	if err := mgr.HandleMembershipEvent(context.Background(), MembershipEvent{
		Kind: ParentUnlinked, ClassID: classID, UserID: parentID, StudentID: childA,
	}); err != nil {
		t.Fatalf("unlink first child: %v", err)
	}
	if unsubs := provider.byOp("unsubscribe"); len(unsubs) != 0 {
		t.Fatalf("unsubscribed while a second child remains")
	}

	if err := mgr.HandleMembershipEvent(context.Background(), MembershipEvent{
		Kind: ParentUnlinked, ClassID: classID, UserID: parentID, StudentID: childB,
	}); err != nil {
		t.Fatalf("unlink second child: %v", err)
	}
	if unsubs := provider.byOp("unsubscribe"); len(unsubs) != 2 {
		t.Fatalf("provider unsubscribe calls = %d, want 2 after last child", len(unsubs))
	}
}

func TestDuplicateEnrollmentIsNoOp(t *testing.T) {
	mgr, repo, provider := newTopicFixture()
	classID, studentID := uuid.New(), uuid.New()

	ev := MembershipEvent{Kind: MemberEnrolled, ClassID: classID, UserID: studentID}
	if err := mgr.HandleMembershipEvent(context.Background(), ev); err != nil {
		t.Fatalf("first enroll: %v", err)
	}
	if err := mgr.HandleMembershipEvent(context.Background(), ev); err != nil {
		t.Fatalf("repeated enroll: %v", err)
	}

	rows, _ := repo.GetTopicSubscriptions(context.Background(), TopicKey(classID, domain.CategoryClassUpdates))
	if len(rows) != 1 {
		t.Fatalf("duplicate enrollment created %d rows", len(rows))
	}
	if subs := provider.byOp("subscribe"); len(subs) != 2 {
		t.Fatalf("duplicate enrollment re-joined the provider topic")
	}
}

func TestUnsubscribeWithoutSubscriptionIsNoOp(t *testing.T) {
	mgr, _, provider := newTopicFixture()

	err := mgr.HandleMembershipEvent(context.Background(), MembershipEvent{
		Kind: MemberWithdrawn, ClassID: uuid.New(), UserID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(provider.calls) != 0 {
		t.Fatalf("provider called for a no-op withdraw")
	}
}

type staticResolver struct {
	members map[uuid.UUID][]string
}

func (r staticResolver) ClassMembers(ctx context.Context, classID uuid.UUID) (map[uuid.UUID][]string, error) {
	return r.members, nil
}

func TestResyncClassConverges(t *testing.T) {
	mgr, repo, _ := newTopicFixture()
	classID := uuid.New()
	teacherID, studentID, staleID := uuid.New(), uuid.New(), uuid.New()

	// Stale state: one row that should not exist, one missing.
	if err := mgr.HandleMembershipEvent(context.Background(), MembershipEvent{
		Kind: MemberEnrolled, ClassID: classID, UserID: staleID,
	}); err != nil {
		t.Fatalf("seed stale: %v", err)
	}

	resolver := staticResolver{members: map[uuid.UUID][]string{
		teacherID: {notification.SourceTeacher},
		studentID: {notification.SourceEnrollment},
	}}

	if err := mgr.ResyncClass(context.Background(), classID, resolver); err != nil {
		t.Fatalf("resync: %v", err)
	}
	// A second run must change nothing.
	if err := mgr.ResyncClass(context.Background(), classID, resolver); err != nil {
		t.Fatalf("second resync: %v", err)
	}

	rows, _ := repo.GetTopicSubscriptions(context.Background(), TopicKey(classID, domain.CategoryClassUpdates))
	if len(rows) != 2 {
		t.Fatalf("after resync: %d rows, want 2", len(rows))
	}
	for _, row := range rows {
		if row.UserID == staleID {
			t.Fatalf("stale subscription survived resync")
		}
	}
}
