package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"classlink/internal/domain/conversation"
	"classlink/internal/domain/user"
	classlink_errors "classlink/pkg/errors"
)

type messageServiceFixture struct {
	svc           *MessageService
	conversations *fakeConversationRepo
	messages      *fakeMessageRepo
	users         *fakeUserRepo
	broadcaster   *fakeBroadcaster
}

func newMessageServiceFixture(users ...user.User) *messageServiceFixture {
	conversations := newFakeConversationRepo()
	messages := newFakeMessageRepo()
	userRepo := newFakeUserRepo(users...)
	broadcaster := &fakeBroadcaster{}
	svc := NewMessageService(nil, messages, conversations, userRepo, nil, broadcaster, testLogger(), 15*time.Minute)
	return &messageServiceFixture{
		svc:           svc,
		conversations: conversations,
		messages:      messages,
		users:         userRepo,
		broadcaster:   broadcaster,
	}
}

func (f *messageServiceFixture) addConversation(t *testing.T, convType string, userIDs ...uuid.UUID) uuid.UUID {
	t.Helper()
	now := time.Now()
	conv := conversation.Conversation{
		ID:        uuid.New(),
		Type:      convType,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.conversations.Create(context.Background(), &conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	for _, id := range userIDs {
		p := conversation.Participant{ConversationID: conv.ID, UserID: id, Role: "member", JoinedAt: now}
		if err := f.conversations.AddParticipant(context.Background(), &p); err != nil {
			t.Fatalf("add participant: %v", err)
		}
	}
	return conv.ID
}

func testUsers(n int) []user.User {
	users := make([]user.User, n)
	for i := range users {
		users[i] = user.User{ID: uuid.New(), DisplayName: fmt.Sprintf("user-%d", i)}
	}
	return users
}

func TestSendMessageEmptyPayloadRejected(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	_, err := f.svc.SendMessage(context.Background(), SendMessageInput{ConversationID: &convID}, users[0].ID)
	if !errors.Is(err, classlink_errors.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSendMessageRequiresActiveMembership(t *testing.T) {
	users := testUsers(3)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "group", users[0].ID, users[1].ID)

	_, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ConversationID: &convID,
		Content:        "hello",
	}, users[2].ID)
	if !errors.Is(err, classlink_errors.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestSendMessageIdempotentRetry(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	input := SendMessageInput{
		ConversationID:  &convID,
		Content:         "hello",
		ClientMessageID: "client-key-1",
	}
	first, err := f.svc.SendMessage(context.Background(), input, users[0].ID)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := f.svc.SendMessage(context.Background(), input, users[0].ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("retry created a new message: %s vs %s", first.ID, second.ID)
	}
	if emits := f.broadcaster.byType(EventMessageNew); len(emits) != 1 {
		t.Fatalf("expected exactly one message:new emit, got %d", len(emits))
	}
}

func TestSendMessageCreatesDirectConversation(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)

	view, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ReceiverID: &users[1].ID,
		Content:    "hi there",
	}, users[0].ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	conv, err := f.conversations.GetByID(context.Background(), view.ConversationID)
	if err != nil {
		t.Fatalf("conversation not created: %v", err)
	}
	if len(conv.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(conv.Participants))
	}
	if emits := f.broadcaster.byType(EventConversationCreated); len(emits) != 2 {
		t.Fatalf("expected conversation:created for both users, got %d", len(emits))
	}

	// Second send to the same receiver reuses the conversation.
	again, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ReceiverID: &users[1].ID,
		Content:    "again",
	}, users[0].ID)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if again.ConversationID != view.ConversationID {
		t.Fatalf("second send created a new conversation")
	}
}

func TestSendMessageToUnknownReceiver(t *testing.T) {
	users := testUsers(1)
	f := newMessageServiceFixture(users...)
	missing := uuid.New()

	_, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ReceiverID: &missing,
		Content:    "hello?",
	}, users[0].ID)
	if !errors.Is(err, classlink_errors.ErrInvalidReference) {
		t.Fatalf("expected invalid reference, got %v", err)
	}
}

func TestSendMessageRestoresHiddenDirect(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	if err := f.conversations.MarkParticipantLeft(context.Background(), convID, users[1].ID); err != nil {
		t.Fatalf("hide: %v", err)
	}

	_, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ReceiverID: &users[1].ID,
		Content:    "are you there",
	}, users[0].ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	active, err := f.conversations.IsActiveParticipant(context.Background(), convID, users[1].ID)
	if err != nil || !active {
		t.Fatalf("hidden participant not restored (active=%v err=%v)", active, err)
	}
}

func TestSendMessageRejectsCrossConversationReply(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)
	convA := f.addConversation(t, "direct", users[0].ID, users[1].ID)
	convB := f.addConversation(t, "group", users[0].ID, users[1].ID)

	parent, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ConversationID: &convA,
		Content:        "parent",
	}, users[0].ID)
	if err != nil {
		t.Fatalf("send parent: %v", err)
	}

	_, err = f.svc.SendMessage(context.Background(), SendMessageInput{
		ConversationID: &convB,
		Content:        "reply",
		ReplyToID:      &parent.ID,
	}, users[0].ID)
	if !errors.Is(err, classlink_errors.ErrInvalidReference) {
		t.Fatalf("expected invalid reference, got %v", err)
	}
}

func TestSendMessageIncrementsUnreadForOthersOnly(t *testing.T) {
	users := testUsers(3)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "group", users[0].ID, users[1].ID, users[2].ID)

	if _, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ConversationID: &convID,
		Content:        "hello all",
	}, users[0].ID); err != nil {
		t.Fatalf("send: %v", err)
	}

	sender, _ := f.conversations.GetParticipant(context.Background(), convID, users[0].ID)
	if sender.UnreadCount != 0 {
		t.Fatalf("sender unread incremented: %d", sender.UnreadCount)
	}
	for _, id := range []uuid.UUID{users[1].ID, users[2].ID} {
		p, _ := f.conversations.GetParticipant(context.Background(), convID, id)
		if p.UnreadCount != 1 {
			t.Fatalf("recipient unread = %d, want 1", p.UnreadCount)
		}
	}
}

func TestToggleReactionKeepsOnePerUser(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	msg, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ConversationID: &convID,
		Content:        "react to me",
	}, users[0].ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := f.svc.ToggleReaction(context.Background(), msg.ID, "👍", users[1].ID); err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	reactions, err := f.svc.ToggleReaction(context.Background(), msg.ID, "❤️", users[1].ID)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}

	if _, ok := reactions["👍"]; ok {
		t.Fatalf("old reaction survived the switch: %v", reactions)
	}
	if entry, ok := reactions["❤️"]; !ok || entry.Count != 1 {
		t.Fatalf("new reaction missing: %v", reactions)
	}

	// Same emoji again removes it.
	reactions, err = f.svc.ToggleReaction(context.Background(), msg.ID, "❤️", users[1].ID)
	if err != nil {
		t.Fatalf("third toggle: %v", err)
	}
	if len(reactions) != 0 {
		t.Fatalf("expected empty reactions after toggle off, got %v", reactions)
	}
}

func TestToggleReactionNonParticipant(t *testing.T) {
	users := testUsers(3)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	msg, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ConversationID: &convID,
		Content:        "private",
	}, users[0].ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err = f.svc.ToggleReaction(context.Background(), msg.ID, "👍", users[2].ID)
	if !errors.Is(err, classlink_errors.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	msg, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ConversationID: &convID,
		Content:        "delete me",
	}, users[0].ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := f.svc.DeleteMessage(context.Background(), msg.ID, users[1].ID); !errors.Is(err, classlink_errors.ErrAccessDenied) {
		t.Fatalf("expected access denied for non-sender, got %v", err)
	}
	if err := f.svc.DeleteMessage(context.Background(), msg.ID, users[0].ID); err != nil {
		t.Fatalf("sender delete: %v", err)
	}

	stored, err := f.messages.GetByID(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("tombstone removed the row: %v", err)
	}
	if !stored.IsDeleted {
		t.Fatalf("message not tombstoned")
	}
}

func TestEditMessageFreshnessWindow(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	msg, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ConversationID: &convID,
		Content:        "tyop",
	}, users[0].ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	edited, err := f.svc.EditMessage(context.Background(), msg.ID, "typo", users[0].ID)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.IsEdited || edited.Content != "typo" {
		t.Fatalf("edit not applied: %+v", edited)
	}

	// Age the message past the window.
	stored, _ := f.messages.GetByID(context.Background(), msg.ID)
	stored.CreatedAt = time.Now().Add(-time.Hour)
	if err := f.messages.Update(context.Background(), stored); err != nil {
		t.Fatalf("age message: %v", err)
	}
	if _, err := f.svc.EditMessage(context.Background(), msg.ID, "too late", users[0].ID); !errors.Is(err, classlink_errors.ErrValidationFailed) {
		t.Fatalf("expected validation error after window, got %v", err)
	}
}

func TestBatchDeleteMixedOwnership(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	mine, err := f.svc.SendMessage(context.Background(), SendMessageInput{ConversationID: &convID, Content: "mine"}, users[0].ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	theirs, err := f.svc.SendMessage(context.Background(), SendMessageInput{ConversationID: &convID, Content: "theirs"}, users[1].ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	result, err := f.svc.DeleteBatchMessages(context.Background(), []uuid.UUID{mine.ID, theirs.ID, uuid.New()}, users[0].ID)
	if err != nil {
		t.Fatalf("batch delete: %v", err)
	}
	if result.Deleted != 1 || result.Failed != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, err := f.messages.GetByID(context.Background(), theirs.ID); err != nil {
		t.Fatalf("other user's message was deleted")
	}
}

func TestBatchDeleteCaps(t *testing.T) {
	users := testUsers(1)
	f := newMessageServiceFixture(users...)

	ids := make([]uuid.UUID, maxBatchDelete+1)
	for i := range ids {
		ids[i] = uuid.New()
	}
	if _, err := f.svc.DeleteBatchMessages(context.Background(), ids, users[0].ID); !errors.Is(err, classlink_errors.ErrValidationFailed) {
		t.Fatalf("expected validation error over the cap, got %v", err)
	}
}

func TestGetConversationMessagesPaginatesWithoutGaps(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	base := time.Now().Add(-time.Hour)
	const total = 120
	for i := 0; i < total; i++ {
		if _, err := f.svc.SendMessage(context.Background(), SendMessageInput{
			ConversationID: &convID,
			Content:        fmt.Sprintf("msg-%03d", i),
		}, users[0].ID); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	// Spread creation times so cursors are strictly ordered.
	idx := 0
	for id, m := range f.messages.messages {
		m.CreatedAt = base.Add(time.Duration(idx) * time.Second)
		f.messages.messages[id] = m
		idx++
	}

	seen := make(map[string]bool)
	cursor := ""
	for {
		page, err := f.svc.GetConversationMessages(context.Background(), convID, users[1].ID, MessagePageOptions{
			Cursor:    cursor,
			Direction: "before",
			Limit:     50,
		})
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if len(page.Messages) == 0 {
			break
		}
		for _, m := range page.Messages {
			if seen[m.Content] {
				t.Fatalf("duplicate message across pages: %s", m.Content)
			}
			seen[m.Content] = true
		}
		cursor = page.PrevCursor
	}
	if len(seen) != total {
		t.Fatalf("walked %d messages, want %d", len(seen), total)
	}
}

func TestGetConversationMessagesDeniedForOutsider(t *testing.T) {
	users := testUsers(3)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	_, err := f.svc.GetConversationMessages(context.Background(), convID, users[2].ID, MessagePageOptions{})
	if !errors.Is(err, classlink_errors.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestGetConversationMessagesRejectsBadCursor(t *testing.T) {
	users := testUsers(2)
	f := newMessageServiceFixture(users...)
	convID := f.addConversation(t, "direct", users[0].ID, users[1].ID)

	_, err := f.svc.GetConversationMessages(context.Background(), convID, users[0].ID, MessagePageOptions{
		Cursor: "not-a-cursor",
	})
	if !errors.Is(err, classlink_errors.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
