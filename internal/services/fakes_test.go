package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classlink/internal/domain/conversation"
	"classlink/internal/domain/message"
	"classlink/internal/domain/notification"
	"classlink/internal/domain/user"
	"classlink/internal/push"
	classlink_errors "classlink/pkg/errors"
	"classlink/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New("test")
}

type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]conversation.Conversation
	participants  map[uuid.UUID][]conversation.Participant
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[uuid.UUID]conversation.Conversation),
		participants:  make(map[uuid.UUID][]conversation.Participant),
	}
}

func (f *fakeConversationRepo) Create(ctx context.Context, c *conversation.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[c.ID] = *c
	return nil
}

func (f *fakeConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok {
		return conversation.Conversation{}, classlink_errors.ErrNotFound
	}
	c.Participants = append([]conversation.Participant(nil), f.participants[id]...)
	return c, nil
}

func (f *fakeConversationRepo) Update(ctx context.Context, c conversation.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conversations[c.ID]; !ok {
		return classlink_errors.ErrNotFound
	}
	c.Participants = nil
	f.conversations[c.ID] = c
	return nil
}

func (f *fakeConversationRepo) HardDelete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conversations[id]; !ok {
		return classlink_errors.ErrNotFound
	}
	delete(f.conversations, id)
	return nil
}

func (f *fakeConversationRepo) GetUserConversations(ctx context.Context, userID uuid.UUID, page, limit int) ([]conversation.Conversation, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []conversation.Conversation
	for id, c := range f.conversations {
		for _, p := range f.participants[id] {
			if p.UserID == userID && !p.LeftAt.Valid {
				c.Participants = append([]conversation.Participant(nil), f.participants[id]...)
				result = append(result, c)
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].LastMessageAt.Time, result[j].LastMessageAt.Time
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	total := int64(len(result))
	start := (page - 1) * limit
	if start >= len(result) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (f *fakeConversationRepo) GetDirectConversation(ctx context.Context, userID1, userID2 uuid.UUID) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.conversations {
		if c.Type != "direct" {
			continue
		}
		var has1, has2 bool
		for _, p := range f.participants[id] {
			if p.UserID == userID1 {
				has1 = true
			}
			if p.UserID == userID2 {
				has2 = true
			}
		}
		if has1 && has2 {
			c.Participants = append([]conversation.Participant(nil), f.participants[id]...)
			return c, nil
		}
	}
	return conversation.Conversation{}, classlink_errors.ErrNotFound
}

func (f *fakeConversationRepo) AddParticipant(ctx context.Context, p *conversation.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[p.ConversationID] = append(f.participants[p.ConversationID], *p)
	return nil
}

func (f *fakeConversationRepo) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants[conversationID] {
		if p.UserID == userID {
			return p, nil
		}
	}
	return conversation.Participant{}, classlink_errors.ErrNotFound
}

func (f *fakeConversationRepo) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]conversation.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.Participant(nil), f.participants[conversationID]...), nil
}

func (f *fakeConversationRepo) IsActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants[conversationID] {
		if p.UserID == userID && !p.LeftAt.Valid {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConversationRepo) setLeft(conversationID, userID uuid.UUID, left bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.participants[conversationID] {
		if p.UserID == userID {
			if left {
				f.participants[conversationID][i].LeftAt.Time = time.Now()
				f.participants[conversationID][i].LeftAt.Valid = true
			} else {
				f.participants[conversationID][i].LeftAt.Valid = false
			}
			return nil
		}
	}
	return classlink_errors.ErrNotFound
}

func (f *fakeConversationRepo) MarkParticipantLeft(ctx context.Context, conversationID, userID uuid.UUID) error {
	return f.setLeft(conversationID, userID, true)
}

func (f *fakeConversationRepo) RestoreParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	return f.setLeft(conversationID, userID, false)
}

func (f *fakeConversationRepo) RemoveParticipants(ctx context.Context, conversationID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.participants, conversationID)
	return nil
}

func (f *fakeConversationRepo) CountActiveParticipants(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.participants[conversationID] {
		if !p.LeftAt.Valid {
			n++
		}
	}
	return n, nil
}

func (f *fakeConversationRepo) SetLastMessage(ctx context.Context, conversationID, messageID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[conversationID]
	if !ok {
		return classlink_errors.ErrNotFound
	}
	c.LastMessageID = uuid.NullUUID{UUID: messageID, Valid: true}
	c.LastMessageAt.Time = at
	c.LastMessageAt.Valid = true
	f.conversations[conversationID] = c
	return nil
}

func (f *fakeConversationRepo) IncrementUnread(ctx context.Context, conversationID uuid.UUID, excludeUserID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.participants[conversationID] {
		if p.UserID != excludeUserID && !p.LeftAt.Valid {
			f.participants[conversationID][i].UnreadCount++
		}
	}
	return nil
}

func (f *fakeConversationRepo) ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.participants[conversationID] {
		if p.UserID == userID {
			f.participants[conversationID][i].UnreadCount = 0
			return nil
		}
	}
	return classlink_errors.ErrNotFound
}

func (f *fakeConversationRepo) UnreadCounts(ctx context.Context, userID uuid.UUID, conversationIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[uuid.UUID]int)
	for _, id := range conversationIDs {
		for _, p := range f.participants[id] {
			if p.UserID == userID {
				counts[id] = p.UnreadCount
			}
		}
	}
	return counts, nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[uuid.UUID]message.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[uuid.UUID]message.Message)}
}

func (f *fakeMessageRepo) Create(ctx context.Context, m *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ClientMessageID.Valid {
		for _, existing := range f.messages {
			if existing.ConversationID == m.ConversationID &&
				existing.ClientMessageID.Valid &&
				existing.ClientMessageID.String == m.ClientMessageID.String {
				return classlink_errors.ErrAlreadyExists
			}
		}
	}
	f.messages[m.ID] = *m
	return nil
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return message.Message{}, classlink_errors.ErrNotFound
	}
	return m, nil
}

func (f *fakeMessageRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[uuid.UUID]message.Message)
	for _, id := range ids {
		if m, ok := f.messages[id]; ok {
			result[id] = m
		}
	}
	return result, nil
}

func (f *fakeMessageRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (message.Message, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeMessageRepo) Update(ctx context.Context, m message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[m.ID]; !ok {
		return classlink_errors.ErrNotFound
	}
	f.messages[m.ID] = m
	return nil
}

func (f *fakeMessageRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return classlink_errors.ErrNotFound
	}
	m.IsDeleted = true
	f.messages[id] = m
	return nil
}

func (f *fakeMessageRepo) HardDelete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[id]; !ok {
		return classlink_errors.ErrNotFound
	}
	delete(f.messages, id)
	return nil
}

func (f *fakeMessageRepo) DeleteByConversation(ctx context.Context, conversationID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, m := range f.messages {
		if m.ConversationID == conversationID {
			delete(f.messages, id)
		}
	}
	return nil
}

func (f *fakeMessageRepo) GetByClientMessageID(ctx context.Context, conversationID uuid.UUID, clientMessageID string) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ConversationID == conversationID && m.ClientMessageID.Valid && m.ClientMessageID.String == clientMessageID {
			return m, nil
		}
	}
	return message.Message{}, classlink_errors.ErrNotFound
}

func (f *fakeMessageRepo) GetPage(ctx context.Context, conversationID uuid.UUID, cursor time.Time, direction string, limit int) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []message.Message
	for _, m := range f.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if direction == "after" {
			if !cursor.IsZero() && !m.CreatedAt.After(cursor) {
				continue
			}
		} else if !cursor.IsZero() && !m.CreatedAt.Before(cursor) {
			continue
		}
		rows = append(rows, m)
	}
	if direction == "after" {
		sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	} else {
		sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeMessageRepo) UpdateReactions(ctx context.Context, id uuid.UUID, reactions string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return classlink_errors.ErrNotFound
	}
	m.Reactions = reactions
	f.messages[id] = m
	return nil
}

type fakeNotificationRepo struct {
	mu            sync.Mutex
	notifications []notification.Notification
	subscriptions []notification.TopicSubscription
	createErr     error
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{}
}

func (f *fakeNotificationRepo) CreateBatch(ctx context.Context, rows []*notification.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, row := range rows {
		f.notifications = append(f.notifications, *row)
	}
	return nil
}

func (f *fakeNotificationRepo) GetUserNotifications(ctx context.Context, userID uuid.UUID, page, limit int) ([]notification.Notification, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []notification.Notification
	for _, n := range f.notifications {
		if n.UserID == userID {
			rows = append(rows, n)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	total := int64(len(rows))
	start := (page - 1) * limit
	if start >= len(rows) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], total, nil
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.notifications {
		if n.ID == id && n.UserID == userID {
			f.notifications[i].IsRead = true
			return nil
		}
	}
	return classlink_errors.ErrNotFound
}

func (f *fakeNotificationRepo) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.notifications {
		if n.UserID == userID {
			f.notifications[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeNotificationRepo) AddSubscription(ctx context.Context, s *notification.TopicSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subscriptions {
		if sub.UserID == s.UserID && sub.TopicKey == s.TopicKey && sub.SourceRef == s.SourceRef {
			return classlink_errors.ErrAlreadyExists
		}
	}
	f.subscriptions = append(f.subscriptions, *s)
	return nil
}

func (f *fakeNotificationRepo) RemoveSubscription(ctx context.Context, userID uuid.UUID, topicKey, sourceRef string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, sub := range f.subscriptions {
		if sub.UserID == userID && sub.TopicKey == topicKey && sub.SourceRef == sourceRef {
			f.subscriptions = append(f.subscriptions[:i], f.subscriptions[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeNotificationRepo) CountSubscriptions(ctx context.Context, userID uuid.UUID, topicKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, sub := range f.subscriptions {
		if sub.UserID == userID && sub.TopicKey == topicKey {
			n++
		}
	}
	return n, nil
}

func (f *fakeNotificationRepo) GetTopicSubscriptions(ctx context.Context, topicKey string) ([]notification.TopicSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []notification.TopicSubscription
	for _, sub := range f.subscriptions {
		if sub.TopicKey == topicKey {
			rows = append(rows, sub)
		}
	}
	return rows, nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]user.User
}

func newFakeUserRepo(users ...user.User) *fakeUserRepo {
	f := &fakeUserRepo{users: make(map[uuid.UUID]user.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return user.User{}, classlink_errors.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[uuid.UUID]user.User)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			result[id] = u
		}
	}
	return result, nil
}

type emittedEvent struct {
	ConversationID *uuid.UUID
	UserID         *uuid.UUID
	Event          string
	Payload        any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (f *fakeBroadcaster) EmitToConversation(conversationID uuid.UUID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := conversationID
	f.events = append(f.events, emittedEvent{ConversationID: &id, Event: event, Payload: payload})
}

func (f *fakeBroadcaster) EmitToUser(userID uuid.UUID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := userID
	f.events = append(f.events, emittedEvent{UserID: &id, Event: event, Payload: payload})
}

func (f *fakeBroadcaster) byType(event string) []emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emittedEvent
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type providerCall struct {
	Op     string
	UserID uuid.UUID
	Topic  string
	Msg    push.TopicMessage
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   []providerCall
	sendErr error
}

func (f *fakeProvider) SubscribeToTopic(ctx context.Context, userID uuid.UUID, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, providerCall{Op: "subscribe", UserID: userID, Topic: topic})
	return nil
}

func (f *fakeProvider) UnsubscribeFromTopic(ctx context.Context, userID uuid.UUID, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, providerCall{Op: "unsubscribe", UserID: userID, Topic: topic})
	return nil
}

func (f *fakeProvider) SendToTopic(ctx context.Context, topic string, msg push.TopicMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, providerCall{Op: "send", Topic: topic, Msg: msg})
	return f.sendErr
}

func (f *fakeProvider) byOp(op string) []providerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []providerCall
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeEmailQueue struct {
	mu      sync.Mutex
	jobs    []push.EmailJob
	failFor map[uuid.UUID]error
}

func (f *fakeEmailQueue) Enqueue(ctx context.Context, job push.EmailJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[job.UserID]; ok {
		return err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeEmailQueue) Close() error { return nil }
