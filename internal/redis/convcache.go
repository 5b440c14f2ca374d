package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - conversations:{user_id}        - first page of the user's conversation list
// - messages:{conversation_id}     - recent-message window for a conversation
//
// Entries are invalidated by the service inside the request that mutated the
// source rows; the TTL is only a backstop against missed invalidations.

const messageWindowSize = 50

// ConvCacheStore is the per-user conversation cache in front of postgres.
// Values are opaque JSON blobs owned by the service layer; message windows
// are lists of message objects keyed by their "id" field.
type ConvCacheStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewConvCacheStore(client *goredis.Client, ttl time.Duration) *ConvCacheStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &ConvCacheStore{client: client, ttl: ttl}
}

// GetUserList returns the cached first page of the user's conversation list,
// or nil on a miss.
func (c *ConvCacheStore) GetUserList(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	data, err := c.client.Get(ctx, listKey(userID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *ConvCacheStore) SetUserList(ctx context.Context, userID uuid.UUID, data []byte) error {
	return c.client.Set(ctx, listKey(userID), data, c.ttl).Err()
}

// InvalidateUser drops every cached view the user owns.
func (c *ConvCacheStore) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, listKey(userID)).Err()
}

// GetMessages returns the cached recent-message window for a conversation,
// or nil on a miss.
func (c *ConvCacheStore) GetMessages(ctx context.Context, conversationID uuid.UUID) ([]byte, error) {
	data, err := c.client.Get(ctx, messagesKey(conversationID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *ConvCacheStore) SetMessages(ctx context.Context, conversationID uuid.UUID, data []byte) error {
	return c.client.Set(ctx, messagesKey(conversationID), data, c.ttl).Err()
}

func (c *ConvCacheStore) InvalidateConversation(ctx context.Context, conversationID uuid.UUID) error {
	return c.client.Del(ctx, messagesKey(conversationID)).Err()
}

// AddMessage appends a message to the conversation's cached window, trimming
// the oldest entries past the window size. A missing window is left missing:
// it will be rebuilt from the store on the next read.
func (c *ConvCacheStore) AddMessage(ctx context.Context, conversationID uuid.UUID, msg json.RawMessage) error {
	window, err := c.loadWindow(ctx, conversationID)
	if err != nil || window == nil {
		return err
	}

	window = append(window, msg)
	if len(window) > messageWindowSize {
		window = window[len(window)-messageWindowSize:]
	}
	return c.storeWindow(ctx, conversationID, window)
}

// RemoveMessage drops a message from the conversation's cached window.
func (c *ConvCacheStore) RemoveMessage(ctx context.Context, conversationID uuid.UUID, messageID uuid.UUID) error {
	window, err := c.loadWindow(ctx, conversationID)
	if err != nil || window == nil {
		return err
	}

	kept := window[:0]
	for _, raw := range window {
		var probe struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(raw, &probe); err == nil && probe.ID == messageID {
			continue
		}
		kept = append(kept, raw)
	}
	return c.storeWindow(ctx, conversationID, kept)
}

// Ping checks if Redis is available
func (c *ConvCacheStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ConvCacheStore) loadWindow(ctx context.Context, conversationID uuid.UUID) ([]json.RawMessage, error) {
	data, err := c.GetMessages(ctx, conversationID)
	if err != nil || data == nil {
		return nil, err
	}
	var window []json.RawMessage
	if err := json.Unmarshal(data, &window); err != nil {
		// Corrupt entry; drop it and fall back to cache-miss behaviour.
		c.client.Del(ctx, messagesKey(conversationID))
		return nil, nil
	}
	return window, nil
}

func (c *ConvCacheStore) storeWindow(ctx context.Context, conversationID uuid.UUID, window []json.RawMessage) error {
	data, err := json.Marshal(window)
	if err != nil {
		return err
	}
	return c.SetMessages(ctx, conversationID, data)
}

func listKey(userID uuid.UUID) string {
	return fmt.Sprintf("conversations:%s", userID.String())
}

func messagesKey(conversationID uuid.UUID) string {
	return fmt.Sprintf("messages:%s", conversationID.String())
}
