package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// PresenceStatus is a user's realtime availability as seen across all
// server instances.
type PresenceStatus struct {
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// PresenceTracker records websocket connections in Redis so that online
// status survives across server instances. Each connection registers its
// client id in a per-user set; the user counts as online while the set is
// non-empty.
type PresenceTracker struct {
	client *goredis.Client
	ttl    time.Duration
}

const (
	presenceConnKeyPrefix = "presence:conns:"
	presenceSeenKeyPrefix = "presence:seen:"
)

func NewPresenceTracker(client *goredis.Client, ttl time.Duration) *PresenceTracker {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceTracker{client: client, ttl: ttl}
}

// ConnectionOpened registers a websocket connection for the user.
func (p *PresenceTracker) ConnectionOpened(ctx context.Context, userID uuid.UUID, clientID string) error {
	pipe := p.client.Pipeline()
	key := p.connKey(userID)
	pipe.SAdd(ctx, key, clientID)
	pipe.Expire(ctx, key, p.ttl)
	pipe.Set(ctx, p.seenKey(userID), time.Now().UTC().Format(time.RFC3339), 0)
	_, err := pipe.Exec(ctx)
	return err
}

// ConnectionClosed removes a connection and records last seen when it was
// the user's final one.
func (p *PresenceTracker) ConnectionClosed(ctx context.Context, userID uuid.UUID, clientID string) error {
	key := p.connKey(userID)
	if err := p.client.SRem(ctx, key, clientID).Err(); err != nil {
		return err
	}
	remaining, err := p.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if remaining == 0 {
		return p.client.Set(ctx, p.seenKey(userID), time.Now().UTC().Format(time.RFC3339), 0).Err()
	}
	return nil
}

// Heartbeat refreshes the connection set TTL. Called from the ping handler
// so presence expires for instances that die without cleanup.
func (p *PresenceTracker) Heartbeat(ctx context.Context, userID uuid.UUID) error {
	return p.client.Expire(ctx, p.connKey(userID), p.ttl).Err()
}

// GetPresence returns the availability of a single user.
func (p *PresenceTracker) GetPresence(ctx context.Context, userID uuid.UUID) (PresenceStatus, error) {
	status := PresenceStatus{UserID: userID}

	count, err := p.client.SCard(ctx, p.connKey(userID)).Result()
	if err != nil {
		return status, err
	}
	if count > 0 {
		status.IsOnline = true
		return status, nil
	}

	seen, err := p.client.Get(ctx, p.seenKey(userID)).Result()
	if err == goredis.Nil {
		return status, nil
	}
	if err != nil {
		return status, err
	}
	if ts, err := time.Parse(time.RFC3339, seen); err == nil {
		status.LastSeen = ts
	}
	return status, nil
}

// GetMultiplePresence resolves availability for a batch of users in one
// round trip. Unknown users come back offline with a zero LastSeen.
func (p *PresenceTracker) GetMultiplePresence(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]PresenceStatus, error) {
	result := make(map[uuid.UUID]PresenceStatus, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	pipe := p.client.Pipeline()
	connCmds := make(map[uuid.UUID]*goredis.IntCmd, len(userIDs))
	seenCmds := make(map[uuid.UUID]*goredis.StringCmd, len(userIDs))
	for _, id := range userIDs {
		connCmds[id] = pipe.SCard(ctx, p.connKey(id))
		seenCmds[id] = pipe.Get(ctx, p.seenKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, err
	}

	for _, id := range userIDs {
		status := PresenceStatus{UserID: id}
		if count, err := connCmds[id].Result(); err == nil && count > 0 {
			status.IsOnline = true
		} else if seen, err := seenCmds[id].Result(); err == nil {
			if ts, perr := time.Parse(time.RFC3339, seen); perr == nil {
				status.LastSeen = ts
			}
		}
		result[id] = status
	}
	return result, nil
}

func (p *PresenceTracker) connKey(userID uuid.UUID) string {
	return presenceConnKeyPrefix + userID.String()
}

func (p *PresenceTracker) seenKey(userID uuid.UUID) string {
	return fmt.Sprintf("%s%s", presenceSeenKeyPrefix, userID)
}
