package livecapture

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "botsession:"

// RedisSessionStore keeps sessions in Redis with a TTL, letting multiple
// API instances see the same live captures.
type RedisSessionStore struct {
	rdb *redis.Client
}

// NewRedisSessionStore creates a RedisSessionStore.
func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

// Get returns the session for a meeting, or nil.
func (s *RedisSessionStore) Get(ctx context.Context, meetingID string) (*Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(meetingID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session for meeting %s: %w", meetingID, err)
	}
	return &session, nil
}

// Put stores the session under its meeting id with the given TTL.
func (s *RedisSessionStore) Put(ctx context.Context, session *Session, ttl time.Duration) error {
	if session == nil || session.MeetingID == "" {
		return fmt.Errorf("session with meeting id is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(session.MeetingID), payload, ttl).Err()
}

// Delete removes a session.
func (s *RedisSessionStore) Delete(ctx context.Context, meetingID string) error {
	return s.rdb.Del(ctx, sessionKey(meetingID)).Err()
}

// List scans all live sessions.
func (s *RedisSessionStore) List(ctx context.Context) ([]*Session, error) {
	var sessions []*Session
	iter := s.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func sessionKey(meetingID string) string {
	return sessionKeyPrefix + meetingID
}
