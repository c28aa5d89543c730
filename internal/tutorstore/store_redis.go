package tutorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-tutor/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultSessionTTL = time.Hour

var ErrSnapshotNotFound = errors.New("session snapshot not found")

// SnapshotStore keeps the latest snapshot of each tutor session in redis with a sliding TTL.
type SnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshotStore(rdb *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SnapshotStore{rdb: rdb, ttl: ttl}
}

// Dial connects to redisURL and checks the connection.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (s *SnapshotStore) keySession(id string) string { return "tutor:session:" + strings.TrimSpace(id) }
func (s *SnapshotStore) keyLesson(id string) string  { return "tutor:lesson:" + strings.TrimSpace(id) + ":sessions" }

func (s *SnapshotStore) Save(ctx context.Context, snap domain.SessionSnapshot) error {
	if strings.TrimSpace(snap.SessionID) == "" {
		return fmt.Errorf("snapshot without session id")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keySession(snap.SessionID), raw, s.ttl)
	if snap.LessonID != "" {
		pipe.SAdd(ctx, s.keyLesson(snap.LessonID), snap.SessionID)
		pipe.Expire(ctx, s.keyLesson(snap.LessonID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context, sessionID string) (domain.SessionSnapshot, error) {
	raw, err := s.rdb.Get(ctx, s.keySession(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionSnapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, s.keySession(sessionID)).Err()
}

// SessionsForLesson lists sessions that touched a lesson within the TTL window.
func (s *SnapshotStore) SessionsForLesson(ctx context.Context, lessonID string) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyLesson(lessonID)).Result()
}
