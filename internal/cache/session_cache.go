// Package cache keeps the hot state of running exam sessions in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrMiss is returned when a session is not cached.
var ErrMiss = errors.New("session not cached")

// SessionMeta is what the service needs on every violation and submit call.
type SessionMeta struct {
	SessionID uuid.UUID
	CourseID  uuid.UUID
	StudentID int
	// Deadline is zero for untimed sessions.
	Deadline time.Time
	Status   model.SessionStatus
}

// SessionCache implements the service's cache and queue ports on Redis.
type SessionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionCache returns a cache whose keys expire after ttl.
func NewSessionCache(rdb *redis.Client, ttl time.Duration) *SessionCache {
	return &SessionCache{rdb: rdb, ttl: ttl}
}

// PutMeta stores meta and refreshes its expiry.
func (c *SessionCache) PutMeta(ctx context.Context, meta SessionMeta) error {
	key := config.CacheKey.SessionMetaKey(meta.SessionID.String())
	var deadline int64
	if !meta.Deadline.IsZero() {
		deadline = meta.Deadline.Unix()
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"course_id", meta.CourseID.String(),
			"student_id", meta.StudentID,
			"deadline", deadline,
			"status", string(meta.Status),
		)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	return err
}

// GetMeta returns ErrMiss if the session is not cached.
func (c *SessionCache) GetMeta(ctx context.Context, sessionID uuid.UUID) (*SessionMeta, error) {
	fields, err := c.rdb.HGetAll(ctx, config.CacheKey.SessionMetaKey(sessionID.String())).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}

	courseID, err := uuid.Parse(fields["course_id"])
	if err != nil {
		return nil, fmt.Errorf("cached course_id: %w", err)
	}
	studentID, err := strconv.Atoi(fields["student_id"])
	if err != nil {
		return nil, fmt.Errorf("cached student_id: %w", err)
	}
	meta := &SessionMeta{
		SessionID: sessionID,
		CourseID:  courseID,
		StudentID: studentID,
		Status:    model.SessionStatus(fields["status"]),
	}
	if d, _ := strconv.ParseInt(fields["deadline"], 10, 64); d > 0 {
		meta.Deadline = time.Unix(d, 0)
	}
	return meta, nil
}

// SetStatus updates the cached status only.
func (c *SessionCache) SetStatus(ctx context.Context, sessionID uuid.UUID, status model.SessionStatus) error {
	return c.rdb.HSet(ctx, config.CacheKey.SessionMetaKey(sessionID.String()), "status", string(status)).Err()
}

// IncrViolations atomically bumps the authoritative violation counter.
func (c *SessionCache) IncrViolations(ctx context.Context, sessionID uuid.UUID) (int, error) {
	key := config.CacheKey.SessionViolationsKey(sessionID.String())
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

// ViolationCount reads the counter without changing it.
func (c *SessionCache) ViolationCount(ctx context.Context, sessionID uuid.UUID) (int, error) {
	n, err := c.rdb.Get(ctx, config.CacheKey.SessionViolationsKey(sessionID.String())).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Result returns the stored result id, if the session was submitted.
func (c *SessionCache) Result(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, bool, error) {
	raw, err := c.rdb.Get(ctx, config.CacheKey.SessionResultKey(sessionID.String())).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("cached result id: %w", err)
	}
	return id, true, nil
}

// ClaimResult stores resultID unless another submission got there first, in
// which case the earlier id is returned with claimed=false.
func (c *SessionCache) ClaimResult(ctx context.Context, sessionID, resultID uuid.UUID) (uuid.UUID, bool, error) {
	key := config.CacheKey.SessionResultKey(sessionID.String())
	ok, err := c.rdb.SetNX(ctx, key, resultID.String(), c.ttl).Result()
	if err != nil {
		return uuid.Nil, false, err
	}
	if ok {
		return resultID, true, nil
	}
	existing, found, err := c.Result(ctx, sessionID)
	if err != nil {
		return uuid.Nil, false, err
	}
	if !found {
		return uuid.Nil, false, fmt.Errorf("result key for %s vanished", sessionID)
	}
	return existing, false, nil
}

// ReleaseResult drops a claimed result id so a later submission can retry.
func (c *SessionCache) ReleaseResult(ctx context.Context, sessionID uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.SessionResultKey(sessionID.String())).Err()
}

// Enqueue pushes v as JSON onto a worker queue.
func (c *SessionCache) Enqueue(ctx context.Context, queue string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.RPush(ctx, queue, raw).Err()
}

// Publish sends v as JSON to a PubSub channel.
func (c *SessionCache) Publish(ctx context.Context, channel string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, channel, raw).Err()
}

// Watch subscribes to channel and returns its payloads until ctx is done or
// the returned close func is called.
func (c *SessionCache) Watch(ctx context.Context, channel string) (<-chan string, func() error) {
	pubsub := c.rdb.Subscribe(ctx, channel)
	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close
}
