package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests talk to a real Redis; set TEST_REDIS_URL to run them.
func newTestCache(t *testing.T) *SessionCache {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return NewSessionCache(rdb, time.Minute)
}

func TestMetaRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	id := uuid.New()
	_, err := c.GetMeta(ctx, id)
	assert.ErrorIs(t, err, ErrMiss)

	meta := SessionMeta{
		SessionID: id,
		CourseID:  uuid.New(),
		StudentID: 7,
		Deadline:  time.Unix(time.Now().Add(time.Hour).Unix(), 0),
		Status:    model.SessionStatusInProgress,
	}
	require.NoError(t, c.PutMeta(ctx, meta))
	got, err := c.GetMeta(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, meta.CourseID, got.CourseID)
	assert.Equal(t, 7, got.StudentID)
	assert.True(t, meta.Deadline.Equal(got.Deadline))

	require.NoError(t, c.SetStatus(ctx, id, model.SessionStatusSubmitted))
	got, _ = c.GetMeta(ctx, id)
	assert.Equal(t, model.SessionStatusSubmitted, got.Status)
}

func TestViolationCounter(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := uuid.New()

	n, err := c.ViolationCount(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, n)

	for want := 1; want <= 3; want++ {
		n, err = c.IncrViolations(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestClaimResultIsFirstWins(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := uuid.New()

	first, second := uuid.New(), uuid.New()
	got, claimed, err := c.ClaimResult(ctx, id, first)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, first, got)

	got, claimed, err = c.ClaimResult(ctx, id, second)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, first, got)
}
