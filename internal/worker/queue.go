package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Queue.Pop when nothing arrived in time.
var ErrEmpty = errors.New("queue empty")

// Queue is a FIFO of JSON payloads.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
	Push(ctx context.Context, payloads ...[]byte) error
}

// RedisQueue is a Redis list consumed with BLPOP.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

func NewRedisQueue(rdb *redis.Client, name string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name}
}

// Pop blocks for at most timeout, which Redis requires to be >= 1s.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", err
	}
	if len(result) < 2 {
		return "", ErrEmpty
	}
	return result[1], nil
}

// Push appends payloads in one pipeline.
func (q *RedisQueue) Push(ctx context.Context, payloads ...[]byte) error {
	pipe := q.rdb.Pipeline()
	for _, p := range payloads {
		pipe.RPush(ctx, q.name, p)
	}
	_, err := pipe.Exec(ctx)
	return err
}
