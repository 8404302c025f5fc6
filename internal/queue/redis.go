package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reconpipe/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const taskList = "reconpipe:tasks"

// RedisQueue backs the task stream with a Redis list so multiple worker
// processes can share one backlog.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(addr string, db int) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	return &RedisQueue{client: client}, nil
}

func (q *RedisQueue) Publish(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	return q.client.LPush(ctx, taskList, data).Err()
}

func (q *RedisQueue) Consume(ctx context.Context) (<-chan Task, error) {
	out := make(chan Task)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}

			result, err := q.client.BRPop(ctx, 5*time.Second, taskList).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.WithFields(logger.Fields{"error": err.Error()}).Error("Redis queue pop failed")
				time.Sleep(time.Second)
				continue
			}
			if len(result) != 2 {
				continue
			}

			var task Task
			if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
				logger.WithFields(logger.Fields{"payload": result[1]}).Warn("Skipping malformed task payload")
				continue
			}

			select {
			case out <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
