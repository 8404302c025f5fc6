package queue

import (
	"fmt"

	"reconpipe/internal/config"
)

// New builds the queue implementation named by configuration.
func New(cfg config.QueueConfig) (Queue, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryQueue(), nil
	case "redis":
		return NewRedisQueue(cfg.RedisAddr, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
