// Package queue moves named units of work between pipeline stages. Tasks
// carry identifiers only, never payloads; each stage reloads what it needs
// and treats delivery as at-least-once.
package queue

import "context"

// Task names a stage and the minimal identifiers it needs.
type Task struct {
	Stage  string            `json:"stage"`
	Params map[string]string `json:"params"`
}

// Param returns a task parameter, empty when absent.
func (t Task) Param(key string) string {
	if t.Params == nil {
		return ""
	}
	return t.Params[key]
}

// Queue is the transport between the coordinator's workers. Implementations
// are selected at startup via configuration.
type Queue interface {
	Publish(ctx context.Context, task Task) error
	// Consume returns a channel the workers range over. The channel closes
	// when the queue shuts down or ctx is cancelled.
	Consume(ctx context.Context) (<-chan Task, error)
	Close() error
}
