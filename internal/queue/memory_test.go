package queue

import (
	"context"
	"testing"
	"time"

	"reconpipe/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_PublishConsume(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tasks, err := q.Consume(ctx)
	require.NoError(t, err)

	want := Task{Stage: "resolution", Params: map[string]string{"seed_id": "7", "scan_id": "abc"}}
	require.NoError(t, q.Publish(ctx, want))

	select {
	case got := <-tasks:
		assert.Equal(t, want.Stage, got.Stage)
		assert.Equal(t, "7", got.Param("seed_id"))
		assert.Equal(t, "abc", got.Param("scan_id"))
	case <-ctx.Done():
		t.Fatal("timed out waiting for task")
	}
}

func TestMemoryQueue_PublishAfterClose(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Close())

	err := q.Publish(context.Background(), Task{Stage: "discovery"})
	assert.ErrorIs(t, err, errors.ErrQueueClosed)
}

func TestMemoryQueue_ConsumeStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tasks, err := q.Consume(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-tasks:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("consume channel did not close on cancel")
	}
}

func TestTask_ParamMissing(t *testing.T) {
	assert.Empty(t, Task{}.Param("seed_id"))
}
