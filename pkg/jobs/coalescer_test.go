package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescerRequiresStart(t *testing.T) {
	c := NewCoalescer("test", func(context.Context) error { return nil }, CoalescerConfig{})
	_, err := c.Trigger()
	require.Error(t, err)
}

func TestCoalescerRunsTriggeredTask(t *testing.T) {
	done := make(chan struct{}, 4)
	c := NewCoalescer("test", func(context.Context) error {
		done <- struct{}{}
		return nil
	}, CoalescerConfig{})
	c.Start(context.Background())
	defer c.Stop()

	queued, err := c.Trigger()
	require.NoError(t, err)
	assert.True(t, queued)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestCoalescerCollapsesBurst(t *testing.T) {
	var runs int32
	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})

	c := NewCoalescer("test", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		once.Do(func() { close(started) })
		<-release
		return nil
	}, CoalescerConfig{})
	c.Start(context.Background())

	_, err := c.Trigger()
	require.NoError(t, err)
	<-started

	merged := 0
	for i := 0; i < 10; i++ {
		queued, err := c.Trigger()
		require.NoError(t, err)
		if !queued {
			merged++
		}
	}
	assert.Equal(t, 9, merged)

	close(release)
	c.Stop()
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}

func TestCoalescerRetriesFailures(t *testing.T) {
	var attempts int32
	done := make(chan struct{})
	c := NewCoalescer("test", func(context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("redis timeout")
		}
		close(done)
		return nil
	}, CoalescerConfig{MaxRetries: 2, RetryDelay: time.Millisecond})
	c.Start(context.Background())
	defer c.Stop()

	_, err := c.Trigger()
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not succeed after retries")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}
