package watcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnceReturnsJobError(t *testing.T) {
	boom := errors.New("boom")
	var calls int32
	w := New(0, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return boom
	}, nil)

	assert.ErrorIs(t, w.Run(context.Background()), boom)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRunRepeatsAndSurvivesErrors(t *testing.T) {
	mock := clock.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan int32, 10)
	var n int32
	w := New(time.Hour, func(ctx context.Context) error {
		c := atomic.AddInt32(&n, 1)
		calls <- c
		if c == 1 {
			return errors.New("first cycle fails")
		}
		return nil
	}, mock)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Equal(t, int32(1), <-calls)
	// The first cycle's error does not stop the loop.
	for want := int32(2); want <= 3; want++ {
		// wait for the watcher to block on the ticker before advancing
		require.Eventually(t, func() bool {
			mock.Add(time.Hour)
			select {
			case got := <-calls:
				assert.Equal(t, want, got)
				return true
			default:
				return false
			}
		}, time.Second, 5*time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
