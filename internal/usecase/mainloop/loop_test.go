package mainloop

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l, cancel
}

func TestLoopRunsInPostingOrder(t *testing.T) {
	l, _ := startLoop(t)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 50; i++ {
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	require.NoError(t, l.Do(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopPostDoesNotRunInline(t *testing.T) {
	l := New(nil)
	ran := false
	l.Post(func() { ran = true })
	assert.False(t, ran, "Post must only queue")
}

func TestLoopSurvivesPanic(t *testing.T) {
	l, _ := startLoop(t)

	l.Post(func() { panic("boom") })
	ok := false
	require.NoError(t, l.Do(context.Background(), func() { ok = true }))
	assert.True(t, ok)
}

func TestLoopDoHonoursContext(t *testing.T) {
	l := New(nil) // never started
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoopDropsAfterStop(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Run(ctx), context.Canceled)

	ran := false
	l.Post(func() { ran = true })
	assert.False(t, ran)
	assert.Empty(t, l.take())
}
