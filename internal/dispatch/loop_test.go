package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	loop := NewLoop(16, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(cancel)
	return loop, cancel
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, loop.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, loop.Do(context.Background(), func() {}))

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopSerializesConcurrentPosts(t *testing.T) {
	loop, _ := startLoop(t)

	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = loop.Do(context.Background(), func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var final int
	require.NoError(t, loop.Do(context.Background(), func() { final = counter }))
	assert.Equal(t, 800, final)
}

func TestLoopRecoversFromPanics(t *testing.T) {
	loop, _ := startLoop(t)

	loop.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, loop.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopRejectsWorkAfterShutdown(t *testing.T) {
	loop, cancel := startLoop(t)
	cancel()

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	assert.False(t, loop.Post(func() {}))
	assert.ErrorIs(t, loop.Do(context.Background(), func() {}), ErrClosed)
}

func TestDoWaitsForQueuedTaskAfterCancel(t *testing.T) {
	loop, _ := startLoop(t)

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, loop.Post(func() {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	errc := make(chan error, 1)
	go func() {
		errc <- loop.Do(ctx, func() { ran = true })
	}()

	require.Eventually(t, func() bool { return len(loop.tasks) == 1 }, time.Second, time.Millisecond)
	cancel()
	close(release)

	require.NoError(t, <-errc)
	assert.True(t, ran)
}

func TestDoHonorsCancelBeforeQueueing(t *testing.T) {
	loop, _ := startLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	assert.ErrorIs(t, loop.Do(ctx, func() { ran = true }), context.Canceled)
	require.NoError(t, loop.Do(context.Background(), func() {}))
	assert.False(t, ran)
}

func TestInlineRunsImmediately(t *testing.T) {
	var d Dispatcher = Inline{}
	ran := 0
	assert.True(t, d.Post(func() { ran++ }))
	require.NoError(t, d.Do(context.Background(), func() { ran++ }))
	assert.Equal(t, 2, ran)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Do(ctx, func() { ran++ }), context.Canceled)
	assert.Equal(t, 2, ran)
}
