package gameserver_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mymatsubara/valence/internal/gameserver"
)

func TestTickLoop_StepRunsPhasesInOrder(t *testing.T) {
	loop := gameserver.NewTickLoop(time.Hour, zaptest.NewLogger(t))
	var order []string
	require.NoError(t, loop.AddPhase("gameplay", func(uint64) { order = append(order, "gameplay") }))
	require.NoError(t, loop.AddPhase("broadcast", func(uint64) { order = append(order, "broadcast") }))

	assert.Equal(t, uint64(1), loop.Step())
	assert.Equal(t, uint64(2), loop.Step())
	assert.Equal(t, []string{"gameplay", "broadcast", "gameplay", "broadcast"}, order)
	assert.Equal(t, uint64(2), loop.CurrentTick())
}

func TestTickLoop_DuplicatePhase(t *testing.T) {
	loop := gameserver.NewTickLoop(time.Second, zaptest.NewLogger(t))
	require.NoError(t, loop.AddPhase("p", func(uint64) {}))
	assert.Error(t, loop.AddPhase("p", func(uint64) {}))
}

func TestTickLoop_InvalidInterval(t *testing.T) {
	assert.Panics(t, func() { gameserver.NewTickLoop(0, zaptest.NewLogger(t)) })
}

func TestTickLoop_RunTicksUntilCancelled(t *testing.T) {
	loop := gameserver.NewTickLoop(10*time.Millisecond, zaptest.NewLogger(t))
	var count atomic.Int64
	called := make(chan struct{}, 1)
	require.NoError(t, loop.AddPhase("count", func(uint64) {
		count.Add(1)
		select {
		case called <- struct{}{}:
		default:
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("tick phase not invoked within timeout")
	}
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	after := count.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, count.Load(), "no ticks after Run returned")
}
