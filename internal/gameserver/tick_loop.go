package gameserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickPhase is one step of a simulation tick. Phases receive the tick number.
type TickPhase func(tick uint64)

type namedPhase struct {
	name string
	fn   TickPhase
}

// TickLoop runs its phases in registration order once per interval.
// Gameplay phases must be registered before the equipment broadcast so the
// broadcast sees every mutation of the tick.
//
// Invariant: at most one tick runs at a time.
type TickLoop struct {
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	phases []namedPhase
	tick   uint64
}

// NewTickLoop returns a loop that ticks every interval.
//
// Precondition: interval must be > 0; logger must be non-nil.
func NewTickLoop(interval time.Duration, logger *zap.Logger) *TickLoop {
	if interval <= 0 {
		panic("gameserver.NewTickLoop: interval must be > 0")
	}
	return &TickLoop{
		interval: interval,
		logger:   logger,
	}
}

// AddPhase appends a phase. Phase names must be unique.
func (l *TickLoop) AddPhase(name string, fn TickPhase) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.phases {
		if p.name == name {
			return fmt.Errorf("tick phase %q already registered", name)
		}
	}
	l.phases = append(l.phases, namedPhase{name: name, fn: fn})
	return nil
}

// Step runs one tick synchronously and returns its number (starting at 1).
func (l *TickLoop) Step() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tick++
	for _, p := range l.phases {
		p.fn(l.tick)
	}
	return l.tick
}

// CurrentTick returns the number of the last completed tick.
func (l *TickLoop) CurrentTick() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tick
}

// Run ticks until ctx is cancelled. A tick that has started always completes.
//
// Postcondition: returns ctx.Err() after the in-flight tick, if any, finishes.
func (l *TickLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			tick := l.Step()
			if elapsed := time.Since(start); elapsed > l.interval {
				l.logger.Warn("tick overran interval",
					zap.Uint64("tick", tick),
					zap.Duration("elapsed", elapsed),
					zap.Duration("interval", l.interval),
				)
			}
		}
	}
}
