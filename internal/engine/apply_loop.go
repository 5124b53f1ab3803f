package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// ApplyLoop is the single goroutine that mutates caches.
// Coordinators fetch in the background and Submit the mutation here, so
// results land one at a time in submission order.
type ApplyLoop struct {
	inbox   chan func()
	done    chan struct{}
	applied atomic.Uint64
	panics  atomic.Uint64
	logger  *slog.Logger
}

// NewApplyLoop creates a loop with the given inbox capacity.
func NewApplyLoop(inboxSize int) *ApplyLoop {
	if inboxSize <= 0 {
		inboxSize = 64
	}
	return &ApplyLoop{
		inbox:  make(chan func(), inboxSize),
		done:   make(chan struct{}),
		logger: slog.Default().With("module", "apply_loop"),
	}
}

// Run processes submitted mutations until ctx is cancelled.
// This MUST be run in a single goroutine.
func (l *ApplyLoop) Run(ctx context.Context) {
	defer close(l.done)
	l.logger.Info("Apply loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Apply loop stopping...")
			return
		case fn := <-l.inbox:
			l.apply(fn)
		}
	}
}

// Submit queues a mutation. It returns false once the loop has exited.
func (l *ApplyLoop) Submit(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Applied returns how many mutations ran.
func (l *ApplyLoop) Applied() uint64 {
	return l.applied.Load()
}

func (l *ApplyLoop) apply(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("Apply panic recovered", slog.Any("panic", r))
		}
	}()
	fn()
	l.applied.Add(1)
}
