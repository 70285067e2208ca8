package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// publishTimeout bounds a single async publish. ShutdownDrainDuration must cover it.
const publishTimeout = 5 * time.Second

// ShutdownDrainDuration is how long Async.Wait is given at shutdown before publishers are closed.
const ShutdownDrainDuration = publishTimeout

// Publisher emits claim events. Callers use it best-effort: log and continue.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async runs Publish on Next in a goroutine with publishTimeout so the RPC is not blocked.
// The goroutine does not inherit request cancellation. Failures are logged. Call Wait before
// closing Next so in-flight events are not lost.
type Async struct {
	Next   Publisher
	Logger *zap.Logger

	wg sync.WaitGroup
}

// Publish implements Publisher. It never returns an error.
func (a *Async) Publish(_ context.Context, ev Event) error {
	if a.Next == nil {
		return nil
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := a.Next.Publish(ctx, ev); err != nil && a.Logger != nil {
			a.Logger.Warn("claim event publish failed",
				zap.String("event_type", string(ev.Type)),
				zap.String("claim_id", ev.ClaimID),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every in-flight publish has returned or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recorder keeps published events in memory (tests and dev).
type Recorder struct {
	ch chan Event
}

// NewRecorder returns a Recorder buffering up to size events; further events are dropped.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	select {
	case r.ch <- ev:
	default:
	}
	return nil
}

// Events returns the channel of recorded events.
func (r *Recorder) Events() <-chan Event {
	return r.ch
}
