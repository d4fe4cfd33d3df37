package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quay/claircore/toolkit/log"

	"github.com/quay/nspmirror/events"
)

// DefaultInterval is the time between scheduled runs.
const DefaultInterval = 6 * time.Hour

// Scheduler requests mirror runs on an interval.
type Scheduler struct {
	pub      Publisher
	interval time.Duration
}

// NewScheduler returns a Scheduler publishing to pub every interval. A
// non-positive interval means [DefaultInterval].
func NewScheduler(pub Publisher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{pub: pub, interval: interval}
}

// Start publishes an [events.MirrorRequested] immediately and then on every
// tick.
//
// Start is designed to be run as a goroutine. Cancel the provided ctx to end
// the loop; the returned error is the Context's error, or the Publisher's
// error if the event service went away.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx = log.With(ctx, "component", "mirror/Scheduler.Start")
	ev := events.Event{Kind: events.MirrorRequested}

	slog.InfoContext(ctx, "requesting initial mirror run")
	if err := s.publish(ctx, ev); err != nil {
		return err
	}

	slog.InfoContext(ctx, "starting background mirror runs", "interval", s.interval)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := s.publish(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, ev events.Event) error {
	err := s.pub.Publish(ctx, ev)
	switch {
	case errors.Is(err, nil):
		return nil
	case errors.Is(err, events.ErrClosed):
		return fmt.Errorf("mirror: scheduler stopping: %w", err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		slog.ErrorContext(ctx, "unable to request mirror run", "reason", err)
		return nil
	}
}
