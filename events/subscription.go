package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionOption func(*Subscription)

func WithBatchSize(n int) SubscriptionOption {
	return func(s *Subscription) { s.batchSize = n }
}

func WithPollInterval(d time.Duration) SubscriptionOption {
	return func(s *Subscription) { s.pollInterval = d }
}

// Subscription is a resumable, prefix-filtered iterator over the global log.
// It polls for batches and, while the log is dry, parks on LISTEN/NOTIFY with
// the poll interval as a fallback. A Subscription is owned by a single
// consumer and is not safe for concurrent use.
type Subscription struct {
	store        *Store
	pool         *pgxpool.Pool
	prefix       string
	after        int64
	batchSize    int
	pollInterval time.Duration
}

// NewSubscription opens a subscription over streams whose name carries prefix,
// starting just after the given position.
func NewSubscription(store *Store, pool *pgxpool.Pool, prefix string, after int64, opts ...SubscriptionOption) *Subscription {
	s := &Subscription{
		store:        store,
		pool:         pool,
		prefix:       prefix,
		after:        after,
		batchSize:    100,
		pollInterval: 5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Position returns the global position of the last event handed out by Next.
func (s *Subscription) Position() int64 { return s.after }

// Next blocks until at least one new event is available and returns the next
// batch in global order. It returns ctx.Err() on cancellation; any other
// error is terminal for the subscription.
func (s *Subscription) Next(ctx context.Context) ([]Event, error) {
	for {
		evts, err := s.store.ReadPrefix(ctx, s.prefix, s.after, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: %w", s.prefix, err)
		}
		if len(evts) > 0 {
			s.after = evts[len(evts)-1].GlobalPosition
			return evts, nil
		}
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// wait parks until a NOTIFY arrives or the poll interval elapses. Returning
// nil means "poll again".
func (s *Subscription) wait(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.pollInterval)
	defer cancel()

	conn, err := s.pool.Acquire(waitCtx)
	if err != nil {
		return s.waitErr(ctx, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(waitCtx, "LISTEN "+NotifyChannel); err != nil {
		return s.waitErr(ctx, err)
	}

	if _, err := conn.Conn().WaitForNotification(waitCtx); err != nil {
		return s.waitErr(ctx, err)
	}
	return nil
}

// waitErr maps a deadline hit on the wait context to "poll again" while
// keeping parent cancellation and real connection failures terminal.
func (s *Subscription) waitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return fmt.Errorf("subscription %s: wait: %w", s.prefix, err)
}
