// Package outbox implements the messages outbox (C3): a durable queue of
// prepared messages awaiting delivery, claimed by timestamping
// in_progress_at rather than by a status enum, and re-claimable once a
// claim has aged past the dead-letter threshold.
package outbox

import (
	"context"
	"time"

	"go.feedmesh.dev/internal/message"
)

// DeadLetterDelta is how long an item may sit claimed (in_progress_at set,
// not yet committed) before it is eligible to be reclaimed as a dead
// letter. Matches the source system's 600-second threshold.
const DeadLetterDelta = 10 * time.Minute

// Item is one row of the outbox: the messages bound for one receiver call,
// plus enough of the originating stream to resolve and invoke that receiver
// without the sender needing any side state. Squashed streams carry every
// post's message together; unsquashed streams carry exactly one.
type Item struct {
	ID              string
	SourceID        string
	ReceiverType    string
	ReceiverOptions map[string]any
	Messages        []message.Message
	CreatedAt       time.Time
	InProgressAt    *time.Time // nil if not currently claimed
}

// Store is the durable backing of the outbox. Implementations must make
// Claim and ClaimDeadLetters safe for concurrent use by a single poller;
// nothing in this package serializes callers itself beyond that poller
// loop.
type Store interface {
	// Put appends a new item built from item's SourceID, ReceiverType,
	// ReceiverOptions, and Messages, with InProgressAt unset, and returns
	// its assigned ID.
	Put(ctx context.Context, item Item) (string, error)

	// Claim returns up to limit items with InProgressAt unset, oldest
	// first, and atomically sets their InProgressAt to now.
	Claim(ctx context.Context, now time.Time, limit int) ([]*Item, error)

	// ClaimDeadLetters returns up to limit items whose InProgressAt is
	// set but older than now.Add(-DeadLetterDelta), and bumps their
	// InProgressAt to now so a concurrent dead-letter sweep cannot double
	// claim the same rows.
	ClaimDeadLetters(ctx context.Context, now time.Time, limit int) ([]*Item, error)

	// Commit permanently removes the item, acknowledging delivery. A
	// commit of an unknown id (already committed, or never existed) is a
	// no-op, not an error.
	Commit(ctx context.Context, id string) error

	// Len reports the number of items not yet committed, for metrics.
	Len(ctx context.Context) (int, error)

	Close() error
}

// Outbox is the poll-driven facade the pipeline's sender stage consumes:
// Get yields freshly enqueued items, GetDeadLetter yields items whose
// previous delivery attempt never committed.
type Outbox struct {
	store Store

	pollInterval   time.Duration
	deadLetterPoll time.Duration
}

// New wraps store with the standard polling cadence: 100ms for fresh
// claims, 10s for dead-letter sweeps.
func New(store Store) *Outbox {
	return &Outbox{store: store, pollInterval: 100 * time.Millisecond, deadLetterPoll: 10 * time.Second}
}

// Put enqueues item for delivery.
func (o *Outbox) Put(ctx context.Context, item Item) (string, error) {
	return o.store.Put(ctx, item)
}

// Get blocks, polling at pollInterval, until at least one unclaimed item
// is available, then returns a single claimed item. It returns ctx.Err()
// if ctx is canceled first.
func (o *Outbox) Get(ctx context.Context) (*Item, error) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		items, err := o.store.Claim(ctx, time.Now(), 1)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items[0], nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetDeadLetter blocks, polling at deadLetterPoll, until at least one
// item's claim has aged past DeadLetterDelta, then returns one such item,
// re-claimed for this caller.
func (o *Outbox) GetDeadLetter(ctx context.Context) (*Item, error) {
	ticker := time.NewTicker(o.deadLetterPoll)
	defer ticker.Stop()
	for {
		items, err := o.store.ClaimDeadLetters(ctx, time.Now(), 1)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items[0], nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Commit acknowledges delivery of id.
func (o *Outbox) Commit(ctx context.Context, id string) error {
	return o.store.Commit(ctx, id)
}

// Len reports the number of items not yet committed.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	return o.store.Len(ctx)
}

// Close releases the underlying store's resources.
func (o *Outbox) Close() error {
	return o.store.Close()
}
