// Package dedup implements the post dedup store (C2): tracking, per
// (source, receiver type) pair, which post ids have already been sent so
// re-fetching a feed never re-delivers an already-sent post. A source seen
// for the first time is fully suppressed rather than flooding every
// configured receiver with its backlog.
package dedup

import "context"

// Key identifies one deduplication scope: a source and the receiver type
// of one of its streams. Two streams of the same source with different
// receiver types are tracked independently, since squashing/fan-out means
// the same post can legitimately go to one receiver but not another.
type Key struct {
	SourceID     string
	ReceiverType string
}

// String renders key as the single TEXT value stored in the SQLite
// backend's posts.key column.
func (k Key) String() string {
	return k.SourceID + "\x1f" + k.ReceiverType
}

// Store tracks which post ids have been marked processed for which Key.
type Store interface {
	// HasAny reports whether any post has ever been marked processed for
	// key. Used to detect a source's first run, so its entire initial
	// backlog is suppressed rather than delivered.
	HasAny(ctx context.Context, key Key) (bool, error)

	// IsProcessed reports whether postID was already marked processed for
	// key.
	IsProcessed(ctx context.Context, key Key, postID string) (bool, error)

	// MarkProcessed records every id in postIDs as processed for key, in
	// one call. Idempotent; duplicates within postIDs or against rows
	// already recorded are silently absorbed.
	MarkProcessed(ctx context.Context, key Key, postIDs []string) error

	Close() error
}
