// Package ratelimit implements the per-host fetch pacer (C4): callers
// fetching from the same host are strictly serialized and spaced at
// least minSpacing apart; callers targeting different hosts never block
// each other.
package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"
)

type hostState struct {
	mu       sync.Mutex
	lastCall time.Time
}

// Limiter paces outbound calls per destination host.
type Limiter struct {
	hosts sync.Map // map[string]*hostState
}

// New returns a Limiter with no recorded call history.
func New() *Limiter {
	return &Limiter{}
}

func (l *Limiter) stateFor(host string) *hostState {
	v, _ := l.hosts.LoadOrStore(host, &hostState{})
	return v.(*hostState)
}

// Lease blocks until at least minSpacing has elapsed since the last call
// to the same host, then returns a release func that records the call
// time. Callers are expected to call Lease immediately before the paced
// operation and release() immediately after:
//
//	release, err := limiter.Lease(ctx, u, minSpacing)
//	if err != nil { return err }
//	defer release()
//
// If ctx is canceled while waiting, Lease returns ctx.Err() without
// recording a call and without blocking the host's next caller.
func (l *Limiter) Lease(ctx context.Context, rawURL string, minSpacing time.Duration) (func(), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	state := l.stateFor(u.Host)

	state.mu.Lock()
	for {
		wait := minSpacing - time.Since(state.lastCall)
		if wait <= 0 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			state.mu.Unlock()
			return nil, ctx.Err()
		}
		timer.Stop()
	}

	release := func() {
		state.lastCall = time.Now()
		state.mu.Unlock()
	}
	return release, nil
}
