// Package pulse provides the process-wide wake signal that shortcuts idle
// polling. Producers raise the pulse when new or rescheduled work becomes
// available; idle processors wake immediately instead of sleeping out the
// full polling delay.
package pulse

import (
	"context"
	"sync"
	"time"
)

// Pulse is a broadcast signal shared by all processors in a process.
// One instance is created by the application root and injected.
//
// Safe for concurrent use: any goroutine may Set while any number of
// goroutines Wait.
type Pulse struct {
	mu sync.Mutex
	ch chan struct{}
}

// New returns a Pulse with no pending signal.
func New() *Pulse {
	return &Pulse{ch: make(chan struct{})}
}

// Set wakes every goroutine currently blocked in Wait. Signals do not
// accumulate: a Set with no waiters only wakes waits already in progress
// at the time of the call, not future ones.
func (p *Pulse) Set() {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.ch)
	p.ch = make(chan struct{})
}

// Wait blocks until the pulse is set, the context is cancelled, or the
// timeout elapses, whichever comes first. A non-positive timeout waits on
// the pulse and the context only.
func (p *Pulse) Wait(ctx context.Context, timeout time.Duration) {
	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()

	if timeout <= 0 {
		select {
		case <-ch:
		case <-ctx.Done():
		}
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
	case <-ctx.Done():
	case <-timer.C:
	}
}
