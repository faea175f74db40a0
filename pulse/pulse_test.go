package pulse_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ostrea/backlog/pulse"
)

func TestWait_WakesOnSet(t *testing.T) {
	t.Parallel()

	p := pulse.New()
	done := make(chan struct{})

	go func() {
		p.Wait(context.Background(), time.Minute)
		close(done)
	}()

	// Give the waiter time to block before signalling.
	time.Sleep(20 * time.Millisecond)
	p.Set()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not wake on Set")
	}
}

func TestWait_WakesAllWaiters(t *testing.T) {
	t.Parallel()

	p := pulse.New()
	const waiters = 5

	var wg sync.WaitGroup
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Wait(context.Background(), time.Minute)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	p.Set()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all waiters woke on Set")
	}
}

func TestWait_TimesOut(t *testing.T) {
	t.Parallel()

	p := pulse.New()
	start := time.Now()
	p.Wait(context.Background(), 30*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Wait blocked %v past its timeout", elapsed)
	}
}

func TestWait_WakesOnCancel(t *testing.T) {
	t.Parallel()

	p := pulse.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Wait(ctx, time.Minute)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not wake on context cancellation")
	}
}

func TestSet_DoesNotAccumulate(t *testing.T) {
	t.Parallel()

	p := pulse.New()
	p.Set() // no waiters; must not satisfy a later Wait instantly forever

	start := time.Now()
	p.Wait(context.Background(), 30*time.Millisecond)
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("Wait returned immediately from a stale Set")
	}
}

func TestConcurrentSetAndWait(t *testing.T) {
	t.Parallel()

	p := pulse.New()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				p.Set()
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				p.Wait(ctx, 10*time.Millisecond)
			}
		}()
	}
	wg.Wait()
}
