package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ostrea/backlog"
	"github.com/ostrea/backlog/id"
	"github.com/ostrea/backlog/job"
)

func openConn(t *testing.T, s *Store) job.Connection {
	t.Helper()
	conn, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func storeDueJob(t *testing.T, conn job.Connection) *job.Job {
	t.Helper()
	j := job.New([]byte(`{"operation":"work"}`), time.Now().UTC().Add(-time.Second))
	if err := conn.StoreJob(context.Background(), j); err != nil {
		t.Fatalf("StoreJob: %v", err)
	}
	return j
}

func TestStoreAndGetJob(t *testing.T) {
	t.Parallel()

	s := New()
	conn := openConn(t, s)
	ctx := context.Background()

	j := storeDueJob(t, conn)

	got, err := conn.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.Status != job.StatusScheduled {
		t.Fatalf("unexpected job: %+v", got)
	}

	// Copies out, copies in: mutating the returned record must not leak
	// into the store.
	got.Retries = 99
	again, err := conn.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if again.Retries != 0 {
		t.Fatal("store leaked a mutable reference")
	}

	if err := conn.StoreJob(ctx, j); !errors.Is(err, backlog.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got %v", err)
	}
	if _, err := conn.GetJob(ctx, id.NewJobID()); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestFetchNextJobOrdering(t *testing.T) {
	t.Parallel()

	s := New()
	conn := openConn(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	later := job.New(nil, now.Add(-time.Second))
	earlier := job.New(nil, now.Add(-time.Hour))
	for _, j := range []*job.Job{later, earlier} {
		if err := conn.StoreJob(ctx, j); err != nil {
			t.Fatalf("StoreJob: %v", err)
		}
	}

	fetched, err := conn.FetchNextJob(ctx)
	if err != nil {
		t.Fatalf("FetchNextJob: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected a job")
	}
	defer fetched.Close()
	if fetched.JobID() != earlier.ID {
		t.Fatalf("expected earliest due job %s, got %s", earlier.ID, fetched.JobID())
	}
}

func TestFetchNextJobEligibility(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name string
		job  func() *job.Job
		want bool
	}{
		{
			name: "due scheduled",
			job: func() *job.Job {
				return job.New(nil, now.Add(-time.Second))
			},
			want: true,
		},
		{
			name: "not yet due",
			job: func() *job.Job {
				return job.New(nil, now.Add(time.Hour))
			},
			want: false,
		},
		{
			name: "due processing",
			job: func() *job.Job {
				j := job.New(nil, now.Add(-time.Second))
				j.Status = job.StatusProcessing
				return j
			},
			want: true,
		},
		{
			name: "succeeded",
			job: func() *job.Job {
				j := job.New(nil, now.Add(-time.Second))
				j.Status = job.StatusSucceeded
				return j
			},
			want: false,
		},
		{
			name: "failed",
			job: func() *job.Job {
				j := job.New(nil, now.Add(-time.Second))
				j.Status = job.StatusFailed
				return j
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New()
			conn := openConn(t, s)
			if err := conn.StoreJob(ctx, tt.job()); err != nil {
				t.Fatalf("StoreJob: %v", err)
			}

			fetched, err := conn.FetchNextJob(ctx)
			if err != nil {
				t.Fatalf("FetchNextJob: %v", err)
			}
			if got := fetched != nil; got != tt.want {
				t.Fatalf("fetched = %v, want %v", got, tt.want)
			}
			if fetched != nil {
				fetched.Close()
			}
		})
	}
}

func TestFetchLeaseExclusivity(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	conn := openConn(t, s)
	storeDueJob(t, conn)

	// Many concurrent fetchers over a single job: exactly one wins.
	const fetchers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []job.FetchedJob
	)
	for range fetchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.Open(ctx)
			if err != nil {
				t.Errorf("Open: %v", err)
				return
			}
			defer c.Close()
			fetched, err := c.FetchNextJob(ctx)
			if err != nil {
				t.Errorf("FetchNextJob: %v", err)
				return
			}
			if fetched != nil {
				mu.Lock()
				wins = append(wins, fetched)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("expected exactly 1 successful fetch, got %d", len(wins))
	}
	wins[0].Close()
}

func TestImpliedReleaseOnClose(t *testing.T) {
	t.Parallel()

	s := New()
	conn := openConn(t, s)
	ctx := context.Background()

	storeDueJob(t, conn)

	fetched, err := conn.FetchNextJob(ctx)
	if err != nil || fetched == nil {
		t.Fatalf("FetchNextJob: fetched=%v err=%v", fetched, err)
	}

	// Leased: a second fetch finds nothing.
	other, err := conn.FetchNextJob(ctx)
	if err != nil {
		t.Fatalf("FetchNextJob: %v", err)
	}
	if other != nil {
		t.Fatal("expected no job while lease is live")
	}

	// Close without Ack or Requeue releases the lease.
	if err := fetched.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := fetched.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	again, err := conn.FetchNextJob(ctx)
	if err != nil {
		t.Fatalf("FetchNextJob: %v", err)
	}
	if again == nil {
		t.Fatal("expected job to be re-eligible after implied release")
	}
	again.Close()
}

func TestAckSettlesLeaseOnce(t *testing.T) {
	t.Parallel()

	s := New()
	conn := openConn(t, s)
	ctx := context.Background()

	storeDueJob(t, conn)

	fetched, err := conn.FetchNextJob(ctx)
	if err != nil || fetched == nil {
		t.Fatalf("FetchNextJob: fetched=%v err=%v", fetched, err)
	}

	if err := fetched.Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if err := fetched.Ack(ctx); !errors.Is(err, backlog.ErrLeaseSettled) {
		t.Fatalf("expected ErrLeaseSettled on double Ack, got %v", err)
	}
	if err := fetched.Requeue(ctx); !errors.Is(err, backlog.ErrLeaseSettled) {
		t.Fatalf("expected ErrLeaseSettled on Requeue after Ack, got %v", err)
	}
	// Close after settle is a no-op.
	if err := fetched.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLeaseExpiry(t *testing.T) {
	t.Parallel()

	s := New(WithLeaseTTL(20 * time.Millisecond))
	conn := openConn(t, s)
	ctx := context.Background()

	storeDueJob(t, conn)

	fetched, err := conn.FetchNextJob(ctx)
	if err != nil || fetched == nil {
		t.Fatalf("FetchNextJob: fetched=%v err=%v", fetched, err)
	}
	// Never released: simulate a crashed owner.

	time.Sleep(40 * time.Millisecond)

	again, err := conn.FetchNextJob(ctx)
	if err != nil {
		t.Fatalf("FetchNextJob: %v", err)
	}
	if again == nil {
		t.Fatal("expected job to be re-eligible after lease expiry")
	}
	again.Close()
}

func TestUpdateTxBuffersUntilCommit(t *testing.T) {
	t.Parallel()

	s := New()
	conn := openConn(t, s)
	ctx := context.Background()

	j := storeDueJob(t, conn)

	tx, err := conn.BeginUpdate(ctx)
	if err != nil {
		t.Fatalf("BeginUpdate: %v", err)
	}
	j.Status = job.StatusSucceeded
	if err := tx.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	// Not visible before Commit.
	got, err := conn.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusScheduled {
		t.Fatalf("uncommitted write visible: %v", got.Status)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, err = conn.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusSucceeded {
		t.Fatalf("committed write not visible: %v", got.Status)
	}

	// Rollback after Commit is a no-op.
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after Commit: %v", err)
	}
	if err := tx.UpdateJob(ctx, j); err == nil {
		t.Fatal("expected staging on settled tx to fail")
	}
}

func TestUpdateTxRollbackDiscards(t *testing.T) {
	t.Parallel()

	s := New()
	conn := openConn(t, s)
	ctx := context.Background()

	j := storeDueJob(t, conn)

	tx, err := conn.BeginUpdate(ctx)
	if err != nil {
		t.Fatalf("BeginUpdate: %v", err)
	}
	j.Status = job.StatusFailed
	if err := tx.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	got, err := conn.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusScheduled {
		t.Fatalf("rolled back write visible: %v", got.Status)
	}
}

func TestUpdateUnknownJob(t *testing.T) {
	t.Parallel()

	s := New()
	conn := openConn(t, s)
	ctx := context.Background()

	tx, err := conn.BeginUpdate(ctx)
	if err != nil {
		t.Fatalf("BeginUpdate: %v", err)
	}
	ghost := job.New(nil, time.Now().UTC())
	if err := tx.UpdateJob(ctx, ghost); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()

	s := New()
	conn := openConn(t, s)
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.Open(ctx); !errors.Is(err, backlog.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed from Open, got %v", err)
	}
	if err := conn.StoreJob(ctx, job.New(nil, time.Now().UTC())); !errors.Is(err, backlog.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed from StoreJob, got %v", err)
	}
	if _, err := conn.FetchNextJob(ctx); !errors.Is(err, backlog.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed from FetchNextJob, got %v", err)
	}
}
