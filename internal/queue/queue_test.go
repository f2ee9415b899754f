package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/udisondev/shardrealm/internal/entity"
	"github.com/udisondev/shardrealm/internal/persistence/memstore"
	"github.com/udisondev/shardrealm/internal/reqctx"
	"github.com/udisondev/shardrealm/internal/tsid"
)

type nopEvictor struct{ evicted []tsid.TSID }

func (e *nopEvictor) Evict(id tsid.TSID) { e.evicted = append(e.evicted, id) }

func TestPushCommitsDirtySetInOrder(t *testing.T) {
	store := memstore.New()
	ev := &nopEvictor{}
	owner := tsid.New(tsid.TagLocation)
	q := New(owner, "loc", store, ev, 0, nil)

	var order []int
	var mu sync.Mutex
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		err := q.Push(func(ctx context.Context) (any, error) {
			loc := entity.NewLocation(owner)
			reqctx.MustFromContext(ctx).SetDirty(loc)
			return nil, nil
		}, func(result any, err error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 4 {
				close(done)
			}
		}, false)
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all tasks to complete")
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO completion order, got %v", order)
		}
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 persisted body, got %d", store.Len())
	}
}

func TestPushAfterCloseReturnsQueueClosed(t *testing.T) {
	store := memstore.New()
	ev := &nopEvictor{}
	owner := tsid.New(tsid.TagItem)
	q := New(owner, "item", store, ev, 0, nil)

	done := make(chan struct{})
	if err := q.Push(func(ctx context.Context) (any, error) { return nil, nil }, func(any, error) { close(done) }, true); err != nil {
		t.Fatalf("push with close: %v", err)
	}
	<-done

	if err := q.Push(func(ctx context.Context) (any, error) { return nil, nil }, nil, false); err == nil {
		t.Fatal("expected QueueClosed after a closing push")
	}
}

func TestErrorSkipsCommitAndEviction(t *testing.T) {
	store := memstore.New()
	ev := &nopEvictor{}
	owner := tsid.New(tsid.TagPlayer)
	q := New(owner, "player", store, ev, 0, nil)

	done := make(chan error, 1)
	err := q.Push(func(ctx context.Context) (any, error) {
		loc := entity.NewPlayer(owner)
		rc := reqctx.MustFromContext(ctx)
		rc.SetDirty(loc)
		rc.SetUnload(loc)
		return nil, context.Canceled
	}, func(result any, err error) { done <- err }, false)
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case gotErr := <-done:
		if gotErr == nil {
			t.Fatal("expected the closure's error to propagate to onDone")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	if store.Len() != 0 {
		t.Fatal("expected no commit on closure error")
	}
	if len(ev.evicted) != 0 {
		t.Fatal("expected no eviction on closure error")
	}
}

func TestManagerReusesQueuePerOwner(t *testing.T) {
	store := memstore.New()
	ev := &nopEvictor{}
	m := NewManager(store, ev, 0, nil)

	owner := tsid.New(tsid.TagLocation)
	q1 := m.For(owner)
	q2 := m.For(owner)
	if q1 != q2 {
		t.Fatal("expected the same queue instance for the same owner")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 registered queue, got %d", m.Len())
	}
}

// failingWrites wraps a Gateway and fails every Write while fail is
// set, for exercising the commit-error path.
type failingWrites struct {
	*memstore.Store
	fail bool
	mu   sync.Mutex
}

func (f *failingWrites) Write(ctx context.Context, id tsid.TSID, body map[string]any) error {
	f.mu.Lock()
	failing := f.fail
	f.mu.Unlock()
	if failing {
		return context.DeadlineExceeded
	}
	return f.Store.Write(ctx, id, body)
}

func (f *failingWrites) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

// TestCommitFailureKeepsEntityResidentUntilNextSuccessfulCommit: a
// refused write surfaces through onDone, nothing is evicted, and the
// same entity persists cleanly once the backend recovers and a later
// request marks it dirty again.
func TestCommitFailureKeepsEntityResidentUntilNextSuccessfulCommit(t *testing.T) {
	store := &failingWrites{Store: memstore.New()}
	store.setFail(true)
	ev := &nopEvictor{}
	owner := tsid.New(tsid.TagItem)
	q := New(owner, "item", store, ev, 0, nil)

	item := entity.NewItem(owner)

	done := make(chan error, 1)
	err := q.Push(func(ctx context.Context) (any, error) {
		rc := reqctx.MustFromContext(ctx)
		rc.SetDirty(item)
		rc.SetUnload(item)
		return nil, nil
	}, func(result any, err error) { done <- err }, false)
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case gotErr := <-done:
		if gotErr == nil {
			t.Fatal("expected the write failure to propagate to onDone")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if store.Len() != 0 {
		t.Fatal("expected nothing persisted after a failed commit")
	}
	if len(ev.evicted) != 0 {
		t.Fatal("expected no eviction after a failed commit")
	}

	store.setFail(false)
	retry := make(chan error, 1)
	err = q.Push(func(ctx context.Context) (any, error) {
		reqctx.MustFromContext(ctx).SetDirty(item)
		return nil, nil
	}, func(result any, err error) { retry <- err }, false)
	if err != nil {
		t.Fatalf("retry push: %v", err)
	}

	select {
	case gotErr := <-retry:
		if gotErr != nil {
			t.Fatalf("expected retry commit to succeed, got: %v", gotErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 persisted body after retry, got %d", store.Len())
	}
}
