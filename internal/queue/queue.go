// Package queue implements the Request Engine: one FIFO,
// single-consumer queue per owning TSID, executing closures inside a
// freshly allocated Request Context and committing the write-ahead
// dirty set atomically once the closure returns without error.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/shardrealm/internal/persistence"
	"github.com/udisondev/shardrealm/internal/reqctx"
	"github.com/udisondev/shardrealm/internal/shardrealmerr"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Evictor is the narrow slice of internal/cache's Cache the commit phase
// needs to drop unloaded entities from the process-wide map.
type Evictor interface {
	Evict(id tsid.TSID)
}

// Fn is a unit of work run with a bound Request Context in ctx.
type Fn func(ctx context.Context) (any, error)

// task is one queued unit of work.
type task struct {
	fn     Fn
	onDone func(result any, err error)
	close  bool
}

// Queue is a single owner's FIFO request queue: every mutation runs on
// its owning entity's single-consumer queue.
type Queue struct {
	owner tsid.TSID
	tag   string
	gw    persistence.Gateway
	evict Evictor
	// PostCommit, if set, runs after a successful commit with the
	// request's Request Context still in scope — cmd/gameshard installs
	// its outbound-diff flush here (through Manager.SetPostCommit)
	// without this package importing diff.
	PostCommit func(ctx context.Context, rc *reqctx.Context)

	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	tasks  chan task
	closed bool
	length atomic.Int64
	done   chan struct{}
	once   sync.Once
}

// New allocates a queue for owner. timeout bounds how long a single
// closure may run before the worker logs a slow-request warning and
// moves on — the queue never cancels or retries a stuck closure, it
// only reports it.
func New(owner tsid.TSID, tag string, gw persistence.Gateway, evict Evictor, timeout time.Duration, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{
		owner:   owner,
		tag:     tag,
		gw:      gw,
		evict:   evict,
		timeout: timeout,
		log:     log,
		tasks:   make(chan task, 64),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Push enqueues fn. onDone, if non-nil, is invoked with fn's result once
// the request (including its commit phase) has finished. opts.close, if
// true, drains and shuts the queue down after this task — used when an
// owner (typically a Location) is being unloaded.
func (q *Queue) Push(fn Fn, onDone func(result any, err error), closeAfter bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return &shardrealmerr.QueueClosed{Owner: string(q.owner)}
	}
	q.length.Add(1)
	q.tasks <- task{fn: fn, onDone: onDone, close: closeAfter}
	if closeAfter {
		q.closed = true
		close(q.tasks)
	}
	return nil
}

// Length reports the number of tasks currently queued or executing.
func (q *Queue) Length() int { return int(q.length.Load()) }

// Closed reports whether the queue has drained and shut down.
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *Queue) run() {
	defer q.once.Do(func() { close(q.done) })
	for t := range q.tasks {
		q.execute(t)
		q.length.Add(-1)
	}
}

// execute runs one request end to end: allocate and bind an RC,
// invoke the closure, commit the dirty set, evict the unload set on
// success, flush outbound diffs, then report onDone.
func (q *Queue) execute(t task) {
	rc := reqctx.New(q.owner, q.tag)
	ctx := reqctx.Bind(context.Background(), rc)

	result, fnErr := q.runWithDeadline(ctx, t.fn)

	var commitErr error
	if fnErr == nil {
		commitErr = q.commit(ctx, rc)
	}

	finalErr := fnErr
	if finalErr == nil {
		finalErr = commitErr
	}

	if finalErr == nil {
		for _, obj := range rc.Unload() {
			q.evict.Evict(obj.TSID())
		}
		if q.PostCommit != nil {
			q.PostCommit(ctx, rc)
		}
	}

	if t.onDone != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.log.Error("onDone callback panicked", "owner", q.owner, "tag", q.tag, "panic", r)
				}
			}()
			t.onDone(result, finalErr)
		}()
	}
}

// safeInvoke runs fn, converting a panic (e.g. an entity mutator hit
// without a bound Request Context) into an error so one bad closure
// never takes the worker down.
func safeInvoke(ctx context.Context, fn Fn) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: request panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (q *Queue) runWithDeadline(ctx context.Context, fn Fn) (any, error) {
	if q.timeout <= 0 {
		return safeInvoke(ctx, fn)
	}

	type out struct {
		result any
		err    error
	}
	ch := make(chan out, 1)
	go func() {
		result, err := safeInvoke(ctx, fn)
		ch <- out{result, err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-time.After(q.timeout):
		q.log.Warn("request exceeded queue timeout, continuing to wait",
			"owner", q.owner, "tag", q.tag, "timeout", q.timeout)
		o := <-ch // never cancel, just report and wait it out
		return o.result, o.err
	}
}

func (q *Queue) commit(ctx context.Context, rc *reqctx.Context) error {
	dirty := rc.Dirty()
	if len(dirty) == 0 {
		return nil
	}
	entities := make([]persistence.Entity, 0, len(dirty))
	for _, obj := range dirty {
		e, ok := obj.(persistence.Entity)
		if !ok {
			return fmt.Errorf("queue: dirty object %s does not implement persistence.Entity", obj.TSID())
		}
		entities = append(entities, e)
	}
	return persistence.Commit(ctx, q.gw, entities)
}
