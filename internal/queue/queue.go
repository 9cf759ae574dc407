// Package queue serialises response cycles for one voice session.
//
// A [Queue] runs [Item]s strictly in the order they were enqueued, one at a
// time. Items may be enqueued while another is running; they wait their
// turn. A failing or panicking item is reported through [Config.OnError]
// and the queue moves on to the next one.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/voxbridge/internal/observe"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue: closed")

// ErrPanic wraps a value recovered from a panicking item.
var ErrPanic = errors.New("queue: item panicked")

// Item is one unit of work, typically an utterance-to-reply cycle.
type Item struct {
	// ID is assigned by Enqueue when empty.
	ID string

	// Label describes the item in logs ("voice", "text").
	Label string

	// Run does the work. ctx is cancelled when the queue closes.
	Run func(ctx context.Context) error
}

// Config configures a [Queue].
type Config struct {
	// Name identifies the queue in logs, usually the guild ID.
	Name string

	// Alive is checked before each item starts. When it reports false the
	// item and everything behind it are discarded. Nil means always alive.
	Alive func() bool

	// OnError receives the error of every failed item. May be nil.
	OnError func(item Item, err error)

	Metrics *observe.Metrics
}

// Queue is a FIFO with a single worker. All methods are safe for concurrent
// use.
type Queue struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	notify chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending []Item
	running bool
	closed  bool
}

// New creates a Queue and starts its worker.
func New(cfg Config) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.work()
	return q
}

// Enqueue appends item and returns its ID.
func (q *Queue) Enqueue(item Item) (string, error) {
	if item.Run == nil {
		return "", errors.New("queue: item has no Run func")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.pending = append(q.pending, item)
	q.mu.Unlock()

	q.depth(1)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return item.ID, nil
}

// Len returns the number of items waiting or running.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.running {
		n++
	}
	return n
}

// Busy reports whether an item is running.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Close discards pending items, cancels the running one and waits for the
// worker to exit. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	q.depth(-dropped)
	q.cancel()
	<-q.done
}

func (q *Queue) work() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.notify:
		}

		for {
			item, ok := q.next()
			if !ok {
				break
			}
			if q.cfg.Alive != nil && !q.cfg.Alive() {
				slog.Info("queue: session gone, discarding pending work", "queue", q.cfg.Name, "item_id", item.ID)
				q.finish()
				q.discard()
				continue
			}
			q.run(item)
			q.finish()
		}
	}
}

// next pops the head of the queue and marks it running.
func (q *Queue) next() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return Item{}, false
	}
	item := q.pending[0]
	q.pending[0] = Item{}
	q.pending = q.pending[1:]
	q.running = true
	return item, true
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
	q.depth(-1)
}

func (q *Queue) discard() {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	q.depth(-n)
}

func (q *Queue) run(item Item) {
	log := slog.With("queue", q.cfg.Name, "item_id", item.ID, "label", item.Label)
	log.Debug("queue: item started")

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		return item.Run(q.ctx)
	}()
	if err == nil {
		log.Debug("queue: item finished")
		return
	}

	log.Warn("queue: item failed", "err", err)
	if q.cfg.OnError != nil {
		q.report(item, err)
	}
}

// report calls OnError, which must not take the queue down either.
func (q *Queue) report(item Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("queue: error reporter panicked", "queue", q.cfg.Name, "item_id", item.ID, "panic", r)
		}
	}()
	q.cfg.OnError(item, err)
}

func (q *Queue) depth(n int) {
	if q.cfg.Metrics != nil && n != 0 {
		q.cfg.Metrics.QueueDepth.Add(context.Background(), int64(n))
	}
}
