// Package livelist keeps a local, ordered copy of a filtered remote collection.
//
// A List is loaded with a full read, subscribed to change notifications scoped to the same
// filter, and reloaded in full on every notification. Writes go straight to the remote store
// and never touch the local copy: the notification that follows (or an explicit Load) is the
// only way a write becomes visible locally.
package livelist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bookshelf/internal/remote"

	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a List after Close
var ErrClosed = errors.New("list is closed")

// Source describes the remote collection a List mirrors
type Source[T any] struct {
	// Query is issued by every Load.
	Query remote.Query
	// Subscriptions defaults to every event type on Query's collection and filter.
	Subscriptions []remote.Subscription
	// Decode converts a row into a list item.
	Decode func(remote.Row) (T, error)
}

// MutationOp is the kind of remote write issued by Mutate
type MutationOp int

const (
	Insert MutationOp = iota
	Update
)

func (op MutationOp) String() string {
	if op == Update {
		return "update"
	}
	return "insert"
}

// Mutation is a single remote write.
// Collection defaults to the collection of the list's query. An update with a Cond
// only applies while the stored row matches it.
type Mutation struct {
	Op         MutationOp
	Collection string
	ID         string
	Cond       remote.Filter
	Row        remote.Row
}

// List is a local projection of a remote collection. It is safe for concurrent use;
// notifications are delivered on the feed's goroutines.
type List[T any] struct {
	logger  *zap.SugaredLogger
	store   remote.Store
	feed    remote.Feed
	src     Source[T]
	timeout time.Duration

	mu       sync.RWMutex
	items    []T
	loaded   bool
	issued   uint64
	applied  uint64
	closed   bool
	watchers []func([]T)

	// notifyMu orders watcher calls by load sequence
	notifyMu sync.Mutex
	notified uint64

	// reloadMu guards the notification reload loop; events that arrive while a reload
	// runs mark the list dirty and are folded into a single follow-up reload
	reloadMu  sync.Mutex
	dirty     bool
	reloading bool

	chMu     sync.Mutex
	channels []remote.Channel
	cancel   context.CancelFunc
}

// Option alters the default configuration of a List
type Option interface {
	apply(*config)
}

type config struct {
	timeout time.Duration
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// LoadTimeout bounds reloads triggered by change notifications
func LoadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.timeout = d
	})
}

// New returns an empty, unsubscribed List
func New[T any](logger *zap.SugaredLogger, store remote.Store, feed remote.Feed, src Source[T], opts ...Option) *List[T] {
	cfg := config{timeout: 10 * time.Second}
	for _, o := range opts {
		o.apply(&cfg)
	}

	if len(src.Subscriptions) == 0 {
		src.Subscriptions = []remote.Subscription{src.Query.Subscription(remote.AllEvents)}
	}

	return &List[T]{
		logger:  logger,
		store:   store,
		feed:    feed,
		src:     src,
		timeout: cfg.timeout,
	}
}

// Items returns a copy of the current local sequence
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Loaded reports whether at least one Load has succeeded
func (l *List[T]) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Watch registers fn to be called with the new sequence after every applied Load.
// Calls are serialized and follow the order in which loads were applied; a load whose
// watchers would run after a newer load's is not reported. fn runs on the goroutine that
// performed the Load and must not call back into Load.
func (l *List[T]) Watch(fn func([]T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
}

// Load reads the remote collection and replaces the local sequence.
// On failure the local sequence is left untouched and the error is logged and returned
// wrapped in remote.ErrReadFailed. Results of a Load overtaken by a later one, or arriving
// after Close, are discarded.
func (l *List[T]) Load(ctx context.Context) error {
	collection := l.src.Query.Collection

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.issued++
	seq := l.issued
	l.mu.Unlock()

	l.logger.Debugf("Loading %s (%s)", collection, l.src.Query.Filter)

	rows, err := l.store.Select(ctx, l.src.Query)
	if err != nil {
		LoadsTotal.WithLabelValues(collection, "error").Inc()
		l.logger.Errorf("Loading %s (%s): %v", collection, l.src.Query.Filter, err)
		return fmt.Errorf("%w: %w", remote.ErrReadFailed, err)
	}

	items := make([]T, 0, len(rows))
	for _, r := range rows {
		item, err := l.src.Decode(r)
		if err != nil {
			LoadsTotal.WithLabelValues(collection, "error").Inc()
			l.logger.Errorf("Decoding %s row %s: %v", collection, r.ID(), err)
			return fmt.Errorf("%w: %w", remote.ErrReadFailed, err)
		}
		items = append(items, item)
	}

	l.mu.Lock()
	if l.closed || seq < l.applied {
		l.mu.Unlock()
		LoadsTotal.WithLabelValues(collection, "stale").Inc()
		l.logger.Debugf("Discarded stale load of %s", collection)
		return nil
	}
	l.applied = seq
	l.items = items
	l.loaded = true
	l.mu.Unlock()

	LoadsTotal.WithLabelValues(collection, "ok").Inc()
	l.logger.Debugf("Loaded %d %s rows", len(items), collection)

	l.notify(seq, items)

	return nil
}

func (l *List[T]) notify(seq uint64, items []T) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.RLock()
	if l.closed || seq < l.notified || seq < l.applied {
		l.mu.RUnlock()
		return
	}
	watchers := make([]func([]T), len(l.watchers))
	copy(watchers, l.watchers)
	l.mu.RUnlock()

	l.notified = seq
	for _, w := range watchers {
		snapshot := make([]T, len(items))
		copy(snapshot, items)
		w(snapshot)
	}
}

// Subscribe opens one channel per subscription of the source. Every accepted event
// triggers a full Load. Calling Subscribe on an already subscribed List is a no-op.
func (l *List[T]) Subscribe(ctx context.Context) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	l.chMu.Lock()
	defer l.chMu.Unlock()

	if l.channels != nil {
		return nil
	}

	bg, cancel := context.WithCancel(context.Background())

	channels := make([]remote.Channel, 0, len(l.src.Subscriptions))
	for _, sub := range l.src.Subscriptions {
		ch, err := l.feed.Subscribe(ctx, sub, func(e remote.Event) { l.onEvent(bg, e) })
		if err != nil {
			cancel()
			for _, opened := range channels {
				opened.Close()
			}
			l.logger.Errorf("Subscribing to %s (%s): %v", sub.Collection, sub.Filter, err)
			return fmt.Errorf("subscribe to %s: %w", sub.Collection, err)
		}
		OpenChannels.WithLabelValues(sub.Collection).Inc()
		channels = append(channels, ch)
	}

	l.logger.Debugf("Subscribed to %d channels for %s", len(channels), l.src.Query.Collection)

	l.channels = channels
	l.cancel = cancel

	return nil
}

func (l *List[T]) onEvent(bg context.Context, e remote.Event) {
	NotificationsTotal.WithLabelValues(e.Collection, string(e.Type)).Inc()
	l.logger.Debugf("Received %s on %s (id: %s)", e.Type, e.Collection, e.Record.ID())

	l.reloadMu.Lock()
	l.dirty = true
	if l.reloading {
		l.reloadMu.Unlock()
		return
	}
	l.reloading = true
	for l.dirty {
		l.dirty = false
		l.reloadMu.Unlock()

		ctx, cancel := context.WithTimeout(bg, l.timeout)
		// failures are logged by Load, the list keeps its last good state
		_ = l.Load(ctx)
		cancel()

		l.reloadMu.Lock()
	}
	l.reloading = false
	l.reloadMu.Unlock()
}

// Unsubscribe releases every open channel. It is safe to call more than once
// and on a List that was never subscribed.
func (l *List[T]) Unsubscribe() {
	l.chMu.Lock()
	defer l.chMu.Unlock()

	if l.channels == nil {
		return
	}

	l.cancel()
	for i, ch := range l.channels {
		if err := ch.Close(); err != nil {
			l.logger.Errorf("Closing %s channel: %v", l.src.Subscriptions[i].Collection, err)
		}
		OpenChannels.WithLabelValues(l.src.Subscriptions[i].Collection).Dec()
	}
	l.channels = nil
	l.cancel = nil

	l.logger.Debugf("Unsubscribed from %s", l.src.Query.Collection)
}

// Subscribed reports whether the List holds open channels
func (l *List[T]) Subscribed() bool {
	l.chMu.Lock()
	defer l.chMu.Unlock()
	return l.channels != nil
}

// Close unsubscribes and detaches the List: in-flight and later Loads no longer
// change the local sequence
func (l *List[T]) Close() {
	l.Unsubscribe()

	l.mu.Lock()
	l.closed = true
	l.watchers = nil
	l.mu.Unlock()
}

// Mutate issues m against the remote store. The local sequence is not changed.
// Failures are logged and returned wrapped in remote.ErrWriteFailed.
func (l *List[T]) Mutate(ctx context.Context, m Mutation) (remote.Row, error) {
	collection := m.Collection
	if collection == "" {
		collection = l.src.Query.Collection
	}

	var (
		row remote.Row
		err error
	)
	switch m.Op {
	case Update:
		l.logger.Debugf("Updating %s (id: %s)", collection, m.ID)
		if m.Cond.Op == remote.OpAll {
			row, err = l.store.Update(ctx, collection, m.ID, m.Row)
		} else {
			row, err = l.store.UpdateWhere(ctx, collection, m.ID, m.Cond, m.Row)
		}
	default:
		l.logger.Debugf("Inserting into %s", collection)
		row, err = l.store.Insert(ctx, collection, m.Row)
	}

	if err != nil {
		WritesTotal.WithLabelValues(collection, m.Op.String(), "error").Inc()
		l.logger.Errorf("Writing %s (%s): %v", collection, m.Op, err)
		return nil, fmt.Errorf("%w: %w", remote.ErrWriteFailed, err)
	}

	WritesTotal.WithLabelValues(collection, m.Op.String(), "ok").Inc()

	return row, nil
}

// Insert is Mutate with an insert into collection
func (l *List[T]) Insert(ctx context.Context, collection string, row remote.Row) (remote.Row, error) {
	return l.Mutate(ctx, Mutation{Op: Insert, Collection: collection, Row: row})
}

// Update is Mutate with an update of the row identified by id
func (l *List[T]) Update(ctx context.Context, collection, id string, row remote.Row) (remote.Row, error) {
	return l.Mutate(ctx, Mutation{Op: Update, Collection: collection, ID: id, Row: row})
}

// UpdateWhere is Mutate with an update applied only while the row matches cond
func (l *List[T]) UpdateWhere(ctx context.Context, collection, id string, cond remote.Filter, row remote.Row) (remote.Row, error) {
	return l.Mutate(ctx, Mutation{Op: Update, Collection: collection, ID: id, Cond: cond, Row: row})
}

// Mount loads the list and subscribes to it, the usual sequence when a view opens.
// A failed Load does not prevent the subscription: the next notification retries it.
func (l *List[T]) Mount(ctx context.Context) error {
	loadErr := l.Load(ctx)
	if err := l.Subscribe(ctx); err != nil {
		return err
	}
	return loadErr
}
