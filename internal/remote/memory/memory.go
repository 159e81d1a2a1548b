// Package memory is an in-process remote backend. It keeps rows in maps, enforces the same
// uniqueness rules as the Postgres schema (and its foreign keys, with WithReferences) and delivers change events synchronously to
// subscribers after every successful write. It also records calls and can inject failures,
// which is what the view-model tests rely on.
package memory

import (
	"context"
	"sync"
	"time"

	"bookshelf/internal/remote"

	"github.com/google/uuid"
)

// Op names a Store operation in the call log and for failure injection
type Op string

const (
	OpSelect    Op = "select"
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpSubscribe Op = "subscribe"
)

// Call is one recorded Store operation
type Call struct {
	Op         Op
	Collection string
	ID         string
	Row        remote.Row
}

// DefaultUnique mirrors the unique constraints of the Postgres schema
var DefaultUnique = map[string][][]string{
	remote.BookReviews:      {{"book_id", "user_id"}},
	remote.CommunityMembers: {{"community_id", "member_id"}},
	remote.Wishlist:         {{"book_id", "user_id"}},
}

// Reference is a foreign key: Column must hold the id of a row in Collection
type Reference struct {
	Column     string
	Collection string
}

// DefaultReferences mirrors the foreign keys of the Postgres schema
var DefaultReferences = map[string][]Reference{
	remote.BookReviews:      {{Column: "book_id", Collection: remote.Books}},
	remote.CommunityMembers: {{Column: "community_id", Collection: remote.Communities}},
	remote.Loans:            {{Column: "book_id", Collection: remote.Books}},
	remote.Wishlist:         {{Column: "book_id", Collection: remote.Books}},
}

// Store implements remote.Backend in memory
type Store struct {
	mu       sync.Mutex
	rows     map[string][]remote.Row
	unique   map[string][][]string
	refs     map[string][]Reference
	channels map[*channel]struct{}
	calls    []Call
	failures map[Op][]error
	now      func() time.Time
	last     time.Time
}

// Option alters the default configuration of a Store
type Option interface {
	apply(*Store)
}

type optionFunc func(s *Store)

func (f optionFunc) apply(s *Store) { f(s) }

// WithClock sets the clock used for created_at
func WithClock(now func() time.Time) Option {
	return optionFunc(func(s *Store) {
		s.now = now
	})
}

// WithReferences makes writes fail with remote.ErrBadReference when a row points at a
// missing parent
func WithReferences() Option {
	return optionFunc(func(s *Store) {
		s.refs = DefaultReferences
	})
}

// WithoutConstraints drops the unique constraints
func WithoutConstraints() Option {
	return optionFunc(func(s *Store) {
		s.unique = map[string][][]string{}
	})
}

// New returns an empty Store
func New(opts ...Option) *Store {
	s := &Store{
		rows:     make(map[string][]remote.Row),
		unique:   DefaultUnique,
		channels: make(map[*channel]struct{}),
		failures: make(map[Op][]error),
		now:      time.Now,
	}
	for _, o := range opts {
		o.apply(s)
	}
	return s
}

// Seed stores rows without recording calls or emitting events
func (s *Store) Seed(collection string, rows ...remote.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		r = r.Clone()
		s.fillDefaults(r)
		s.rows[collection] = append(s.rows[collection], r)
	}
}

// Rows returns a copy of every stored row of the collection in insertion order
func (s *Store) Rows(collection string) []remote.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]remote.Row, 0, len(s.rows[collection]))
	for _, r := range s.rows[collection] {
		out = append(out, r.Clone())
	}
	return out
}

// FailNext makes the next call of op return err
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// Calls returns the recorded calls of op, or every call when op is empty
func (s *Store) Calls(op Op) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Call
	for _, c := range s.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Channels returns the number of open channels
func (s *Store) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Disconnect silently drops every open channel, as a transport failure would
func (s *Store) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.channels {
		c.markClosed()
	}
	s.channels = make(map[*channel]struct{})
}

// Emit delivers an event written by another party directly to subscribers
func (s *Store) Emit(e remote.Event) {
	s.dispatch(e)
}

// Select implements remote.Store
func (s *Store) Select(ctx context.Context, q remote.Query) ([]remote.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: OpSelect, Collection: q.Collection})
	if err := s.failure(OpSelect); err != nil {
		return nil, err
	}

	var out []remote.Row
	for _, r := range s.rows[q.Collection] {
		if !q.Filter.Match(r) {
			continue
		}
		c := r.Clone()
		for _, cnt := range q.Counts {
			c[cnt.Alias] = s.count(cnt, r.ID())
		}
		out = append(out, c)
	}
	q.Sort(out)

	return out, nil
}

// Insert implements remote.Store
func (s *Store) Insert(ctx context.Context, collection string, row remote.Row) (remote.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: OpInsert, Collection: collection, Row: row.Clone()})
	if err := s.failure(OpInsert); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	r := row.Clone()
	s.fillDefaults(r)
	if s.dangling(collection, r) {
		s.mu.Unlock()
		return nil, remote.ErrBadReference
	}
	if s.violates(collection, r, -1) {
		s.mu.Unlock()
		return nil, remote.ErrConflict
	}
	s.rows[collection] = append(s.rows[collection], r)
	s.mu.Unlock()

	s.dispatch(remote.Event{Collection: collection, Type: remote.Insert, Record: r.Clone()})

	return r.Clone(), nil
}

// Update implements remote.Store
func (s *Store) Update(ctx context.Context, collection, id string, row remote.Row) (remote.Row, error) {
	return s.UpdateWhere(ctx, collection, id, remote.All(), row)
}

// UpdateWhere implements remote.Store
func (s *Store) UpdateWhere(ctx context.Context, collection, id string, cond remote.Filter, row remote.Row) (remote.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: OpUpdate, Collection: collection, ID: id, Row: row.Clone()})
	if err := s.failure(OpUpdate); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	idx := -1
	for i, r := range s.rows[collection] {
		if r.ID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil, remote.ErrNotFound
	}
	if !cond.Match(s.rows[collection][idx]) {
		s.mu.Unlock()
		return nil, remote.ErrConflict
	}

	updated := s.rows[collection][idx].Clone()
	for k, v := range row {
		if k == "id" {
			continue
		}
		updated[k] = v
	}
	if s.dangling(collection, updated) {
		s.mu.Unlock()
		return nil, remote.ErrBadReference
	}
	if s.violates(collection, updated, idx) {
		s.mu.Unlock()
		return nil, remote.ErrConflict
	}
	s.rows[collection][idx] = updated
	s.mu.Unlock()

	s.dispatch(remote.Event{Collection: collection, Type: remote.Update, Record: updated.Clone()})

	return updated.Clone(), nil
}

// Subscribe implements remote.Feed
func (s *Store) Subscribe(ctx context.Context, sub remote.Subscription, fn func(remote.Event)) (remote.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: OpSubscribe, Collection: sub.Collection})
	if err := s.failure(OpSubscribe); err != nil {
		return nil, err
	}

	c := &channel{store: s, sub: sub, fn: fn}
	s.channels[c] = struct{}{}
	return c, nil
}

func (s *Store) dispatch(e remote.Event) {
	s.mu.Lock()
	var targets []*channel
	for c := range s.channels {
		if c.sub.Accepts(e) {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.deliver(e)
	}
}

func (s *Store) failure(op Op) error {
	errs := s.failures[op]
	if len(errs) == 0 {
		return nil
	}
	s.failures[op] = errs[1:]
	return errs[0]
}

func (s *Store) fillDefaults(r remote.Row) {
	if r.ID() == "" {
		r["id"] = uuid.NewString()
	}
	if _, ok := r["created_at"]; !ok {
		t := s.now()
		if !t.After(s.last) {
			t = s.last.Add(time.Microsecond)
		}
		s.last = t
		r["created_at"] = t
	}
}

// dangling reports whether r points at a parent row that does not exist
func (s *Store) dangling(collection string, r remote.Row) bool {
	for _, ref := range s.refs[collection] {
		id := r.String(ref.Column)
		found := false
		for _, parent := range s.rows[ref.Collection] {
			if parent.ID() == id {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

// violates reports whether r breaks a unique constraint against rows other than skip
func (s *Store) violates(collection string, r remote.Row, skip int) bool {
	for _, cols := range s.unique[collection] {
		for i, other := range s.rows[collection] {
			if i == skip {
				continue
			}
			same := true
			for _, col := range cols {
				if !remote.Eq(col, r[col]).Match(other) {
					same = false
					break
				}
			}
			if same {
				return true
			}
		}
	}
	return false
}

func (s *Store) count(c remote.Count, id string) int64 {
	var n int64
	for _, r := range s.rows[c.Collection] {
		if r.String(c.ForeignKey) == id {
			n++
		}
	}
	return n
}

type channel struct {
	store *Store
	sub   remote.Subscription
	fn    func(remote.Event)

	mu     sync.Mutex
	closed bool
}

func (c *channel) deliver(e remote.Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		c.fn(e)
	}
}

func (c *channel) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Close implements remote.Channel
func (c *channel) Close() error {
	c.markClosed()

	c.store.mu.Lock()
	delete(c.store.channels, c)
	c.store.mu.Unlock()

	return nil
}
