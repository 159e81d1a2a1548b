// Package remote describes the hosted data store the view models talk to: filtered reads,
// inserts and updates against named collections, and change-notification channels scoped
// to the same filters.
package remote

import "context"

// Collections used by the view models.
const (
	Books            = "books"
	BookReviews      = "book_reviews"
	Messages         = "messages"
	Communities      = "communities"
	CommunityMembers = "community_members"
	Loans            = "loans"
	Wishlist         = "wishlist"
)

// EventType is the kind of row change carried by an Event
type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// EventMask selects which event types a Subscription receives
type EventMask uint8

const (
	OnInsert EventMask = 1 << iota
	OnUpdate
	OnDelete

	AllEvents = OnInsert | OnUpdate | OnDelete
)

// Has reports whether t is selected by the mask
func (m EventMask) Has(t EventType) bool {
	switch t {
	case Insert:
		return m&OnInsert != 0
	case Update:
		return m&OnUpdate != 0
	case Delete:
		return m&OnDelete != 0
	}
	return false
}

// Event is a change notification for a single row.
// Record holds the new row for inserts and updates and the old row for deletes.
type Event struct {
	Collection string
	Type       EventType
	Record     Row
}

// Subscription scopes a channel to one collection, a set of event types and a filter
type Subscription struct {
	Collection string
	Events     EventMask
	Filter     Filter
}

// Accepts reports whether e should be delivered to the subscription
func (s Subscription) Accepts(e Event) bool {
	if s.Collection != e.Collection {
		return false
	}
	if !s.Events.Has(e.Type) {
		return false
	}
	return s.Filter.Match(e.Record)
}

// Store is the read/write half of the remote collaborator.
type Store interface {
	// Select returns the rows of q.Collection matching q.Filter in q.Order.
	Select(ctx context.Context, q Query) ([]Row, error)
	// Insert stores row and returns it as stored. Missing "id" and "created_at" are assigned.
	Insert(ctx context.Context, collection string, row Row) (Row, error)
	// Update overwrites the given columns of the row identified by id and returns the stored row.
	Update(ctx context.Context, collection, id string, row Row) (Row, error)
	// UpdateWhere is Update applied only while the stored row matches cond, as one atomic
	// step. It returns ErrConflict when the row exists but does not match.
	UpdateWhere(ctx context.Context, collection, id string, cond Filter, row Row) (Row, error)
}

// Feed opens change-notification channels.
type Feed interface {
	// Subscribe delivers every event accepted by sub to fn until the returned Channel is closed.
	// fn may be called from a goroutine owned by the Feed.
	Subscribe(ctx context.Context, sub Subscription, fn func(Event)) (Channel, error)
}

// Channel is a live subscription handle. Close is safe to call more than once.
type Channel interface {
	Close() error
}

// Backend bundles both halves of the remote collaborator
type Backend interface {
	Store
	Feed
}
