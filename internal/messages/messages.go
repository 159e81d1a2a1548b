// Package messages implements direct conversations between two members.
package messages

import (
	"context"
	"errors"
	"strings"
	"time"

	"bookshelf/internal/identity"
	"bookshelf/internal/livelist"
	"bookshelf/internal/remote"
	"bookshelf/internal/validation"

	"go.uber.org/zap"
)

// Message is a single direct message
type Message struct {
	ID         string
	Body       string
	SenderID   string
	ReceiverID string
	CreatedAt  time.Time
}

var errMissingID = errors.New("message row without id")

// FromRow decodes a messages row
func FromRow(r remote.Row) (Message, error) {
	if r.ID() == "" {
		return Message{}, errMissingID
	}
	return Message{
		ID:         r.ID(),
		Body:       r.String("content"),
		SenderID:   r.String("sender_id"),
		ReceiverID: r.String("receiver_id"),
		CreatedAt:  r.Time("created_at"),
	}, nil
}

// Between matches the messages of the unordered pair {a, b}, in either direction
func Between(a, b string) remote.Filter {
	return remote.Or(
		remote.And(remote.Eq("sender_id", a), remote.Eq("receiver_id", b)),
		remote.And(remote.Eq("sender_id", b), remote.Eq("receiver_id", a)),
	)
}

// Query selects a conversation, oldest first
func Query(a, b string) remote.Query {
	return remote.Query{
		Collection: remote.Messages,
		Filter:     Between(a, b),
		Order:      []remote.Order{remote.Asc("created_at"), remote.Asc("id")},
	}
}

// Conversation is the message view model between the acting user and a peer
type Conversation struct {
	logger  *zap.SugaredLogger
	session identity.Session
	peerID  string
	list    *livelist.List[Message]
}

// NewConversation returns an unmounted Conversation with peerID. Anonymous sessions get
// an empty conversation that can never be loaded with anything.
func NewConversation(logger *zap.SugaredLogger, store remote.Store, feed remote.Feed, session identity.Session, peerID string) *Conversation {
	u, _ := session.CurrentUser()

	// load and live updates share one symmetric filter
	q := Query(u.ID, peerID)

	return &Conversation{
		logger:  logger,
		session: session,
		peerID:  peerID,
		list: livelist.New(logger, store, feed, livelist.Source[Message]{
			Query:         q,
			Subscriptions: []remote.Subscription{q.Subscription(remote.OnInsert | remote.OnUpdate)},
			Decode:        FromRow,
		}),
	}
}

// Open loads the conversation and subscribes to new messages in it.
// Without an acting user or peer there is nothing to open.
func (c *Conversation) Open(ctx context.Context) error {
	if _, ok := c.session.CurrentUser(); !ok || c.peerID == "" {
		return nil
	}
	return c.list.Mount(ctx)
}

// Close releases the subscription
func (c *Conversation) Close() {
	c.list.Close()
}

// Messages returns the conversation in send order
func (c *Conversation) Messages() []Message {
	return c.list.Items()
}

// Watch registers fn to be called after every reload
func (c *Conversation) Watch(fn func([]Message)) {
	c.list.Watch(fn)
}

// Send posts body to the peer. Blank bodies, a missing peer and anonymous sessions are
// rejected without a remote call. The message shows up through the live channel.
func (c *Conversation) Send(ctx context.Context, body string) (Message, error) {
	u, ok := c.session.CurrentUser()
	if !ok {
		return Message{}, validation.Reject("no authenticated user")
	}
	if c.peerID == "" {
		return Message{}, validation.Reject("no receiver selected")
	}
	if strings.TrimSpace(body) == "" {
		return Message{}, validation.Reject("empty message")
	}

	c.logger.Debugf("Sending message from %s to %s", u.ID, c.peerID)

	row, err := c.list.Insert(ctx, "", remote.Row{
		"content":     body,
		"sender_id":   u.ID,
		"receiver_id": c.peerID,
	})
	if err != nil {
		return Message{}, err
	}

	return FromRow(row)
}
