package catalog

import (
	"context"
	"time"

	"bookshelf/internal/identity"
	"bookshelf/internal/livelist"
	"bookshelf/internal/remote"

	"go.uber.org/zap"
)

// Loans is the dashboard of the acting member's open loans, soonest due first
type Loans struct {
	session identity.Session
	config  config
	list    *livelist.List[Loan]
}

// NewLoans returns an unmounted dashboard
func NewLoans(logger *zap.SugaredLogger, store remote.Store, feed remote.Feed, session identity.Session, opts ...Option) *Loans {
	userID := ""
	if u, ok := session.CurrentUser(); ok {
		userID = u.ID
	}

	return &Loans{
		session: session,
		config:  newConfig(opts),
		list: livelist.New(logger, store, feed, livelist.Source[Loan]{
			Query: remote.Query{
				Collection: remote.Loans,
				Filter:     remote.And(remote.Eq("user_id", userID), remote.IsNull("returned_at")),
				Order:      []remote.Order{remote.Asc("due_at"), remote.Asc("id")},
			},
			// check-ins set returned_at, which the load filter excludes
			Subscriptions: []remote.Subscription{{
				Collection: remote.Loans,
				Events:     remote.AllEvents,
				Filter:     remote.Eq("user_id", userID),
			}},
			Decode: LoanFromRow,
		}),
	}
}

// Open loads the dashboard. Without an acting user nothing is loaded.
func (l *Loans) Open(ctx context.Context) error {
	if _, ok := l.session.CurrentUser(); !ok {
		return nil
	}
	return l.list.Mount(ctx)
}

// Close releases the subscription
func (l *Loans) Close() {
	l.list.Close()
}

// Watch registers fn to be called after every reload
func (l *Loans) Watch(fn func([]Loan)) {
	l.list.Watch(fn)
}

// Loans returns the open loans
func (l *Loans) Loans() []Loan {
	return l.list.Items()
}

// Overdue returns the open loans past their due date
func (l *Loans) Overdue() []Loan {
	now := l.config.now()

	var out []Loan
	for _, loan := range l.list.Items() {
		if loan.Overdue(now) {
			out = append(out, loan)
		}
	}
	return out
}

// DueWithin returns the open loans due in less than d that are not overdue yet
func (l *Loans) DueWithin(d time.Duration) []Loan {
	now := l.config.now()

	var out []Loan
	for _, loan := range l.list.Items() {
		if !loan.Overdue(now) && loan.DueAt.Sub(now) < d {
			out = append(out, loan)
		}
	}
	return out
}
