package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bookshelf/internal/identity"
	"bookshelf/internal/livelist"
	"bookshelf/internal/remote"
	"bookshelf/internal/validation"

	"go.uber.org/zap"
)

// Option alters the default configuration of the catalog view models
type Option interface {
	apply(*config)
}

type config struct {
	now func() time.Time
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// Clock sets the time source used for due dates and overdue checks
func Clock(now func() time.Time) Option {
	return optionFunc(func(c *config) {
		c.now = now
	})
}

func newConfig(opts []Option) config {
	c := config{now: time.Now}
	for _, o := range opts {
		o.apply(&c)
	}
	return c
}

// Wish is a wishlist row of the acting user
type Wish struct {
	ID     string
	BookID string
	Active bool
}

func wishFromRow(r remote.Row) (Wish, error) {
	if r.ID() == "" {
		return Wish{}, errMissingID
	}
	return Wish{ID: r.ID(), BookID: r.String("book_id"), Active: r.Bool("active")}, nil
}

// Shelf is the catalog view model
type Shelf struct {
	logger   *zap.SugaredLogger
	store    remote.Store
	session  identity.Session
	criteria Criteria
	config   config

	books  *livelist.List[Book]
	wishes *livelist.List[Wish]

	actionMu sync.Mutex
}

// NewShelf returns an unmounted Shelf showing the books of c
func NewShelf(logger *zap.SugaredLogger, store remote.Store, feed remote.Feed, session identity.Session, c Criteria, opts ...Option) *Shelf {
	s := &Shelf{
		logger:   logger,
		store:    store,
		session:  session,
		criteria: c,
		config:   newConfig(opts),
	}

	s.books = livelist.New(logger, store, feed, livelist.Source[Book]{
		Query: Query(c),
		// a check-out moves a book out of an availability filter, so the event must not be filtered
		Subscriptions: []remote.Subscription{{Collection: remote.Books, Events: remote.AllEvents}},
		Decode:        FromRow,
	})

	userID := ""
	if u, ok := session.CurrentUser(); ok {
		userID = u.ID
	}
	s.wishes = livelist.New(logger, store, feed, livelist.Source[Wish]{
		Query: remote.Query{
			Collection: remote.Wishlist,
			Filter:     remote.Eq("user_id", userID),
		},
		Decode: wishFromRow,
	})

	return s
}

// Open loads the shelf and the wishlist of the acting user and subscribes to both
func (s *Shelf) Open(ctx context.Context) error {
	if err := s.books.Mount(ctx); err != nil {
		return err
	}
	if _, ok := s.session.CurrentUser(); !ok {
		return nil
	}
	return s.wishes.Mount(ctx)
}

// Close releases the subscriptions
func (s *Shelf) Close() {
	s.books.Close()
	s.wishes.Close()
}

// Watch registers fn to be called with the searched books after every reload of the shelf
func (s *Shelf) Watch(fn func([]Book)) {
	s.books.Watch(func(items []Book) {
		fn(s.search(items))
	})
}

// Books returns the current books matching the search term
func (s *Shelf) Books() []Book {
	return s.search(s.books.Items())
}

func (s *Shelf) search(items []Book) []Book {
	out := make([]Book, 0, len(items))
	for _, b := range items {
		if s.criteria.Matches(b) {
			out = append(out, b)
		}
	}
	return out
}

// Wishlisted reports whether bookID is on the acting user's active wishlist
func (s *Shelf) Wishlisted(bookID string) bool {
	for _, w := range s.wishes.Items() {
		if w.BookID == bookID {
			return w.Active
		}
	}
	return false
}

func (s *Shelf) actor() (identity.User, error) {
	u, ok := s.session.CurrentUser()
	if !ok {
		return identity.User{}, validation.Reject("no authenticated user")
	}
	return u, nil
}

func (s *Shelf) selectOne(ctx context.Context, q remote.Query) (remote.Row, error) {
	rows, err := s.store.Select(ctx, q)
	if err != nil {
		s.logger.Errorf("Selecting %s (%s): %v", q.Collection, q.Filter, err)
		return nil, fmt.Errorf("%w: %w", remote.ErrReadFailed, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Shelf) book(ctx context.Context, bookID string) (Book, error) {
	row, err := s.selectOne(ctx, remote.Query{Collection: remote.Books, Filter: remote.Eq("id", bookID)})
	if err != nil {
		return Book{}, err
	}
	if row == nil {
		return Book{}, validation.Reject("unknown book")
	}
	return FromRow(row)
}

// CheckOut lends bookID to the acting user and opens a loan due after LoanPeriod.
// The book is claimed with a conditional write, so of two members racing for it only
// one gets the loan. A failed loan insert releases the claim.
func (s *Shelf) CheckOut(ctx context.Context, bookID string) (Loan, error) {
	u, err := s.actor()
	if err != nil {
		return Loan{}, err
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	b, err := s.book(ctx, bookID)
	if err != nil {
		return Loan{}, err
	}
	if b.CheckedOut {
		return Loan{}, validation.Reject("book is already checked out")
	}

	s.logger.Debugf("Checking out book %s for %s", bookID, u.ID)

	_, err = s.books.UpdateWhere(ctx, remote.Books, bookID, remote.Eq("checked_out", false), remote.Row{"checked_out": true})
	if errors.Is(err, remote.ErrConflict) {
		return Loan{}, validation.Reject("book is already checked out")
	}
	if err != nil {
		return Loan{}, err
	}

	now := s.config.now()
	row, err := s.books.Insert(ctx, remote.Loans, remote.Row{
		"book_id":     bookID,
		"user_id":     u.ID,
		"due_at":      now.Add(LoanPeriod),
		"returned_at": nil,
	})
	if err != nil {
		if _, rerr := s.books.Update(ctx, remote.Books, bookID, remote.Row{"checked_out": false}); rerr != nil {
			s.logger.Errorf("Releasing book %s after failed loan: %v", bookID, rerr)
		}
		return Loan{}, err
	}

	return LoanFromRow(row)
}

// CheckIn returns bookID and closes the acting user's open loan of it. Only the
// borrower can check a book in. A failed book update reopens the loan.
func (s *Shelf) CheckIn(ctx context.Context, bookID string) error {
	u, err := s.actor()
	if err != nil {
		return err
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	b, err := s.book(ctx, bookID)
	if err != nil {
		return err
	}
	if !b.CheckedOut {
		return validation.Reject("book is not checked out")
	}

	open := remote.And(remote.Eq("book_id", bookID), remote.Eq("user_id", u.ID), remote.IsNull("returned_at"))
	loan, err := s.selectOne(ctx, remote.Query{Collection: remote.Loans, Filter: open})
	if err != nil {
		return err
	}
	if loan == nil {
		return validation.Reject("book is not on loan to you")
	}

	s.logger.Debugf("Checking in book %s by %s (loan: %s)", bookID, u.ID, loan.ID())

	_, err = s.books.UpdateWhere(ctx, remote.Loans, loan.ID(), remote.IsNull("returned_at"), remote.Row{"returned_at": s.config.now()})
	if errors.Is(err, remote.ErrConflict) {
		return validation.Reject("loan is already closed")
	}
	if err != nil {
		return err
	}

	if _, err := s.books.Update(ctx, remote.Books, bookID, remote.Row{"checked_out": false}); err != nil {
		if _, rerr := s.books.Update(ctx, remote.Loans, loan.ID(), remote.Row{"returned_at": nil}); rerr != nil {
			s.logger.Errorf("Reopening loan %s after failed check-in: %v", loan.ID(), rerr)
		}
		return err
	}

	return nil
}

// ToggleWishlist flips bookID on the acting user's wishlist and returns the new state
func (s *Shelf) ToggleWishlist(ctx context.Context, bookID string) (bool, error) {
	u, err := s.actor()
	if err != nil {
		return false, err
	}
	if bookID == "" {
		return false, validation.Reject("no book selected")
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	q := remote.Query{
		Collection: remote.Wishlist,
		Filter:     remote.And(remote.Eq("book_id", bookID), remote.Eq("user_id", u.ID)),
	}

	row, err := s.selectOne(ctx, q)
	if err != nil {
		return false, err
	}

	if row == nil {
		s.logger.Debugf("Adding book %s to wishlist of %s", bookID, u.ID)
		_, err = s.wishes.Insert(ctx, remote.Wishlist, remote.Row{"book_id": bookID, "user_id": u.ID, "active": true})
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, remote.ErrConflict) {
			return false, err
		}
		// created from another session in between
		if row, err = s.selectOne(ctx, q); err != nil {
			return false, err
		}
		if row == nil {
			return false, fmt.Errorf("%w: wishlist entry of book %s disappeared", remote.ErrWriteFailed, bookID)
		}
	}

	active := !row.Bool("active")
	s.logger.Debugf("Setting wishlist entry %s active=%t", row.ID(), active)
	if _, err := s.wishes.Update(ctx, remote.Wishlist, row.ID(), remote.Row{"active": active}); err != nil {
		return false, err
	}

	return active, nil
}
