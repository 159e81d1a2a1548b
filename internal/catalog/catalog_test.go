package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookshelf/internal/identity"
	"bookshelf/internal/remote"
	"bookshelf/internal/remote/memory"
	"bookshelf/internal/validation"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func seedBooks(store *memory.Store) {
	store.Seed(remote.Books,
		remote.Row{"id": "b1", "title": "Dune", "author": "Frank Herbert", "genre": "sci-fi", "checked_out": false},
		remote.Row{"id": "b2", "title": "The Hobbit", "author": "J.R.R. Tolkien", "genre": "fantasy", "checked_out": false},
		remote.Row{"id": "b3", "title": "Hyperion", "author": "Dan Simmons", "genre": "sci-fi", "checked_out": true},
	)
}

func bootstrapShelf(t *testing.T, store *memory.Store, session identity.Session, c Criteria) *Shelf {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s := NewShelf(logger.Sugar(), store, store, session, c, Clock(clock))
	t.Cleanup(s.Close)
	require.NoError(t, s.Open(context.Background()))
	return s
}

func titles(books []Book) []string {
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.Title
	}
	return out
}

func TestCriteria(t *testing.T) {
	store := memory.New()
	seedBooks(store)

	tests := []struct {
		name     string
		criteria Criteria
		want     []string
	}{
		{name: "all", want: []string{"Dune", "Hyperion", "The Hobbit"}},
		{name: "genre", criteria: Criteria{Genre: "sci-fi"}, want: []string{"Dune", "Hyperion"}},
		{name: "available", criteria: Criteria{AvailableOnly: true}, want: []string{"Dune", "The Hobbit"}},
		{name: "genre and available", criteria: Criteria{Genre: "sci-fi", AvailableOnly: true}, want: []string{"Dune"}},
		{name: "search title", criteria: Criteria{Search: "hob"}, want: []string{"The Hobbit"}},
		{name: "search author", criteria: Criteria{Search: " SIMMONS "}, want: []string{"Hyperion"}},
		{name: "no match", criteria: Criteria{Search: "tolstoy"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := bootstrapShelf(t, store, identity.Anonymous, tt.criteria)
			require.Equal(t, tt.want, titles(s.Books()))
		})
	}
}

func TestCheckOutAndIn(t *testing.T) {
	store := memory.New()
	seedBooks(store)

	available := bootstrapShelf(t, store, identity.Static{ID: "u1"}, Criteria{AvailableOnly: true})

	loan, err := available.CheckOut(context.Background(), "b1")
	require.NoError(t, err)
	require.Equal(t, "b1", loan.BookID)
	require.Equal(t, "u1", loan.UserID)
	require.Equal(t, now.Add(LoanPeriod), loan.DueAt)
	require.False(t, loan.Returned())

	// the update event reloads the filtered shelf even though the new row no longer matches
	require.Equal(t, []string{"The Hobbit"}, titles(available.Books()))

	_, err = available.CheckOut(context.Background(), "b1")
	require.ErrorIs(t, err, validation.ErrRejected)

	require.NoError(t, available.CheckIn(context.Background(), "b1"))
	require.Equal(t, []string{"Dune", "The Hobbit"}, titles(available.Books()))

	loans := store.Rows(remote.Loans)
	require.Len(t, loans, 1)
	require.Equal(t, now, loans[0].Time("returned_at"))

	require.ErrorIs(t, available.CheckIn(context.Background(), "b1"), validation.ErrRejected)
}

func TestCheckOutRejections(t *testing.T) {
	store := memory.New()
	seedBooks(store)

	anon := bootstrapShelf(t, store, identity.Anonymous, Criteria{})
	member := bootstrapShelf(t, store, identity.Static{ID: "u1"}, Criteria{})
	store.ResetCalls()

	_, err := anon.CheckOut(context.Background(), "b1")
	require.ErrorIs(t, err, validation.ErrRejected)
	require.Empty(t, store.Calls(""))

	_, err = member.CheckOut(context.Background(), "missing")
	require.ErrorIs(t, err, validation.ErrRejected)

	_, err = member.CheckOut(context.Background(), "b3")
	require.ErrorIs(t, err, validation.ErrRejected)

	require.Empty(t, store.Calls(memory.OpInsert))
	require.Empty(t, store.Calls(memory.OpUpdate))
}

func TestCheckOutWriteFailureLeavesShelf(t *testing.T) {
	store := memory.New()
	seedBooks(store)
	s := bootstrapShelf(t, store, identity.Static{ID: "u1"}, Criteria{})
	before := s.Books()

	store.FailNext(memory.OpUpdate, errors.New("connection reset"))
	_, err := s.CheckOut(context.Background(), "b1")
	require.ErrorIs(t, err, remote.ErrWriteFailed)
	require.Equal(t, before, s.Books())
	require.Empty(t, store.Rows(remote.Loans))
}

func bookRow(t *testing.T, store *memory.Store, id string) remote.Row {
	for _, r := range store.Rows(remote.Books) {
		if r.ID() == id {
			return r
		}
	}
	t.Fatalf("book %s not found", id)
	return nil
}

// barrierStore holds the first two single-book selects until both have read the book
type barrierStore struct {
	*memory.Store
	waiting atomic.Int32
	wg      sync.WaitGroup
}

func newBarrierStore(s *memory.Store) *barrierStore {
	b := &barrierStore{Store: s}
	b.wg.Add(2)
	return b
}

func (b *barrierStore) Select(ctx context.Context, q remote.Query) ([]remote.Row, error) {
	rows, err := b.Store.Select(ctx, q)
	if q.Collection == remote.Books && q.Filter.Op == remote.OpEq && q.Filter.Column == "id" {
		if b.waiting.Add(1) <= 2 {
			b.wg.Done()
			b.wg.Wait()
		}
	}
	return rows, err
}

func TestConcurrentCheckOutLendsOnce(t *testing.T) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	store := memory.New()
	seedBooks(store)
	barrier := newBarrierStore(store)

	var shelves []*Shelf
	for _, id := range []string{"u1", "u2"} {
		s := NewShelf(logger.Sugar(), barrier, store, identity.Static{ID: id}, Criteria{})
		t.Cleanup(s.Close)
		shelves = append(shelves, s)
	}

	errs := make([]error, len(shelves))
	var wg sync.WaitGroup
	for i, s := range shelves {
		wg.Add(1)
		go func(i int, s *Shelf) {
			defer wg.Done()
			_, errs[i] = s.CheckOut(context.Background(), "b1")
		}(i, s)
	}
	wg.Wait()

	var lent, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			lent++
		case errors.Is(err, validation.ErrRejected):
			rejected++
		}
	}
	require.Equal(t, 1, lent)
	require.Equal(t, 1, rejected)
	require.Len(t, store.Rows(remote.Loans), 1)
	require.True(t, bookRow(t, store, "b1").Bool("checked_out"))
}

func TestCheckOutLoanFailureReleasesBook(t *testing.T) {
	store := memory.New()
	seedBooks(store)
	s := bootstrapShelf(t, store, identity.Static{ID: "u1"}, Criteria{AvailableOnly: true})

	store.FailNext(memory.OpInsert, errors.New("connection reset"))
	_, err := s.CheckOut(context.Background(), "b1")
	require.ErrorIs(t, err, remote.ErrWriteFailed)

	require.False(t, bookRow(t, store, "b1").Bool("checked_out"))
	require.Empty(t, store.Rows(remote.Loans))
	require.Equal(t, []string{"Dune", "The Hobbit"}, titles(s.Books()))

	_, err = s.CheckOut(context.Background(), "b1")
	require.NoError(t, err)
}

func TestCheckInByAnotherMember(t *testing.T) {
	store := memory.New()
	seedBooks(store)
	borrower := bootstrapShelf(t, store, identity.Static{ID: "u1"}, Criteria{})
	stranger := bootstrapShelf(t, store, identity.Static{ID: "u2"}, Criteria{})

	_, err := borrower.CheckOut(context.Background(), "b1")
	require.NoError(t, err)

	require.ErrorIs(t, stranger.CheckIn(context.Background(), "b1"), validation.ErrRejected)
	require.True(t, bookRow(t, store, "b1").Bool("checked_out"))
	require.True(t, store.Rows(remote.Loans)[0].Time("returned_at").IsZero())

	// a checked out book without a loan cannot be checked in by anyone
	require.ErrorIs(t, borrower.CheckIn(context.Background(), "b3"), validation.ErrRejected)
}

// failingBooksStore fails every plain update of a book
type failingBooksStore struct {
	*memory.Store
}

func (f *failingBooksStore) Update(ctx context.Context, collection, id string, row remote.Row) (remote.Row, error) {
	if collection == remote.Books {
		return nil, errors.New("connection reset")
	}
	return f.Store.Update(ctx, collection, id, row)
}

func TestCheckInFailureReopensLoan(t *testing.T) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	store := memory.New()
	seedBooks(store)
	s := NewShelf(logger.Sugar(), &failingBooksStore{Store: store}, store, identity.Static{ID: "u1"}, Criteria{}, Clock(clock))
	t.Cleanup(s.Close)
	require.NoError(t, s.Open(context.Background()))

	_, err = s.CheckOut(context.Background(), "b1")
	require.NoError(t, err)

	require.ErrorIs(t, s.CheckIn(context.Background(), "b1"), remote.ErrWriteFailed)
	require.True(t, bookRow(t, store, "b1").Bool("checked_out"))
	require.True(t, store.Rows(remote.Loans)[0].Time("returned_at").IsZero())
}

func TestToggleWishlist(t *testing.T) {
	store := memory.New()
	seedBooks(store)
	s := bootstrapShelf(t, store, identity.Static{ID: "u1"}, Criteria{})

	on, err := s.ToggleWishlist(context.Background(), "b2")
	require.NoError(t, err)
	require.True(t, on)
	require.True(t, s.Wishlisted("b2"))

	off, err := s.ToggleWishlist(context.Background(), "b2")
	require.NoError(t, err)
	require.False(t, off)
	require.False(t, s.Wishlisted("b2"))

	on, err = s.ToggleWishlist(context.Background(), "b2")
	require.NoError(t, err)
	require.True(t, on)

	require.Len(t, store.Rows(remote.Wishlist), 1)
	require.False(t, s.Wishlisted("b1"))
}

// blindStore hides the wishlist from the next select, as if the row was written right after it
type blindStore struct {
	*memory.Store
	blind bool
}

func (b *blindStore) Select(ctx context.Context, q remote.Query) ([]remote.Row, error) {
	if b.blind && q.Collection == remote.Wishlist {
		b.blind = false
		return nil, nil
	}
	return b.Store.Select(ctx, q)
}

func TestToggleWishlistConflict(t *testing.T) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	store := &blindStore{Store: memory.New()}
	seedBooks(store.Store)

	s := NewShelf(logger.Sugar(), store, store, identity.Static{ID: "u1"}, Criteria{})
	t.Cleanup(s.Close)
	require.NoError(t, s.Open(context.Background()))

	store.Seed(remote.Wishlist, remote.Row{"id": "w1", "book_id": "b1", "user_id": "u1", "active": true})
	store.blind = true

	on, err := s.ToggleWishlist(context.Background(), "b1")
	require.NoError(t, err)
	require.False(t, on)
	require.Len(t, store.Calls(memory.OpInsert), 1)
	require.Len(t, store.Rows(remote.Wishlist), 1)
	require.False(t, store.Rows(remote.Wishlist)[0].Bool("active"))
}

func bootstrapLoans(t *testing.T, store *memory.Store, session identity.Session) *Loans {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	l := NewLoans(logger.Sugar(), store, store, session, Clock(clock))
	t.Cleanup(l.Close)
	require.NoError(t, l.Open(context.Background()))
	return l
}

func TestLoansDashboard(t *testing.T) {
	store := memory.New()
	store.Seed(remote.Loans,
		remote.Row{"id": "l1", "book_id": "b1", "user_id": "u1", "due_at": now.Add(-24 * time.Hour), "returned_at": nil},
		remote.Row{"id": "l2", "book_id": "b2", "user_id": "u1", "due_at": now.Add(48 * time.Hour), "returned_at": nil},
		remote.Row{"id": "l3", "book_id": "b3", "user_id": "u1", "due_at": now.Add(-72 * time.Hour), "returned_at": now.Add(-96 * time.Hour)},
		remote.Row{"id": "l4", "book_id": "b4", "user_id": "u2", "due_at": now, "returned_at": nil},
	)

	l := bootstrapLoans(t, store, identity.Static{ID: "u1"})

	ids := func(loans []Loan) []string {
		var out []string
		for _, loan := range loans {
			out = append(out, loan.ID)
		}
		return out
	}

	require.Equal(t, []string{"l1", "l2"}, ids(l.Loans()))
	require.Equal(t, []string{"l1"}, ids(l.Overdue()))
	require.Equal(t, []string{"l2"}, ids(l.DueWithin(72*time.Hour)))
	require.Empty(t, l.DueWithin(24*time.Hour))
}

func TestLoansFollowShelfActions(t *testing.T) {
	store := memory.New()
	seedBooks(store)

	shelf := bootstrapShelf(t, store, identity.Static{ID: "u1"}, Criteria{})
	loans := bootstrapLoans(t, store, identity.Static{ID: "u1"})
	other := bootstrapLoans(t, store, identity.Static{ID: "u2"})

	_, err := shelf.CheckOut(context.Background(), "b2")
	require.NoError(t, err)
	require.Len(t, loans.Loans(), 1)
	require.Empty(t, other.Loans())

	require.NoError(t, shelf.CheckIn(context.Background(), "b2"))
	require.Empty(t, loans.Loans())
}

func TestLoansAnonymous(t *testing.T) {
	store := memory.New()
	l := bootstrapLoans(t, store, identity.Anonymous)

	require.Empty(t, l.Loans())
	require.Empty(t, store.Calls(""))
}

func TestLoanOverdue(t *testing.T) {
	loan := Loan{DueAt: now}
	require.False(t, loan.Overdue(now))
	require.True(t, loan.Overdue(now.Add(time.Second)))

	loan.ReturnedAt = now.Add(time.Hour)
	require.False(t, loan.Overdue(now.Add(48*time.Hour)))
}
