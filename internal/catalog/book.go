// Package catalog holds the book catalog view models: the shelf with check-out, check-in
// and wishlist actions, and the loans dashboard of the acting member.
package catalog

import (
	"errors"
	"strings"
	"time"

	"bookshelf/internal/remote"
)

// LoanPeriod is the time a checked out book may be kept
const LoanPeriod = 14 * 24 * time.Hour

// Book is a catalog entry
type Book struct {
	ID         string
	Title      string
	Author     string
	Genre      string
	CoverURL   string
	CheckedOut bool
	CreatedAt  time.Time
}

// Available reports whether the book can be checked out
func (b Book) Available() bool {
	return !b.CheckedOut
}

var errMissingID = errors.New("row without id")

// FromRow decodes a books row
func FromRow(r remote.Row) (Book, error) {
	if r.ID() == "" {
		return Book{}, errMissingID
	}
	return Book{
		ID:         r.ID(),
		Title:      r.String("title"),
		Author:     r.String("author"),
		Genre:      r.String("genre"),
		CoverURL:   r.String("cover_url"),
		CheckedOut: r.Bool("checked_out"),
		CreatedAt:  r.Time("created_at"),
	}, nil
}

// Criteria narrows the shelf. Genre and AvailableOnly are evaluated remotely, Search locally.
type Criteria struct {
	Search        string
	Genre         string
	AvailableOnly bool
}

// Filter returns the remote part of c
func (c Criteria) Filter() remote.Filter {
	var terms []remote.Filter
	if c.Genre != "" {
		terms = append(terms, remote.Eq("genre", c.Genre))
	}
	if c.AvailableOnly {
		terms = append(terms, remote.Eq("checked_out", false))
	}

	switch len(terms) {
	case 0:
		return remote.All()
	case 1:
		return terms[0]
	default:
		return remote.And(terms...)
	}
}

// Matches reports whether b contains the search term in its title or author, ignoring case
func (c Criteria) Matches(b Book) bool {
	term := strings.ToLower(strings.TrimSpace(c.Search))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(b.Title), term) ||
		strings.Contains(strings.ToLower(b.Author), term)
}

// Query selects the books of c ordered by title
func Query(c Criteria) remote.Query {
	return remote.Query{
		Collection: remote.Books,
		Filter:     c.Filter(),
		Order:      []remote.Order{remote.Asc("title"), remote.Asc("id")},
	}
}

// Loan is one check-out of a book
type Loan struct {
	ID         string
	BookID     string
	UserID     string
	DueAt      time.Time
	ReturnedAt time.Time
	CreatedAt  time.Time
}

// Returned reports whether the book was checked in
func (l Loan) Returned() bool {
	return !l.ReturnedAt.IsZero()
}

// Overdue reports whether the loan is open past its due date at now
func (l Loan) Overdue(now time.Time) bool {
	return !l.Returned() && now.After(l.DueAt)
}

// LoanFromRow decodes a loans row
func LoanFromRow(r remote.Row) (Loan, error) {
	if r.ID() == "" {
		return Loan{}, errMissingID
	}
	return Loan{
		ID:         r.ID(),
		BookID:     r.String("book_id"),
		UserID:     r.String("user_id"),
		DueAt:      r.Time("due_at"),
		ReturnedAt: r.Time("returned_at"),
		CreatedAt:  r.Time("created_at"),
	}, nil
}
