// Package reviews implements the star rating and review dialog of a book: the review list
// kept in sync with the remote store, the rating aggregate derived from it and the
// one-review-per-user upsert rule.
package reviews

import (
	"errors"
	"math"
	"time"

	"bookshelf/internal/remote"
)

// Review is a member's rating of a book. At most one exists per (book, user).
type Review struct {
	ID        string
	BookID    string
	UserID    string
	Username  string
	Rating    int
	Body      string
	CreatedAt time.Time
}

// Stats is derived from the full review set of a book and never stored
type Stats struct {
	Average float64
	Total   int
}

var errMissingID = errors.New("review row without id")

// FromRow decodes a book_reviews row
func FromRow(r remote.Row) (Review, error) {
	if r.ID() == "" {
		return Review{}, errMissingID
	}
	return Review{
		ID:        r.ID(),
		BookID:    r.String("book_id"),
		UserID:    r.String("user_id"),
		Username:  r.String("username"),
		Rating:    r.Int("rating"),
		Body:      r.String("review_text"),
		CreatedAt: r.Time("created_at"),
	}, nil
}

// Aggregate computes the mean rating rounded half away from zero to one decimal place,
// and the review count. No reviews yield a zero average.
func Aggregate(reviews []Review) Stats {
	if len(reviews) == 0 {
		return Stats{}
	}

	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}

	// scale before dividing so that exact halves stay exact
	avg := math.Round(float64(sum)*10/float64(len(reviews))) / 10

	return Stats{Average: avg, Total: len(reviews)}
}

// Resolve finds the review authored by userID
func Resolve(reviews []Review, userID string) (Review, bool) {
	if userID == "" {
		return Review{}, false
	}
	for _, r := range reviews {
		if r.UserID == userID {
			return r, true
		}
	}
	return Review{}, false
}

// Query selects the reviews of a book, newest first
func Query(bookID string) remote.Query {
	return remote.Query{
		Collection: remote.BookReviews,
		Filter:     remote.Eq("book_id", bookID),
		Order:      []remote.Order{remote.Desc("created_at")},
	}
}
