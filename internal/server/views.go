package server

import (
	"context"
	"errors"
	"time"

	"bookshelf/internal/catalog"
	"bookshelf/internal/communities"
	"bookshelf/internal/identity"
	"bookshelf/internal/messages"
	"bookshelf/internal/remote"
	"bookshelf/internal/reviews"

	"go.uber.org/zap"
)

var errUnknownView = errors.New("unknown view")

type reviewJSON struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Rating    int       `json:"rating"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type statsJSON struct {
	Average float64 `json:"average"`
	Total   int     `json:"total"`
}

// stats are left out for books without reviews
type reviewsJSON struct {
	Reviews []reviewJSON `json:"reviews"`
	Stats   *statsJSON   `json:"stats,omitempty"`
	Own     string       `json:"own,omitempty"`
}

type messageJSON struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	CreatedAt time.Time `json:"created_at"`
}

type messagesJSON struct {
	Messages []messageJSON `json:"messages"`
}

type communityJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	CreatedBy   string `json:"created_by"`
	MemberCount int    `json:"member_count"`
}

type communitiesJSON struct {
	Communities []communityJSON `json:"communities"`
}

type bookJSON struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	Genre      string `json:"genre"`
	CoverURL   string `json:"cover_url,omitempty"`
	Available  bool   `json:"available"`
	Wishlisted bool   `json:"wishlisted"`
}

type booksJSON struct {
	Books []bookJSON `json:"books"`
}

type loanJSON struct {
	ID      string    `json:"id"`
	BookID  string    `json:"book_id"`
	DueAt   time.Time `json:"due_at"`
	Overdue bool      `json:"overdue"`
}

type loansJSON struct {
	Loans []loanJSON `json:"loans"`
}

func newReviewsJSON(rs []reviews.Review, stats reviews.Stats, own string) reviewsJSON {
	out := reviewsJSON{Reviews: make([]reviewJSON, 0, len(rs)), Own: own}
	for _, r := range rs {
		out.Reviews = append(out.Reviews, reviewJSON{
			ID:        r.ID,
			BookID:    r.BookID,
			UserID:    r.UserID,
			Username:  r.Username,
			Rating:    r.Rating,
			Text:      r.Body,
			CreatedAt: r.CreatedAt,
		})
	}
	if stats.Total > 0 {
		out.Stats = &statsJSON{Average: stats.Average, Total: stats.Total}
	}
	return out
}

func newMessageJSON(m messages.Message) messageJSON {
	return messageJSON{ID: m.ID, Text: m.Body, Sender: m.SenderID, Receiver: m.ReceiverID, CreatedAt: m.CreatedAt}
}

func newCommunityJSON(c communities.Community) communityJSON {
	return communityJSON{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Category:    string(c.Category),
		CreatedBy:   c.CreatedBy,
		MemberCount: c.MemberCount,
	}
}

func newLoanJSON(l catalog.Loan, now time.Time) loanJSON {
	return loanJSON{ID: l.ID, BookID: l.BookID, DueAt: l.DueAt, Overdue: l.Overdue(now)}
}

// view is a mounted view model as seen by the transport: opened once, snapshotted on
// every reload, closed when the client goes away
type view struct {
	// needsUser views show nothing to anonymous sessions
	needsUser bool
	open      func(ctx context.Context) error
	close     func()
	snapshot  func() interface{}
	watch     func(fn func())
}

// newView builds the view model named kind. params carries its arguments:
// "book" for reviews, "peer" for messages, "search", "genre" and "available" for books.
func newView(logger *zap.SugaredLogger, backend remote.Backend, session identity.Session, kind string, params map[string]string) (*view, error) {
	switch kind {
	case "reviews":
		d := reviews.NewDialog(logger, backend, backend, session, params["book"])
		snapshot := func() interface{} {
			own, _ := d.Own()
			return newReviewsJSON(d.Reviews(), d.Stats(), own.ID)
		}
		return &view{
			open:     d.Open,
			close:    d.Close,
			snapshot: snapshot,
			watch:    func(fn func()) { d.Watch(func([]reviews.Review, reviews.Stats) { fn() }) },
		}, nil

	case "messages":
		c := messages.NewConversation(logger, backend, backend, session, params["peer"])
		snapshot := func() interface{} {
			ms := c.Messages()
			out := messagesJSON{Messages: make([]messageJSON, 0, len(ms))}
			for _, m := range ms {
				out.Messages = append(out.Messages, newMessageJSON(m))
			}
			return out
		}
		return &view{
			needsUser: true,
			open:      c.Open,
			close:     c.Close,
			snapshot:  snapshot,
			watch:     func(fn func()) { c.Watch(func([]messages.Message) { fn() }) },
		}, nil

	case "communities":
		b := communities.NewBoard(logger, backend, backend, session)
		snapshot := func() interface{} {
			cs := b.Communities()
			out := communitiesJSON{Communities: make([]communityJSON, 0, len(cs))}
			for _, c := range cs {
				out.Communities = append(out.Communities, newCommunityJSON(c))
			}
			return out
		}
		return &view{
			open:     b.Open,
			close:    b.Close,
			snapshot: snapshot,
			watch:    func(fn func()) { b.Watch(func([]communities.Community) { fn() }) },
		}, nil

	case "books":
		s := catalog.NewShelf(logger, backend, backend, session, catalog.Criteria{
			Search:        params["search"],
			Genre:         params["genre"],
			AvailableOnly: params["available"] == "true",
		})
		snapshot := func() interface{} {
			bs := s.Books()
			out := booksJSON{Books: make([]bookJSON, 0, len(bs))}
			for _, b := range bs {
				out.Books = append(out.Books, bookJSON{
					ID:         b.ID,
					Title:      b.Title,
					Author:     b.Author,
					Genre:      b.Genre,
					CoverURL:   b.CoverURL,
					Available:  b.Available(),
					Wishlisted: s.Wishlisted(b.ID),
				})
			}
			return out
		}
		return &view{
			open:     s.Open,
			close:    s.Close,
			snapshot: snapshot,
			watch:    func(fn func()) { s.Watch(func([]catalog.Book) { fn() }) },
		}, nil

	case "loans":
		l := catalog.NewLoans(logger, backend, backend, session)
		snapshot := func() interface{} {
			now := time.Now()
			ls := l.Loans()
			out := loansJSON{Loans: make([]loanJSON, 0, len(ls))}
			for _, loan := range ls {
				out.Loans = append(out.Loans, newLoanJSON(loan, now))
			}
			return out
		}
		return &view{
			needsUser: true,
			open:      l.Open,
			close:     l.Close,
			snapshot:  snapshot,
			watch:     func(fn func()) { l.Watch(func([]catalog.Loan) { fn() }) },
		}, nil
	}

	return nil, errUnknownView
}
