package storage

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"bookshelf/internal/remote"
	mytesting "bookshelf/internal/testing"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// bootstrap connects to TEST_DATABASE_DSN and migrates it. Tests are skipped without it.
func bootstrap(t *testing.T) *Store {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN is not set")
	}

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	pool, err := pgxpool.Connect(context.Background(), dsn)
	require.NoError(t, err)

	s := &Store{logger: logger.Sugar(), db: pool}
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func insertBook(t *testing.T, s *Store) remote.Row {
	row, err := s.Insert(context.Background(), remote.Books, remote.Row{
		"title":  mytesting.RandString(),
		"author": mytesting.RandString(),
		"genre":  "sci-fi",
	})
	require.NoError(t, err)
	return row
}

func TestMigrateTwice(t *testing.T) {
	s := bootstrap(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestInsertAssignsDefaults(t *testing.T) {
	s := bootstrap(t)

	row := insertBook(t, s)
	require.NotEmpty(t, row.ID())
	require.False(t, row.Bool("checked_out"))
	require.False(t, row.Time("created_at").IsZero())
}

func TestReviewUniqueness(t *testing.T) {
	s := bootstrap(t)
	book := insertBook(t, s)
	user := mytesting.RandString()

	review := remote.Row{"book_id": book.ID(), "user_id": user, "rating": 4}
	_, err := s.Insert(context.Background(), remote.BookReviews, review)
	require.NoError(t, err)

	_, err = s.Insert(context.Background(), remote.BookReviews, review)
	require.ErrorIs(t, err, remote.ErrConflict)
}

func TestBadReference(t *testing.T) {
	s := bootstrap(t)

	_, err := s.Insert(context.Background(), remote.CommunityMembers, remote.Row{
		"community_id": mytesting.RandString(),
		"member_id":    "u1",
	})
	require.ErrorIs(t, err, remote.ErrBadReference)
}

func TestUpdate(t *testing.T) {
	s := bootstrap(t)
	book := insertBook(t, s)

	row, err := s.Update(context.Background(), remote.Books, book.ID(), remote.Row{"checked_out": true})
	require.NoError(t, err)
	require.True(t, row.Bool("checked_out"))
	require.Equal(t, book.String("title"), row.String("title"))

	_, err = s.Update(context.Background(), remote.Books, mytesting.RandString(), remote.Row{"checked_out": true})
	require.ErrorIs(t, err, remote.ErrNotFound)
}

func TestSelectWithCounts(t *testing.T) {
	s := bootstrap(t)

	community, err := s.Insert(context.Background(), remote.Communities, remote.Row{
		"name":       "Sci-Fi Readers",
		"type":       "genre",
		"created_by": "u1",
	})
	require.NoError(t, err)

	for _, member := range []string{mytesting.RandString(), mytesting.RandString()} {
		_, err := s.Insert(context.Background(), remote.CommunityMembers, remote.Row{
			"community_id": community.ID(),
			"member_id":    member,
		})
		require.NoError(t, err)
	}

	rows, err := s.Select(context.Background(), remote.Query{
		Collection: remote.Communities,
		Filter:     remote.Eq("id", community.ID()),
		Counts:     []remote.Count{{Alias: "member_count", Collection: remote.CommunityMembers, ForeignKey: "community_id"}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].Int("member_count"))
}

func TestSymmetricConversation(t *testing.T) {
	s := bootstrap(t)
	a, b := mytesting.RandString(), mytesting.RandString()

	for _, pair := range mytesting.Pairs([]string{a, b}) {
		for _, p := range [][2]string{pair, mytesting.Swap(pair)} {
			_, err := s.Insert(context.Background(), remote.Messages, remote.Row{
				"content":     "hi",
				"sender_id":   p[0],
				"receiver_id": p[1],
			})
			require.NoError(t, err)
		}
	}

	rows, err := s.Select(context.Background(), remote.Query{
		Collection: remote.Messages,
		Filter: remote.Or(
			remote.And(remote.Eq("sender_id", a), remote.Eq("receiver_id", b)),
			remote.And(remote.Eq("sender_id", b), remote.Eq("receiver_id", a)),
		),
		Order: []remote.Order{remote.Asc("created_at")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestImportBooks(t *testing.T) {
	s := bootstrap(t)

	records := []BookRecord{
		{ID: mytesting.RandString(), Title: "Dune", Author: "Frank Herbert", Genre: "sci-fi"},
		{ID: mytesting.RandString(), Title: "Emma", Author: "Jane Austen", Genre: "classic"},
	}
	n, err := s.ImportBooks(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, err = s.ImportBooks(context.Background(), []BookRecord{{ID: "x"}})
	require.Error(t, err)
}

func TestListener(t *testing.T) {
	s := bootstrap(t)
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	l := NewListener(logger.Sugar())
	require.NoError(t, l.Start(context.Background(), s))
	t.Cleanup(l.Close)

	book := insertBook(t, s)

	var (
		mu     sync.Mutex
		events []remote.Event
	)
	ch, err := l.Subscribe(context.Background(), remote.Subscription{
		Collection: remote.Books,
		Events:     remote.OnUpdate,
		Filter:     remote.Eq("id", book.ID()),
	}, func(e remote.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer ch.Close()

	_, err = s.Update(context.Background(), remote.Books, book.ID(), remote.Row{"checked_out": true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, remote.Update, events[0].Type)
	require.Equal(t, true, events[0].Record["checked_out"])
}

func TestLargeRowsAreNotified(t *testing.T) {
	s := bootstrap(t)
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	l := NewListener(logger.Sugar())
	require.NoError(t, l.Start(context.Background(), s))
	t.Cleanup(l.Close)

	sender, receiver := mytesting.RandString(), mytesting.RandString()

	var (
		mu     sync.Mutex
		events []remote.Event
	)
	ch, err := l.Subscribe(context.Background(), remote.Subscription{
		Collection: remote.Messages,
		Events:     remote.OnInsert,
		Filter:     remote.Eq("sender_id", sender),
	}, func(e remote.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer ch.Close()

	content := strings.Repeat("ü", 5000)
	row, err := s.Insert(context.Background(), remote.Messages, remote.Row{
		"content":     content,
		"sender_id":   sender,
		"receiver_id": receiver,
	})
	require.NoError(t, err)
	require.Equal(t, content, row.String("content"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, row.ID(), events[0].Record.ID())
	require.Equal(t, receiver, events[0].Record.String("receiver_id"))
	require.NotContains(t, events[0].Record, "content")
}

func TestConditionalUpdate(t *testing.T) {
	s := bootstrap(t)
	book := insertBook(t, s)

	row, err := s.UpdateWhere(context.Background(), remote.Books, book.ID(), remote.Eq("checked_out", false), remote.Row{"checked_out": true})
	require.NoError(t, err)
	require.True(t, row.Bool("checked_out"))

	_, err = s.UpdateWhere(context.Background(), remote.Books, book.ID(), remote.Eq("checked_out", false), remote.Row{"checked_out": true})
	require.ErrorIs(t, err, remote.ErrConflict)

	_, err = s.UpdateWhere(context.Background(), remote.Books, mytesting.RandString(), remote.Eq("checked_out", false), remote.Row{"checked_out": true})
	require.ErrorIs(t, err, remote.ErrNotFound)
}
