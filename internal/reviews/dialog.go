package reviews

import (
	"context"
	"errors"
	"strings"
	"sync"

	"bookshelf/internal/identity"
	"bookshelf/internal/livelist"
	"bookshelf/internal/remote"
	"bookshelf/internal/validation"

	"go.uber.org/zap"
)

// Draft is the content of the rating form. A zero Rating means unset and blocks submission.
type Draft struct {
	Rating int    `validate:"required,min=1,max=5"`
	Body   string `validate:"max=4000"`
}

// Dialog is the review view model of one book
type Dialog struct {
	logger  *zap.SugaredLogger
	session identity.Session
	bookID  string
	list    *livelist.List[Review]

	submitMu sync.Mutex

	mu    sync.RWMutex
	own   *Review
	stats Stats
}

// NewDialog returns an unmounted Dialog for bookID
func NewDialog(logger *zap.SugaredLogger, store remote.Store, feed remote.Feed, session identity.Session, bookID string) *Dialog {
	d := &Dialog{
		logger:  logger,
		session: session,
		bookID:  bookID,
	}

	d.list = livelist.New(logger, store, feed, livelist.Source[Review]{
		Query:  Query(bookID),
		Decode: FromRow,
	})
	d.list.Watch(d.refresh)

	return d
}

func (d *Dialog) refresh(items []Review) {
	stats := Aggregate(items)

	var own *Review
	if u, ok := d.session.CurrentUser(); ok {
		if r, found := Resolve(items, u.ID); found {
			own = &r
		}
	}

	d.mu.Lock()
	d.stats = stats
	d.own = own
	d.mu.Unlock()
}

// Open loads the reviews and subscribes to changes of them
func (d *Dialog) Open(ctx context.Context) error {
	return d.list.Mount(ctx)
}

// Close releases the subscription
func (d *Dialog) Close() {
	d.list.Close()
}

// Reviews returns the current reviews, newest first
func (d *Dialog) Reviews() []Review {
	return d.list.Items()
}

// Stats returns the aggregate of the current reviews
func (d *Dialog) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// Own returns the acting user's review, if any
func (d *Dialog) Own() (Review, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.own == nil {
		return Review{}, false
	}
	return *d.own, true
}

// Draft returns the form prefilled from the acting user's review
func (d *Dialog) Draft() Draft {
	if r, ok := d.Own(); ok {
		return Draft{Rating: r.Rating, Body: r.Body}
	}
	return Draft{}
}

// Watch registers fn to be called after every reload
func (d *Dialog) Watch(fn func([]Review, Stats)) {
	d.list.Watch(func(items []Review) {
		fn(items, Aggregate(items))
	})
}

// Submit stores the acting user's rating: an update of their existing review, or an
// insert when they have none. Invalid drafts and anonymous sessions are rejected without
// a remote call. The review list is reloaded after a successful write.
func (d *Dialog) Submit(ctx context.Context, draft Draft) error {
	u, ok := d.session.CurrentUser()
	if !ok {
		return validation.Reject("no authenticated user")
	}

	draft.Body = strings.TrimSpace(draft.Body)
	if err := validation.Struct(draft); err != nil {
		return err
	}

	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	row := remote.Row{
		"book_id":     d.bookID,
		"user_id":     u.ID,
		"username":    u.Profile.Username,
		"rating":      draft.Rating,
		"review_text": draft.Body,
	}

	if err := d.upsert(ctx, row); err != nil {
		return err
	}

	// failures are logged by the list, the write already succeeded
	_ = d.list.Load(ctx)

	return nil
}

func (d *Dialog) upsert(ctx context.Context, row remote.Row) error {
	if own, ok := d.Own(); ok {
		d.logger.Debugf("Updating review %s of book %s", own.ID, d.bookID)
		_, err := d.list.Update(ctx, "", own.ID, row)
		return err
	}

	d.logger.Debugf("Creating review of book %s", d.bookID)
	_, err := d.list.Insert(ctx, "", row)
	if !errors.Is(err, remote.ErrConflict) {
		return err
	}

	// written from another session since our last load
	if err := d.list.Load(ctx); err != nil {
		return err
	}
	own, ok := d.Own()
	if !ok {
		return err
	}
	d.logger.Debugf("Review of book %s already exists, updating %s", d.bookID, own.ID)
	_, err = d.list.Update(ctx, "", own.ID, row)
	return err
}
