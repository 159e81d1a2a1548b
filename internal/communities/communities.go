// Package communities implements the topical community board: every community with its
// member count, creation of new ones and joining.
package communities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookshelf/internal/identity"
	"bookshelf/internal/livelist"
	"bookshelf/internal/remote"
	"bookshelf/internal/validation"

	"go.uber.org/zap"
)

// Category of a community
type Category string

const (
	Genre  Category = "genre"
	Author Category = "author"
)

// Community is a topical group of members
type Community struct {
	ID          string
	Name        string
	Description string
	Category    Category
	CreatedBy   string
	MemberCount int
	CreatedAt   time.Time
}

// Draft is the content of the create form
type Draft struct {
	Name        string   `validate:"required,max=120"`
	Description string   `validate:"max=2000"`
	Category    Category `validate:"required,oneof=genre author"`
}

var errMissingID = errors.New("community row without id")

// FromRow decodes a communities row selected with the member count sub-selection
func FromRow(r remote.Row) (Community, error) {
	if r.ID() == "" {
		return Community{}, errMissingID
	}
	return Community{
		ID:          r.ID(),
		Name:        r.String("name"),
		Description: r.String("description"),
		Category:    Category(r.String("type")),
		CreatedBy:   r.String("created_by"),
		MemberCount: r.Int("member_count"),
		CreatedAt:   r.Time("created_at"),
	}, nil
}

// Query selects every community with its member count
func Query() remote.Query {
	return remote.Query{
		Collection: remote.Communities,
		Order:      []remote.Order{remote.Asc("created_at"), remote.Asc("id")},
		Counts: []remote.Count{{
			Alias:      "member_count",
			Collection: remote.CommunityMembers,
			ForeignKey: "community_id",
		}},
	}
}

// Board is the community list view model
type Board struct {
	logger  *zap.SugaredLogger
	store   remote.Store
	session identity.Session
	list    *livelist.List[Community]
}

// NewBoard returns an unmounted Board
func NewBoard(logger *zap.SugaredLogger, store remote.Store, feed remote.Feed, session identity.Session) *Board {
	return &Board{
		logger:  logger,
		store:   store,
		session: session,
		list: livelist.New(logger, store, feed, livelist.Source[Community]{
			Query: Query(),
			// memberships change the counts, so they reload the board too
			Subscriptions: []remote.Subscription{
				{Collection: remote.Communities, Events: remote.AllEvents},
				{Collection: remote.CommunityMembers, Events: remote.AllEvents},
			},
			Decode: FromRow,
		}),
	}
}

// Open loads the board and subscribes to community and membership changes
func (b *Board) Open(ctx context.Context) error {
	return b.list.Mount(ctx)
}

// Close releases the subscriptions
func (b *Board) Close() {
	b.list.Close()
}

// Communities returns the current list
func (b *Board) Communities() []Community {
	return b.list.Items()
}

// Watch registers fn to be called after every reload
func (b *Board) Watch(fn func([]Community)) {
	b.list.Watch(fn)
}

// Create adds a community founded by the acting user
func (b *Board) Create(ctx context.Context, draft Draft) (Community, error) {
	u, ok := b.session.CurrentUser()
	if !ok {
		return Community{}, validation.Reject("no authenticated user")
	}

	draft.Name = strings.TrimSpace(draft.Name)
	draft.Description = strings.TrimSpace(draft.Description)
	if draft.Category == "" {
		draft.Category = Genre
	}
	if err := validation.Struct(draft); err != nil {
		return Community{}, err
	}

	b.logger.Debugf("Creating community (%s)", draft.Name)

	row, err := b.list.Insert(ctx, remote.Communities, remote.Row{
		"name":        draft.Name,
		"description": draft.Description,
		"type":        string(draft.Category),
		"created_by":  u.ID,
	})
	if err != nil {
		return Community{}, err
	}

	return FromRow(row)
}

// Join makes the acting user a member of communityID. Joining twice is a no-op.
func (b *Board) Join(ctx context.Context, communityID string) error {
	u, ok := b.session.CurrentUser()
	if !ok {
		return validation.Reject("no authenticated user")
	}
	if communityID == "" {
		return validation.Reject("no community selected")
	}

	member, err := b.IsMember(ctx, communityID)
	if err != nil {
		return err
	}
	if member {
		b.logger.Debugf("User %s already joined community %s", u.ID, communityID)
		return nil
	}

	b.logger.Debugf("User %s joining community %s", u.ID, communityID)

	_, err = b.list.Insert(ctx, remote.CommunityMembers, remote.Row{
		"community_id": communityID,
		"member_id":    u.ID,
	})
	if errors.Is(err, remote.ErrConflict) {
		// joined concurrently from another session
		return nil
	}
	return err
}

// IsMember reports whether the acting user belongs to communityID
func (b *Board) IsMember(ctx context.Context, communityID string) (bool, error) {
	u, ok := b.session.CurrentUser()
	if !ok {
		return false, nil
	}

	rows, err := b.store.Select(ctx, remote.Query{
		Collection: remote.CommunityMembers,
		Filter:     remote.And(remote.Eq("community_id", communityID), remote.Eq("member_id", u.ID)),
	})
	if err != nil {
		b.logger.Errorf("Checking membership of %s in %s: %v", u.ID, communityID, err)
		return false, fmt.Errorf("%w: %w", remote.ErrReadFailed, err)
	}

	return len(rows) > 0, nil
}
