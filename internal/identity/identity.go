// Package identity exposes the acting user to the view models. Authentication itself is
// done by the external identity provider; this package only carries its result around.
package identity

import "context"

// Profile is the public part of a user
type Profile struct {
	Username  string
	AvatarURL string
}

// User is an authenticated member
type User struct {
	ID      string
	Profile Profile
}

// Session answers who is acting. View models receive it in their constructors.
type Session interface {
	CurrentUser() (User, bool)
}

// Static is a Session for a fixed user. The zero value is anonymous.
type Static User

// CurrentUser implements Session
func (s Static) CurrentUser() (User, bool) {
	return User(s), s.ID != ""
}

// Anonymous has no current user
var Anonymous Session = Static{}

type key struct{}

// NewContext returns a copy of ctx carrying s
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, key{}, s)
}

// FromContext returns the Session stored in ctx, or Anonymous
func FromContext(ctx context.Context) Session {
	if s, ok := ctx.Value(key{}).(Session); ok {
		return s
	}
	return Anonymous
}
