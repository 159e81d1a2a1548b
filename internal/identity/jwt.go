package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSecret     = errors.New("jwt secret is not configured")
	ErrInvalidToken = errors.New("invalid access token")
)

// Config defines fields used for parsing from environment variables
type Config struct {
	Secret string `env:"JWT_SECRET"`
	Issuer string `env:"JWT_ISSUER" envDefault:"bookshelf"`
}

// Claims are the access token claims issued by the identity provider
type Claims struct {
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 access tokens
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier returns a Verifier for cfg
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	return &Verifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer}, nil
}

// Verify parses token and returns the user it was issued for
func (v *Verifier) Verify(token string) (User, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return User{
		ID: claims.Subject,
		Profile: Profile{
			Username:  claims.Username,
			AvatarURL: claims.AvatarURL,
		},
	}, nil
}

// FromRequest returns the Session of the bearer token in r.
// Requests without an Authorization header are anonymous.
func (v *Verifier) FromRequest(r *http.Request) (Session, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Anonymous, nil
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, fmt.Errorf("%w: expected bearer token", ErrInvalidToken)
	}

	u, err := v.Verify(token)
	if err != nil {
		return nil, err
	}
	return Static(u), nil
}

// Issue signs a token for u, valid for ttl
func Issue(cfg Config, u User, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", ErrNoSecret
	}

	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username:  u.Profile.Username,
		AvatarURL: u.Profile.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %v", err)
	}

	return token, nil
}
