// Package tokens persists the Kumo Cloud access/refresh token pair.
//
// Access tokens live ~20 minutes, refresh tokens ~30 days. Both are
// JWTs, so expiry is read from the exp claim when possible instead of
// guessing from wall-clock offsets.
package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotFound means the store has no cached pair yet.
var ErrNotFound = errors.New("tokens: no cached token pair")

// Safety margins so a token is refreshed before the server rejects it.
const (
	accessMargin  = 2 * time.Minute
	refreshMargin = 24 * time.Hour

	// Fallback validity windows for tokens whose exp claim cannot be
	// read, matching the vendor's documented lifetimes minus margin.
	fallbackAccessTTL  = 18 * time.Minute
	fallbackRefreshTTL = 25 * 24 * time.Hour
)

// Pair is an access/refresh token pair with expiry tracking.
type Pair struct {
	Access           string    `json:"access"`
	Refresh          string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// NewPair builds a Pair from freshly issued tokens, deriving expiry
// from the JWT exp claims.
func NewPair(access, refresh string) Pair {
	now := time.Now()
	return Pair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  expiry(access, now.Add(fallbackAccessTTL), accessMargin),
		RefreshExpiresAt: expiry(refresh, now.Add(fallbackRefreshTTL), refreshMargin),
	}
}

func (p Pair) Empty() bool {
	return p.Access == "" && p.Refresh == ""
}

func (p Pair) AccessExpired() bool {
	return !time.Now().Before(p.AccessExpiresAt)
}

func (p Pair) RefreshExpired() bool {
	return !time.Now().Before(p.RefreshExpiresAt)
}

// expiry reads the exp claim without verifying the signature (the
// client has no vendor key and only needs the timestamp).
func expiry(token string, fallback time.Time, margin time.Duration) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return fallback
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	return exp.Time.Add(-margin)
}

// Store persists a token pair between runs.
type Store interface {
	Load() (Pair, error)
	Save(Pair) error
}
