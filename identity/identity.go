// Package identity keeps the device's access/refresh token pair and UUID and
// persists them across restarts.
package identity

import (
	"context"
	"time"
)

type Identity struct {
	UUID         string    `json:"uuid"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// IsExpired reports whether a refreshable identity has passed its expiry. An
// identity without a refresh token never counts as expired: there is nothing to
// refresh it with.
func (i Identity) IsExpired(now time.Time) bool {
	return i.RefreshToken != "" && !i.ExpiresAt.After(now)
}

// Login is the token payload returned by pairing and by the token endpoint.
type Login struct {
	UUID         string `json:"uuid"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Expiration   int64  `json:"expiration"`
}

func (l Login) Identity(now time.Time) Identity {
	return Identity{
		UUID:         l.UUID,
		AccessToken:  l.AccessToken,
		RefreshToken: l.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(l.Expiration) * time.Second),
	}
}

// Backend is the durable side of the store. Save must replace the stored
// identity atomically.
type Backend interface {
	Load(ctx context.Context) (Identity, error)
	Save(ctx context.Context, id Identity) error
}
