// Package auth resolves the caller identity once per action and threads it
// through context.Context. Credential issuance and storage live elsewhere.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
)

// Identity is the authenticated user an action runs as.
type Identity struct {
	UserID string
	Token  string
}

// Valid reports whether both parts are present.
func (i Identity) Valid() bool { return i.UserID != "" && i.Token != "" }

type ctxKey struct{}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.Valid()
}

// Require returns the identity in ctx or an AuthRequired error.
func Require(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, apperrors.New(apperrors.AuthRequired, "sign in required")
	}
	return id, nil
}

type claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	UID    string `json:"uid"`
}

// FromToken derives an identity from a bearer token. The signature is not
// verified here; the backend does that on every request. A JWT supplies
// the user ID from user_id, uid or sub, and an expired token is rejected.
// Opaque tokens need fallbackUserID.
func FromToken(token, fallbackUserID string, now time.Time) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, apperrors.New(apperrors.AuthRequired, "no auth token configured")
	}

	userID := fallbackUserID
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err == nil {
		if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			return Identity{}, apperrors.New(apperrors.AuthRequired, "auth token expired").
				WithMetadata("expired_at", c.ExpiresAt.Format(time.RFC3339))
		}
		for _, v := range []string{c.UserID, c.UID, c.Subject} {
			if v != "" {
				userID = v
				break
			}
		}
	}

	if userID == "" {
		return Identity{}, apperrors.New(apperrors.AuthRequired, "auth token carries no user id")
	}
	return Identity{UserID: userID, Token: token}, nil
}

// Source resolves the identity for each new action.
type Source interface {
	Resolve(ctx context.Context) (Identity, error)
}

// StaticSource resolves from a configured token.
type StaticSource struct {
	Token  string
	UserID string
	Now    func() time.Time
}

// Resolve implements Source.
func (s StaticSource) Resolve(context.Context) (Identity, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return FromToken(s.Token, s.UserID, now())
}

// Bind resolves an identity from src and attaches it to ctx.
func Bind(ctx context.Context, src Source) (context.Context, error) {
	id, err := src.Resolve(ctx)
	if err != nil {
		return ctx, err
	}
	return WithIdentity(ctx, id), nil
}
