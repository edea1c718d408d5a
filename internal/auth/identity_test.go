package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
)

func signed(t *testing.T, c jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString error: %v", err)
	}
	return s
}

func TestFromTokenClaims(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"subject", jwt.MapClaims{"sub": "u-sub"}, "u-sub"},
		{"uid wins over sub", jwt.MapClaims{"sub": "u-sub", "uid": "u-uid"}, "u-uid"},
		{"user_id wins", jwt.MapClaims{"sub": "s", "uid": "u", "user_id": "uid-1"}, "uid-1"},
		{"future expiry", jwt.MapClaims{"sub": "u", "exp": now.Add(time.Hour).Unix()}, "u"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signed(t, tt.claims)
			id, err := FromToken("Bearer "+token, "", now)
			if err != nil {
				t.Fatalf("FromToken error: %v", err)
			}
			if id.UserID != tt.want {
				t.Errorf("UserID = %q, want %q", id.UserID, tt.want)
			}
			if id.Token != token {
				t.Error("Token should have the Bearer prefix stripped")
			}
		})
	}
}

func TestFromTokenRejections(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expired := signed(t, jwt.MapClaims{"sub": "u", "exp": now.Add(-time.Minute).Unix()})

	tests := []struct {
		name, token, fallback string
	}{
		{"empty", "", "user"},
		{"expired", expired, "user"},
		{"opaque without fallback", "opaque-token", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromToken(tt.token, tt.fallback, now)
			if !apperrors.IsCode(err, apperrors.AuthRequired) {
				t.Errorf("FromToken error = %v, want AuthRequired", err)
			}
		})
	}
}

func TestFromTokenOpaqueWithFallback(t *testing.T) {
	id, err := FromToken("opaque-token", "u-1", time.Now())
	if err != nil {
		t.Fatalf("FromToken error: %v", err)
	}
	if id.UserID != "u-1" || id.Token != "opaque-token" {
		t.Errorf("identity = %+v", id)
	}
}

func TestRequire(t *testing.T) {
	if _, err := Require(context.Background()); !apperrors.IsCode(err, apperrors.AuthRequired) {
		t.Errorf("Require(empty) = %v, want AuthRequired", err)
	}

	ctx := WithIdentity(context.Background(), Identity{UserID: "u", Token: "t"})
	id, err := Require(ctx)
	if err != nil || id.UserID != "u" {
		t.Errorf("Require = (%+v, %v)", id, err)
	}

	partial := WithIdentity(context.Background(), Identity{UserID: "u"})
	if _, err := Require(partial); err == nil {
		t.Error("identity without token should not satisfy Require")
	}
}

func TestBind(t *testing.T) {
	ctx, err := Bind(context.Background(), StaticSource{Token: "opaque", UserID: "u-2"})
	if err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	if id, ok := FromContext(ctx); !ok || id.UserID != "u-2" {
		t.Errorf("FromContext = (%+v, %v)", id, ok)
	}

	if _, err := Bind(context.Background(), StaticSource{}); !apperrors.IsCode(err, apperrors.AuthRequired) {
		t.Errorf("Bind(empty) = %v, want AuthRequired", err)
	}
}
