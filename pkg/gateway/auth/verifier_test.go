package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
)

const testSecret = "test-signing-secret"

func TestVerifyRoundTrip(t *testing.T) {
	token, err := SignToken(testSecret, Identity{UserID: "user_42", DisplayName: "Mel"}, time.Minute)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}

	id, err := NewVerifier(testSecret).Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "user_42" {
		t.Fatalf("UserID = %q, want user_42", id.UserID)
	}
	if id.DisplayName != "Mel" {
		t.Fatalf("DisplayName = %q, want Mel", id.DisplayName)
	}
}

func TestVerifyRejections(t *testing.T) {
	good, err := SignToken(testSecret, Identity{UserID: "user_42"}, time.Minute)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	expired, err := SignToken(testSecret, Identity{UserID: "user_42"}, -time.Minute)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	wrongKey, err := SignToken("other-secret", Identity{UserID: "user_42"}, time.Minute)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	noSubject, err := SignToken(testSecret, Identity{}, time.Minute)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "user_42",
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign no-expiry token: %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user_42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign unsigned token: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong secret", wrongKey},
		{"no subject", noSubject},
		{"no expiry", noExpiry},
		{"alg none", unsigned},
		{"garbage", "not.a.token"},
		{"empty", ""},
	}

	v := NewVerifier(testSecret)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.token)
			if err == nil {
				t.Fatal("expected error")
			}
			var cerr *core.Error
			if !errors.As(err, &cerr) || cerr.Type != core.ErrAuthentication {
				t.Fatalf("error = %v, want authentication_error", err)
			}
		})
	}

	if _, err := v.Verify(good); err != nil {
		t.Fatalf("control token rejected: %v", err)
	}
}

func TestParseBearer(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer tok-123", "tok-123", true},
		{"padded", "  Bearer   tok-123  ", "tok-123", true},
		{"missing", "", "", false},
		{"wrong scheme", "Basic tok-123", "", false},
		{"empty token", "Bearer   ", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodPost, "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, ok := ParseBearer(r)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("ParseBearer() = %q/%v, want %q/%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
