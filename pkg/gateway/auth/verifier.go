package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
)

// Identity is the verified content of an identity token.
type Identity struct {
	UserID      string
	DisplayName string
}

type identityClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks identity tokens against the shared signing secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token. Any failure (bad signature, wrong
// algorithm, expired, malformed) comes back as an authentication error; the
// caller must re-establish identity, there is nothing to retry.
func (v *Verifier) Verify(token string) (Identity, error) {
	claims := &identityClaims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, core.NewAuthenticationError(fmt.Sprintf("invalid identity token: %v", err))
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, core.NewAuthenticationError("identity token has no subject")
	}
	return Identity{UserID: claims.Subject, DisplayName: claims.Name}, nil
}

func (v *Verifier) keyFunc(*jwt.Token) (any, error) {
	return v.secret, nil
}

// SignToken mints an identity token. Production tokens come from the host
// application; this exists for tests and local development.
func SignToken(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := identityClaims{
		Name: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
