package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classboard/pkg/types"
)

// Verifier checks identity tokens issued by the account service. Issuing
// lives outside this core; Issue exists for tests and tooling.
type Verifier struct {
	secret []byte
}

// Claims carried by a classroom identity token. The user ID rides in the
// registered Subject claim.
type Claims struct {
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning the identity behind it.
// A missing, malformed, or expired token is an authentication failure; the
// caller terminates the connection attempt, no retries.
func (v *Verifier) Verify(token string) (types.Identity, error) {
	if token == "" {
		return types.Identity{}, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedSigning
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.Identity{}, ErrExpiredToken
		}
		return types.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return types.Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" || !types.IsValidRole(claims.Role) {
		return types.Identity{}, ErrInvalidToken
	}

	return types.Identity{
		UserID:      claims.Subject,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
	}, nil
}

// Issue signs a token for the given identity. Used by tests and the local
// development tooling; production tokens come from the account service.
func (v *Verifier) Issue(identity types.Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		DisplayName: identity.DisplayName,
		Role:        identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
