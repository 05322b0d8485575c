// Package token decodes the portal's bearer credential on the client side.
//
// The client holds no signing secret, so tokens are decoded without
// signature verification: the payload is only used for expiry checks and
// the user snapshot, and the server re-validates every request anyway.
// Any token that cannot be decoded is treated as expired (fail closed).
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-portal/internal/model"
)

// ErrMalformed is returned when a token cannot be decoded at all.
var ErrMalformed = errors.New("malformed token")

// Claims extends JWT standard claims with the portal's identity fields.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int        `json:"user_id"`
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
}

// Decode parses a token payload without verifying its signature.
// Returns ErrMalformed (wrapped) for anything that is not a decodable JWT.
func Decode(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing expiry claim", ErrMalformed)
	}

	return claims, nil
}

// IsExpired reports whether the token's expiry has passed as of now.
// Undecodable tokens are reported as expired.
func IsExpired(tokenStr string, now time.Time) bool {
	claims, err := Decode(tokenStr)
	if err != nil {
		return true
	}
	return !claims.ExpiresAt.Time.After(now)
}

// TimeUntilExpiry returns the remaining lifetime of the token, floored at
// zero. The second return is false when no usable token is held.
func TimeUntilExpiry(tokenStr string, now time.Time) (time.Duration, bool) {
	claims, err := Decode(tokenStr)
	if err != nil {
		return 0, false
	}
	remaining := claims.ExpiresAt.Time.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
