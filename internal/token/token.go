// Package token decodes JWT expiry claims without verifying signatures.
// Verification is the backend's job; the client only needs the exp claim to
// schedule proactive refresh and to detect dead tokens before spending a
// round trip on them.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var parser = jwt.NewParser()

// ExpiryEpochMillis returns the token's exp claim in epoch milliseconds.
// The second return is false when the token is malformed or carries no exp
// claim.
func ExpiryEpochMillis(tok string) (int64, bool) {
	exp, ok := expiry(tok)
	if !ok || exp == nil {
		return 0, false
	}
	return exp.UnixMilli(), true
}

// IsExpired reports whether the token's exp claim is in the past. Malformed
// or undecodable tokens are reported expired (fail closed). A well-formed
// token with no exp claim never expires.
func IsExpired(tok string) bool {
	exp, ok := expiry(tok)
	if !ok {
		return true
	}
	if exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// TimeUntilExpiry returns how long until the token expires, never negative.
// Returns 0 for malformed or already-expired tokens; ok is false when there
// is no usable exp claim to schedule against.
func TimeUntilExpiry(tok string) (time.Duration, bool) {
	exp, ok := expiry(tok)
	if !ok || exp == nil {
		return 0, false
	}
	d := time.Until(*exp)
	if d < 0 {
		return 0, true
	}
	return d, true
}

// expiry decodes the exp claim. ok is false when the token or the claim
// cannot be parsed; a nil time with ok=true means the claim is absent.
func expiry(tok string) (*time.Time, bool) {
	if tok == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		return nil, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, false
	}
	if exp == nil {
		return nil, true
	}
	t := exp.Time
	return &t, true
}
