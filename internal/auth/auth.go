// Package auth verifies the bearer tokens clients present when opening a
// tracking session.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every rejected token.
var ErrInvalidToken = errors.New("invalid authentication token")

// Verifier checks HMAC-signed JWTs. A Verifier with an empty secret accepts
// any token and reports an empty subject.
type Verifier struct {
	secret    []byte
	algorithm string
	now       func() time.Time
}

func NewVerifier(secret, algorithm string) (*Verifier, error) {
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	switch algorithm {
	case jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg():
	default:
		return nil, fmt.Errorf("unsupported token algorithm %q", algorithm)
	}
	return &Verifier{secret: []byte(secret), algorithm: algorithm, now: time.Now}, nil
}

// Enabled reports whether tokens are checked at all.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify validates token and returns its subject.
func (v *Verifier) Verify(token string) (string, error) {
	if !v.Enabled() {
		return "", nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{v.algorithm}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", mapJWTError(err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Sign issues a token for subject that expires after ttl.
func (v *Verifier) Sign(subject string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("token signing requires a secret key")
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.GetSigningMethod(v.algorithm), claims).SignedString(v.secret)
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: expired", ErrInvalidToken)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: bad signature", ErrInvalidToken)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: unverifiable", ErrInvalidToken)
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
