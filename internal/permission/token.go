package permission

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultConfirmationTTL is how long a confirmation token stays valid.
const DefaultConfirmationTTL = 5 * time.Minute

// Confirmation token errors.
var (
	ErrTokenExpired = errors.New("confirmation token expired")
	ErrTokenInvalid = errors.New("confirmation token invalid")
)

// TokenIssuer mints and verifies signed confirmation tokens. Tokens are
// HS256 JWTs carrying the confirmation id and tool name; they are opaque to
// callers and self-expiring, so a replayed or tampered token fails closed.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. An empty secret generates a random
// process-local one, which invalidates tokens across restarts.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
	}
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// SetClock injects the time source, used by tests.
func (t *TokenIssuer) SetClock(now func() time.Time) { t.now = now }

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

type confirmationClaims struct {
	ConfirmationID string `json:"cid"`
	Tool           string `json:"tool"`
	jwt.RegisteredClaims
}

// Issue creates a token bound to a fresh confirmation id and the given
// tool. Returns the token string and the confirmation id.
func (t *TokenIssuer) Issue(tool string) (token string, confirmationID string, err error) {
	confirmationID = uuid.NewString()
	now := t.now()
	claims := confirmationClaims{
		ConfirmationID: confirmationID,
		Tool:           tool,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign confirmation token: %w", err)
	}
	return token, confirmationID, nil
}

// Verify checks signature and expiry, returning the confirmation id and
// tool the token was issued for.
func (t *TokenIssuer) Verify(token string) (confirmationID, tool string, err error) {
	var claims confirmationClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrTokenExpired
		}
		return "", "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.ConfirmationID == "" {
		return "", "", ErrTokenInvalid
	}
	return claims.ConfirmationID, claims.Tool, nil
}
