package hub

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthDisabled is returned when no secret has been configured.
	ErrAuthDisabled = errors.New("hub: auth disabled")
	// ErrInvalidToken is returned for a missing, malformed, or expired token.
	ErrInvalidToken = errors.New("hub: invalid token")
)

// claims embeds the process id a token is scoped to, alongside the
// standard registered claims (expiry, issuer).
type claims struct {
	ProcessID string `json:"pid,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates the optional bearer token a containerized
// process presents on connect. A nil *Authenticator (or one built with
// an empty secret) disables the check entirely.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator builds an Authenticator from a shared HMAC secret.
// An empty secret disables authentication.
func NewAuthenticator(secret string) *Authenticator {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Enabled() bool { return a != nil && len(a.secret) > 0 }

// Issue signs a token scoped to processID, used by the controller to
// hand a launching container its connection credential.
func (a *Authenticator) Issue(processID string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthDisabled
	}
	now := time.Now()
	c := claims{
		ProcessID: processID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   processID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(a.secret)
}

// Validate parses token and confirms it was scoped to processID.
func (a *Authenticator) Validate(token, processID string) error {
	if !a.Enabled() {
		return ErrAuthDisabled
	}
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.ProcessID != processID {
		return ErrInvalidToken
	}
	return nil
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, returning "" if absent or malformed.
func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
