// Package recovery issues and verifies the token a participant replays to
// resume a dropped connection.
//
// A token names (sessionID, participantID, joinCode, issuedAt) and is signed
// with HS256. Issued tokens are also kept in a Store until they expire, so a
// kick can revoke them before the validity window closes.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"live-session-service/internal/domain"
)

// Version is bumped whenever the claim layout changes; older tokens are rejected.
const Version = 1

// DefaultValidity is how long a token may be replayed.
const DefaultValidity = 2 * time.Hour

// Token is the decoded recovery bundle.
type Token struct {
	Version       int       `json:"version"`
	SessionID     string    `json:"sessionId"`
	ParticipantID string    `json:"participantId"`
	JoinCode      string    `json:"joinCode"`
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Expired reports whether the token is past its validity window at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Store keeps issued tokens keyed by participant.
type Store interface {
	Save(ctx context.Context, token Token) error
	// Load returns domain.ErrTokenInvalid when nothing is stored for the participant.
	Load(ctx context.Context, participantID string) (Token, error)
	Delete(ctx context.Context, participantID string) error
}

type claims struct {
	SessionID string `json:"sid"`
	JoinCode  string `json:"code"`
	Version   int    `json:"ver"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens.
type Codec struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

func NewCodec(secret string, validity time.Duration) *Codec {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Codec{secret: []byte(secret), validity: validity, now: time.Now}
}

// Issue returns a new token and its signed form.
func (c *Codec) Issue(sessionID, participantID, joinCode string) (Token, string, error) {
	// jwt numeric dates carry whole seconds
	issued := c.now().Truncate(time.Second)
	token := Token{
		Version:       Version,
		SessionID:     sessionID,
		ParticipantID: participantID,
		JoinCode:      joinCode,
		IssuedAt:      issued,
		ExpiresAt:     issued.Add(c.validity),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID: sessionID,
		JoinCode:  joinCode,
		Version:   Version,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			IssuedAt:  jwt.NewNumericDate(token.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
		},
	}).SignedString(c.secret)
	if err != nil {
		return Token{}, "", fmt.Errorf("sign recovery token: %w", err)
	}
	return token, signed, nil
}

// Parse verifies the signature, expiry and version of raw.
func (c *Codec) Parse(raw string) (Token, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Token{}, domain.ErrTokenExpired
	case err != nil:
		return Token{}, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}
	if cl.Version != Version || cl.Subject == "" || cl.SessionID == "" || cl.IssuedAt == nil {
		return Token{}, domain.ErrTokenInvalid
	}
	return Token{
		Version:       cl.Version,
		SessionID:     cl.SessionID,
		ParticipantID: cl.Subject,
		JoinCode:      cl.JoinCode,
		IssuedAt:      cl.IssuedAt.Time,
		ExpiresAt:     cl.ExpiresAt.Time,
	}, nil
}
