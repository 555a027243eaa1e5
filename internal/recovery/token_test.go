package recovery

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"live-session-service/internal/domain"
)

func newTestCodec(now time.Time) *Codec {
	c := NewCodec("test-secret", 2*time.Hour)
	c.now = func() time.Time { return now }
	return c
}

func TestIssueAndParseRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 500, time.UTC)
	c := newTestCodec(now)

	issued, raw, err := c.Issue("s1", "p1", "ABC234")
	require.NoError(t, err)
	assert.Equal(t, now.Truncate(time.Second), issued.IssuedAt)
	assert.Equal(t, issued.IssuedAt.Add(2*time.Hour), issued.ExpiresAt)

	parsed, err := c.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, Version, parsed.Version)
	assert.Equal(t, "s1", parsed.SessionID)
	assert.Equal(t, "p1", parsed.ParticipantID)
	assert.Equal(t, "ABC234", parsed.JoinCode)
	assert.True(t, parsed.IssuedAt.Equal(issued.IssuedAt))
	assert.True(t, parsed.ExpiresAt.Equal(issued.ExpiresAt))
}

func TestParseRejectsExpiredToken(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := newTestCodec(now)
	_, raw, err := c.Issue("s1", "p1", "ABC234")
	require.NoError(t, err)

	c.now = func() time.Time { return now.Add(2*time.Hour + time.Minute) }
	_, err = c.Parse(raw)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestParseRejectsForeignSignature(t *testing.T) {
	now := time.Now()
	_, raw, err := newTestCodec(now).Issue("s1", "p1", "ABC234")
	require.NoError(t, err)

	other := NewCodec("other-secret", time.Hour)
	_, err = other.Parse(raw)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, err = newTestCodec(now).Parse(raw[:strings.LastIndex(raw, ".")] + ".tampered")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestParseRejectsOtherVersions(t *testing.T) {
	now := time.Now()
	c := newTestCodec(now)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID: "s1",
		Version:   Version + 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "p1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(c.secret)
	require.NoError(t, err)

	_, err = c.Parse(raw)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	tok := Token{ExpiresAt: now}
	assert.True(t, tok.Expired(now))
	assert.False(t, tok.Expired(now.Add(-time.Second)))
}
