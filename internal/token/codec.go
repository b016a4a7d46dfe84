// Package token mints and verifies the challenge payloads shown to a subject as a QR code.
//
// A payload is four pipe-delimited fields:
//
//	identityID|issuedAt|expiresAt|hexDigest
//
// The digest binds the identity to the session label and the kiosk secret. It does
// not cover the timestamps, so re-issuing a token for the same identity within one
// session always yields the same digest.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Scheme selects how the digest is computed.
type Scheme string

const (
	// SchemeHMAC is HMAC-SHA256 keyed by the secret over identityID‖sessionLabel‖secret.
	SchemeHMAC Scheme = "hmac"
	// SchemeLegacy is plain SHA-256 over "identityID|sessionLabel|secret", the format
	// carried by QR codes mailed by the first kiosk scripts.
	SchemeLegacy Scheme = "legacy"
)

const (
	fieldSeparator = "|"
	fieldCount     = 4

	// LegacyTimeLayout is the local-time layout used by older payloads.
	LegacyTimeLayout = "2006-01-02 15:04:05"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrDigestMismatch   = errors.New("digest mismatch")
	ErrExpired          = errors.New("token expired")
)

// Token is a single issued challenge. It is immutable once issued.
type Token struct {
	IdentityID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Digest     string
}

// Payload renders the token into its wire form.
func (t Token) Payload() string {
	return strings.Join([]string{
		t.IdentityID,
		t.IssuedAt.Format(time.RFC3339Nano),
		t.ExpiresAt.Format(time.RFC3339Nano),
		t.Digest,
	}, fieldSeparator)
}

// Codec issues and verifies tokens for one session label and secret, both fixed for the run.
type Codec struct {
	sessionLabel string
	secret       string
	scheme       Scheme
}

// NewCodec creates a codec. An empty scheme defaults to SchemeHMAC.
func NewCodec(sessionLabel, secret string, scheme Scheme) (*Codec, error) {
	if sessionLabel == "" {
		return nil, errors.New("session label is required")
	}
	if secret == "" {
		return nil, errors.New("secret key is required")
	}
	if scheme == "" {
		scheme = SchemeHMAC
	}
	if scheme != SchemeHMAC && scheme != SchemeLegacy {
		return nil, fmt.Errorf("unknown digest scheme %q", scheme)
	}
	return &Codec{sessionLabel: sessionLabel, secret: secret, scheme: scheme}, nil
}

// SessionLabel returns the label tokens are scoped to.
func (c *Codec) SessionLabel() string {
	return c.sessionLabel
}

// Digest computes the hex digest for an identity.
func (c *Codec) Digest(identityID string) string {
	switch c.scheme {
	case SchemeLegacy:
		sum := sha256.Sum256([]byte(identityID + "|" + c.sessionLabel + "|" + c.secret))
		return hex.EncodeToString(sum[:])
	default:
		mac := hmac.New(sha256.New, []byte(c.secret))
		mac.Write([]byte(identityID + c.sessionLabel + c.secret))
		return hex.EncodeToString(mac.Sum(nil))
	}
}

// Issue mints a token valid from now until now+ttl.
func (c *Codec) Issue(identityID string, now time.Time, ttl time.Duration) Token {
	return Token{
		IdentityID: identityID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		Digest:     c.Digest(identityID),
	}
}

// Parse splits a payload into a token without checking expiry or digest.
func Parse(payload string) (Token, error) {
	parts := strings.Split(payload, fieldSeparator)
	if len(parts) != fieldCount {
		return Token{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedPayload, fieldCount, len(parts))
	}
	if parts[0] == "" {
		return Token{}, fmt.Errorf("%w: empty identity", ErrMalformedPayload)
	}

	issuedAt, err := parseTime(parts[1])
	if err != nil {
		return Token{}, fmt.Errorf("%w: issued at: %w", ErrMalformedPayload, err)
	}
	expiresAt, err := parseTime(parts[2])
	if err != nil {
		return Token{}, fmt.Errorf("%w: expires at: %w", ErrMalformedPayload, err)
	}

	return Token{
		IdentityID: parts[0],
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
		Digest:     parts[3],
	}, nil
}

// Verify checks a payload and returns the identity it was issued to.
// Expiry is checked before the digest, so a stale payload reports ErrExpired
// whether or not its digest is valid.
func (c *Codec) Verify(payload string, now time.Time) (string, error) {
	tok, err := Parse(payload)
	if err != nil {
		return "", err
	}
	if now.After(tok.ExpiresAt) {
		return "", fmt.Errorf("%w: at %s", ErrExpired, tok.ExpiresAt.Format(time.RFC3339))
	}

	expected := c.Digest(tok.IdentityID)
	if !hmac.Equal([]byte(tok.Digest), []byte(expected)) {
		return "", ErrDigestMismatch
	}
	return tok.IdentityID, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(LegacyTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	return t, nil
}
