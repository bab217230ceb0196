// Package token encodes and decodes the opaque identifiers embedded in
// tracking URLs. A token carries enough context to attribute an open,
// click, or unsubscribe back to a campaign and recipient without a
// database lookup at generation time.
//
// Tokens are reversible, not encrypted. Anyone holding a token can decode
// it and re-encode a syntactically valid token for guessed identifiers.
// A Signer is provided for callers that want an HMAC alongside the token;
// the codec itself does not require one, so already-issued unsigned
// tokens keep decoding.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// MalformedTokenError is returned when an inbound token cannot be decoded.
type MalformedTokenError struct {
	Token  string
	Reason string
}

func (e *MalformedTokenError) Error() string {
	return fmt.Sprintf("malformed tracking token %q: %s", e.Token, e.Reason)
}

// Token is the decoded payload of a tracking URL segment.
type Token struct {
	MessageID   string
	RecipientID string
	CampaignID  string
	// LinkID identifies the rewritten link for click tokens. It is empty
	// for open and unsubscribe tokens.
	LinkID string
}

// Encode serializes the token as a pipe-joined, base64 URL-safe string.
// Identifiers must not contain the pipe delimiter.
func Encode(t Token) string {
	data := fmt.Sprintf("%s|%s|%s|%s", t.MessageID, t.RecipientID, t.CampaignID, t.LinkID)
	return base64.RawURLEncoding.EncodeToString([]byte(data))
}

// Decode reverses Encode. It returns a MalformedTokenError when the input
// is not valid base64 or carries fewer than three fields. A missing
// fourth field decodes as an empty LinkID.
func Decode(encoded string) (Token, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Token{}, &MalformedTokenError{Token: encoded, Reason: "invalid encoding"}
	}

	parts := strings.SplitN(string(decoded), "|", 4)
	if len(parts) < 3 {
		return Token{}, &MalformedTokenError{Token: encoded, Reason: "too few fields"}
	}

	t := Token{
		MessageID:   parts[0],
		RecipientID: parts[1],
		CampaignID:  parts[2],
	}
	if len(parts) == 4 {
		t.LinkID = parts[3]
	}
	return t, nil
}

// Signer produces short HMAC signatures for tokens. Handlers that receive
// a signature alongside a token should verify it before trusting the
// decoded identifiers.
type Signer struct {
	key []byte
}

func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Sign creates an HMAC-SHA256 signature truncated to 16 hex characters.
func (s *Signer) Sign(encoded string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(encoded))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Verify checks a signature produced by Sign.
func (s *Signer) Verify(encoded, signature string) bool {
	expected := s.Sign(encoded)
	return hmac.Equal([]byte(expected), []byte(signature))
}
