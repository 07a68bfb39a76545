package client

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

const signatureValidity = time.Hour

// Signer produces the network Authorization header for outbound envelopes:
// a BLAKE2b-512 digest of the body signed with the participant's ed25519 key.
type Signer struct {
	subscriberID string
	uniqueKeyID  string
	key          ed25519.PrivateKey
	now          func() time.Time
}

// NewSigner decodes a base64 ed25519 private key (64-byte key or 32-byte seed).
// An empty key yields a nil signer and outbound requests go unsigned.
func NewSigner(subscriberID, uniqueKeyID, encodedKey string) (*Signer, error) {
	if encodedKey == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("signing key has %d bytes", len(raw))
	}
	return &Signer{subscriberID: subscriberID, uniqueKeyID: uniqueKeyID, key: key, now: time.Now}, nil
}

// Sign returns the Authorization header value for body.
func (s *Signer) Sign(body []byte) string {
	created := s.now().Unix()
	expires := created + int64(signatureValidity.Seconds())
	signature := ed25519.Sign(s.key, []byte(signingString(body, created, expires)))
	return fmt.Sprintf(`Signature keyId="%s|%s|ed25519",algorithm="ed25519",created="%d",expires="%d",headers="(created) (expires) digest",signature="%s"`,
		s.subscriberID, s.uniqueKeyID, created, expires, base64.StdEncoding.EncodeToString(signature))
}

func signingString(body []byte, created, expires int64) string {
	digest := blake2b.Sum512(body)
	return fmt.Sprintf("(created): %d\n(expires): %d\ndigest: BLAKE-512=%s",
		created, expires, base64.StdEncoding.EncodeToString(digest[:]))
}
