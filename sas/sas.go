// Package sas provides token sources for relay establishment: a
// SharedAccessSignature signer backed by an HMAC-SHA256 key, and an Azure AD
// provider backed by azidentity. Both satisfy the relay.TokenProvider
// contract.
package sas

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultTokenValidity is the lifetime of tokens minted by a Signer when no
// validity is configured.
const DefaultTokenValidity = time.Hour

// Signer mints SharedAccessSignature tokens for relay audiences.
type Signer struct {
	keyName  string
	key      string
	validity time.Duration
}

// NewSigner creates a signer from a shared access key pair. The key is the
// base64-encoded key value from the namespace's authorization rule.
func NewSigner(keyName, key string) *Signer {
	return &Signer{keyName: keyName, key: key, validity: DefaultTokenValidity}
}

// WithValidity returns a copy of the signer minting tokens with the given
// lifetime.
func (s *Signer) WithValidity(d time.Duration) *Signer {
	clone := *s
	clone.validity = d
	return &clone
}

// GetToken mints a token for the audience URI. A fresh token is minted on
// every call; no caching.
func (s *Signer) GetToken(ctx context.Context, audience string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return Sign(audience, s.keyName, s.key, s.validity)
}

// Sign generates a SharedAccessSignature token for the given resource URI.
// Token format:
//
//	SharedAccessSignature sr=<url>&sig=<signature>&se=<expiry>&skn=<keyname>
func Sign(uri, keyName, key string, validity time.Duration) (string, error) {
	uri = strings.TrimSuffix(uri, "/")

	// Expiry is seconds since the Unix epoch.
	expiry := time.Now().Add(validity).Unix()

	// The string to sign is <url-encoded-uri>\n<expiry>.
	stringToSign := fmt.Sprintf("%s\n%d", url.QueryEscape(uri), expiry)

	decodedKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("failed to decode key: %w", err)
	}

	h := hmac.New(sha256.New, decodedKey)
	h.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	token := fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%d&skn=%s",
		url.QueryEscape(uri),
		url.QueryEscape(signature),
		expiry,
		url.QueryEscape(keyName),
	)
	return token, nil
}

// Static wraps a pre-minted token as a token source. Useful for connection
// strings carrying a SharedAccessSignature field and for tests.
type Static string

// GetToken returns the wrapped token for any audience.
func (s Static) GetToken(ctx context.Context, audience string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return string(s), nil
}
