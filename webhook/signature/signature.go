package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// SecretPrefix is the prefix of encoded signing secrets
	SecretPrefix = "whsec_"

	// Scheme prefixes the hex digest in the signature header
	Scheme = "sha256"

	// HeaderName carries the signature on outbound deliveries
	HeaderName = "X-Webhook-Signature"

	// DefaultSecretBytes is the size of secrets created at registration
	DefaultSecretBytes = 32

	// MinSecretBytes is the minimum recommended secret size (192 bits)
	MinSecretBytes = 24

	// MaxSecretBytes is the maximum recommended secret size (512 bits)
	MaxSecretBytes = 64
)

// Secret is a per-subscription signing key
type Secret struct {
	raw    []byte
	base64 string
}

// GenerateSecret creates a new cryptographically secure signing secret
// between MinSecretBytes and MaxSecretBytes in size.
func GenerateSecret(size int) (Secret, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return Secret{}, fmt.Errorf("generating random bytes: %w", err)
	}

	return Secret{
		raw:    bytes,
		base64: SecretPrefix + base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// ParseSecret parses a base64-encoded secret with the whsec_ prefix
func ParseSecret(encoded string) (Secret, error) {
	if !strings.HasPrefix(encoded, SecretPrefix) {
		return Secret{}, fmt.Errorf("secret must start with %s prefix", SecretPrefix)
	}

	b64 := strings.TrimPrefix(encoded, SecretPrefix)
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Secret{}, fmt.Errorf("decoding base64 secret: %w", err)
	}

	if len(raw) < MinSecretBytes || len(raw) > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	return Secret{
		raw:    raw,
		base64: encoded,
	}, nil
}

// String returns the base64-encoded secret with prefix
func (s Secret) String() string {
	return s.base64
}

// Bytes returns the raw secret bytes
func (s Secret) Bytes() []byte {
	return s.raw
}

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret Secret, body []byte) string {
	mac := hmac.New(sha256.New, secret.Bytes())
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header returns the signature header value: sha256=<hex>
func Header(secret Secret, body []byte) string {
	return Scheme + "=" + Sign(secret, body)
}

// ParseHeader extracts the raw digest from a sha256=<hex> header value
func ParseHeader(header string) ([]byte, error) {
	scheme, digest, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok {
		return nil, fmt.Errorf("invalid signature format, expected '%s=<hex>'", Scheme)
	}
	if scheme != Scheme {
		return nil, fmt.Errorf("unsupported signature scheme: %s", scheme)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil {
		return nil, fmt.Errorf("decoding signature: %w", err)
	}
	return raw, nil
}

// Verify checks a signature header against the exact body bytes using constant-time comparison
func Verify(secret Secret, body []byte, header string) (bool, error) {
	expected, err := ParseHeader(header)
	if err != nil {
		return false, err
	}

	mac := hmac.New(sha256.New, secret.Bytes())
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil)), nil
}

// VerifyAny verifies against several secrets, for receivers in the middle of a secret rotation
func VerifyAny(secrets []Secret, body []byte, header string) (bool, error) {
	if len(secrets) == 0 {
		return false, fmt.Errorf("must provide at least one secret")
	}

	for _, secret := range secrets {
		valid, err := Verify(secret, body, header)
		if err != nil {
			return false, err
		}
		if valid {
			return true, nil
		}
	}

	return false, nil
}
