package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// SecretPrefix is the prefix of secrets generated by this package
	SecretPrefix = "whsec_"

	// Algorithm is the only supported signature scheme
	Algorithm = "sha256"

	// MinSecretBytes is the minimum recommended secret size (192 bits)
	MinSecretBytes = 24

	// MaxSecretBytes is the maximum recommended secret size (512 bits)
	MaxSecretBytes = 64
)

// ErrEmptySecret is returned when signing is attempted without a secret
var ErrEmptySecret = errors.New("signing secret is empty")

/* GenerateSecret creates a new cryptographically secure signing secret
 * between MinSecretBytes and MaxSecretBytes of entropy.
 * The returned string is used verbatim as the HMAC key.
 */
func GenerateSecret(size int) (string, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return "", fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return SecretPrefix + base64.RawURLEncoding.EncodeToString(bytes), nil
}

// Signature is a hex encoded HMAC digest
type Signature struct {
	Algorithm string
	Digest    string
}

// String returns the header value: sha256=<hex>
func (s Signature) String() string {
	return fmt.Sprintf("%s=%s", s.Algorithm, s.Digest)
}

// Parse parses a header value in the format sha256=<hex>
func Parse(header string) (Signature, error) {
	algorithm, digest, found := strings.Cut(strings.TrimSpace(header), "=")
	if !found || digest == "" {
		return Signature{}, fmt.Errorf("invalid signature format, expected 'sha256=<hex>'")
	}
	if algorithm != Algorithm {
		return Signature{}, fmt.Errorf("unsupported signature algorithm: %s", algorithm)
	}

	return Signature{
		Algorithm: algorithm,
		Digest:    strings.ToLower(digest),
	}, nil
}

/* Sign computes HMAC-SHA256(secret, timestamp + "." + body)
 * The timestamp is the exact string sent in the timestamp header
 */
func Sign(secret, timestamp string, body []byte) (Signature, error) {
	if secret == "" {
		return Signature{}, ErrEmptySecret
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)

	return Signature{
		Algorithm: Algorithm,
		Digest:    hex.EncodeToString(mac.Sum(nil)),
	}, nil
}

// Verify checks a received header value using constant-time comparison
func Verify(secret, timestamp string, body []byte, header string) (bool, error) {
	expected, err := Parse(header)
	if err != nil {
		return false, fmt.Errorf("parsing signature: %w", err)
	}

	calculated, err := Sign(secret, timestamp, body)
	if err != nil {
		return false, fmt.Errorf("calculating signature: %w", err)
	}

	return subtle.ConstantTimeCompare([]byte(expected.Digest), []byte(calculated.Digest)) == 1, nil
}
