// Package crypto provides the hashing, keyed-MAC and encoding primitives used
// to derive signing keys and mint identifiers.
package crypto

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrAlgorithmUnavailable is returned by SelfTest when the digest or MAC
// implementation does not reproduce its known-answer vectors.
var ErrAlgorithmUnavailable = errors.New("crypto: hash algorithm unavailable")

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HexHash returns the lowercase hex SHA-256 digest of data.
func HexHash(data []byte) string {
	return HexEncode(Hash(data))
}

// HMAC returns the HMAC-SHA256 of data under key.
func HMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// HexEncode returns the lowercase hexadecimal form of b.
func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// Equal compares two byte slices in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Base64Encode encodes b with the standard padded alphabet.
func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode decodes s, accepting either the standard or URL-safe
// alphabet, padded or not.
func Base64Decode(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// IsBase64 reports whether every character of s belongs to the base64
// alphabet (standard or URL-safe), padding, or whitespace. It is a structural
// check only; the empty string is accepted.
func IsBase64(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '-', c == '_', c == '=':
		case c == ' ', c == '\t', c == '\r', c == '\n':
		default:
			return false
		}
	}
	return true
}

// Base64UUID returns a fresh random 128-bit identifier rendered as URL-safe
// base64 without padding (22 characters).
func Base64UUID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// NewSecret returns a new secret access key: the standard base64 form of the
// SHA-256 digest of fresh random material.
func NewSecret() (string, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("crypto: reading random seed: %w", err)
	}
	id := uuid.New()
	return Base64Encode(Hash(append(id[:], seed...))), nil
}

// SelfTest checks the primitives against published test vectors. It is run
// once at process start and a failure is fatal to start-up.
func SelfTest() error {
	// FIPS 180-2 "abc"
	want, _ := hex.DecodeString("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
	if !bytes.Equal(Hash([]byte("abc")), want) {
		return fmt.Errorf("%w: sha256 known-answer mismatch", ErrAlgorithmUnavailable)
	}

	// RFC 4231 test case 2
	want, _ = hex.DecodeString("5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843")
	if !bytes.Equal(HMAC([]byte("Jefe"), []byte("what do ya want for nothing?")), want) {
		return fmt.Errorf("%w: hmac-sha256 known-answer mismatch", ErrAlgorithmUnavailable)
	}

	return nil
}
