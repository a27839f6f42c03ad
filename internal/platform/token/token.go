// Package token generates and classifies the opaque bearer tokens handed out
// for NFC sessions and emergency access.
//
// Every token carries a kind prefix so that a session token can never be
// accepted where an emergency token is expected, and the reverse. Only the
// blake2b digest of a token is ever persisted.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Kind identifies what a token grants.
type Kind string

const (
	KindSession   Kind = "session"
	KindEmergency Kind = "emergency"
)

const (
	sessionPrefix   = "nfs_"
	emergencyPrefix = "nfe_"

	// DefaultEntropyBits is the entropy of generated tokens.
	DefaultEntropyBits = 256
	// MinEntropyBits is the floor accepted by NewGenerator.
	MinEntropyBits = 128
)

var ErrMalformed = errors.New("malformed token")

func prefixFor(k Kind) (string, error) {
	switch k {
	case KindSession:
		return sessionPrefix, nil
	case KindEmergency:
		return emergencyPrefix, nil
	}
	return "", fmt.Errorf("unknown token kind %q", k)
}

// Generator produces new tokens.
type Generator interface {
	Generate(k Kind) (string, error)
}

type randomGenerator struct {
	n int
}

// NewGenerator returns a Generator backed by crypto/rand producing tokens
// with the given entropy. Values below MinEntropyBits are rejected.
func NewGenerator(entropyBits int) (Generator, error) {
	if entropyBits < MinEntropyBits {
		return nil, fmt.Errorf("token entropy must be at least %d bits, got %d", MinEntropyBits, entropyBits)
	}
	return &randomGenerator{n: (entropyBits + 7) / 8}, nil
}

// DefaultGenerator returns a 256-bit Generator.
func DefaultGenerator() Generator {
	return &randomGenerator{n: DefaultEntropyBits / 8}
}

func (g *randomGenerator) Generate(k Kind) (string, error) {
	prefix, err := prefixFor(k)
	if err != nil {
		return "", err
	}
	buf := make([]byte, g.n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Parse classifies raw by its prefix. It does not touch storage.
func Parse(raw string) (Kind, error) {
	var k Kind
	var body string
	switch {
	case strings.HasPrefix(raw, sessionPrefix):
		k, body = KindSession, raw[len(sessionPrefix):]
	case strings.HasPrefix(raw, emergencyPrefix):
		k, body = KindEmergency, raw[len(emergencyPrefix):]
	default:
		return "", ErrMalformed
	}
	b, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(b) < MinEntropyBits/8 {
		return "", ErrMalformed
	}
	return k, nil
}

// ParseAs returns ErrMalformed unless raw is a well-formed token of kind k.
func ParseAs(raw string, k Kind) error {
	got, err := Parse(raw)
	if err != nil {
		return err
	}
	if got != k {
		return ErrMalformed
	}
	return nil
}

// Digest returns the hex-encoded blake2b-256 digest stored in place of raw.
func Digest(raw string) string {
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
