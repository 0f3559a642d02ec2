// Package types defines the content digests shared by the container,
// signature and history packages.
//
// Digests are 32 bytes and print as base58.
package types

import (
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// DigestSize is the size of every digest.
const DigestSize = 32

var (
	// ErrInvalidDigest is returned when a digest has invalid length.
	ErrInvalidDigest = errors.New("invalid digest: must be 32 bytes")

	// ErrUnknownAlgorithm is returned for unsupported digest algorithm names.
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
)

// Algorithm names a digest function.
type Algorithm string

// Supported algorithms.
const (
	Blake3  Algorithm = "blake3"
	SHA3256 Algorithm = "sha3-256"
)

// ParseAlgorithm validates an algorithm name. The empty string selects
// Blake3.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return Blake3, nil
	case Blake3, SHA3256:
		return a, nil
	default:
		return "", errors.Wrapf(ErrUnknownAlgorithm, "%q", s)
	}
}

// Digest is a 32-byte content hash.
type Digest [DigestSize]byte

// Sum computes the digest of data with the given algorithm.
func Sum(algo Algorithm, data []byte) (Digest, error) {
	switch algo {
	case Blake3, "":
		return Digest(blake3.Sum256(data)), nil
	case SHA3256:
		return Digest(sha3.Sum256(data)), nil
	default:
		return Digest{}, errors.Wrapf(ErrUnknownAlgorithm, "%q", algo)
	}
}

// Blake3Sum computes the blake3 digest of data.
func Blake3Sum(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// DigestFromBase58 parses a base58-encoded digest.
func DigestFromBase58(s string) (Digest, error) {
	var d Digest
	data, err := base58.Decode(s)
	if err != nil {
		return d, errors.Wrap(err, "base58 decode")
	}
	if len(data) != DigestSize {
		return d, ErrInvalidDigest
	}
	copy(d[:], data)
	return d, nil
}

// DigestFromBytes creates a Digest from a byte slice.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, ErrInvalidDigest
	}
	copy(d[:], b)
	return d, nil
}

// String returns the base58-encoded representation.
func (d Digest) String() string {
	return base58.Encode(d[:])
}

// Hex returns the hex-encoded representation.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// IsZero returns true if the digest is all zeros.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Bytes returns the digest as a byte slice.
func (d Digest) Bytes() []byte {
	return d[:]
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := DigestFromBase58(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
