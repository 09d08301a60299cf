// Package hashing provides the integrity fingerprints used to detect
// membership drift between an index and the records that reference it.
//
// A SequenceHash consumes a strictly increasing sequence of ids and
// produces a SHA-256 digest that changes iff the set of ids changes.
// It fingerprints a node's whole index (index_hash) and, per crosswalk,
// the set of external ids covered by its relations (other_index_hash).
package hashing

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/shawnbrown/toron/pkg/errors"
)

// SequenceHash computes a SHA-256 digest over a strictly increasing
// sequence of unsigned 64-bit integers. Each value is fed to the hash
// as an 8-byte big-endian word, so equal sets of ids always produce
// equal digests regardless of how they were batched.
//
// The zero value is not usable; create instances with NewSequenceHash.
type SequenceHash struct {
	h     hash.Hash
	last  uint64
	count int
}

// NewSequenceHash creates an empty SequenceHash.
func NewSequenceHash() *SequenceHash {
	return &SequenceHash{h: sha256.New()}
}

// AddValue feeds the next id into the hash. Values must be strictly
// increasing; a value less than or equal to the previous one returns
// an IntegrityCollisionError and leaves the hash unchanged.
func (s *SequenceHash) AddValue(value uint64) error {
	if s.count > 0 && value <= s.last {
		return errors.NewIntegrityCollisionError(
			value, "sequence values must be strictly increasing")
	}

	var word [8]byte
	binary.BigEndian.PutUint64(word[:], value)
	s.h.Write(word[:])

	s.last = value
	s.count++
	return nil
}

// Count returns the number of values added so far.
func (s *SequenceHash) Count() int {
	return s.count
}

// Hexdigest returns the hex-encoded SHA-256 digest of the values added
// so far. An empty sequence yields the digest of the empty message.
func (s *SequenceHash) Hexdigest() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

// HashSequence is a convenience wrapper that hashes a complete slice
// of ids in one call. The slice must already be strictly increasing.
func HashSequence(values []uint64) (string, error) {
	s := NewSequenceHash()
	for _, v := range values {
		if err := s.AddValue(v); err != nil {
			return "", err
		}
	}
	return s.Hexdigest(), nil
}
