// Package bitflags implements a byte-packed boolean sequence used to
// encode multiple true/false values in a fixed column order.
//
// Bits are stored most-significant-bit first and padded to the nearest
// multiple of 8. Trailing all-zero bytes are trimmed during
// construction, so two sequences that differ only in trailing false
// bits compare equal and serialize to the same bytes:
//
//	bitflags.New(true, true, false, true) == bitflags.FromBytes([]byte{0xd0})
//
// A BitFlags value serves two distinct purposes that callers must not
// conflate: a structure-level selector (which label columns belong to
// an aggregation level) and a relation mapping level (which label
// columns were unambiguously specified when the relation was mapped).
package bitflags

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// BitFlags is an immutable, comparable sequence of bits. The zero value
// is the empty sequence (all bits false). Values are safe to use as map
// keys and to compare with ==.
type BitFlags struct {
	// b holds the packed bits MSB-first with trailing zero bytes
	// trimmed. A string keeps the value immutable and comparable.
	b string
}

// New creates a BitFlags from the given bits.
func New(bits ...bool) BitFlags {
	return FromBools(bits)
}

// FromBools creates a BitFlags from a slice of booleans.
func FromBools(bits []bool) BitFlags {
	if len(bits) == 0 {
		return BitFlags{}
	}
	packed := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			packed[i/8] |= 1 << (7 - i%8)
		}
	}
	return BitFlags{b: string(trimTrailingZeros(packed))}
}

// FromBytes creates a BitFlags from packed bytes. Trailing zero bytes
// are trimmed so the result is in canonical form.
func FromBytes(data []byte) BitFlags {
	return BitFlags{b: string(trimTrailingZeros(data))}
}

// FromIndexes creates a BitFlags with the bits at the given positions
// set. Negative positions are ignored.
func FromIndexes(indexes ...int) BitFlags {
	max := -1
	for _, i := range indexes {
		if i > max {
			max = i
		}
	}
	if max < 0 {
		return BitFlags{}
	}
	bits := make([]bool, max+1)
	for _, i := range indexes {
		if i >= 0 {
			bits[i] = true
		}
	}
	return FromBools(bits)
}

// Bytes returns the packed byte representation with trailing zero
// bytes trimmed. The returned slice is a copy.
func (f BitFlags) Bytes() []byte {
	return []byte(f.b)
}

// Len returns the number of stored bits, always a multiple of 8.
// Logically the sequence extends past Len with false bits.
func (f BitFlags) Len() int {
	return len(f.b) * 8
}

// Get reports whether the bit at position i is set. Positions at or
// past Len report false, matching the trailing-false-bit semantics.
func (f BitFlags) Get(i int) bool {
	if i < 0 || i >= f.Len() {
		return false
	}
	return f.b[i/8]>>(7-i%8)&1 == 1
}

// Bits expands the sequence to n booleans. Positions past the stored
// length are false.
func (f BitFlags) Bits(n int) []bool {
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = f.Get(i)
	}
	return bits
}

// Slice returns a new BitFlags holding the bits in [start, end).
// Out-of-range positions read as false.
func (f BitFlags) Slice(start, end int) BitFlags {
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}
	bits := make([]bool, end-start)
	for i := range bits {
		bits[i] = f.Get(start + i)
	}
	return FromBools(bits)
}

// Or returns the bitwise union of f and other.
func (f BitFlags) Or(other BitFlags) BitFlags {
	longer, shorter := f.b, other.b
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}
	merged := []byte(longer)
	for i := 0; i < len(shorter); i++ {
		merged[i] |= shorter[i]
	}
	// No trimming needed: union of set bits cannot create new
	// trailing zero bytes.
	return BitFlags{b: string(merged)}
}

// And returns the bitwise intersection of f and other.
func (f BitFlags) And(other BitFlags) BitFlags {
	shorter := f.b
	if len(other.b) < len(shorter) {
		shorter = other.b
	}
	merged := make([]byte, len(shorter))
	for i := range merged {
		merged[i] = f.b[i] & other.b[i]
	}
	return BitFlags{b: string(trimTrailingZeros(merged))}
}

// Covers reports whether every set bit of other is also set in f,
// tested as OR-equality: f.Or(other) == f.
func (f BitFlags) Covers(other BitFlags) bool {
	return f.Or(other) == f
}

// IsEmpty reports whether no bit is set.
func (f BitFlags) IsEmpty() bool {
	return len(f.b) == 0
}

// Count returns the number of set bits.
func (f BitFlags) Count() int {
	n := 0
	for i := 0; i < len(f.b); i++ {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if f.b[i]&mask != 0 {
				n++
			}
		}
	}
	return n
}

// SetBits returns the positions of all set bits in ascending order.
func (f BitFlags) SetBits() []int {
	var positions []int
	for i := 0; i < f.Len(); i++ {
		if f.Get(i) {
			positions = append(positions, i)
		}
	}
	return positions
}

// Complement returns a BitFlags of width n with every bit flipped:
// set where f is false, clear where f is true. Used to derive the
// ambiguous column set from a mapping level.
func (f BitFlags) Complement(n int) BitFlags {
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = !f.Get(i)
	}
	return FromBools(bits)
}

// String returns a readable representation such as
// "BitFlags(1, 1, 0, 1, 0, 0, 0, 0)".
func (f BitFlags) String() string {
	var sb strings.Builder
	sb.WriteString("BitFlags(")
	for i := 0; i < f.Len(); i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if f.Get(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler using a compact
// hex form so values survive YAML and JSON round trips.
func (f BitFlags) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString([]byte(f.b))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *BitFlags) UnmarshalText(text []byte) error {
	data, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid hex bit flags %q: %w", text, err)
	}
	*f = FromBytes(data)
	return nil
}

func trimTrailingZeros(data []byte) []byte {
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return data[:end]
}
