package estimator

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/bits"
)

const (
	// NumRegisters is the register array size m. Must stay a power of
	// two; 64 keeps the serialized form small enough to live inside a
	// rollup document while giving roughly 13% relative standard error.
	NumRegisters = 64

	indexBits     = 6  // log2(NumRegisters)
	remainderBits = 64 - indexBits

	// Bias correction constant tuned for m=64.
	alpha = 0.709

	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// Sketch is a fixed-size HyperLogLog-style cardinality estimator over
// opaque string identifiers.
type Sketch struct {
	registers [NumRegisters]uint8
}

// New creates an empty sketch.
func New() *Sketch {
	return &Sketch{}
}

func fnv1a64(s string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}

// Add observes one identifier. The low bits of the hash select a
// register, the remaining bits determine the rank recorded there.
func (s *Sketch) Add(value string) {
	h := fnv1a64(value)
	idx := h & (NumRegisters - 1)
	remainder := h >> indexBits

	var zeros int
	if remainder == 0 {
		zeros = remainderBits
	} else {
		zeros = bits.LeadingZeros64(remainder) - indexBits
	}
	rank := uint8(zeros + 1)
	if rank > s.registers[idx] {
		s.registers[idx] = rank
	}
}

// Merge folds other into s by taking the element-wise register maximum.
// Commutative and idempotent, so repeated merges of the same input are
// harmless.
func (s *Sketch) Merge(other *Sketch) {
	for i, r := range other.registers {
		if r > s.registers[i] {
			s.registers[i] = r
		}
	}
}

// Count estimates the number of distinct values added so far. The raw
// harmonic-mean estimate is replaced by linear counting in the small
// range, where it is far more accurate. No large-range correction is
// applied at this register count.
func (s *Sketch) Count() uint64 {
	sum := 0.0
	zeroRegisters := 0
	for _, r := range s.registers {
		sum += math.Exp2(-float64(r))
		if r == 0 {
			zeroRegisters++
		}
	}

	m := float64(NumRegisters)
	estimate := alpha * m * m / sum
	if estimate <= 2.5*m && zeroRegisters > 0 {
		estimate = m * math.Log(m/float64(zeroRegisters))
	}
	return uint64(math.Round(estimate))
}

// Clone returns an independent copy, so callers never mutate a sketch
// borrowed from a document cache.
func (s *Sketch) Clone() *Sketch {
	c := &Sketch{}
	c.registers = s.registers
	return c
}

// Serialize encodes the register array as fixed-length base64 text for
// storage inside a rollup document.
func (s *Sketch) Serialize() string {
	return base64.StdEncoding.EncodeToString(s.registers[:])
}

// Deserialize reconstructs a sketch from its Serialize output.
func Deserialize(encoded string) (*Sketch, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sketch: %w", err)
	}
	if len(raw) != NumRegisters {
		return nil, fmt.Errorf("invalid sketch length: got %d registers, want %d", len(raw), NumRegisters)
	}
	s := &Sketch{}
	copy(s.registers[:], raw)
	return s, nil
}
