// Package bitset provides the level-occupancy bitsets used by the book to
// track non-empty price levels and to find the next best price in O(words)
// with hardware bit scans.
package bitset

import "math/bits"

const wordBits = 32

// None is returned by the scan functions when no set bit exists in range.
const None = int32(-1)

// Set is a fixed-length bitset over [0, Len) with 32-bit words.
type Set struct {
	words []uint32
	n     int32
}

// New returns a cleared bitset of length n.
func New(n int32) *Set {
	return &Set{
		words: make([]uint32, (int(n)+wordBits-1)/wordBits),
		n:     n,
	}
}

// Len returns the number of addressable bits.
func (s *Set) Len() int32 { return s.n }

// Set marks bit i.
func (s *Set) Set(i int32) {
	s.words[i/wordBits] |= 1 << uint(i%wordBits)
}

// Clear unmarks bit i.
func (s *Set) Clear(i int32) {
	s.words[i/wordBits] &^= 1 << uint(i%wordBits)
}

// Test reports whether bit i is set.
func (s *Set) Test(i int32) bool {
	return s.words[i/wordBits]&(1<<uint(i%wordBits)) != 0
}

// NextSet returns the lowest set bit >= from, or None.
func (s *Set) NextSet(from int32) int32 {
	if from < 0 {
		from = 0
	}
	if from >= s.n {
		return None
	}
	w := int(from) / wordBits
	// Mask off bits below from within the first word.
	word := s.words[w] & (^uint32(0) << uint(from%wordBits))
	for {
		if word != 0 {
			i := int32(w*wordBits + bits.TrailingZeros32(word))
			if i >= s.n {
				return None
			}
			return i
		}
		w++
		if w >= len(s.words) {
			return None
		}
		word = s.words[w]
	}
}

// PrevSet returns the highest set bit <= from, or None.
func (s *Set) PrevSet(from int32) int32 {
	if from >= s.n {
		from = s.n - 1
	}
	if from < 0 {
		return None
	}
	w := int(from) / wordBits
	// Mask off bits above from within the first word.
	word := s.words[w] & (^uint32(0) >> uint(wordBits-1-int(from)%wordBits))
	for {
		if word != 0 {
			return int32(w*wordBits + wordBits - 1 - bits.LeadingZeros32(word))
		}
		w--
		if w < 0 {
			return None
		}
		word = s.words[w]
	}
}

// Words exposes the raw backing words for hashing and snapshots. The slice
// aliases internal storage; callers must not mutate it.
func (s *Set) Words() []uint32 { return s.words }

// Reset clears every bit.
func (s *Set) Reset() {
	for i := range s.words {
		s.words[i] = 0
	}
}
