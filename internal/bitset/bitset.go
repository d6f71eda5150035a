// Package bitset implements a sparse set of non-negative integers stored as
// an ordered sequence of 32-bit words.
package bitset

import (
	"iter"
	"math/bits"
	"slices"
)

const wordBits = 32

type word struct {
	index uint32
	bits  uint32
}

// Set is a sparse bit set. The zero value is an empty set.
// Words are kept sorted by index and never hold zero bits.
type Set struct {
	words []word
}

// Of returns a set holding the given values.
func Of(values ...uint32) Set {
	var s Set
	for _, v := range values {
		s.Set(v)
	}
	return s
}

func (s *Set) search(index uint32) (int, bool) {
	return slices.BinarySearchFunc(s.words, index, func(w word, idx uint32) int {
		switch {
		case w.index < idx:
			return -1
		case w.index > idx:
			return 1
		}
		return 0
	})
}

// Get reports whether i is in the set.
func (s *Set) Get(i uint32) bool {
	pos, ok := s.search(i / wordBits)
	return ok && s.words[pos].bits&(1<<(i%wordBits)) != 0
}

// Set adds i to the set.
func (s *Set) Set(i uint32) {
	pos, ok := s.search(i / wordBits)
	if ok {
		s.words[pos].bits |= 1 << (i % wordBits)
		return
	}
	s.words = slices.Insert(s.words, pos, word{index: i / wordBits, bits: 1 << (i % wordBits)})
}

// Clear removes i from the set.
func (s *Set) Clear(i uint32) {
	pos, ok := s.search(i / wordBits)
	if !ok {
		return
	}
	s.words[pos].bits &^= 1 << (i % wordBits)
	if s.words[pos].bits == 0 {
		s.words = slices.Delete(s.words, pos, pos+1)
	}
}

// Len returns the number of values in the set.
func (s *Set) Len() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount32(w.bits)
	}
	return n
}

// Empty reports whether the set has no values.
func (s *Set) Empty() bool { return len(s.words) == 0 }

// Union adds every value of other to s.
func (s *Set) Union(other Set) {
	out := make([]word, 0, len(s.words)+len(other.words))
	i, j := 0, 0
	for i < len(s.words) && j < len(other.words) {
		a, b := s.words[i], other.words[j]
		switch {
		case a.index < b.index:
			out = append(out, a)
			i++
		case a.index > b.index:
			out = append(out, b)
			j++
		default:
			out = append(out, word{index: a.index, bits: a.bits | b.bits})
			i++
			j++
		}
	}
	out = append(out, s.words[i:]...)
	out = append(out, other.words[j:]...)
	s.words = out
}

// Intersect returns the values present in both a and b.
func Intersect(a, b Set) Set {
	var out []word
	i, j := 0, 0
	for i < len(a.words) && j < len(b.words) {
		x, y := a.words[i], b.words[j]
		switch {
		case x.index < y.index:
			i++
		case x.index > y.index:
			j++
		default:
			if v := x.bits & y.bits; v != 0 {
				out = append(out, word{index: x.index, bits: v})
			}
			i++
			j++
		}
	}
	return Set{words: out}
}

// Difference returns the values of a that are not in b.
func Difference(a, b Set) Set {
	var out []word
	j := 0
	for _, x := range a.words {
		for j < len(b.words) && b.words[j].index < x.index {
			j++
		}
		v := x.bits
		if j < len(b.words) && b.words[j].index == x.index {
			v &^= b.words[j].bits
		}
		if v != 0 {
			out = append(out, word{index: x.index, bits: v})
		}
	}
	return Set{words: out}
}

// All yields the values of the set in ascending order.
func (s *Set) All() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for _, w := range s.words {
			b := w.bits
			for b != 0 {
				tz := uint32(bits.TrailingZeros32(b))
				if !yield(w.index*wordBits + tz) {
					return
				}
				b &= b - 1
			}
		}
	}
}

// Values returns the values of the set in ascending order.
func (s *Set) Values() []uint32 {
	return slices.Collect(s.All())
}
