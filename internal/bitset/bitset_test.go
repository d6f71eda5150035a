package bitset

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetClear(t *testing.T) {
	var s Set
	assert.True(t, s.Empty())

	for _, v := range []uint32{0, 31, 32, 1000, 5} {
		s.Set(v)
	}
	for _, v := range []uint32{0, 5, 31, 32, 1000} {
		assert.True(t, s.Get(v), "Get(%d)", v)
	}
	assert.False(t, s.Get(1))
	assert.False(t, s.Get(999))
	assert.Equal(t, 5, s.Len())

	s.Clear(32)
	assert.False(t, s.Get(32))
	s.Clear(32)
	assert.Equal(t, 4, s.Len())
}

func TestIterationAscendingNoDuplicates(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		var in []uint32
		var s Set
		for range 200 {
			v := r.Uint32N(5000)
			in = append(in, v)
			s.Set(v)
		}
		slices.Sort(in)
		want := slices.Compact(in)
		require.Equal(t, want, s.Values())
	}
}

func TestIntersectCommutes(t *testing.T) {
	a := Of(1, 2, 3, 64, 65, 4000)
	b := Of(2, 3, 4, 65, 3999)
	ab := Intersect(a, b)
	ba := Intersect(b, a)
	assert.Equal(t, ab.Values(), ba.Values())
	assert.Equal(t, []uint32{2, 3, 65}, ab.Values())
}

func TestDifferenceWithSelfIsEmpty(t *testing.T) {
	a := Of(7, 8, 100, 31, 32)
	d := Difference(a, a)
	assert.True(t, d.Empty())

	b := Of(8, 32, 500)
	d = Difference(a, b)
	assert.Equal(t, []uint32{7, 31, 100}, d.Values())
}

func TestUnion(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	a := Of()
	b := Of()
	for range 100 {
		a.Set(r.Uint32N(2000))
		b.Set(r.Uint32N(2000))
	}
	orig := Set{words: slices.Clone(a.words)}
	a.Union(b)
	for i := uint32(0); i < 2000; i++ {
		assert.Equal(t, orig.Get(i) || b.Get(i), a.Get(i), "value %d", i)
	}
}

func TestAllStopsEarly(t *testing.T) {
	s := Of(1, 2, 3, 4)
	var got []uint32
	for v := range s.All() {
		got = append(got, v)
		if v == 2 {
			break
		}
	}
	assert.Equal(t, []uint32{1, 2}, got)
}
