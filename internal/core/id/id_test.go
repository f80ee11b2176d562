package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortUnique(t *testing.T) {
	a := MustParse("00000000-0000-0000-0000-000000000001")
	b := MustParse("00000000-0000-0000-0000-000000000002")
	c := MustParse("10000000-0000-0000-0000-000000000000")

	got := SortUnique([]ID{c, a, b, a, c})

	assert.Equal(t, []ID{a, b, c}, got)
}

func TestNew_IsTimeOrdered(t *testing.T) {
	first := New()
	second := New()
	assert.False(t, IsNil(first))
	assert.True(t, Less(first, second) || first == second)
}

func TestNamed_IsStable(t *testing.T) {
	a := Named("Paracetamol 500mg")
	assert.Equal(t, a, Named("Paracetamol 500mg"))
	assert.NotEqual(t, a, Named("Ibuprofen 200mg"))
	assert.False(t, IsNil(a))
}
