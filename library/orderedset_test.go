package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderedSet(t *testing.T) {
	s := newOrderedSet[string]()
	assert.Equal(t, []string{}, s.Slice())

	for _, v := range []string{"a", "b", "c", "d"} {
		assert.True(t, s.Add(v))
	}
	assert.False(t, s.Add("b"))
	assert.Equal(t, 4, s.Len())

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.False(t, s.Has("b"))
	assert.Equal(t, []string{"a", "c", "d"}, s.Slice())

	// Re-adding moves to the end; neighbours keep their order.
	assert.True(t, s.Add("b"))
	assert.True(t, s.Remove("a"))
	assert.Equal(t, []string{"c", "d", "b"}, s.Slice())
	assert.True(t, s.Has("d"))

	out := s.Slice()
	out[0] = "x"
	assert.Equal(t, []string{"c", "d", "b"}, s.Slice())
}
