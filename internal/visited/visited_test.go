package visited

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVisit(t *testing.T) {
	s := New()

	assert.False(t, s.Visited(42))
	assert.Equal(t, 0, s.Len())

	s.Visit(42)
	s.Visit(7)
	s.Visit(42)

	assert.True(t, s.Visited(42))
	assert.True(t, s.Visited(7))
	assert.False(t, s.Visited(43))
	assert.Equal(t, 2, s.Len())
}

func TestLargeIDs(t *testing.T) {
	s := New()

	s.Visit(1 << 40)
	assert.True(t, s.Visited(1<<40))
	assert.False(t, s.Visited(1<<40+1))
}

func TestReset(t *testing.T) {
	s := New()
	s.Visit(1)
	s.Visit(2)

	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Visited(1))
}
