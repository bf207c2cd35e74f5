package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexSetPopsLowest(t *testing.T) {
	s := NewIndexSet()
	for _, i := range []uint32{9, 3, 7, 1} {
		assert.True(t, s.Insert(i))
	}
	assert.False(t, s.Insert(3))
	assert.Equal(t, 4, s.Len())

	var order []uint32
	for {
		i, ok := s.PopLowest()
		if !ok {
			break
		}
		order = append(order, i)
	}
	assert.Equal(t, []uint32{1, 3, 7, 9}, order)
}

func TestIndexSetRemove(t *testing.T) {
	s := NewIndexSet()
	s.Insert(4)
	s.Insert(2)
	assert.True(t, s.Contains(4))
	assert.True(t, s.Remove(4))
	assert.False(t, s.Remove(4))
	assert.False(t, s.Contains(4))

	s.Clear()
	_, ok := s.PopLowest()
	assert.False(t, ok)
}
