package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instanceEntry struct {
	name  string
	count uint32
}

func TestFreeListReusesFreedSlot(t *testing.T) {
	fl := NewFreeList[instanceEntry](4)

	a := fl.Allocate(instanceEntry{name: "a", count: 5})
	b := fl.Allocate(instanceEntry{name: "b", count: 7})
	require.NoError(t, fl.Remove(a))

	c := fl.Allocate(instanceEntry{name: "c", count: 3})
	assert.Equal(t, a.Index, c.Index)
	assert.NotEqual(t, a.Generation, c.Generation)
	assert.Equal(t, 2, fl.Cap())

	got, ok := fl.Get(b)
	require.True(t, ok)
	assert.Equal(t, "b", got.name)
	assert.Equal(t, uint32(7), got.count)
}

func TestFreeListStaleHandle(t *testing.T) {
	fl := NewFreeList[instanceEntry](0)

	h := fl.Allocate(instanceEntry{name: "a"})
	require.NoError(t, fl.Remove(h))

	_, ok := fl.Get(h)
	assert.False(t, ok)
	assert.ErrorIs(t, fl.Remove(h), ErrInvalidHandle)

	reused := fl.Allocate(instanceEntry{name: "b"})
	_, ok = fl.Get(h)
	assert.False(t, ok, "old handle must not alias the new occupant")

	got, ok := fl.Get(reused)
	require.True(t, ok)
	assert.Equal(t, "b", got.name)
}

func TestFreeListOutOfRange(t *testing.T) {
	fl := NewFreeList[int](0)
	_, ok := fl.Get(Handle{Index: 3})
	assert.False(t, ok)
	_, ok = fl.Get(InvalidHandle)
	assert.False(t, ok)
	assert.False(t, InvalidHandle.IsValid())
}

func TestFreeListChurnKeepsLiveHandles(t *testing.T) {
	fl := NewFreeList[int](0)
	live := map[Handle]int{}

	for i := 0; i < 64; i++ {
		h := fl.Allocate(i)
		live[h] = i
		if i%3 == 0 {
			require.NoError(t, fl.Remove(h))
			delete(live, h)
		}
	}

	assert.Equal(t, len(live), fl.Len())
	for h, want := range live {
		got, ok := fl.Get(h)
		require.True(t, ok)
		assert.Equal(t, want, *got)
	}
}

func TestFreeListClearInvalidatesEverything(t *testing.T) {
	fl := NewFreeList[int](0)
	a := fl.Allocate(1)
	b := fl.Allocate(2)
	fl.Clear()

	_, ok := fl.Get(a)
	assert.False(t, ok)
	_, ok = fl.Get(b)
	assert.False(t, ok)
	assert.Equal(t, 0, fl.Len())

	c := fl.Allocate(3)
	assert.Equal(t, uint32(0), c.Index)

	visited := 0
	fl.Each(func(h Handle, v *int) bool {
		visited++
		assert.Equal(t, c, h)
		return true
	})
	assert.Equal(t, 1, visited)
}

func TestFreeListPointersSurviveGrowth(t *testing.T) {
	fl := NewFreeList[int](1)
	h := fl.Allocate(7)
	p, ok := fl.Get(h)
	require.True(t, ok)

	for i := 0; i < 100; i++ {
		fl.Allocate(i)
	}
	*p = 42

	got, ok := fl.Get(h)
	require.True(t, ok)
	assert.Equal(t, 42, *got)
}
