package containers

import "errors"

var ErrInvalidHandle = errors.New("handle does not refer to a live slot")

/**
 * @brief A stable reference into a FreeList. The generation is bumped
 * every time the slot is removed, so a handle kept past its Remove
 * can never resolve to the slot's next occupant.
 */
type Handle struct {
	Index      uint32
	Generation uint32
}

// InvalidHandle never resolves.
var InvalidHandle = Handle{Index: ^uint32(0), Generation: ^uint32(0)}

func (h Handle) IsValid() bool {
	return h != InvalidHandle
}

type freeListSlot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

/**
 * @brief Arena of T addressed by generation-checked handles. Slots are
 * never relocated, freed slots are reused last-in first-out and the
 * backing storage only grows with the peak live count.
 * Not safe for concurrent use.
 */
type FreeList[T any] struct {
	slots []*freeListSlot[T]
	free  []uint32
	live  int
}

func NewFreeList[T any](capacityHint int) *FreeList[T] {
	return &FreeList[T]{
		slots: make([]*freeListSlot[T], 0, capacityHint),
	}
}

// Allocate stores value in a free slot, appending a new one when none is free.
func (fl *FreeList[T]) Allocate(value T) Handle {
	fl.live++
	if n := len(fl.free); n > 0 {
		index := fl.free[n-1]
		fl.free = fl.free[:n-1]
		slot := fl.slots[index]
		slot.value = value
		slot.occupied = true
		return Handle{Index: index, Generation: slot.generation}
	}
	fl.slots = append(fl.slots, &freeListSlot[T]{value: value, occupied: true})
	return Handle{Index: uint32(len(fl.slots) - 1)}
}

// Remove releases the slot behind h. Removing a stale or unknown handle is an error and changes nothing.
func (fl *FreeList[T]) Remove(h Handle) error {
	slot := fl.slot(h)
	if slot == nil {
		return ErrInvalidHandle
	}
	var zero T
	slot.value = zero
	slot.occupied = false
	slot.generation++
	fl.free = append(fl.free, h.Index)
	fl.live--
	return nil
}

// Get returns a pointer to the live value behind h. The pointer stays valid until h is removed.
func (fl *FreeList[T]) Get(h Handle) (*T, bool) {
	slot := fl.slot(h)
	if slot == nil {
		return nil, false
	}
	return &slot.value, true
}

func (fl *FreeList[T]) Len() int {
	return fl.live
}

// Cap is the number of slots ever allocated, live or free.
func (fl *FreeList[T]) Cap() int {
	return len(fl.slots)
}

// Each visits live entries in slot order. Returning false stops the walk.
func (fl *FreeList[T]) Each(fn func(h Handle, value *T) bool) {
	for i := range fl.slots {
		slot := fl.slots[i]
		if !slot.occupied {
			continue
		}
		if !fn(Handle{Index: uint32(i), Generation: slot.generation}, &slot.value) {
			return
		}
	}
}

// Clear drops every entry and invalidates all outstanding handles.
func (fl *FreeList[T]) Clear() {
	var zero T
	fl.free = fl.free[:0]
	for i := len(fl.slots) - 1; i >= 0; i-- {
		slot := fl.slots[i]
		if slot.occupied {
			slot.value = zero
			slot.occupied = false
			slot.generation++
		}
		fl.free = append(fl.free, uint32(i))
	}
	fl.live = 0
}

func (fl *FreeList[T]) slot(h Handle) *freeListSlot[T] {
	if int(h.Index) >= len(fl.slots) {
		return nil
	}
	slot := fl.slots[h.Index]
	if !slot.occupied || slot.generation != h.Generation {
		return nil
	}
	return slot
}
