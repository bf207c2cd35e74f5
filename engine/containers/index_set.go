package containers

import "golang.org/x/exp/slices"

// IndexSet is an ordered set of free indices. PopLowest always hands out
// the smallest member, which keeps descriptor pools densely packed.
type IndexSet struct {
	items []uint32
}

func NewIndexSet() *IndexSet {
	return &IndexSet{}
}

// Insert adds index to the set. Returns false if it was already present.
func (s *IndexSet) Insert(index uint32) bool {
	pos, found := slices.BinarySearch(s.items, index)
	if found {
		return false
	}
	s.items = slices.Insert(s.items, pos, index)
	return true
}

func (s *IndexSet) Contains(index uint32) bool {
	_, found := slices.BinarySearch(s.items, index)
	return found
}

// Remove deletes index from the set. Returns false if it was not present.
func (s *IndexSet) Remove(index uint32) bool {
	pos, found := slices.BinarySearch(s.items, index)
	if !found {
		return false
	}
	s.items = slices.Delete(s.items, pos, pos+1)
	return true
}

func (s *IndexSet) PopLowest() (uint32, bool) {
	if len(s.items) == 0 {
		return 0, false
	}
	index := s.items[0]
	s.items = slices.Delete(s.items, 0, 1)
	return index, true
}

func (s *IndexSet) Len() int {
	return len(s.items)
}

func (s *IndexSet) Clear() {
	s.items = s.items[:0]
}
