package library

import "container/list"

// orderedSet is a set that remembers insertion order. Removing a member and
// adding it again moves it to the end. Has, Add and Remove are O(1).
type orderedSet[T comparable] struct {
	index map[T]*list.Element
	order *list.List
}

func newOrderedSet[T comparable]() *orderedSet[T] {
	return &orderedSet[T]{index: make(map[T]*list.Element), order: list.New()}
}

func (s *orderedSet[T]) Has(v T) bool {
	_, ok := s.index[v]
	return ok
}

// Add inserts v and reports whether it was absent.
func (s *orderedSet[T]) Add(v T) bool {
	if s.Has(v) {
		return false
	}
	s.index[v] = s.order.PushBack(v)
	return true
}

// Remove deletes v and reports whether it was present.
func (s *orderedSet[T]) Remove(v T) bool {
	e, ok := s.index[v]
	if !ok {
		return false
	}
	delete(s.index, v)
	s.order.Remove(e)
	return true
}

func (s *orderedSet[T]) Len() int { return s.order.Len() }

// Slice returns a copy of the members in order. Never nil.
func (s *orderedSet[T]) Slice() []T {
	out := make([]T, 0, s.order.Len())
	for e := s.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(T))
	}
	return out
}
