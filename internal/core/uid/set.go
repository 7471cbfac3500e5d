package uid

import "errors"

// None is the id of an object that has not been added to a Set.
const None = -1

const defaultCapacity = 16

// ErrFull is returned by Add on a bounded Set with no free slot.
var ErrFull = errors.New("uid: set is full")

// Identifiable is an object that can be stored in a Set. Only the Set
// assigns ids.
type Identifiable interface {
	UID() int
	SetUID(id int)
}

// Object is the constraint on Set elements, in practice a pointer to a
// struct embedding Handle.
type Object interface {
	comparable
	Identifiable
}

// Handle is embedded by types stored in a Set. The zero Handle is
// unassigned and reports None.
type Handle struct {
	slot int // id+1
}

func (h *Handle) UID() int { return h.slot - 1 }

func (h *Handle) SetUID(id int) { h.slot = id + 1 }

// Set maps small non-negative ids to live objects. Ids of removed objects are
// recycled LIFO before any new id is used.
//
// Slot invariants: a slot is either empty or holds exactly one object whose
// UID equals the slot index; an id is on the free stack iff its slot is empty
// and the id is below Size.
//
// A Set is not safe for concurrent use.
type Set[T Object] struct {
	slots    []T
	occupied []bool
	size     int
	capacity int
	bounded  bool
	free     *Stack

	// Ids released while an iteration is running, returned to free when
	// the outermost ForEach finishes.
	iterating int
	retired   []int
	snapshot  []T
}

// NewSet returns a Set that grows past its initial capacity on demand.
func NewSet[T Object](capacity int) *Set[T] {
	return newSet[T](capacity, false)
}

// NewBoundedSet returns a Set that never holds more than capacity objects.
func NewBoundedSet[T Object](capacity int) *Set[T] {
	return newSet[T](capacity, true)
}

func newSet[T Object](capacity int, bounded bool) *Set[T] {
	if capacity < 0 {
		capacity = 0
	}
	if !bounded && capacity == 0 {
		capacity = defaultCapacity
	}
	return &Set[T]{
		slots:    make([]T, capacity),
		occupied: make([]bool, capacity),
		capacity: capacity,
		bounded:  bounded,
		free:     NewStack(capacity),
	}
}

// IsFull reports whether every slot up to capacity is in use.
func (s *Set[T]) IsFull() bool {
	return s.size == s.capacity && s.free.IsEmpty()
}

// Add stores obj under a free id, sets obj's UID and returns it.
func (s *Set[T]) Add(obj T) (int, error) {
	if s.IsFull() {
		if s.bounded {
			return None, ErrFull
		}
		s.grow(s.capacity * 2)
	}
	id, ok := s.free.Pop()
	if !ok {
		id = s.size
		s.size++
	}
	obj.SetUID(id)
	s.slots[id] = obj
	s.occupied[id] = true
	return id, nil
}

func (s *Set[T]) grow(minCapacity int) {
	if minCapacity <= s.capacity {
		minCapacity = s.capacity + 1
	}
	slots := make([]T, minCapacity)
	copy(slots, s.slots)
	occupied := make([]bool, minCapacity)
	copy(occupied, s.occupied)
	s.slots, s.occupied, s.capacity = slots, occupied, minCapacity
}

// Get returns the object stored under id.
func (s *Set[T]) Get(id int) (T, bool) {
	if id < 0 || id >= s.size || !s.occupied[id] {
		var zero T
		return zero, false
	}
	return s.slots[id], true
}

// Remove empties the slot for id and releases the id for reuse. The removed
// object keeps its UID; callers must not use it as an identity afterwards.
func (s *Set[T]) Remove(id int) (T, bool) {
	obj, ok := s.Get(id)
	if !ok {
		return obj, false
	}
	var zero T
	s.slots[id] = zero
	s.occupied[id] = false
	if s.iterating > 0 {
		s.retired = append(s.retired, id)
	} else {
		s.free.Push(id)
	}
	return obj, true
}

// RemoveObject removes obj only if it is the object currently stored under
// its UID. It is a no-op for an object already removed, even if its id has
// since been reassigned.
func (s *Set[T]) RemoveObject(obj T) bool {
	cur, ok := s.Get(obj.UID())
	if !ok || cur != obj {
		return false
	}
	s.Remove(obj.UID())
	return true
}

// ForEach calls fn for every object present when ForEach was called, in id
// order. Objects removed before their turn are skipped; objects added during
// the iteration are not visited.
func (s *Set[T]) ForEach(fn func(T)) {
	start := len(s.snapshot)
	for id := 0; id < s.size; id++ {
		if s.occupied[id] {
			s.snapshot = append(s.snapshot, s.slots[id])
		}
	}
	end := len(s.snapshot)

	s.iterating++
	defer s.endIteration(start)

	for i := start; i < end; i++ {
		obj := s.snapshot[i]
		if cur, ok := s.Get(obj.UID()); ok && cur == obj {
			fn(obj)
		}
	}
}

func (s *Set[T]) endIteration(start int) {
	var zero T
	for i := start; i < len(s.snapshot); i++ {
		s.snapshot[i] = zero
	}
	s.snapshot = s.snapshot[:start]

	s.iterating--
	if s.iterating > 0 {
		return
	}
	for _, id := range s.retired {
		s.free.Push(id)
	}
	s.retired = s.retired[:0]
}

// Len returns the number of live objects.
func (s *Set[T]) Len() int {
	return s.size - s.free.Len() - len(s.retired)
}

// Size returns the highest id ever used plus one.
func (s *Set[T]) Size() int { return s.size }

func (s *Set[T]) Capacity() int { return s.capacity }
