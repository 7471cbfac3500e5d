package uid

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Handle
	name string
}

func newItem(name string) *item { return &item{name: name} }

func TestHandleDefaultsToNone(t *testing.T) {
	it := newItem("a")
	assert.Equal(t, None, it.UID())
}

func TestStackLIFO(t *testing.T) {
	s := NewStack(0)
	_, ok := s.Pop()
	assert.False(t, ok)

	s.Push(3)
	s.Push(7)
	assert.Equal(t, 2, s.Len())

	v, _ := s.Pop()
	assert.Equal(t, 7, v)
	v, _ = s.Pop()
	assert.Equal(t, 3, v)
	assert.True(t, s.IsEmpty())
}

func TestSetAddAssignsSequentialIDs(t *testing.T) {
	s := NewSet[*item](2)
	for want := 0; want < 5; want++ {
		it := newItem("x")
		id, err := s.Add(it)
		require.NoError(t, err)
		assert.Equal(t, want, id)
		assert.Equal(t, want, it.UID())
	}
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 5, s.Size())
	assert.GreaterOrEqual(t, s.Capacity(), 5)
}

func TestSetReusesFreedIDBeforeHigherIDs(t *testing.T) {
	s := NewSet[*item](8)
	for i := 0; i < 4; i++ {
		_, err := s.Add(newItem("x"))
		require.NoError(t, err)
	}

	removed, ok := s.Remove(1)
	require.True(t, ok)
	assert.Equal(t, 1, removed.UID())
	_, ok = s.Remove(3)
	require.True(t, ok)

	id, err := s.Add(newItem("y"))
	require.NoError(t, err)
	assert.Equal(t, 3, id, "most recently freed id comes back first")

	id, err = s.Add(newItem("z"))
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	id, err = s.Add(newItem("w"))
	require.NoError(t, err)
	assert.Equal(t, 4, id)
}

func TestSetRemoveAbsent(t *testing.T) {
	s := NewSet[*item](4)
	_, ok := s.Remove(0)
	assert.False(t, ok)
	_, ok = s.Remove(-1)
	assert.False(t, ok)
	_, ok = s.Remove(99)
	assert.False(t, ok)

	id, _ := s.Add(newItem("a"))
	_, ok = s.Remove(id)
	require.True(t, ok)
	_, ok = s.Remove(id)
	assert.False(t, ok, "double remove is a no-op")
	assert.Equal(t, 0, s.Len())
}

func TestSetRemoveObjectIgnoresStaleHandle(t *testing.T) {
	s := NewSet[*item](4)
	old := newItem("old")
	id, _ := s.Add(old)
	require.True(t, s.RemoveObject(old))

	fresh := newItem("fresh")
	id2, _ := s.Add(fresh)
	require.Equal(t, id, id2)

	assert.False(t, s.RemoveObject(old), "stale object must not evict the new owner of its id")
	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestBoundedSetIsFull(t *testing.T) {
	s := NewBoundedSet[*item](2)
	assert.False(t, s.IsFull())

	_, err := s.Add(newItem("a"))
	require.NoError(t, err)
	_, err = s.Add(newItem("b"))
	require.NoError(t, err)
	assert.True(t, s.IsFull())

	_, err = s.Add(newItem("c"))
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 2, s.Len())

	s.Remove(0)
	assert.False(t, s.IsFull())
	id, err := s.Add(newItem("d"))
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	assert.True(t, s.IsFull())
}

func TestBoundedSetZeroCapacity(t *testing.T) {
	s := NewBoundedSet[*item](0)
	assert.True(t, s.IsFull())
	_, err := s.Add(newItem("a"))
	assert.ErrorIs(t, err, ErrFull)
}

func TestUnboundedSetGrowsWhenFull(t *testing.T) {
	s := NewSet[*item](1)
	_, err := s.Add(newItem("a"))
	require.NoError(t, err)
	assert.True(t, s.IsFull())

	first, _ := s.Get(0)
	id, err := s.Add(newItem("b"))
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	got, _ := s.Get(0)
	assert.Same(t, first, got, "growth must not overwrite existing slots")
}

func TestForEachVisitsInIDOrder(t *testing.T) {
	s := NewSet[*item](4)
	for _, n := range []string{"a", "b", "c", "d"} {
		s.Add(newItem(n))
	}
	s.Remove(2)

	var seen []int
	s.ForEach(func(it *item) { seen = append(seen, it.UID()) })
	assert.Equal(t, []int{0, 1, 3}, seen)
}

func TestForEachRemovalDefersIDReuse(t *testing.T) {
	s := NewSet[*item](4)
	for i := 0; i < 3; i++ {
		s.Add(newItem("x"))
	}

	var seen []int
	var added []int
	s.ForEach(func(it *item) {
		seen = append(seen, it.UID())
		if it.UID() == 0 {
			s.Remove(0)
			s.Remove(2)
			id, err := s.Add(newItem("late"))
			require.NoError(t, err)
			added = append(added, id)
		}
	})

	assert.Equal(t, []int{0, 1}, seen, "removed element skipped, added element not visited")
	require.Len(t, added, 1)
	assert.Equal(t, 3, added[0], "ids removed mid-iteration are not reused until it ends")

	id, _ := s.Add(newItem("after"))
	assert.Equal(t, 2, id)
	id, _ = s.Add(newItem("after"))
	assert.Equal(t, 0, id)
}

func TestNestedForEach(t *testing.T) {
	s := NewSet[*item](4)
	for i := 0; i < 3; i++ {
		s.Add(newItem("x"))
	}
	pairs := 0
	s.ForEach(func(a *item) {
		s.ForEach(func(b *item) { pairs++ })
	})
	assert.Equal(t, 9, pairs)
}

func TestSetNoSharedIDsUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := NewSet[*item](4)
	live := map[*item]bool{}

	for step := 0; step < 2000; step++ {
		if len(live) == 0 || rng.Intn(3) > 0 {
			freeBefore := s.free.Len()
			sizeBefore := s.Size()
			it := newItem("x")
			id, err := s.Add(it)
			require.NoError(t, err)
			if freeBefore > 0 {
				assert.Less(t, id, sizeBefore, "free id must be used before a new one")
			} else {
				assert.Equal(t, sizeBefore, id)
			}
			live[it] = true
		} else {
			for it := range live {
				_, ok := s.Remove(it.UID())
				require.True(t, ok)
				delete(live, it)
				break
			}
		}

		ids := map[int]bool{}
		for it := range live {
			require.False(t, ids[it.UID()], "duplicate live id %d", it.UID())
			ids[it.UID()] = true
			got, ok := s.Get(it.UID())
			require.True(t, ok)
			require.Same(t, it, got)
		}
		require.Equal(t, len(live), s.Len())
	}
}
