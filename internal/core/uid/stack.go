package uid

// Stack is a growable LIFO pool of reusable ids.
type Stack struct {
	items []int
}

func NewStack(capacity int) *Stack {
	if capacity < 0 {
		capacity = 0
	}
	return &Stack{items: make([]int, 0, capacity)}
}

func (s *Stack) Push(id int) {
	s.items = append(s.items, id)
}

// Pop removes and returns the most recently pushed id.
func (s *Stack) Pop() (int, bool) {
	n := len(s.items)
	if n == 0 {
		return None, false
	}
	id := s.items[n-1]
	s.items = s.items[:n-1]
	return id, true
}

func (s *Stack) Len() int { return len(s.items) }

func (s *Stack) IsEmpty() bool { return len(s.items) == 0 }
