package state

// Set is an insertion-ordered set of job identifiers.
type Set struct {
	order []string
	index map[string]struct{}
}

// NewSet builds a set from ids, dropping duplicates but keeping first-seen order.
func NewSet(ids ...string) *Set {
	s := &Set{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was new.
func (s *Set) Add(id string) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Remove deletes id and reports whether it was present.
func (s *Set) Remove(id string) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Set) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *Set) Len() int { return len(s.order) }

// Slice returns a copy of the members in insertion order.
func (s *Set) Slice() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Available returns the backlog entries found in neither processed nor
// inProgress, in backlog order.
func Available(backlog []string, processed, inProgress *Set) []string {
	out := make([]string, 0, len(backlog))
	seen := make(map[string]struct{}, len(backlog))
	for _, id := range backlog {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if processed.Has(id) || inProgress.Has(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
