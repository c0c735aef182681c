package storecache

// idSet is an insertion-ordered set of record ids. Removed ids leave a hole
// that is compacted away once holes dominate the backing slice.
type idSet struct {
	ids   []string
	pos   map[string]int
	holes int
}

func newIDSet() *idSet {
	return &idSet{pos: make(map[string]int)}
}

func (s *idSet) Len() int {
	return len(s.pos)
}

func (s *idSet) Has(id string) bool {
	_, ok := s.pos[id]
	return ok
}

// Add appends id unless present. It reports whether the set changed.
func (s *idSet) Add(id string) bool {
	if _, ok := s.pos[id]; ok {
		return false
	}
	s.pos[id] = len(s.ids)
	s.ids = append(s.ids, id)
	return true
}

// Remove deletes id. It reports whether the set changed.
func (s *idSet) Remove(id string) bool {
	i, ok := s.pos[id]
	if !ok {
		return false
	}
	delete(s.pos, id)
	s.ids[i] = ""
	s.holes++
	if s.holes > 32 && s.holes > len(s.ids)/2 {
		s.compact()
	}
	return true
}

// Items returns the ids in insertion order.
func (s *idSet) Items() []string {
	out := make([]string, 0, len(s.pos))
	for _, id := range s.ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (s *idSet) Clear() {
	s.ids = nil
	s.pos = make(map[string]int)
	s.holes = 0
}

func (s *idSet) compact() {
	ids := make([]string, 0, len(s.pos))
	for _, id := range s.ids {
		if id != "" {
			s.pos[id] = len(ids)
			ids = append(ids, id)
		}
	}
	s.ids = ids
	s.holes = 0
}
