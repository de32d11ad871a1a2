package storage

import "container/list"

// orderedSet is a set that remembers insertion order.
// It is not safe for concurrent use; stores guard it with their mutex.
type orderedSet struct {
	order *list.List
	index map[string]*list.Element
}

func newOrderedSet() *orderedSet {
	return &orderedSet{order: list.New(), index: map[string]*list.Element{}}
}

func (s *orderedSet) has(v string) bool {
	_, ok := s.index[v]
	return ok
}

func (s *orderedSet) add(v string) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = s.order.PushBack(v)
	return true
}

func (s *orderedSet) remove(v string) bool {
	el, ok := s.index[v]
	if !ok {
		return false
	}
	s.order.Remove(el)
	delete(s.index, v)
	return true
}

// popOldest removes and returns the earliest inserted member.
func (s *orderedSet) popOldest() (string, bool) {
	el := s.order.Front()
	if el == nil {
		return "", false
	}
	v := el.Value.(string)
	s.order.Remove(el)
	delete(s.index, v)
	return v, true
}

func (s *orderedSet) len() int { return len(s.index) }

func (s *orderedSet) values() []string {
	out := make([]string, 0, len(s.index))
	for el := s.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}

// evictOver trims the set down to capacity, oldest first.
func (s *orderedSet) evictOver(capacity int) []string {
	if capacity <= 0 {
		return nil
	}
	var evicted []string
	for s.len() > capacity {
		v, ok := s.popOldest()
		if !ok {
			break
		}
		evicted = append(evicted, v)
	}
	return evicted
}
