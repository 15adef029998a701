// Package membership holds the concurrent id sets shared by hub groups and
// stream channels.
package membership

import (
	"sort"
	"sync"
)

// Set is a set of connection ids guarded by its own lock. A dead set has
// been dropped from its Index and accepts no more members.
type Set struct {
	mu   sync.RWMutex
	ids  map[string]struct{}
	dead bool
}

func NewSet() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Add inserts id. It reports false only when the set is dead.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present
func (s *Set) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	delete(s.ids, id)
	return ok
}

func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Snapshot returns the members, sorted
func (s *Set) Snapshot() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Index maps names (groups, channels) to sets. Sets are created on first
// add and dropped when their last member leaves. The zero value is ready
// to use.
type Index struct {
	sets sync.Map // name -> *Set
}

// Add puts id into the named set
func (x *Index) Add(name, id string) {
	for {
		v, _ := x.sets.LoadOrStore(name, NewSet())
		if v.(*Set).Add(id) {
			return
		}
		// emptied and dropped concurrently; the next LoadOrStore sees a fresh set
	}
}

// Remove takes id out of the named set and reports whether it was there
func (x *Index) Remove(name, id string) bool {
	v, ok := x.sets.Load(name)
	if !ok {
		return false
	}
	set := v.(*Set)
	set.mu.Lock()
	defer set.mu.Unlock()
	_, present := set.ids[id]
	delete(set.ids, id)
	if len(set.ids) == 0 && !set.dead {
		set.dead = true
		x.sets.CompareAndDelete(name, set)
	}
	return present
}

// RemoveAll takes id out of every set
func (x *Index) RemoveAll(id string) {
	x.sets.Range(func(name, _ any) bool {
		x.Remove(name.(string), id)
		return true
	})
}

// Members returns a sorted snapshot of the named set, or nil if it does not
// exist
func (x *Index) Members(name string) []string {
	v, ok := x.sets.Load(name)
	if !ok {
		return nil
	}
	return v.(*Set).Snapshot()
}

// Has reports whether id is in the named set
func (x *Index) Has(name, id string) bool {
	v, ok := x.sets.Load(name)
	if !ok {
		return false
	}
	return v.(*Set).Has(id)
}

// Names lists the non-empty sets, sorted
func (x *Index) Names() []string {
	var out []string
	x.sets.Range(func(name, v any) bool {
		if v.(*Set).Len() > 0 {
			out = append(out, name.(string))
		}
		return true
	})
	sort.Strings(out)
	return out
}
