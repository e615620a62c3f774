package releases

import (
	"sort"
	"sync"
)

// Snapshot is a consistent copy of what the view renders.
type Snapshot struct {
	State       State        `json:"state"`
	Placeholder *Placeholder `json:"placeholder,omitempty"`
	Releases    []Release    `json:"releases"`
	Error       string       `json:"error,omitempty"`
}

// Store is the release mapping rendered by the view, keyed by name, together with the view
// state. Full refreshes replace it wholesale; push events may only patch the status of names
// already present.
type Store struct {
	mu       sync.RWMutex
	gen      uint64
	state    State
	err      error
	releases map[string]Release
	onChange func()
}

// NewStore creates an empty store in the loading state. onChange, when non-nil, is called after
// every mutation, outside the lock.
func NewStore(onChange func()) *Store {
	return &Store{state: Loading, releases: map[string]Release{}, onChange: onChange}
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Begin clears the mapping, enters the loading state and issues a new refresh generation.
// Results carrying an older generation are discarded.
func (s *Store) Begin() uint64 {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = Loading
	s.err = nil
	s.releases = map[string]Release{}
	s.mu.Unlock()
	s.changed()
	return gen
}

// Generation returns the latest issued generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Replace installs state and list if gen is still current.
func (s *Store) Replace(gen uint64, state State, list []Release) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	next := make(map[string]Release, len(list))
	for _, r := range list {
		next[r.Name] = r
	}
	s.releases = next
	s.state = state
	s.mu.Unlock()
	s.changed()
	return true
}

// Fail records a refresh error for gen. The view stays in the loading state.
func (s *Store) Fail(gen uint64, err error) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	s.err = err
	s.mu.Unlock()
	s.changed()
	return true
}

// PatchStatus sets the status of a known release. Unknown names are ignored.
func (s *Store) PatchStatus(name, status string) bool {
	s.mu.Lock()
	r, ok := s.releases[name]
	if ok && r.Status != status {
		r.Status = status
		s.releases[name] = r
	}
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// State returns the current view state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error of the last refresh, if any.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Get returns the release called name.
func (s *Store) Get(name string) (Release, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.releases[name]
	return r, ok
}

// Len returns the number of releases.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.releases)
}

// Releases returns the releases sorted by name.
func (s *Store) Releases() []Release {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted()
}

func (s *Store) sorted() []Release {
	out := make([]Release, 0, len(s.releases))
	for _, r := range s.releases {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns the state and releases read under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{State: s.state, Releases: s.sorted()}
	if p, ok := s.state.Placeholder(); ok {
		snap.Placeholder = &p
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}
