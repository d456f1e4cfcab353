package artifact

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// Set accumulates a mission's artifacts, deduplicated by signature.
type Set struct {
	mu    sync.Mutex
	items []models.Artifact
	seen  map[string]bool
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{seen: map[string]bool{}}
}

// Add merges artifacts and returns the ones that were new.
func (s *Set) Add(arts ...models.Artifact) []models.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []models.Artifact
	for _, a := range arts {
		sig := a.Signature()
		if s.seen[sig] {
			continue
		}
		s.seen[sig] = true
		if a.ID == "" {
			a.ID = ulid.Make().String()
		}
		s.items = append(s.items, a)
		added = append(added, a)
	}
	return added
}

// List returns a copy of the artifacts in insertion order.
func (s *Set) List() []models.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Artifact(nil), s.items...)
}

// Len returns the number of artifacts.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Reset empties the set.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.seen = map[string]bool{}
}
