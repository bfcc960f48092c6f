package sources

import (
	"fmt"
	"slices"
	"sync"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
)

// Registry is the ordered, mutable list of configured sources plus the active id.
type Registry struct {
	mu       sync.RWMutex
	sources  []Source
	activeID string
}

// NewRegistry copies the given sources. activeID may be empty.
func NewRegistry(srcs []Source, activeID string) *Registry {
	return &Registry{sources: slices.Clone(srcs), activeID: activeID}
}

func (r *Registry) indexOf(id string) int {
	return slices.IndexFunc(r.sources, func(s Source) bool { return s.ID == id })
}

// Add appends a source. The first source added becomes active when none is set.
func (r *Registry) Add(s Source) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(s.ID) >= 0 {
		return common.NewAppError(common.CodeConflict, fmt.Sprintf("source %q already exists", s.ID), common.ErrConflict)
	}
	r.sources = append(r.sources, s)
	if r.activeID == "" {
		r.activeID = s.ID
	}
	return nil
}

// Update replaces the source with the same id.
func (r *Registry) Update(s Source) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(s.ID)
	if i < 0 {
		return common.NewAppError(common.CodeNotFound, fmt.Sprintf("source %q not found", s.ID), common.ErrNotFound)
	}
	r.sources[i] = s
	return nil
}

// Remove deletes a source. Removing the active source clears the active id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return common.NewAppError(common.CodeNotFound, fmt.Sprintf("source %q not found", id), common.ErrNotFound)
	}
	r.sources = slices.Delete(r.sources, i, i+1)
	if r.activeID == id {
		r.activeID = ""
	}
	return nil
}

func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" && r.indexOf(id) < 0 {
		return common.NewAppError(common.CodeNotFound, fmt.Sprintf("source %q not found", id), common.ErrNotFound)
	}
	r.activeID = id
	return nil
}

// Active returns the active source, if any.
func (r *Registry) Active() (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(r.activeID); i >= 0 {
		return r.sources[i], true
	}
	return Source{}, false
}

// Get returns the source with the given id.
func (r *Registry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(id); i >= 0 {
		return r.sources[i], true
	}
	return Source{}, false
}

// Snapshot returns a read-only copy used for the duration of one scan run.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{Sources: slices.Clone(r.sources), ActiveID: r.activeID}
}

// Snapshot is an immutable view of the registry.
type Snapshot struct {
	Sources  []Source
	ActiveID string
}

// Eligible returns enabled sources with a non-empty API key, in registry order.
func (s Snapshot) Eligible() []Source {
	out := make([]Source, 0, len(s.Sources))
	for _, src := range s.Sources {
		if src.Eligible() {
			out = append(out, src)
		}
	}
	return out
}

// Chain returns the eligible sources with the active one first and the rest
// shuffled. Call it once per item so every item gets a fresh order.
func (s Snapshot) Chain(sh Shuffler) []Source {
	eligible := s.Eligible()
	chain := make([]Source, 0, len(eligible))
	rest := make([]Source, 0, len(eligible))
	for _, src := range eligible {
		if src.ID == s.ActiveID && len(chain) == 0 {
			chain = append(chain, src)
			continue
		}
		rest = append(rest, src)
	}
	if sh != nil {
		sh.Shuffle(rest)
	}
	return append(chain, rest...)
}

// AnySupportsPDF reports whether any eligible source accepts PDFs.
func (s Snapshot) AnySupportsPDF() bool {
	return slices.ContainsFunc(s.Eligible(), Source.SupportsPDF)
}

// ForMime drops sources that cannot accept the given media type.
func ForMime(chain []Source, mimeType string) []Source {
	if !constants.IsPDF(mimeType) {
		return chain
	}
	out := make([]Source, 0, len(chain))
	for _, src := range chain {
		if src.SupportsPDF() {
			out = append(out, src)
		}
	}
	return out
}
