package camera

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"kepler-multicam-go/internal/models"
)

// Source is one configured stream. Index is its batch slot and never changes.
type Source struct {
	InternalID int64
	Index      int
	Address    string
	CreatedAt  time.Time

	buffers *Buffers
}

// LatestFrames returns annotated frames, most recent last
func (s *Source) LatestFrames() []*models.AnnotatedFrame { return s.buffers.Frames() }

// LatestCounts returns per-frame counts, most recent last
func (s *Source) LatestCounts() []int { return s.buffers.Counts() }

// LatestPositions returns per-frame position records, most recent last
func (s *Source) LatestPositions() [][]models.Rectangle { return s.buffers.Positions() }

// Buffers exposes the writer side to the result demultiplexer
func (s *Source) Buffers() *Buffers { return s.buffers }

// Registry holds the ordered list of sources
type Registry struct {
	mu         sync.RWMutex
	sources    []*Source
	capacities Capacities
	lastID     int64
}

func NewRegistry(c Capacities) *Registry {
	return &Registry{capacities: c}
}

// NewRegistryFromAddresses registers every address in order
func NewRegistryFromAddresses(addresses []string, c Capacities) (*Registry, error) {
	r := NewRegistry(c)
	for _, addr := range addresses {
		if _, err := r.Register(addr); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a source at the next free slot
func (r *Registry) Register(address string) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(len(r.sources), address)
}

// RegisterAt adds a source at an explicit slot. Slots are dense, so only the
// next free index is accepted.
func (r *Registry) RegisterAt(index int, address string) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < len(r.sources) {
		return nil, &models.ConfigurationError{
			Field:  "source_index",
			Reason: fmt.Sprintf("slot %d already assigned to %s", index, r.sources[index].Address),
		}
	}
	if index != len(r.sources) {
		return nil, &models.ConfigurationError{
			Field:  "source_index",
			Reason: fmt.Sprintf("slot %d is not the next free slot %d", index, len(r.sources)),
		}
	}
	return r.registerLocked(index, address)
}

func (r *Registry) registerLocked(index int, address string) (*Source, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, &models.ConfigurationError{Field: "address", Reason: fmt.Sprintf("empty address for slot %d", index)}
	}

	now := time.Now()
	id := now.UnixNano()
	if id <= r.lastID {
		id = r.lastID + 1
	}
	r.lastID = id

	src := &Source{
		InternalID: id,
		Index:      index,
		Address:    address,
		CreatedAt:  now,
		buffers:    NewBuffers(r.capacities),
	}
	r.sources = append(r.sources, src)
	return src, nil
}

// All returns sources ordered by slot
func (r *Registry) All() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Get resolves a slot index
func (r *Registry) Get(index int) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.sources) {
		return nil, false
	}
	return r.sources[index], true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// LatestFrame returns the newest annotated frame of a slot
func (r *Registry) LatestFrame(index int) (*models.AnnotatedFrame, bool) {
	src, ok := r.Get(index)
	if !ok {
		return nil, false
	}
	frame, _, _, ok := src.buffers.Latest()
	return frame, ok
}
