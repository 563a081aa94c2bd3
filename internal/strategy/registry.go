package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DetectorInfo holds runtime info for a registered detector (for status APIs).
type DetectorInfo struct {
	Name       string     `json:"name"`
	Setups     int64      `json:"setups"`
	LastSetup  *time.Time `json:"last_setup,omitempty"`
	ErrorCount int64      `json:"error_count"`
}

// Registry manages a named collection of detectors. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	detectors map[string]Detector
	info      map[string]*DetectorInfo
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		detectors: make(map[string]Detector),
		info:      make(map[string]*DetectorInfo),
	}
}

// Register adds d under its name, replacing any detector with that name.
func (r *Registry) Register(d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[d.Name()] = d
	r.info[d.Name()] = &DetectorInfo{Name: d.Name()}
}

// Get retrieves a detector by name.
func (r *Registry) Get(name string) (Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	if !ok {
		return nil, fmt.Errorf("detector %q: not registered", name)
	}
	return d, nil
}

// List returns the names of all registered detectors in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.detectors))
	for n := range r.detectors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns the registered detectors in name order.
func (r *Registry) All() []Detector {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Detector, 0, len(names))
	for _, n := range names {
		out = append(out, r.detectors[n])
	}
	return out
}

func (r *Registry) record(name string, setups int, failed bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.info[name]
	if !ok {
		return
	}
	if failed {
		info.ErrorCount++
		return
	}
	if setups > 0 {
		info.Setups += int64(setups)
		t := at
		info.LastSetup = &t
	}
}

// ListInfo returns runtime info for all registered detectors.
func (r *Registry) ListInfo() []DetectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DetectorInfo, 0, len(r.info))
	for _, info := range r.info {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
