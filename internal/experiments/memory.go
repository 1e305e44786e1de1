// Package experiments provides the experiment-store backends: an in-memory
// store for local dev and tests, and a PostgreSQL store for real deployments.
package experiments

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge/pkg/contracts"
)

// MemoryStore implements contracts.ExperimentStore with in-memory maps.
// Used as a fallback when PostgreSQL is not configured.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]string            // name -> id
	runs        map[string]*contracts.Run    // id -> run
	artifacts   map[string]map[string][]byte // run id -> name -> bytes
	order       []string                     // run ids, insertion order
}

// NewMemoryStore creates an empty in-memory experiment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]string),
		runs:        make(map[string]*contracts.Run),
		artifacts:   make(map[string]map[string][]byte),
	}
}

func (m *MemoryStore) EnsureExperiment(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.experiments[name]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.experiments[name] = id
	return id, nil
}

func (m *MemoryStore) CreateRun(_ context.Context, experimentID, name string) (*contracts.Run, error) {
	run := &contracts.Run{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		Name:         name,
		Params:       make(map[string]string),
		Metrics:      make(map[string]float64),
		Tags:         make(map[string]string),
		CreatedAt:    time.Now().UTC(),
	}
	m.mu.Lock()
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	m.mu.Unlock()
	return cloneRun(run), nil
}

func (m *MemoryStore) LogRun(_ context.Context, runID string, params map[string]string, metrics map[string]float64, tags map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	for k, v := range params {
		run.Params[k] = v
	}
	for k, v := range metrics {
		run.Metrics[k] = v
	}
	for k, v := range tags {
		run.Tags[k] = v
	}
	return nil
}

func (m *MemoryStore) AttachArtifact(_ context.Context, runID, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	if m.artifacts[runID] == nil {
		m.artifacts[runID] = make(map[string][]byte)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.artifacts[runID][name] = stored
	return nil
}

func (m *MemoryStore) GetArtifact(_ context.Context, runID, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.artifacts[runID][name]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found for run %s", name, runID)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryStore) SearchRuns(_ context.Context, experimentID string, filter contracts.RunFilter) ([]contracts.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []contracts.Run
	for i := len(m.order) - 1; i >= 0; i-- { // newest first
		run := m.runs[m.order[i]]
		if run.ExperimentID != experimentID {
			continue
		}
		if !matchesFilter(run, filter) {
			continue
		}
		matched = append(matched, *cloneRun(run))
		if filter.Limit > 0 && len(matched) >= filter.Limit {
			break
		}
	}
	return matched, nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (*contracts.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return cloneRun(run), nil
}

func matchesFilter(run *contracts.Run, filter contracts.RunFilter) bool {
	for k, v := range filter.Tags {
		if run.Tags[k] != v {
			return false
		}
	}
	if filter.MinMetric != "" {
		v, ok := run.Metrics[filter.MinMetric]
		if !ok || v < filter.MinValue {
			return false
		}
	}
	if filter.Category != "" {
		found := false
		for k, v := range run.Tags {
			if strings.HasPrefix(k, "category_") && strings.Contains(v, filter.Category) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cloneRun(run *contracts.Run) *contracts.Run {
	out := &contracts.Run{
		ID:           run.ID,
		ExperimentID: run.ExperimentID,
		Name:         run.Name,
		Params:       make(map[string]string, len(run.Params)),
		Metrics:      make(map[string]float64, len(run.Metrics)),
		Tags:         make(map[string]string, len(run.Tags)),
		CreatedAt:    run.CreatedAt,
	}
	for k, v := range run.Params {
		out.Params[k] = v
	}
	for k, v := range run.Metrics {
		out.Metrics[k] = v
	}
	for k, v := range run.Tags {
		out.Tags[k] = v
	}
	return out
}
