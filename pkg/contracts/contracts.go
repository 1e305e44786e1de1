// Package contracts defines the interfaces PromptForge consumes but does not
// own: the artifact object store, the experiment-tracking store, and the
// optional natural-language intent model.
//
// Each contract ships with a null implementation so the control plane runs
// with zero external services configured: generation still succeeds, the
// optional layers just turn into no-ops.
package contracts

import (
	"context"
	"time"

	"github.com/promptforge/promptforge/pkg/models"
)

// ── Object store ────────────────────────────────────────────

// ObjectStore persists generated artifacts and recipe documents and hands
// back a public URL for each.
type ObjectStore interface {
	// Put stores content under name and returns its public URL.
	Put(ctx context.Context, name string, contentType string, data []byte) (string, error)

	// Get returns the stored bytes for name.
	Get(ctx context.Context, name string) ([]byte, error)
}

// ── Experiment store ────────────────────────────────────────

// Run is one recorded generation in the experiment store.
type Run struct {
	ID           string             `json:"id"`
	ExperimentID string             `json:"experiment_id"`
	Name         string             `json:"name"`
	Params       map[string]string  `json:"params"`
	Metrics      map[string]float64 `json:"metrics"`
	Tags         map[string]string  `json:"tags"`
	CreatedAt    time.Time          `json:"created_at"`
}

// RunFilter selects runs by tag equality, a metric floor, and a category
// substring.
type RunFilter struct {
	Tags      map[string]string // every entry must match
	MinMetric string            // metric name for the floor, e.g. "rating"
	MinValue  float64
	Category  string // substring matched against category_* tag values
	Limit     int
}

// ExperimentStore records generation runs for provenance, rating, and drift
// analysis.
type ExperimentStore interface {
	// EnsureExperiment creates the named experiment if absent and returns its id.
	EnsureExperiment(ctx context.Context, name string) (string, error)

	// CreateRun opens a run under the experiment.
	CreateRun(ctx context.Context, experimentID, name string) (*Run, error)

	// LogRun attaches params, metrics, and tags to a run.
	LogRun(ctx context.Context, runID string, params map[string]string, metrics map[string]float64, tags map[string]string) error

	// AttachArtifact stores a document against a run.
	AttachArtifact(ctx context.Context, runID, name string, data []byte) error

	// GetArtifact returns a document previously attached to a run.
	GetArtifact(ctx context.Context, runID, name string) ([]byte, error)

	// SearchRuns returns runs matching the filter, newest first.
	SearchRuns(ctx context.Context, experimentID string, filter RunFilter) ([]Run, error)

	// GetRun returns a single run by id.
	GetRun(ctx context.Context, runID string) (*Run, error)
}

// ── Intent model ────────────────────────────────────────────

// IntentModel is the optional external NLU used by the hybrid parser.
// A nil *models.ParsedIntent with a nil error means the model is unavailable and callers fall back.
type IntentModel interface {
	// Parse resolves freeform text into a structured intent.
	Parse(ctx context.Context, text string, available []string) (*models.ParsedIntent, error)

	// Healthy reports the cached result of the startup probe.
	Healthy(ctx context.Context) bool

	// ResetHealth invalidates the cached probe result. For tests.
	ResetHealth()
}

// ── Null implementations ────────────────────────────────────

// NullObjectStore discards artifacts and returns empty URLs.
type NullObjectStore struct{}

func (NullObjectStore) Put(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
func (NullObjectStore) Get(context.Context, string) ([]byte, error) { return nil, nil }

// NullExperimentStore makes the provenance layer a silent no-op.
type NullExperimentStore struct{}

func (NullExperimentStore) EnsureExperiment(context.Context, string) (string, error) {
	return "", nil
}
func (NullExperimentStore) CreateRun(context.Context, string, string) (*Run, error) {
	return &Run{}, nil
}
func (NullExperimentStore) LogRun(context.Context, string, map[string]string, map[string]float64, map[string]string) error {
	return nil
}
func (NullExperimentStore) AttachArtifact(context.Context, string, string, []byte) error { return nil }
func (NullExperimentStore) GetArtifact(context.Context, string, string) ([]byte, error) {
	return nil, nil
}
func (NullExperimentStore) SearchRuns(context.Context, string, RunFilter) ([]Run, error) {
	return nil, nil
}
func (NullExperimentStore) GetRun(context.Context, string) (*Run, error) { return nil, nil }

// NullIntentModel reports unavailable for every call.
type NullIntentModel struct{}

func (NullIntentModel) Parse(context.Context, string, []string) (*models.ParsedIntent, error) {
	return nil, nil
}
func (NullIntentModel) Healthy(context.Context) bool { return false }
func (NullIntentModel) ResetHealth()                 {}
