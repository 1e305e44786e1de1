// Package scheduler tracks generation jobs and runs them in background
// tasks against the diffusion backend.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/promptforge/promptforge/internal/comfy"
	"github.com/promptforge/promptforge/internal/compose"
	"github.com/promptforge/promptforge/internal/intent"
	"github.com/promptforge/promptforge/internal/policy"
	"github.com/promptforge/promptforge/internal/progress"
	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/pkg/models"
)

// Recorder logs a finished generation for provenance. A nil recorder
// disables logging.
type Recorder interface {
	Record(ctx context.Context, rec *models.Recipe, res *models.GenerationResult) (runID string, err error)
}

// job is the scheduler's mutable view of one generation. All fields are
// guarded by the scheduler lock.
type job struct {
	id             string
	state          models.JobState
	progress       models.Progress
	artifactURL    string
	errMsg         string
	generationTime *float64
	categoriesUsed []string
	recipeID       string
	createdAt      time.Time
	promptID       string
	cancel         context.CancelFunc
}

// Scheduler owns the job map. It is the single source of truth for job
// state; background tasks write through it and exit when their entry has
// been removed.
type Scheduler struct {
	parser   *intent.HybridParser
	engine   *compose.Engine
	enforcer *policy.Enforcer
	reg      *registry.Registry
	exec     *comfy.Executor
	hub      *progress.Hub
	recorder Recorder

	mu   sync.RWMutex
	jobs map[string]*job
}

// New wires a scheduler over the parse/policy/compose/execute pipeline.
// recorder may be nil.
func New(parser *intent.HybridParser, engine *compose.Engine, enforcer *policy.Enforcer, reg *registry.Registry, exec *comfy.Executor, hub *progress.Hub, recorder Recorder) *Scheduler {
	return &Scheduler{
		parser:   parser,
		engine:   engine,
		enforcer: enforcer,
		reg:      reg,
		exec:     exec,
		hub:      hub,
		recorder: recorder,
		jobs:     make(map[string]*job),
	}
}

// ErrEmptyRequest is returned by Submit when the request carries no text,
// categories, or recipe.
var ErrEmptyRequest = errors.New("request must provide text, categories, or a recipe")

// Submit allocates a job, stores it as queued, and launches its background
// task. The returned view is the initial snapshot.
func (s *Scheduler) Submit(req models.GenerateRequest) (models.JobView, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Categories) == 0 && req.Recipe == nil {
		return models.JobView{}, ErrEmptyRequest
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:        uuid.NewString(),
		state:     models.JobQueued,
		progress:  models.Progress{Label: "queuing"},
		createdAt: time.Now().UTC(),
		cancel:    cancel,
	}

	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	log.Info().Str("job_id", j.id).Msg("job submitted")
	go s.run(ctx, j.id, req)

	return s.view(j), nil
}

// Get returns a snapshot of the job, or false if it is unknown or was
// cancelled.
func (s *Scheduler) Get(jobID string) (models.JobView, bool) {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	if !ok {
		s.mu.RUnlock()
		return models.JobView{}, false
	}
	v := s.view(j)
	s.mu.RUnlock()
	return v, true
}

// List returns snapshots of all tracked jobs, newest first.
func (s *Scheduler) List() []models.JobView {
	s.mu.RLock()
	views := make([]models.JobView, 0, len(s.jobs))
	for _, j := range s.jobs {
		views = append(views, s.view(j))
	}
	s.mu.RUnlock()
	sort.Slice(views, func(i, k int) bool { return views[i].CreatedAt.After(views[k].CreatedAt) })
	return views
}

// Cancel removes the job from the tracking map and cancels its context.
// The background task observes the missing entry at its next state write
// and exits. Work already submitted upstream is interrupted best-effort.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) bool {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.jobs, jobID)
	submitted := j.promptID != ""
	s.mu.Unlock()

	j.cancel()
	if submitted {
		if err := s.exec.Client().Interrupt(ctx); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("backend interrupt failed")
		}
	}
	log.Info().Str("job_id", jobID).Msg("job cancelled")
	return true
}

// PromptID reports the backend prompt id for a job once it has been
// submitted upstream.
func (s *Scheduler) PromptID(jobID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok || j.promptID == "" {
		return "", false
	}
	return j.promptID, true
}

// view must be called with at least a read lock held.
func (s *Scheduler) view(j *job) models.JobView {
	used := make([]string, len(j.categoriesUsed))
	copy(used, j.categoriesUsed)
	return models.JobView{
		ID:             j.id,
		State:          j.state,
		Progress:       j.progress,
		ArtifactURL:    j.artifactURL,
		Error:          j.errMsg,
		GenerationTime: j.generationTime,
		CategoriesUsed: used,
		RecipeID:       j.recipeID,
		CreatedAt:      j.createdAt,
	}
}

// update applies fn to the job under the lock. It returns false when the
// entry is gone, which is the task's signal to stop without further writes.
func (s *Scheduler) update(jobID string, fn func(*job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	fn(j)
	return true
}

// fail marks the job failed and pushes a final error frame to subscribers.
func (s *Scheduler) fail(jobID, msg string) {
	if !s.update(jobID, func(j *job) {
		j.state = models.JobFailed
		j.errMsg = msg
	}) {
		return
	}
	log.Warn().Str("job_id", jobID).Str("error", msg).Msg("job failed")
	if s.hub != nil {
		s.hub.PublishError(jobID, msg)
	}
}

// run is the background task for one job.
func (s *Scheduler) run(ctx context.Context, jobID string, req models.GenerateRequest) {
	if err := s.exec.Client().Health(ctx); err != nil {
		s.fail(jobID, fmt.Sprintf("backend unreachable: %v", err))
		return
	}

	rec, err := s.buildRecipe(ctx, req)
	if err != nil {
		s.fail(jobID, err.Error())
		return
	}

	total := rec.Steps
	if !s.update(jobID, func(j *job) {
		j.state = models.JobRunning
		j.recipeID = rec.ID
		j.categoriesUsed = append([]string(nil), rec.SourceCategories...)
		j.progress = models.Progress{Current: 0, Total: total, Label: "queuing"}
	}) {
		return
	}

	res, err := s.exec.Execute(ctx, rec, req.Seed, func(promptID string) {
		s.update(jobID, func(j *job) {
			j.promptID = promptID
			j.progress.Label = "generating"
		})
		s.watchProgress(jobID, promptID)
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled: the entry is already gone, nothing left to write.
			return
		}
		s.fail(jobID, err.Error())
		return
	}

	if !s.update(jobID, func(j *job) {
		j.state = models.JobCompleted
		j.artifactURL = res.ArtifactURL
		j.generationTime = &res.Elapsed
		j.progress = models.Progress{Current: total, Total: total, Percent: 100, Label: "complete"}
	}) {
		return
	}
	log.Info().
		Str("job_id", jobID).
		Str("recipe_id", rec.ID).
		Str("artifact_url", res.ArtifactURL).
		Float64("elapsed_seconds", res.Elapsed).
		Msg("job completed")

	if s.recorder != nil {
		if runID, err := s.recorder.Record(context.Background(), rec, res); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("provenance record failed")
		} else if runID != "" {
			log.Debug().Str("job_id", jobID).Str("run_id", runID).Msg("provenance recorded")
		}
	}
}

// buildRecipe resolves the request into a recipe: a direct recipe is used
// as-is, otherwise categories come from the request or from parsing its
// text, pass the policy gate, and are composed.
func (s *Scheduler) buildRecipe(ctx context.Context, req models.GenerateRequest) (*models.Recipe, error) {
	if req.Recipe != nil {
		rec := *req.Recipe
		if rec.ID == "" {
			rec.ID = compose.RecipeID(rec.SourceCategories)
		}
		return &rec, nil
	}

	ids := req.Categories
	if len(ids) == 0 {
		result := s.parser.Parse(ctx, req.Text, req.MinConfidence)
		ids = append(ids, result.ExplicitCategories...)
		max := req.MaxCategories
		for _, inf := range result.Inferred {
			if max > 0 && len(ids) >= max {
				break
			}
			ids = append(ids, inf.ID)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("no categories matched %q", req.Text)
		}
	}

	cats := make([]*models.Category, 0, len(ids))
	for _, id := range ids {
		if c := s.reg.Get(id); c != nil {
			cats = append(cats, c)
		}
	}
	decision := s.enforcer.Check(cats, req.PolicyTier)
	if !decision.Allowed {
		return nil, fmt.Errorf("policy denied: %v", decision.Violations[0])
	}

	return s.engine.Compose(ids)
}

// watchProgress mirrors the job's own progress stream into its tracked
// state so polling clients see step counts without a websocket.
func (s *Scheduler) watchProgress(jobID, promptID string) {
	if s.hub == nil {
		return
	}
	sub := s.hub.Subscribe(jobID, promptID)
	go func() {
		for frame := range sub.Frames() {
			switch frame.Type {
			case progress.TypeProgress:
				f := frame
				if !s.update(jobID, func(j *job) {
					j.progress.Current = f.Value
					j.progress.Total = f.Max
					if f.Max > 0 {
						j.progress.Percent = float64(f.Value) / float64(f.Max) * 100
					}
					j.progress.Label = f.Label
				}) {
					s.hub.Unsubscribe(sub)
					return
				}
			case progress.TypeExecuting:
				f := frame
				s.update(jobID, func(j *job) {
					j.progress.Node = f.Node
					if f.Label != "" {
						j.progress.Label = f.Label
					}
				})
			}
		}
	}()
}
