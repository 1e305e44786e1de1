// Package models defines the shared data model for the PromptForge control
// plane: categories, recipes, workflow manifests, jobs, and the request and
// result types exchanged between the parsing, composition, and scheduling
// layers.
package models

import (
	"time"
)

// ── Categories ──────────────────────────────────────────────

// CategoryType classifies what a category contributes to a generation.
type CategoryType string

const (
	CategorySubject  CategoryType = "subject"
	CategorySetting  CategoryType = "setting"
	CategoryModifier CategoryType = "modifier"
	CategoryStyle    CategoryType = "style"
)

// ValidCategoryType reports whether t is one of the known category types.
func ValidCategoryType(t CategoryType) bool {
	switch t {
	case CategorySubject, CategorySetting, CategoryModifier, CategoryStyle:
		return true
	}
	return false
}

// PolicyTier is a linearly ordered content policy level.
type PolicyTier string

const (
	TierGeneral  PolicyTier = "general"
	TierMature   PolicyTier = "mature"
	TierExplicit PolicyTier = "explicit"
)

// Rank returns the position of the tier in the total order
// general < mature < explicit. Unknown tiers rank below general.
func (t PolicyTier) Rank() int {
	switch t {
	case TierGeneral:
		return 0
	case TierMature:
		return 1
	case TierExplicit:
		return 2
	}
	return -1
}

// Allows reports whether a request at tier t admits content at tier c.
func (t PolicyTier) Allows(c PolicyTier) bool {
	return c.Rank() <= t.Rank()
}

// ValidPolicyTier reports whether t is a known tier.
func ValidPolicyTier(t PolicyTier) bool { return t.Rank() >= 0 }

// Keywords holds the three weighted keyword lists of a category.
// Membership is lowercase; lookups are case-insensitive.
type Keywords struct {
	Primary   []string `yaml:"primary" json:"primary"`     // weight 1.0
	Specific  []string `yaml:"specific" json:"specific"`   // weight 0.8
	Secondary []string `yaml:"secondary" json:"secondary"` // weight 0.6
}

// KeywordKind names which keyword list produced a match.
type KeywordKind string

const (
	KeywordPrimary   KeywordKind = "primary"
	KeywordSpecific  KeywordKind = "specific"
	KeywordSecondary KeywordKind = "secondary"
)

// Weight returns the scoring weight of the keyword kind.
func (k KeywordKind) Weight() float64 {
	switch k {
	case KeywordPrimary:
		return 1.0
	case KeywordSpecific:
		return 0.8
	case KeywordSecondary:
		return 0.6
	}
	return 0
}

// PromptSet splits prompt fragments into always-applied and optional parts.
type PromptSet struct {
	Required []string `yaml:"required" json:"required"`
	Optional []string `yaml:"optional" json:"optional"`
}

// Prompts holds the positive and negative prompt fragments of a category.
type Prompts struct {
	Positive PromptSet `yaml:"positive" json:"positive"`
	Negative PromptSet `yaml:"negative" json:"negative"`
}

// LoraRef is a LoRA entry as declared by a category.
type LoraRef struct {
	Filename     string   `yaml:"filename" json:"filename"`
	Strength     float64  `yaml:"strength" json:"strength"` // valid range [0, 2]
	TriggerWords []string `yaml:"trigger_words" json:"trigger_words,omitempty"`
}

// Loras groups a category's LoRA modifiers by necessity.
type Loras struct {
	Required    []LoraRef `yaml:"required" json:"required,omitempty"`
	Recommended []LoraRef `yaml:"recommended" json:"recommended,omitempty"`
}

// IntSetting is an optional bounded integer setting with an optional default.
type IntSetting struct {
	Min     *int `yaml:"min" json:"min,omitempty"`
	Max     *int `yaml:"max" json:"max,omitempty"`
	Default *int `yaml:"default" json:"default,omitempty"`
}

// Resolve picks the effective value: the default when present, the midpoint
// (integer division) when only bounds are present, the lone bound otherwise.
func (s *IntSetting) Resolve() *int {
	if s == nil {
		return nil
	}
	if s.Default != nil {
		return s.Default
	}
	if s.Min != nil && s.Max != nil {
		v := (*s.Min + *s.Max) / 2
		return &v
	}
	if s.Min != nil {
		return s.Min
	}
	return s.Max
}

// FloatSetting is an optional bounded float setting with an optional default.
type FloatSetting struct {
	Min     *float64 `yaml:"min" json:"min,omitempty"`
	Max     *float64 `yaml:"max" json:"max,omitempty"`
	Default *float64 `yaml:"default" json:"default,omitempty"`
}

// Resolve picks the effective value with the same precedence as IntSetting.
func (s *FloatSetting) Resolve() *float64 {
	if s == nil {
		return nil
	}
	if s.Default != nil {
		return s.Default
	}
	if s.Min != nil && s.Max != nil {
		v := (*s.Min + *s.Max) / 2
		return &v
	}
	if s.Min != nil {
		return s.Min
	}
	return s.Max
}

// CategorySettings carries a category's generation setting overrides.
type CategorySettings struct {
	Steps      *IntSetting   `yaml:"steps" json:"steps,omitempty"`
	CFG        *FloatSetting `yaml:"cfg" json:"cfg,omitempty"`
	Width      *int          `yaml:"width" json:"width,omitempty"`
	Height     *int          `yaml:"height" json:"height,omitempty"`
	Sampler    *string       `yaml:"sampler" json:"sampler,omitempty"`
	Scheduler  *string       `yaml:"scheduler" json:"scheduler,omitempty"`
	Denoise    *FloatSetting `yaml:"denoise" json:"denoise,omitempty"`
	Checkpoint *string       `yaml:"checkpoint" json:"checkpoint,omitempty"`
	VAE        *string       `yaml:"vae" json:"vae,omitempty"`
}

// CategoryWorkflows lists workflow preferences in priority order.
type CategoryWorkflows struct {
	Preferred []string `yaml:"preferred" json:"preferred,omitempty"`
}

// Composition holds the stacking and exclusion rules of a category.
type Composition struct {
	StacksWith    []string `yaml:"stacks_with" json:"stacks_with,omitempty"`
	ConflictsWith []string `yaml:"conflicts_with" json:"conflicts_with,omitempty"`
	Requires      []string `yaml:"requires" json:"requires,omitempty"`
	MaxPerType    *int     `yaml:"max_per_type" json:"max_per_type,omitempty"`
	Priority      int      `yaml:"priority" json:"priority"` // [0, 100]
}

// Category is a named bundle of prompts, modifiers, settings, and composition
// rules describing a generation domain. Immutable after registry load.
type Category struct {
	ID            string            `yaml:"id" json:"id"`
	Type          CategoryType      `yaml:"type" json:"type"`
	DisplayName   string            `yaml:"display_name" json:"display_name"`
	Description   string            `yaml:"description" json:"description,omitempty"`
	PolicyTier    PolicyTier        `yaml:"policy_tier" json:"policy_tier"`
	Keywords      Keywords          `yaml:"keywords" json:"keywords"`
	Prompts       Prompts           `yaml:"prompts" json:"prompts"`
	Loras         Loras             `yaml:"loras" json:"loras"`
	Settings      *CategorySettings `yaml:"settings" json:"settings,omitempty"`
	Workflows     CategoryWorkflows `yaml:"workflows" json:"workflows"`
	Composition   Composition       `yaml:"composition" json:"composition"`
	SchemaVersion string            `yaml:"schema_version" json:"schema_version,omitempty"`
}

// ── Recipes ─────────────────────────────────────────────────

// RecipeLora is a stacked LoRA entry in a recipe, unique by filename.
type RecipeLora struct {
	Filename         string   `json:"filename" yaml:"filename"`
	Strength         float64  `json:"strength" yaml:"strength"`
	SourceCategories []string `json:"source_categories" yaml:"source_categories"`
	TriggerWords     []string `json:"trigger_words,omitempty" yaml:"trigger_words,omitempty"`
}

// StepAction names a composition provenance event.
type StepAction string

const (
	StepAddCategory     StepAction = "add_category"
	StepMergePrompts    StepAction = "merge_prompts"
	StepStackLora       StepAction = "stack_lora"
	StepResolveConflict StepAction = "resolve_conflict"
	StepApplySettings   StepAction = "apply_settings"
	StepSelectWorkflow  StepAction = "select_workflow"
)

// CompositionStep is one structured provenance event emitted while building
// a recipe.
type CompositionStep struct {
	Action StepAction `json:"action" yaml:"action"`
	Source string     `json:"source" yaml:"source"`
	Detail string     `json:"detail" yaml:"detail"`
}

// Recipe is a deterministic, replayable specification for one generation.
// Immutable once built.
type Recipe struct {
	ID               string            `json:"id" yaml:"id"`
	SourceCategories []string          `json:"source_categories" yaml:"source_categories"`
	PositivePrompt   string            `json:"positive_prompt" yaml:"positive_prompt"`
	NegativePrompt   string            `json:"negative_prompt" yaml:"negative_prompt"`
	Loras            []RecipeLora      `json:"loras" yaml:"loras"`
	Steps            int               `json:"steps" yaml:"steps"`
	CFG              float64           `json:"cfg" yaml:"cfg"`
	Width            int               `json:"width" yaml:"width"`
	Height           int               `json:"height" yaml:"height"`
	Sampler          *string           `json:"sampler,omitempty" yaml:"sampler,omitempty"`
	Scheduler        *string           `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Denoise          *float64          `json:"denoise,omitempty" yaml:"denoise,omitempty"`
	Checkpoint       *string           `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	VAE              *string           `json:"vae,omitempty" yaml:"vae,omitempty"`
	Workflow         string            `json:"workflow" yaml:"workflow"`
	CompositionSteps []CompositionStep `json:"composition_steps" yaml:"composition_steps"`
	Warnings         []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// ── Workflow manifests ──────────────────────────────────────

// ManifestCapabilities flags what a workflow template can do.
type ManifestCapabilities struct {
	Img2Img    bool `yaml:"img2img" json:"img2img"`
	Inpainting bool `yaml:"inpainting" json:"inpainting"`
	ControlNet bool `yaml:"controlnet" json:"controlnet"`
	Video      bool `yaml:"video" json:"video"`
	Upscale    bool `yaml:"upscale" json:"upscale"`
}

// ResolutionLimits bounds the output dimensions a workflow accepts.
type ResolutionLimits struct {
	MinWidth     int      `yaml:"min_width" json:"min_width"`
	MinHeight    int      `yaml:"min_height" json:"min_height"`
	MaxWidth     int      `yaml:"max_width" json:"max_width"`
	MaxHeight    int      `yaml:"max_height" json:"max_height"`
	AspectRatios []string `yaml:"aspect_ratios" json:"aspect_ratios,omitempty"`
}

// LoraLimits bounds LoRA stacking for a workflow.
type LoraLimits struct {
	MaxLoras         int     `yaml:"max_loras" json:"max_loras"`
	SupportsClipLora bool    `yaml:"supports_clip_lora" json:"supports_clip_lora"`
	MinStrength      float64 `yaml:"min_strength" json:"min_strength"`
	MaxStrength      float64 `yaml:"max_strength" json:"max_strength"`
}

// CheckpointSpec constrains which model checkpoints a workflow loads.
type CheckpointSpec struct {
	RequiredType          string   `yaml:"required_type" json:"required_type,omitempty"`
	CompatibleCheckpoints []string `yaml:"compatible_checkpoints" json:"compatible_checkpoints,omitempty"`
	RequiresVAE           bool     `yaml:"requires_vae" json:"requires_vae"`
}

// ManifestDefaults carries per-workflow sampler defaults.
type ManifestDefaults struct {
	Steps     int     `yaml:"steps" json:"steps"`
	CFG       float64 `yaml:"cfg" json:"cfg"`
	Sampler   string  `yaml:"sampler" json:"sampler,omitempty"`
	Scheduler string  `yaml:"scheduler" json:"scheduler,omitempty"`
}

// WorkflowManifest declares a workflow template's capabilities and limits.
// Sidecar manifest values are authoritative; synthesized manifests are a
// best-effort scan of the template itself.
type WorkflowManifest struct {
	Name         string               `yaml:"name" json:"name"`
	Capabilities ManifestCapabilities `yaml:"capabilities" json:"capabilities"`
	Resolution   ResolutionLimits     `yaml:"resolution" json:"resolution"`
	Loras        LoraLimits           `yaml:"loras" json:"loras"`
	Checkpoints  CheckpointSpec       `yaml:"checkpoints" json:"checkpoints"`
	NodeMappings map[string]string    `yaml:"node_mappings" json:"node_mappings,omitempty"`
	Defaults     ManifestDefaults     `yaml:"defaults" json:"defaults"`
	Synthesized  bool                 `yaml:"-" json:"synthesized,omitempty"`
}

// ── Jobs ────────────────────────────────────────────────────

// JobState is the lifecycle state of a generation job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Progress is a snapshot of how far a running job has gotten.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Node    string  `json:"node,omitempty"`
	Label   string  `json:"label,omitempty"`
}

// GenerateRequest is the client input for a generation job. Either Text is
// parsed into categories, Categories is composed directly, or Recipe is
// submitted as-is.
type GenerateRequest struct {
	Text          string     `json:"text,omitempty"`
	Categories    []string   `json:"categories,omitempty"`
	Recipe        *Recipe    `json:"recipe,omitempty"`
	Seed          int64      `json:"seed,omitempty"`
	PolicyTier    PolicyTier `json:"policy_tier,omitempty"`
	MaxCategories int        `json:"max_categories,omitempty"`
	MinConfidence float64    `json:"min_confidence,omitempty"`
}

// JobView is an immutable snapshot of a job for API consumers.
type JobView struct {
	ID             string    `json:"id"`
	State          JobState  `json:"state"`
	Progress       Progress  `json:"progress"`
	ArtifactURL    string    `json:"artifact_url,omitempty"`
	Error          string    `json:"error,omitempty"`
	GenerationTime *float64  `json:"generation_time,omitempty"` // seconds
	CategoriesUsed []string  `json:"categories_used,omitempty"`
	RecipeID       string    `json:"recipe_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ── Intent parsing ──────────────────────────────────────────

// ParsedTag is one resolved @id[:strength] token.
type ParsedTag struct {
	Raw      string  `json:"raw"`
	Category string  `json:"category"`
	Strength float64 `json:"strength"`
	Position int     `json:"position"`
}

// TagResult is the output of the explicit tag parser.
type TagResult struct {
	Tags      []ParsedTag `json:"tags"`
	Unmatched []string    `json:"unmatched,omitempty"`
	Remaining string      `json:"remaining"`
}

// KeywordMatch is one scored category from the keyword classifier.
type KeywordMatch struct {
	Category   string      `json:"category"`
	Confidence float64     `json:"confidence"`
	BestKind   KeywordKind `json:"best_kind"`
	Hits       []string    `json:"hits,omitempty"`
}

// ParsedIntent is the structured reply of the optional LLM parser.
type ParsedIntent struct {
	Categories  []string          `json:"categories"`
	Subject     string            `json:"subject,omitempty"`
	Style       string            `json:"style,omitempty"`
	Modifiers   map[string]string `json:"modifiers,omitempty"`
	ContentTier PolicyTier        `json:"content_tier,omitempty"`
}

// InferredCategory pairs a category id with the confidence it was inferred at.
type InferredCategory struct {
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
}

// IntentResult merges the explicit, LLM, and keyword channels.
// Precedence on collisions: explicit > llm > keyword.
type IntentResult struct {
	ExplicitCategories []string           `json:"explicit_categories"`
	ExplicitStrengths  map[string]float64 `json:"explicit_strengths,omitempty"`
	Inferred           []InferredCategory `json:"inferred"`
	UnmatchedTags      []string           `json:"unmatched_tags,omitempty"`
	RemainingPrompt    string             `json:"remaining_prompt"`
	Source             string             `json:"source"` // "hybrid" when the LLM contributed, else "keyword"
	ContentTier        PolicyTier         `json:"content_tier,omitempty"`
	Subject            string             `json:"subject,omitempty"`
	Style              string             `json:"style,omitempty"`
}

// ── Compose API ─────────────────────────────────────────────

// ComposeRequest is the client input for the compose endpoint.
type ComposeRequest struct {
	Text          string     `json:"text"`
	DryRun        bool       `json:"dry_run,omitempty"`
	MaxCategories int        `json:"max_categories,omitempty"` // >= 1
	MinConfidence float64    `json:"min_confidence,omitempty"` // [0, 1]
	PolicyTier    PolicyTier `json:"policy_tier,omitempty"`
}

// ComposeExplanation tells the client how its text became a recipe.
type ComposeExplanation struct {
	Summary         string             `json:"summary"`
	ExplicitTags    []string           `json:"explicit_tags"`
	Inferred        []InferredCategory `json:"inferred"`
	RemainingPrompt string             `json:"remaining_prompt"`
	FinalCategories []string           `json:"final_categories"`
	Steps           []CompositionStep  `json:"steps"`
	Warnings        []string           `json:"warnings,omitempty"`
	Suggestions     []string           `json:"suggestions,omitempty"`
}

// ComposeResponse pairs the built recipe with its explanation.
type ComposeResponse struct {
	Recipe      *Recipe            `json:"recipe"`
	Explanation ComposeExplanation `json:"explanation"`
}

// ── Provenance ──────────────────────────────────────────────

// ProvenanceRecord is the hash triple plus context recorded per generation.
type ProvenanceRecord struct {
	RecipeHash   string            `json:"recipe_hash"`
	CategoryHash string            `json:"category_hash"`
	CombinedHash string            `json:"combined_hash"`
	Params       map[string]string `json:"params"`
	ArtifactURL  string            `json:"artifact_url,omitempty"`
	Rating       *int              `json:"rating,omitempty"` // 1–5
	Feedback     string            `json:"feedback,omitempty"`
}

// DriftReport describes a category-definition drift for a recipe hash.
type DriftReport struct {
	Drifted     bool   `json:"drifted"`
	RecipeHash  string `json:"recipe_hash"`
	CurrentHash string `json:"current_category_hash"`
	PriorHash   string `json:"prior_category_hash,omitempty"`
	PriorRunID  string `json:"prior_run_id,omitempty"`
}

// GenerationResult is what the backend executor hands back for a finished job.
type GenerationResult struct {
	ArtifactURL string  `json:"artifact_url"`
	Filename    string  `json:"filename"`
	PromptID    string  `json:"prompt_id"`
	Elapsed     float64 `json:"elapsed_seconds"`
}
