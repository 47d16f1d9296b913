package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewCompletionID returns a time-sortable UUID-v7 completion id.
func NewCompletionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4
		// rather than aborting the request.
		return uuid.NewString()
	}
	return id.String()
}

// CompletionTime extracts the authoritative creation time embedded in a
// UUID-v7 completion id. Returns the zero time for non-v7 ids.
func CompletionTime(id string) time.Time {
	u, err := uuid.Parse(id)
	if err != nil || u.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec).UTC()
}

// CompletionOutput is the result of a completion: messages on success, a
// serialized error otherwise.
type CompletionOutput struct {
	Messages []Message        `json:"messages,omitempty"`
	Error    *CompletionError `json:"error,omitempty"`
}

// CompletionError is the serializable form of a classified error.
type CompletionError struct {
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	StatusCode int            `json:"status_code,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// LLMTrace records a single upstream provider call made while serving a
// completion.
type LLMTrace struct {
	Messages        []Message        `json:"messages,omitempty"`
	Model           string           `json:"model"`
	Provider        Provider         `json:"provider"`
	ConfigID        string           `json:"config_id,omitempty"`
	DurationSeconds float64          `json:"duration_seconds"`
	Usage           *Usage           `json:"usage,omitempty"`
	Error           *CompletionError `json:"error,omitempty"`

	// IncursCost is false for errors the provider does not charge for; the
	// pricing engine then forces cost to zero.
	IncursCost bool `json:"provider_request_incurs_cost"`
}

// Completion is one fully-processed inference request plus its result.
// It is created at request start, mutated only by its owning runner
// goroutine, and emitted exactly once.
type Completion struct {
	ID              string           `json:"id"`
	AgentID         string           `json:"agent_id"`
	Version         *Version         `json:"version"`
	Input           *AgentInput      `json:"input,omitempty"`
	Output          CompletionOutput `json:"output"`
	DurationSeconds float64          `json:"duration_seconds"`
	CostUSD         *float64         `json:"cost_usd,omitempty"`
	Traces          []LLMTrace       `json:"traces,omitempty"`
	ConversationID  string           `json:"conversation_id,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Deployment pins a Version behind a stable caller-provided identifier.
type Deployment struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Version    *Version       `json:"version"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
}

// Archived reports whether the deployment is hidden from listings.
func (d *Deployment) Archived() bool { return d.ArchivedAt != nil }

// ExperimentStatus is the terminal-state marker for experiment completions.
type ExperimentStatus string

const (
	ExperimentPending   ExperimentStatus = "pending"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentCompleted ExperimentStatus = "completed"
	ExperimentFailed    ExperimentStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ExperimentStatus) Terminal() bool {
	return s == ExperimentCompleted || s == ExperimentFailed
}

// CachePolicy controls experiment completion caching.
type CachePolicy string

const (
	CacheAuto   CachePolicy = "auto"
	CacheAlways CachePolicy = "always"
	CacheNever  CachePolicy = "never"
)

// Experiment is a set of (version x input) completions executed together.
type Experiment struct {
	ID          string                 `json:"id"`
	AgentID     string                 `json:"agent_id"`
	Title       string                 `json:"title,omitempty"`
	Description string                 `json:"description,omitempty"`
	Author      string                 `json:"author,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
	CachePolicy CachePolicy            `json:"cache_policy,omitempty"`
	Inputs      []AgentInput           `json:"inputs,omitempty"`
	Versions    []Version              `json:"versions,omitempty"`
	Completions []ExperimentCompletion `json:"completions,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ExperimentCompletion keys one completion by (experiment, version, input).
type ExperimentCompletion struct {
	ExperimentID string           `json:"experiment_id"`
	VersionID    string           `json:"version_id"`
	InputID      string           `json:"input_id"`
	CompletionID string           `json:"completion_id,omitempty"`
	Status       ExperimentStatus `json:"status"`
}
