// Package storage persists the gateway's durable state: versions,
// completions, deployments, and experiments. The SQLite implementation is
// the default; tests run it against an in-memory database.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// VersionStore persists versions. Saving is idempotent: versions are keyed
// by their content hash, so re-saving an identical version is a no-op.
type VersionStore interface {
	Save(ctx context.Context, agentID string, v *domain.Version) error
	Get(ctx context.Context, agentID, id string) (*domain.Version, error)
	List(ctx context.Context, agentID string, limit, offset int) ([]*domain.Version, int, error)
}

// CompletionStore persists finished completions.
type CompletionStore interface {
	Save(ctx context.Context, c *domain.Completion) error
	Get(ctx context.Context, id string) (*domain.Completion, error)
	List(ctx context.Context, agentID string, limit, offset int) ([]*domain.Completion, int, error)

	// FindCached returns the most recent successful completion for the
	// (agent, version, input) triple, or ErrNotFound.
	FindCached(ctx context.Context, agentID, versionID, inputID string) (*domain.Completion, error)
}

// DeploymentStore persists deployments keyed by their caller-chosen id.
type DeploymentStore interface {
	Put(ctx context.Context, d *domain.Deployment) error
	Get(ctx context.Context, id string) (*domain.Deployment, error)
	List(ctx context.Context, agentID string, includeArchived bool, limit, offset int) ([]*domain.Deployment, int, error)
	Archive(ctx context.Context, id string, at time.Time) error
}

// ExperimentStore persists experiments and their per-cell completion state.
type ExperimentStore interface {
	Create(ctx context.Context, e *domain.Experiment) error
	Get(ctx context.Context, id string) (*domain.Experiment, error)
	AddCompletion(ctx context.Context, ec *domain.ExperimentCompletion) error
	SetCompletionStatus(ctx context.Context, experimentID, versionID, inputID, completionID string, status domain.ExperimentStatus) error
	ListCompletions(ctx context.Context, experimentID string) ([]domain.ExperimentCompletion, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Versions    VersionStore
	Completions CompletionStore
	Deployments DeploymentStore
	Experiments ExperimentStore
	closer      func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
