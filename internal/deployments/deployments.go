// Package deployments pins versions behind stable caller-chosen identifiers
// and guards updates with structural schema-compatibility checks, so a
// deployed agent's contract never changes silently.
package deployments

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/schema"
	"github.com/anotherai-dev/anotherai-sub001/internal/storage"
)

// CompatibilityError rejects an update whose schemas do not match the
// deployed contract.
type CompatibilityError struct {
	DeploymentID string
	Reason       string
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("deployment %s: %s", e.DeploymentID, e.Reason)
}

// Resolver implements the deployment operations over the stores.
type Resolver struct {
	Versions storage.VersionStore
	Store    storage.DeploymentStore
}

// New builds a resolver.
func New(versions storage.VersionStore, store storage.DeploymentStore) *Resolver {
	return &Resolver{Versions: versions, Store: store}
}

// UpsertResult is the outcome of an upsert. When the deployment already
// exists the update is not applied; ConfirmationURL points the caller at the
// PATCH flow that applies it.
type UpsertResult struct {
	Deployment      *domain.Deployment
	Created         bool
	ConfirmationURL string
}

// Upsert creates the deployment when the id is new. For an existing
// deployment it checks schema compatibility and, when compatible, returns
// the confirmation URL instead of applying the update.
func (r *Resolver) Upsert(ctx context.Context, agentID, versionID, deploymentID, author string) (*UpsertResult, error) {
	if deploymentID == "" {
		return nil, fmt.Errorf("deployment id is required")
	}
	version, err := r.Versions.Get(ctx, agentID, versionID)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", versionID, err)
	}

	existing, err := r.Store.Get(ctx, deploymentID)
	if err == storage.ErrNotFound {
		now := time.Now().UTC()
		d := &domain.Deployment{
			ID:        deploymentID,
			AgentID:   agentID,
			Version:   version,
			CreatedBy: author,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.Store.Put(ctx, d); err != nil {
			return nil, err
		}
		return &UpsertResult{Deployment: d, Created: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := checkCompatible(deploymentID, existing.Version, version); err != nil {
		return nil, err
	}
	return &UpsertResult{
		Deployment: existing,
		ConfirmationURL: fmt.Sprintf("/deployments/%s/confirm?version_id=%s",
			url.PathEscape(deploymentID), url.QueryEscape(versionID)),
	}, nil
}

// Update applies a confirmed version change, re-checking compatibility.
func (r *Resolver) Update(ctx context.Context, deploymentID, agentID, versionID string) (*domain.Deployment, error) {
	existing, err := r.Store.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	version, err := r.Versions.Get(ctx, agentID, versionID)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", versionID, err)
	}
	if err := checkCompatible(deploymentID, existing.Version, version); err != nil {
		return nil, err
	}
	existing.Version = version
	existing.UpdatedAt = time.Now().UTC()
	if err := r.Store.Put(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Resolve returns the pinned version for a request. Variables are validated
// against the version's input schema; a caller-supplied output schema
// replaces the pinned one only when structurally compatible. Archived
// deployments still resolve.
func (r *Resolver) Resolve(ctx context.Context, deploymentID string, variables map[string]any, outputSchema map[string]any) (*domain.Deployment, *domain.Version, error) {
	d, err := r.Store.Get(ctx, deploymentID)
	if err != nil {
		return nil, nil, err
	}
	version := d.Version

	if version.InputVariablesSchema == nil {
		if len(variables) > 0 {
			return nil, nil, fmt.Errorf(
				"Input variables are provided but the version does not support them")
		}
	} else {
		vars := variables
		if vars == nil {
			vars = map[string]any{}
		}
		if err := schema.Validate(vars, version.InputVariablesSchema); err != nil {
			return nil, nil, fmt.Errorf("input variables: %w", err)
		}
	}

	if outputSchema != nil {
		if version.OutputSchema == nil {
			return nil, nil, &CompatibilityError{DeploymentID: deploymentID,
				Reason: "request supplies an output schema but the deployment has none"}
		}
		if !schema.Compatible(version.OutputSchema, outputSchema) {
			return nil, nil, &CompatibilityError{DeploymentID: deploymentID,
				Reason: "request output schema is structurally different from the deployed one"}
		}
		v := *version
		v.OutputSchema = outputSchema
		version = &v
	}
	return d, version, nil
}

// Archive hides the deployment from listings; it keeps resolving for
// existing callers.
func (r *Resolver) Archive(ctx context.Context, deploymentID string) error {
	return r.Store.Archive(ctx, deploymentID, time.Now().UTC())
}

// checkCompatible enforces the update contract: schema presence must match
// and present schemas must be structurally compatible on both sides.
func checkCompatible(deploymentID string, old, new *domain.Version) error {
	if err := checkSchemaPair(deploymentID, "input_variables_schema",
		old.InputVariablesSchema, new.InputVariablesSchema); err != nil {
		return err
	}
	return checkSchemaPair(deploymentID, "output_schema",
		old.OutputSchema, new.OutputSchema)
}

func checkSchemaPair(deploymentID, name string, old, new map[string]any) error {
	switch {
	case old == nil && new == nil:
		return nil
	case old != nil && new == nil:
		return &CompatibilityError{DeploymentID: deploymentID,
			Reason: fmt.Sprintf("new version drops the %s the deployment relies on", name)}
	case old == nil && new != nil:
		return &CompatibilityError{DeploymentID: deploymentID,
			Reason: fmt.Sprintf("new version adds a %s the deployment does not have", name)}
	case !schema.Compatible(old, new):
		return &CompatibilityError{DeploymentID: deploymentID,
			Reason: fmt.Sprintf("new version's %s is structurally different", name)}
	}
	return nil
}
