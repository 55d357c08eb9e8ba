package service

import (
	"context"
	"fmt"

	"github.com/ippclub/rustdist/internal/manifest"
	"go.uber.org/zap"
)

// VersionReader is the store read surface the planner depends on
type VersionReader interface {
	IsEmpty(ctx context.Context) (bool, error)
	ExistingVersions(ctx context.Context, candidates []string) (map[string]struct{}, error)
}

// Plan is the subset of tracked manifests that needs parsing this run
type Plan struct {
	// Identifiers keeps the tracked order (newest first)
	Identifiers []string
	// Unversioned holds tracked identifiers whose version could not be read
	// from the name; they are excluded from a diff plan
	Unversioned []string
	// Fresh is set when the store held no releases
	Fresh bool
}

// Planner computes which tracked manifests are new
type Planner struct {
	store  VersionReader
	logger *zap.Logger
}

// NewPlanner creates a new Planner
func NewPlanner(store VersionReader, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{store: store, logger: logger}
}

// Plan returns the tracked identifiers whose version is not stored yet.
// Force mode and a fresh store both return the whole tracked set.
func (p *Planner) Plan(ctx context.Context, tracked []string, force bool) (*Plan, error) {
	fresh, err := p.store.IsEmpty(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect store: %w", err)
	}
	if force || fresh {
		p.logger.Debug("planning full tracked set", zap.Bool("force", force), zap.Bool("fresh", fresh))
		return &Plan{Identifiers: append([]string(nil), tracked...), Fresh: fresh}, nil
	}

	plan := &Plan{}
	versions := make([]string, 0, len(tracked))
	versionOf := make(map[string]string, len(tracked))
	for _, id := range tracked {
		version, ok := manifest.ExtractVersion(id)
		if !ok {
			plan.Unversioned = append(plan.Unversioned, id)
			p.logger.Warn("cannot read version from manifest name; excluding", zap.String("manifest", id))
			continue
		}
		versionOf[id] = version
		versions = append(versions, version)
	}

	existing, err := p.store.ExistingVersions(ctx, versions)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing versions: %w", err)
	}
	for _, id := range tracked {
		version, ok := versionOf[id]
		if !ok {
			continue
		}
		if _, stored := existing[version]; !stored {
			plan.Identifiers = append(plan.Identifiers, id)
		}
	}
	return plan, nil
}
