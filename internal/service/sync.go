package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ippclub/rustdist/internal/manifest"
	"github.com/ippclub/rustdist/internal/model"
	"github.com/ippclub/rustdist/internal/store"
	"go.uber.org/zap"
)

// ErrSyncInProgress is returned when a run is requested while another is active
var ErrSyncInProgress = errors.New("sync already in progress")

// ManifestSource lists and fetches manifest documents
type ManifestSource interface {
	manifest.Fetcher
	ManifestList(ctx context.Context) ([]string, error)
}

// TransactionError is a fatal failure in the write phase of a run. The
// whole run has been rolled back when it is returned.
type TransactionError struct {
	Step string
	Err  error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("sync transaction failed at %s: %v", e.Step, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Options tunes a sync run
type Options struct {
	// Workers bounds concurrent fetch+parse
	Workers int
	// Limit caps the planned set; the nightly is not counted. Zero means no limit.
	Limit int
	// Force re-parses every tracked manifest and replaces stored releases
	Force bool
}

// Collision records two documents in one batch that produced the same version
type Collision struct {
	Version string
	Kept    string
	Dropped string
}

// InsertFailure is a release that could not be stored
type InsertFailure struct {
	Version  string
	Manifest string
	Err      error
}

// Channels are the versions the channel pointers resolved to
type Channels struct {
	Stable  string
	Beta    string
	Nightly string
}

// Report summarizes one sync run. Isolated failures are collected here;
// only fatal errors are returned from Run.
type Report struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Fresh          bool
	Planned        int
	Parsed         int
	Inserted       []string
	Replaced       []string
	Unversioned    []string
	Duplicates     []string
	Collisions     []Collision
	ParseFailures  []*manifest.ParseError
	InsertFailures []InsertFailure
	Channels       Channels
}

// Failed counts the isolated failures of the run
func (r *Report) Failed() int {
	return len(r.ParseFailures) + len(r.InsertFailures)
}

// SyncService keeps the release catalog in step with the upstream manifest list
type SyncService struct {
	store   *store.SQLiteStore
	source  ManifestSource
	parser  *manifest.Parser
	planner *Planner
	opts    Options
	logger  *zap.Logger
	mu      sync.Mutex
	onSync  func(*Report)
}

// NewSyncService creates a new SyncService instance
func NewSyncService(st *store.SQLiteStore, source ManifestSource, opts Options, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &SyncService{
		store:   st,
		source:  source,
		parser:  manifest.NewParser(logger),
		planner: NewPlanner(st, logger),
		opts:    opts,
		logger:  logger,
	}
}

// SetOnSyncCallback registers a function called after every committed run
func (s *SyncService) SetOnSyncCallback(fn func(*Report)) {
	s.onSync = fn
}

// Run performs one synchronization. Per-document and per-release failures
// are reported in the returned Report; a non-nil error means the store was
// left unchanged.
func (s *SyncService) Run(ctx context.Context) (*Report, error) {
	if !s.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.mu.Unlock()

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := s.logger.With(zap.String("run_id", report.RunID))
	log.Info("sync started", zap.Bool("force", s.opts.Force), zap.Int("workers", s.opts.Workers))

	ids, err := s.source.ManifestList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest list: %w", err)
	}
	filtered := manifest.Filter(ids)
	report.Duplicates = filtered.Duplicates
	for _, id := range filtered.Duplicates {
		log.Debug("dropping older duplicate manifest", zap.String("manifest", id))
	}

	plan, err := s.planner.Plan(ctx, filtered.Tracked, s.opts.Force)
	if err != nil {
		return nil, err
	}
	report.Fresh = plan.Fresh
	report.Unversioned = plan.Unversioned

	planned := plan.Identifiers
	if s.opts.Limit > 0 && len(planned) > s.opts.Limit {
		planned = planned[:s.opts.Limit]
	}
	report.Planned = len(planned)

	// The nightly leads the batch, followed by the plan in tracked order
	// (newest first). On a version collision the later entry wins.
	var batch []string
	nightlyIndex := -1
	if filtered.Pointers.Nightly != "" {
		nightlyIndex = 0
		batch = append(batch, filtered.Pointers.Nightly)
	}
	batch = append(batch, planned...)

	// Stable and beta pointers are parsed alongside the batch but never inserted
	jobs := slices.Clone(batch)
	stableIndex, betaIndex := -1, -1
	if filtered.Pointers.Stable != "" {
		stableIndex = len(jobs)
		jobs = append(jobs, filtered.Pointers.Stable)
	}
	if filtered.Pointers.Beta != "" {
		betaIndex = len(jobs)
		jobs = append(jobs, filtered.Pointers.Beta)
	}

	log.Info("parsing manifests", zap.Int("planned", len(planned)), zap.Int("jobs", len(jobs)))
	results := parseAll(ctx, s.parser, s.source, jobs, s.opts.Workers)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sync cancelled: %w", err)
	}

	for i, res := range results {
		if res.Err == nil {
			if i < len(batch) {
				report.Parsed++
			}
			continue
		}
		var perr *manifest.ParseError
		if !errors.As(res.Err, &perr) {
			perr = &manifest.ParseError{Kind: manifest.FailureUnexpected, Manifest: res.Identifier, Err: res.Err}
		}
		report.ParseFailures = append(report.ParseFailures, perr)
		log.Warn("failed to parse manifest",
			zap.String("manifest", res.Identifier),
			zap.String("kind", perr.Kind.String()),
			zap.Error(res.Err),
		)
	}

	report.Channels = Channels{
		Stable:  versionAt(results, stableIndex),
		Beta:    versionAt(results, betaIndex),
		Nightly: versionAt(results, nightlyIndex),
	}

	releases, collisions := dedupe(results[:len(batch)])
	report.Collisions = collisions
	for _, c := range collisions {
		log.Warn("two manifests produced the same version; keeping the later one",
			zap.String("version", c.Version),
			zap.String("kept", c.Kept),
			zap.String("dropped", c.Dropped),
		)
	}

	var nightly *model.Release
	if nightlyIndex >= 0 {
		nightly = results[nightlyIndex].Release
	}

	if err := s.apply(ctx, log, report, releases, nightly); err != nil {
		log.Error("sync rolled back", zap.Error(err))
		return nil, err
	}

	log.Info("sync finished",
		zap.Int("planned", report.Planned),
		zap.Int("parsed", report.Parsed),
		zap.Int("inserted", len(report.Inserted)),
		zap.Int("failed", report.Failed()),
		zap.String("stable", report.Channels.Stable),
		zap.String("beta", report.Channels.Beta),
		zap.String("nightly", report.Channels.Nightly),
	)

	if s.onSync != nil {
		s.onSync(report)
	}
	return report, nil
}

// apply runs the write phase inside one transaction
func (s *SyncService) apply(ctx context.Context, log *zap.Logger, report *Report, releases []*model.Release, nightly *model.Release) (err error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return &TransactionError{Step: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to roll back sync", zap.Error(rbErr))
			}
		}
	}()

	if nightly != nil && !report.Fresh {
		prior, err := tx.NightlyRelease(ctx)
		if err != nil {
			return &TransactionError{Step: "nightly lookup", Err: err}
		}
		switch {
		case prior == nil:
		case prior.Version == nightly.Version && prior.ReleaseDate == nightly.ReleaseDateString():
			if s.opts.Force {
				break
			}
			log.Debug("nightly unchanged", zap.String("version", nightly.Version))
			releases = slices.DeleteFunc(releases, func(r *model.Release) bool { return r == nightly })
		default:
			if _, err := tx.DeleteNightly(ctx); err != nil {
				return &TransactionError{Step: "nightly delete", Err: err}
			}
			report.Replaced = append(report.Replaced, prior.Version)
			log.Info("replaced nightly", zap.String("old", prior.Version), zap.String("new", nightly.Version))
		}
	}

	for _, r := range releases {
		err := tx.InsertReleaseTree(ctx, r, s.opts.Force)
		var ierr *store.IntegrityError
		switch {
		case err == nil:
			report.Inserted = append(report.Inserted, r.Version)
			log.Debug("inserted release", zap.String("version", r.Version), zap.String("manifest", r.Manifest))
		case errors.As(err, &ierr):
			report.InsertFailures = append(report.InsertFailures, InsertFailure{Version: r.Version, Manifest: r.Manifest, Err: err})
			log.Warn("failed to insert release", zap.String("version", r.Version), zap.Error(err))
		default:
			return &TransactionError{Step: "insert " + r.Version, Err: err}
		}
	}

	ch := report.Channels
	if err := tx.SetChannelFlags(ctx, ch.Stable, ch.Beta, ch.Nightly); err != nil {
		return &TransactionError{Step: "channel flags", Err: err}
	}

	report.FinishedAt = time.Now().UTC()
	run := &model.DBSyncRun{
		ID:             report.RunID,
		StartedAt:      report.StartedAt,
		FinishedAt:     report.FinishedAt,
		Planned:        report.Planned,
		Parsed:         report.Parsed,
		Inserted:       len(report.Inserted),
		Failed:         report.Failed(),
		StableVersion:  ch.Stable,
		BetaVersion:    ch.Beta,
		NightlyVersion: ch.Nightly,
	}
	if err := tx.RecordSyncRun(ctx, run); err != nil {
		return &TransactionError{Step: "record run", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &TransactionError{Step: "commit", Err: err}
	}
	committed = true
	return nil
}

// dedupe keeps one release per version, preferring the later document
func dedupe(results []outcome) ([]*model.Release, []Collision) {
	var releases []*model.Release
	var collisions []Collision
	index := make(map[string]int)
	for _, res := range results {
		if res.Release == nil {
			continue
		}
		if i, ok := index[res.Release.Version]; ok {
			collisions = append(collisions, Collision{
				Version: res.Release.Version,
				Kept:    res.Identifier,
				Dropped: releases[i].Manifest,
			})
			releases[i] = res.Release
			continue
		}
		index[res.Release.Version] = len(releases)
		releases = append(releases, res.Release)
	}
	return releases, collisions
}

func versionAt(results []outcome, i int) string {
	if i < 0 || results[i].Release == nil {
		return ""
	}
	return results[i].Release.Version
}
