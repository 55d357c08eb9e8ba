package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ippclub/rustdist/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// IntegrityError is a constraint violation while inserting one release
type IntegrityError struct {
	Version string
	Err     error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation inserting release %s: %v", e.Version, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// IsConstraint reports whether err is a SQLite constraint violation
func IsConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// maxInParams keeps IN lists under SQLite's host parameter limit
const maxInParams = 500

// SQLiteStore implements the release catalog on SQLite
type SQLiteStore struct {
	db     *sqlx.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the catalog database at path
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// pragmas go in the DSN so every pooled connection enforces foreign keys
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(model.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// IsEmpty reports whether no release has been stored yet
func (s *SQLiteStore) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM releases`); err != nil {
		return false, fmt.Errorf("failed to count releases: %w", err)
	}
	return count == 0, nil
}

// ExistingVersions returns the subset of candidates already stored
func (s *SQLiteStore) ExistingVersions(ctx context.Context, candidates []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for start := 0; start < len(candidates); start += maxInParams {
		end := min(start+maxInParams, len(candidates))

		query, args, err := sqlx.In(`SELECT version FROM releases WHERE version IN (?)`, candidates[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to build version query: %w", err)
		}
		var versions []string
		if err := s.db.SelectContext(ctx, &versions, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to query versions: %w", err)
		}
		for _, v := range versions {
			existing[v] = struct{}{}
		}
	}
	return existing, nil
}

// AllVersions returns every stored release, newest first
func (s *SQLiteStore) AllVersions(ctx context.Context) ([]model.DBRelease, error) {
	var releases []model.DBRelease
	if err := s.db.SelectContext(ctx, &releases, `SELECT * FROM releases`); err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}
	sortNewestFirst(releases)
	return releases, nil
}

// ChannelReleases returns the releases currently holding a channel flag
func (s *SQLiteStore) ChannelReleases(ctx context.Context) ([]model.DBRelease, error) {
	var releases []model.DBRelease
	query := `
		SELECT * FROM releases
		WHERE is_latest_stable = 1 OR is_latest_beta = 1 OR is_latest_nightly = 1
	`
	if err := s.db.SelectContext(ctx, &releases, query); err != nil {
		return nil, fmt.Errorf("failed to query channel releases: %w", err)
	}
	sortNewestFirst(releases)
	return releases, nil
}

// ChannelVersion resolves a channel name (stable, beta, nightly) to its release version
func (s *SQLiteStore) ChannelVersion(ctx context.Context, channel string) (string, error) {
	var column string
	switch channel {
	case "stable":
		column = "is_latest_stable"
	case "beta":
		column = "is_latest_beta"
	case "nightly":
		column = "is_latest_nightly"
	default:
		return "", fmt.Errorf("unknown channel %q", channel)
	}

	var version string
	err := s.db.GetContext(ctx, &version, `SELECT version FROM releases WHERE `+column+` = 1 LIMIT 1`)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no %s release: %w", channel, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s release: %w", channel, err)
	}
	return version, nil
}

// GetRelease gets a release by version
func (s *SQLiteStore) GetRelease(ctx context.Context, version string) (*model.DBRelease, error) {
	release := &model.DBRelease{}
	err := s.db.GetContext(ctx, release, `SELECT * FROM releases WHERE version = ?`, version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("release %s: %w", version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release: %w", err)
	}
	return release, nil
}

// ComponentsByRelease gets all components of a release ordered by name
func (s *SQLiteStore) ComponentsByRelease(ctx context.Context, version string) ([]model.DBComponent, error) {
	var components []model.DBComponent
	query := `SELECT * FROM components WHERE release_version = ? ORDER BY name`
	if err := s.db.SelectContext(ctx, &components, query, version); err != nil {
		return nil, fmt.Errorf("failed to query components: %w", err)
	}
	return components, nil
}

// GetComponent gets one component of a release
func (s *SQLiteStore) GetComponent(ctx context.Context, version, name string) (*model.DBComponent, error) {
	component := &model.DBComponent{}
	query := `SELECT * FROM components WHERE release_version = ? AND name = ?`
	err := s.db.GetContext(ctx, component, query, version, name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("component %s@%s: %w", name, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component: %w", err)
	}
	return component, nil
}

// TargetsByComponents gets the targets of the given components keyed by component id
func (s *SQLiteStore) TargetsByComponents(ctx context.Context, componentIDs []int64) (map[int64][]model.DBTarget, error) {
	out := make(map[int64][]model.DBTarget, len(componentIDs))
	for start := 0; start < len(componentIDs); start += maxInParams {
		end := min(start+maxInParams, len(componentIDs))

		query, args, err := sqlx.In(`SELECT * FROM targets WHERE component_id IN (?) ORDER BY name`, componentIDs[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to build target query: %w", err)
		}
		var targets []model.DBTarget
		if err := s.db.SelectContext(ctx, &targets, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to query targets: %w", err)
		}
		for _, t := range targets {
			out[t.ComponentID] = append(out[t.ComponentID], t)
		}
	}
	return out, nil
}

// ArtefactsByRelease gets all artefacts of a release
func (s *SQLiteStore) ArtefactsByRelease(ctx context.Context, version string) ([]model.DBArtefact, error) {
	var artefacts []model.DBArtefact
	query := `SELECT * FROM artefacts WHERE release_version = ? ORDER BY kind, target_name`
	if err := s.db.SelectContext(ctx, &artefacts, query, version); err != nil {
		return nil, fmt.Errorf("failed to query artefacts: %w", err)
	}
	return artefacts, nil
}

// RenamesByRelease gets the component renames of a release
func (s *SQLiteStore) RenamesByRelease(ctx context.Context, version string) ([]model.DBRename, error) {
	var renames []model.DBRename
	query := `SELECT * FROM renames WHERE release_version = ? ORDER BY old_name`
	if err := s.db.SelectContext(ctx, &renames, query, version); err != nil {
		return nil, fmt.Errorf("failed to query renames: %w", err)
	}
	return renames, nil
}

// LatestSyncRun gets the most recent committed sync run
func (s *SQLiteStore) LatestSyncRun(ctx context.Context) (*model.DBSyncRun, error) {
	run := &model.DBSyncRun{}
	err := s.db.GetContext(ctx, run, `SELECT * FROM sync_runs ORDER BY finished_at DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sync run: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sync run: %w", err)
	}
	return run, nil
}

// Begin starts the transaction a sync run writes through
func (s *SQLiteStore) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, logger: s.logger}, nil
}

// sortNewestFirst orders by release date, then by semantic version
func sortNewestFirst(releases []model.DBRelease) {
	sort.SliceStable(releases, func(i, j int) bool {
		if releases[i].ReleaseDate != releases[j].ReleaseDate {
			return releases[i].ReleaseDate > releases[j].ReleaseDate
		}
		return semver.Compare("v"+releases[i].Version, "v"+releases[j].Version) > 0
	})
}
