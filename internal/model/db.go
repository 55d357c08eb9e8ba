package model

import (
	"database/sql"
	"time"
)

// DBRelease represents a release record in the database
type DBRelease struct {
	Version         string `db:"version"`
	ReleaseDate     string `db:"release_date"`
	IsLatestStable  bool   `db:"is_latest_stable"`
	IsLatestBeta    bool   `db:"is_latest_beta"`
	IsLatestNightly bool   `db:"is_latest_nightly"`
}

// DBComponent represents a component record in the database
type DBComponent struct {
	ID             int64          `db:"id"`
	Name           string         `db:"name"`
	Version        string         `db:"version"`
	ReleaseVersion string         `db:"release_version"`
	GitCommit      sql.NullString `db:"git_commit"`
	InComplete     bool           `db:"in_complete"`
	InDefault      bool           `db:"in_default"`
	InMinimal      bool           `db:"in_minimal"`
}

// DBTarget represents a component target record in the database
type DBTarget struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	URL         string `db:"url"`
	Hash        string `db:"hash"`
	ComponentID int64  `db:"component_id"`
}

// DBArtefact represents a release artefact record in the database
type DBArtefact struct {
	ID             int64  `db:"id"`
	ReleaseVersion string `db:"release_version"`
	Kind           string `db:"kind"`
	TargetName     string `db:"target_name"`
	URL            string `db:"url"`
	Hash           string `db:"hash"`
}

// DBRename represents a component rename record in the database
type DBRename struct {
	ReleaseVersion string `db:"release_version"`
	OldName        string `db:"old_name"`
	NewName        string `db:"new_name"`
}

// DBSyncRun represents one committed synchronization run
type DBSyncRun struct {
	ID             string    `db:"id"`
	StartedAt      time.Time `db:"started_at"`
	FinishedAt     time.Time `db:"finished_at"`
	Planned        int       `db:"planned"`
	Parsed         int       `db:"parsed"`
	Inserted       int       `db:"inserted"`
	Failed         int       `db:"failed"`
	StableVersion  string    `db:"stable_version"`
	BetaVersion    string    `db:"beta_version"`
	NightlyVersion string    `db:"nightly_version"`
}

// Schema contains the SQL schema for the database
const Schema = `
CREATE TABLE IF NOT EXISTS releases (
    version TEXT PRIMARY KEY,
    release_date TEXT NOT NULL,
    is_latest_stable INTEGER NOT NULL DEFAULT 0,
    is_latest_beta INTEGER NOT NULL DEFAULT 0,
    is_latest_nightly INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS components (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    release_version TEXT NOT NULL,
    git_commit TEXT,
    in_complete INTEGER NOT NULL DEFAULT 0,
    in_default INTEGER NOT NULL DEFAULT 0,
    in_minimal INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (release_version) REFERENCES releases(version) ON DELETE CASCADE,
    UNIQUE(release_version, name)
);

CREATE TABLE IF NOT EXISTS targets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    hash TEXT NOT NULL,
    component_id INTEGER NOT NULL,
    FOREIGN KEY (component_id) REFERENCES components(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS artefacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    release_version TEXT NOT NULL,
    kind TEXT NOT NULL,
    target_name TEXT NOT NULL,
    url TEXT NOT NULL UNIQUE,
    hash TEXT NOT NULL,
    FOREIGN KEY (release_version) REFERENCES releases(version) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS renames (
    release_version TEXT NOT NULL,
    old_name TEXT NOT NULL,
    new_name TEXT NOT NULL,
    PRIMARY KEY (release_version, old_name),
    FOREIGN KEY (release_version) REFERENCES releases(version) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS sync_runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    planned INTEGER NOT NULL DEFAULT 0,
    parsed INTEGER NOT NULL DEFAULT 0,
    inserted INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    stable_version TEXT NOT NULL DEFAULT '',
    beta_version TEXT NOT NULL DEFAULT '',
    nightly_version TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_components_release ON components(release_version);
CREATE INDEX IF NOT EXISTS idx_targets_component ON targets(component_id);
CREATE INDEX IF NOT EXISTS idx_artefacts_release ON artefacts(release_version);
CREATE INDEX IF NOT EXISTS idx_sync_runs_finished ON sync_runs(finished_at);
`
