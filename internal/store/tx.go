package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ippclub/rustdist/internal/model"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// profileColumns maps manifest profile names to component flag columns
var profileColumns = map[string]string{
	model.ProfileMinimal:  "in_minimal",
	model.ProfileDefault:  "in_default",
	model.ProfileComplete: "in_complete",
}

// Tx is the single write transaction of a sync run
type Tx struct {
	tx     *sqlx.Tx
	logger *zap.Logger
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// InsertReleaseTree inserts a release with its components, targets, artefacts,
// renames and profile flags as one unit. A failure rolls back only this
// release; the enclosing transaction stays usable. With replace set, an
// existing release of the same version is deleted first.
func (t *Tx) InsertReleaseTree(ctx context.Context, r *model.Release, replace bool) (err error) {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT release_tree`); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	defer func() {
		if err != nil {
			if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO release_tree`); rbErr != nil {
				t.logger.Error("Failed to roll back savepoint", zap.String("version", r.Version), zap.Error(rbErr))
			}
		}
		if _, relErr := t.tx.ExecContext(ctx, `RELEASE release_tree`); relErr != nil && err == nil {
			err = fmt.Errorf("failed to release savepoint: %w", relErr)
		}
		if err != nil && IsConstraint(err) {
			err = &IntegrityError{Version: r.Version, Err: err}
		}
	}()

	if replace {
		if _, err := t.DeleteRelease(ctx, r.Version); err != nil {
			return err
		}
	}
	if err := t.InsertRelease(ctx, r); err != nil {
		return err
	}
	ids, err := t.InsertComponents(ctx, r.Version, r.Components)
	if err != nil {
		return err
	}
	for i, c := range r.Components {
		if err := t.InsertTargets(ctx, ids[i], c.Targets); err != nil {
			return err
		}
	}
	if err := t.InsertArtefacts(ctx, r.Version, r.Artefacts); err != nil {
		return err
	}
	if err := t.InsertRenames(ctx, r.Version, r.Renames); err != nil {
		return err
	}
	return t.ApplyProfiles(ctx, r.Version, r.Profiles)
}

// InsertRelease inserts the release row
func (t *Tx) InsertRelease(ctx context.Context, r *model.Release) error {
	row := model.DBRelease{
		Version:         r.Version,
		ReleaseDate:     r.ReleaseDateString(),
		IsLatestStable:  r.IsLatestStable,
		IsLatestBeta:    r.IsLatestBeta,
		IsLatestNightly: r.IsLatestNightly,
	}
	query := `
		INSERT INTO releases (version, release_date, is_latest_stable, is_latest_beta, is_latest_nightly)
		VALUES (:version, :release_date, :is_latest_stable, :is_latest_beta, :is_latest_nightly)
	`
	if _, err := t.tx.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to insert release %s: %w", r.Version, err)
	}
	return nil
}

// InsertComponents inserts the components of a release and returns their ids
// in input order
func (t *Tx) InsertComponents(ctx context.Context, version string, components []model.Component) ([]int64, error) {
	if len(components) == 0 {
		return nil, nil
	}
	stmt, err := t.tx.PreparexContext(ctx, `
		INSERT INTO components (name, version, release_version, git_commit, in_complete, in_default, in_minimal)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare component insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, len(components))
	for i, c := range components {
		commit := sql.NullString{String: c.GitCommit, Valid: c.GitCommit != ""}
		err := stmt.QueryRowxContext(ctx, c.Name, c.Version, version, commit,
			c.InComplete, c.InDefault, c.InMinimal).Scan(&ids[i])
		if err != nil {
			return nil, fmt.Errorf("failed to insert component %s: %w", c.Name, err)
		}
	}
	return ids, nil
}

// InsertTargets inserts the targets of one component
func (t *Tx) InsertTargets(ctx context.Context, componentID int64, targets []model.Target) error {
	if len(targets) == 0 {
		return nil
	}
	rows := make([]model.DBTarget, len(targets))
	for i, target := range targets {
		rows[i] = model.DBTarget{Name: target.Name, URL: target.URL, Hash: target.Hash, ComponentID: componentID}
	}
	query := `INSERT INTO targets (name, url, hash, component_id) VALUES (:name, :url, :hash, :component_id)`
	if _, err := t.tx.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("failed to insert targets: %w", err)
	}
	return nil
}

// InsertArtefacts inserts the release-level artefacts
func (t *Tx) InsertArtefacts(ctx context.Context, version string, artefacts []model.Artefact) error {
	if len(artefacts) == 0 {
		return nil
	}
	rows := make([]model.DBArtefact, len(artefacts))
	for i, a := range artefacts {
		rows[i] = model.DBArtefact{
			ReleaseVersion: version,
			Kind:           a.Kind.String(),
			TargetName:     a.TargetName,
			URL:            a.URL,
			Hash:           a.Hash,
		}
	}
	query := `
		INSERT INTO artefacts (release_version, kind, target_name, url, hash)
		VALUES (:release_version, :kind, :target_name, :url, :hash)
	`
	if _, err := t.tx.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("failed to insert artefacts: %w", err)
	}
	return nil
}

// InsertRenames inserts the component renames of a release
func (t *Tx) InsertRenames(ctx context.Context, version string, renames map[string]string) error {
	if len(renames) == 0 {
		return nil
	}
	rows := make([]model.DBRename, 0, len(renames))
	for oldName, newName := range renames {
		rows = append(rows, model.DBRename{ReleaseVersion: version, OldName: oldName, NewName: newName})
	}
	query := `INSERT INTO renames (release_version, old_name, new_name) VALUES (:release_version, :old_name, :new_name)`
	if _, err := t.tx.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("failed to insert renames: %w", err)
	}
	return nil
}

// ApplyProfiles sets the profile membership flags of a release's components
func (t *Tx) ApplyProfiles(ctx context.Context, version string, profiles map[string][]string) error {
	for profile, names := range profiles {
		column, ok := profileColumns[profile]
		if !ok {
			t.logger.Warn("Ignoring unknown profile", zap.String("version", version), zap.String("profile", profile))
			continue
		}
		if len(names) == 0 {
			continue
		}
		query, args, err := sqlx.In(
			`UPDATE components SET `+column+` = 1 WHERE release_version = ? AND name IN (?)`, version, names)
		if err != nil {
			return fmt.Errorf("failed to build profile update: %w", err)
		}
		if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to apply profile %s: %w", profile, err)
		}
	}
	return nil
}

// NightlyRelease returns the release currently flagged nightly, or nil
func (t *Tx) NightlyRelease(ctx context.Context) (*model.DBRelease, error) {
	release := &model.DBRelease{}
	err := t.tx.GetContext(ctx, release, `SELECT * FROM releases WHERE is_latest_nightly = 1 LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nightly release: %w", err)
	}
	return release, nil
}

// DeleteNightly deletes the nightly release and everything it owns
func (t *Tx) DeleteNightly(ctx context.Context) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM releases WHERE is_latest_nightly = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete nightly release: %w", err)
	}
	return result.RowsAffected()
}

// DeleteRelease deletes one release and everything it owns
func (t *Tx) DeleteRelease(ctx context.Context, version string) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM releases WHERE version = ?`, version)
	if err != nil {
		return 0, fmt.Errorf("failed to delete release %s: %w", version, err)
	}
	return result.RowsAffected()
}

// SetChannelFlags points the stable, beta and nightly flags at the given
// versions. An empty version leaves that channel's flags untouched.
func (t *Tx) SetChannelFlags(ctx context.Context, stable, beta, nightly string) error {
	query := `
		UPDATE releases SET
			is_latest_stable = CASE WHEN :stable = '' THEN is_latest_stable ELSE version = :stable END,
			is_latest_beta = CASE WHEN :beta = '' THEN is_latest_beta ELSE version = :beta END,
			is_latest_nightly = CASE WHEN :nightly = '' THEN is_latest_nightly ELSE version = :nightly END
	`
	args := map[string]interface{}{
		"stable":  stable,
		"beta":    beta,
		"nightly": nightly,
	}
	if _, err := t.tx.NamedExecContext(ctx, query, args); err != nil {
		return fmt.Errorf("failed to set channel flags: %w", err)
	}
	return nil
}

// RecordSyncRun stores the summary of a sync run
func (t *Tx) RecordSyncRun(ctx context.Context, run *model.DBSyncRun) error {
	query := `
		INSERT INTO sync_runs (id, started_at, finished_at, planned, parsed, inserted, failed,
			stable_version, beta_version, nightly_version)
		VALUES (:id, :started_at, :finished_at, :planned, :parsed, :inserted, :failed,
			:stable_version, :beta_version, :nightly_version)
	`
	if _, err := t.tx.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}
