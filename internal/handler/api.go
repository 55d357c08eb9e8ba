package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ippclub/rustdist/internal/config"
	"github.com/ippclub/rustdist/internal/model"
	"github.com/ippclub/rustdist/internal/service"
	"github.com/ippclub/rustdist/internal/store"
	"go.uber.org/zap"
)

// API serves the stored release catalog over HTTP
type API struct {
	ctx         context.Context
	cfg         *config.Config
	logger      *zap.Logger
	store       *store.SQLiteStore
	syncService *service.SyncService
	rateLimiter *RateLimiter
	runs        sync.WaitGroup
	closeOnce   sync.Once
	mu          sync.RWMutex
	cache       struct {
		channels []byte
		versions []byte
		status   []byte
	}
}

// NewAPI creates a new API instance. Runs triggered over HTTP are bound to
// ctx and stop when it is cancelled.
func NewAPI(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.SQLiteStore, syncService *service.SyncService) *API {
	api := &API{
		ctx:         ctx,
		cfg:         cfg,
		logger:      logger,
		store:       st,
		syncService: syncService,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}

	// Initialize cache
	if err := api.UpdateCache(ctx); err != nil {
		logger.Error("failed to initialize cache", zap.Error(err))
	}

	syncService.SetOnSyncCallback(func(report *service.Report) {
		if err := api.UpdateCache(context.Background()); err != nil {
			logger.Error("failed to update cache after sync", zap.String("run_id", report.RunID), zap.Error(err))
		} else {
			logger.Info("cache updated after sync", zap.String("run_id", report.RunID))
		}
	})

	return api
}

// Close waits for triggered runs to finish and releases the API resources
func (a *API) Close() {
	a.closeOnce.Do(func() {
		a.runs.Wait()
		a.rateLimiter.Close()
	})
}

// RegisterRoutes registers the API routes
func (a *API) RegisterRoutes(r chi.Router) {
	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// API routes with rate limiting
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.rateLimiter.RateLimit)
		r.Get("/channels", a.listChannels)
		r.Get("/versions", a.listVersions)
		r.Get("/versions/{version}", a.getVersion)
		r.Get("/versions/{version}/components/{name}", a.getComponent)
		r.Get("/sync-status", a.getSyncStatus)
	})

	// Admin routes (localhost only)
	r.Route("/admin", func(r chi.Router) {
		r.Use(LocalOnly)
		r.Post("/sync", a.triggerSync)
	})
}

// UpdateCache rebuilds the cached list responses from the store
func (a *API) UpdateCache(ctx context.Context) error {
	releases, err := a.store.AllVersions(ctx)
	if err != nil {
		return fmt.Errorf("failed to get releases: %w", err)
	}
	versions, err := json.Marshal(summaries(releases))
	if err != nil {
		return fmt.Errorf("failed to marshal versions: %w", err)
	}

	channelReleases, err := a.store.ChannelReleases(ctx)
	if err != nil {
		return fmt.Errorf("failed to get channel releases: %w", err)
	}
	channels, err := json.Marshal(summaries(channelReleases))
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	var status []byte
	run, err := a.store.LatestSyncRun(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to get sync status: %w", err)
	default:
		status, err = json.Marshal(model.SyncStatus{
			RunID:      run.ID,
			StartedAt:  run.StartedAt.Unix(),
			FinishedAt: run.FinishedAt.Unix(),
			Planned:    run.Planned,
			Parsed:     run.Parsed,
			Inserted:   run.Inserted,
			Failed:     run.Failed,
			Stable:     run.StableVersion,
			Beta:       run.BetaVersion,
			Nightly:    run.NightlyVersion,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal sync status: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache.versions = versions
	a.cache.channels = channels
	a.cache.status = status
	return nil
}

// listChannels returns the releases currently holding a channel
func (a *API) listChannels(w http.ResponseWriter, r *http.Request) {
	a.writeCached(w, func() []byte { return a.cache.channels })
}

// listVersions returns all releases, newest first
func (a *API) listVersions(w http.ResponseWriter, r *http.Request) {
	a.writeCached(w, func() []byte { return a.cache.versions })
}

// getSyncStatus returns the latest committed sync run
func (a *API) getSyncStatus(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	status := a.cache.status
	a.mu.RUnlock()

	if status == nil {
		http.Error(w, "no sync has completed", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(status)
}

// getVersion returns one release with its components and artefacts
func (a *API) getVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := a.resolveVersion(w, r)
	if !ok {
		return
	}

	info, err := a.releaseInfo(r.Context(), version)
	if err != nil {
		a.writeError(w, "failed to get release", version, err)
		return
	}
	writeJSON(w, info)
}

// getComponent returns one component of a release with its targets
func (a *API) getComponent(w http.ResponseWriter, r *http.Request) {
	version, ok := a.resolveVersion(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")

	component, err := a.store.GetComponent(r.Context(), version, name)
	if err != nil {
		a.writeError(w, "failed to get component", version, err)
		return
	}
	targets, err := a.store.TargetsByComponents(r.Context(), []int64{component.ID})
	if err != nil {
		a.writeError(w, "failed to get targets", version, err)
		return
	}
	writeJSON(w, componentInfo(*component, targets[component.ID]))
}

// triggerSync starts a sync run in the background
func (a *API) triggerSync(w http.ResponseWriter, r *http.Request) {
	a.logger.Info("manual sync triggered")

	// Start sync in a goroutine to avoid blocking
	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		report, err := a.syncService.Run(a.ctx)
		switch {
		case errors.Is(err, service.ErrSyncInProgress):
			a.logger.Info("manual sync skipped; a run is already in progress")
		case err != nil:
			a.logger.Error("manual sync failed", zap.Error(err))
		default:
			a.logger.Info("manual sync completed", zap.String("run_id", report.RunID), zap.Int("failed", report.Failed()))
		}
	}()

	// Return immediately with a 202 Accepted status
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "sync started",
		"message": "Catalog synchronization has been triggered",
	})
}

// resolveVersion maps the {version} parameter, which may name a channel, to a release version
func (a *API) resolveVersion(w http.ResponseWriter, r *http.Request) (string, bool) {
	version := chi.URLParam(r, "version")
	if version == "" {
		http.Error(w, "version is required", http.StatusBadRequest)
		return "", false
	}

	channel := version
	if channel == "latest" {
		channel = "stable"
	}
	switch channel {
	case "stable", "beta", "nightly":
		resolved, err := a.store.ChannelVersion(r.Context(), channel)
		if err != nil {
			a.writeError(w, "failed to resolve channel", version, err)
			return "", false
		}
		return resolved, true
	}
	return version, true
}

// releaseInfo assembles the detailed view of a release
func (a *API) releaseInfo(ctx context.Context, version string) (*model.ReleaseInfo, error) {
	release, err := a.store.GetRelease(ctx, version)
	if err != nil {
		return nil, err
	}
	components, err := a.store.ComponentsByRelease(ctx, version)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(components))
	for i, c := range components {
		ids[i] = c.ID
	}
	targets, err := a.store.TargetsByComponents(ctx, ids)
	if err != nil {
		return nil, err
	}
	artefacts, err := a.store.ArtefactsByRelease(ctx, version)
	if err != nil {
		return nil, err
	}
	renames, err := a.store.RenamesByRelease(ctx, version)
	if err != nil {
		return nil, err
	}

	info := &model.ReleaseInfo{
		ReleaseSummary: summary(*release),
		Components:     make([]model.ComponentInfo, 0, len(components)),
	}
	for _, c := range components {
		if c.Name == "rustc" && c.GitCommit.Valid {
			info.GitCommit = c.GitCommit.String
		}
		info.Components = append(info.Components, componentInfo(c, targets[c.ID]))
	}
	for _, art := range artefacts {
		info.Artefacts = append(info.Artefacts, model.ArtefactInfo{
			Kind:   art.Kind,
			Target: art.TargetName,
			URL:    art.URL,
			Hash:   art.Hash,
		})
	}
	if len(renames) > 0 {
		info.Renames = make(map[string]string, len(renames))
		for _, rn := range renames {
			info.Renames[rn.OldName] = rn.NewName
		}
	}
	return info, nil
}

func (a *API) writeCached(w http.ResponseWriter, get func() []byte) {
	a.mu.RLock()
	data := get()
	a.mu.RUnlock()

	if data == nil {
		http.Error(w, "Cache not initialized", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (a *API) writeError(w http.ResponseWriter, msg, version string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	a.logger.Error(msg, zap.String("version", version), zap.Error(err))
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func summary(r model.DBRelease) model.ReleaseSummary {
	return model.ReleaseSummary{
		Version:       r.Version,
		ReleaseDate:   r.ReleaseDate,
		LatestStable:  r.IsLatestStable,
		LatestBeta:    r.IsLatestBeta,
		LatestNightly: r.IsLatestNightly,
	}
}

func summaries(releases []model.DBRelease) []model.ReleaseSummary {
	out := make([]model.ReleaseSummary, 0, len(releases))
	for _, r := range releases {
		out = append(out, summary(r))
	}
	return out
}

func componentInfo(c model.DBComponent, targets []model.DBTarget) model.ComponentInfo {
	info := model.ComponentInfo{
		Name:            c.Name,
		Version:         c.Version,
		GitCommit:       c.GitCommit.String,
		ProfileComplete: c.InComplete,
		ProfileDefault:  c.InDefault,
		ProfileMinimal:  c.InMinimal,
		Targets:         make([]model.TargetInfo, 0, len(targets)),
	}
	for _, t := range targets {
		info.Targets = append(info.Targets, model.TargetInfo{Name: t.Name, URL: t.URL, Hash: t.Hash})
	}
	return info
}
