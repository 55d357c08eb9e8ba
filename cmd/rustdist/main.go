package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ippclub/rustdist/internal/config"
	"github.com/ippclub/rustdist/internal/logger"
	"github.com/ippclub/rustdist/internal/service"
	"github.com/ippclub/rustdist/internal/store"
	"github.com/ippclub/rustdist/pkg/dist"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions holds flags shared by all commands
type rootOptions struct {
	ConfigPath string
	Database   string
	Workers    int
}

// app bundles what every command needs
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *store.SQLiteStore
	client *dist.Client
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "rustdist",
		Short: "Rust toolchain release catalog",
		Long: `rustdist keeps a local SQLite catalog of Rust toolchain releases in step
with the manifests published on the distribution server, and serves it over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultPath, "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "database", "", "path to SQLite database (overrides storage.path)")
	cmd.PersistentFlags().IntVar(&opts.Workers, "workers", 0, "concurrent manifest downloads (overrides sync.workers)")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

// setup loads .env and configuration, then opens the logger, store and fetcher
func setup(opts *rootOptions) (*app, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg *config.Config
	var err error
	if opts.ConfigPath == "" || opts.ConfigPath == config.DefaultPath {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFromFile(opts.ConfigPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Database != "" {
		cfg.Storage.Path = opts.Database
	}
	if opts.Workers > 0 {
		cfg.Sync.Workers = opts.Workers
	}

	log, err := logger.InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Storage.Path, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	log.Info("opened catalog", zap.String("path", st.Path()))

	client := dist.NewClient(dist.Options{
		BaseURL:       cfg.Dist.BaseURL,
		ManifestsPath: cfg.Dist.ManifestsPath,
		Timeout:       cfg.Dist.Timeout,
		ListTimeout:   cfg.Dist.ListTimeout,
		RPS:           cfg.Dist.RPS,
		Burst:         cfg.Dist.Burst,
	}, log)

	return &app{cfg: cfg, log: log, store: st, client: client}, nil
}

func (a *app) syncService(limit int, force bool) *service.SyncService {
	return service.NewSyncService(a.store, a.client, service.Options{
		Workers: a.cfg.Sync.Workers,
		Limit:   limit,
		Force:   force,
	}, a.log)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("failed to close store", zap.Error(err))
	}
	a.log.Sync()
}
