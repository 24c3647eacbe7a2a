// Command opendeepwiki runs the repository documentation worker and its
// management subcommands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"github.com/YickelFuboo/OpenDeepWiki/internal/config"
	"github.com/YickelFuboo/OpenDeepWiki/internal/gitrepo"
	"github.com/YickelFuboo/OpenDeepWiki/internal/logfields"
	"github.com/YickelFuboo/OpenDeepWiki/internal/metrics"
	"github.com/YickelFuboo/OpenDeepWiki/internal/observability"
	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
	"github.com/YickelFuboo/OpenDeepWiki/internal/version"
	"github.com/YickelFuboo/OpenDeepWiki/internal/worker"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Worker struct {
		DisableUpdater bool `help:"Run without the incremental updater"`
	} `cmd:"" help:"Run the documentation worker loop"`

	Add struct {
		Address  string `arg:"" help:"Git remote address or local directory"`
		Branch   string `short:"b" help:"Branch to document (git repositories)"`
		Type     string `help:"Repository type" default:"git" enum:"git,file"`
		Username string `help:"Git username for private remotes"`
		Password string `help:"Git password or token"`
	} `cmd:"" help:"Queue a repository for documentation"`

	Reset struct {
		ID string `arg:"" help:"Repository id"`
	} `cmd:"" help:"Reset a failed repository back to pending"`

	Init struct {
		Force bool `help:"Overwrite an existing configuration file"`
	} `cmd:"" help:"Write a default configuration file"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	kctx := kong.Parse(&CLI)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load configuration:", err)
		os.Exit(1)
	}
	if CLI.Verbose {
		cfg.Log.Level = "debug"
	}
	observability.SetupLogging(cfg.Log.Level, cfg.Log.Format)
	logger := slog.Default()

	switch kctx.Command() {
	case "worker":
		err = runWorker(&cfg, logger)
	case "add <address>":
		err = runAdd(&cfg, logger)
	case "reset <id>":
		err = runReset(&cfg)
	case "init":
		err = runInit(&cfg)
	case "version":
		fmt.Printf("opendeepwiki %s (built %s, commit %s)\n",
			version.Version, version.BuildTime, version.GitCommit)
	default:
		err = fmt.Errorf("unknown command: %s", kctx.Command())
	}
	if err != nil {
		logger.Error("command failed", logfields.Error(err))
		os.Exit(1)
	}
}

func runWorker(cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			logger.Info("metrics listener started", slog.String("addr", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics listener failed", logfields.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	git := gitrepo.NewClient(cfg.Git.WorkspaceDir)

	if !CLI.Worker.DisableUpdater {
		updater, err := worker.NewUpdater(st, cfg, git, logger)
		if err != nil {
			return err
		}
		if err := updater.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := updater.Stop(); err != nil {
				logger.Error("updater shutdown failed", logfields.Error(err))
			}
		}()
	}

	w := worker.New(st, cfg, git, logger)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("worker stopped")
	return nil
}

func runAdd(cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	repo := &store.Repository{
		Address:     CLI.Add.Address,
		Branch:      CLI.Add.Branch,
		Type:        store.RepositoryType(CLI.Add.Type),
		GitUserName: CLI.Add.Username,
		GitPassword: CLI.Add.Password,
	}
	if err := st.CreateRepository(context.Background(), repo); err != nil {
		return err
	}
	logger.Info("repository queued", logfields.RepositoryID(repo.ID), logfields.Repository(repo.Address))
	return nil
}

func runReset(cfg *config.Config) error {
	st, err := store.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.ResetRepository(context.Background(), CLI.Reset.ID)
}

func runInit(cfg *config.Config) error {
	if _, err := os.Stat(CLI.Config); err == nil && !CLI.Init.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", CLI.Config)
	}
	defaults := config.Default()
	data, err := yaml.Marshal(&defaults)
	if err != nil {
		return err
	}
	if err := os.WriteFile(CLI.Config, data, 0o644); err != nil {
		return err
	}
	fmt.Println("wrote", CLI.Config)
	return nil
}
