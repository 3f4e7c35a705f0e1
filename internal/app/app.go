// Package app wires config, the state store and the engine together for the
// CLI and the server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"squadboard/internal/config"
	"squadboard/internal/db"
	"squadboard/internal/engine"
	"squadboard/internal/issues"
	"squadboard/internal/migrate"
	"squadboard/internal/sessionlog"
)

// Overrides come from flags or environment and take precedence over the
// config file. A non-empty Root also skips restoring a persisted root.
type Overrides struct {
	ConfigPath string
	Root       string
	Folder     string
	NoStore    bool
}

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    *engine.Engine
	Logger    *log.Logger
}

// LoadConfig reads the explicit config path when given, else the optional
// workspace config.
func LoadConfig(workspace string, ov Overrides) (*config.Config, error) {
	if ov.ConfigPath != "" {
		return config.FromFile(ov.ConfigPath)
	}
	return config.LoadOptional(workspace)
}

// Open loads config, opens and migrates the state store unless NoStore is
// set, and builds the engine.
func Open(ctx context.Context, workspace string, ov Overrides, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	if workspace == "" {
		workspace = "."
	}
	cfg, err := LoadConfig(workspace, ov)
	if err != nil {
		return nil, err
	}
	a := &App{Workspace: workspace, Config: cfg, Logger: logger}

	if !ov.NoStore {
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, err
		}
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate state store: %w", err)
		}
		a.DB = conn
	}

	opts, err := EngineOptions(cfg, workspace, ov, os.Getenv)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts.DB = a.DB
	opts.Logger = logger
	e, err := engine.New(opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = e

	if ov.Root == "" {
		if _, err := e.RestoreRoot(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("restore root: %w", err)
		}
	}
	return a, nil
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// EngineOptions maps config plus overrides onto engine options. Relative
// roots and issue files resolve against the workspace.
func EngineOptions(cfg *config.Config, workspace string, ov Overrides, getenv func(string) string) (engine.Options, error) {
	root := cfg.Squad.Root
	if ov.Root != "" {
		root = ov.Root
	}
	folder := cfg.Squad.Folder
	if ov.Folder != "" {
		folder = ov.Folder
	}
	src, err := IssueSource(cfg, workspace, getenv)
	if err != nil {
		return engine.Options{}, err
	}
	strategies, err := issues.ParseStrategies(cfg.Issues.Strategies)
	if err != nil {
		return engine.Options{}, err
	}
	var completion *sessionlog.CompletionMatcher
	if len(cfg.Completion.Patterns) > 0 {
		completion, err = sessionlog.NewCompletionMatcher(cfg.Completion.Patterns...)
		if err != nil {
			return engine.Options{}, err
		}
	}
	return engine.Options{
		Fs:     afero.NewOsFs(),
		Root:   resolve(workspace, root),
		Folder: folder,
		Names:  cfg.Names(),
		Issues: src,
		Correlator: issues.Correlator{
			Strategies:  strategies,
			LabelPrefix: cfg.Issues.LabelPrefix,
			Aliases:     cfg.Issues.Aliases,
		},
		Completion: completion,
		ClosedTTL:  cfg.ClosedTTL(),
	}, nil
}

// IssueSource builds the configured tracker client. The GitHub token is read
// from the environment variable named by token_env and may be empty.
func IssueSource(cfg *config.Config, workspace string, getenv func(string) string) (issues.Source, error) {
	switch strings.TrimSpace(cfg.Issues.Source) {
	case "", config.SourceNone:
		return issues.NoopSource{}, nil
	case config.SourceFile:
		return issues.FileSource{Fs: afero.NewOsFs(), Path: resolve(workspace, cfg.Issues.File)}, nil
	case config.SourceGitHub:
		var token string
		if cfg.Issues.TokenEnv != "" && getenv != nil {
			token = getenv(cfg.Issues.TokenEnv)
		}
		return &issues.GitHubSource{
			BaseURL:    cfg.Issues.BaseURL,
			Repository: cfg.Issues.Repository,
			Token:      token,
		}, nil
	default:
		return nil, fmt.Errorf("unknown issue source %q", cfg.Issues.Source)
	}
}

func resolve(workspace, p string) string {
	if p == "" {
		p = "."
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
