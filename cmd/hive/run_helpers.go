package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/ctxstore"
	"github.com/ShayCichocki/hive/internal/executor"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/plan"
	"github.com/ShayCichocki/hive/internal/state"
)

// newExecutor creates the executor selected by executor.backend.
func newExecutor(cfg *config.Config, repoPath string) (executor.Executor, error) {
	switch cfg.Executor.Backend {
	case "", "api":
		if err := config.CheckCredentials(cfg); err != nil {
			return nil, fmt.Errorf("check credentials: %w", err)
		}
		apiKey := ""
		if !cfg.Anthropic.Bedrock {
			apiKey, _ = config.GetAPIKey(cfg)
		}
		return executor.NewAPIExecutor(executor.APIConfig{
			Model:      anthropic.Model(cfg.Anthropic.Model),
			APIKey:     apiKey,
			UseBedrock: cfg.Anthropic.Bedrock,
			AWSRegion:  cfg.Anthropic.AWSRegion,
			AWSProfile: cfg.Anthropic.AWSProfile,
			MaxTokens:  cfg.Executor.MaxTokens,
		})

	case "cli":
		cli := executor.NewCLIExecutor(nil, executor.CLIConfig{
			Path:    cfg.Executor.CLIPath,
			WorkDir: repoPath,
			Model:   cfg.Anthropic.Model,
		})
		if err := cli.Check(); err != nil {
			return nil, err
		}
		return cli, nil

	default:
		return nil, fmt.Errorf("unknown executor backend %q: must be api or cli", cfg.Executor.Backend)
	}
}

// openStateDB opens the run database at state.path, or the project default.
func openStateDB(cfg *config.Config, repoPath string) (*state.DB, error) {
	if cfg.State.Path == "" {
		return state.OpenProject(repoPath)
	}
	db, err := state.Open(cfg.State.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// newContextStore creates the context store selected by context.backend and
// loads whatever a previous run persisted.
func newContextStore(cfg *config.Config, repoPath string, db *state.DB) (*ctxstore.Store, error) {
	var p ctxstore.Persister
	switch cfg.Context.Backend {
	case "", "json":
		path := cfg.Context.Path
		if path == "" {
			path = filepath.Join(repoPath, ".hive", "context.json")
		}
		p = ctxstore.NewFilePersister(path)
	case "sqlite":
		if db == nil {
			return nil, errors.New("sqlite context backend needs the state database")
		}
		p = ctxstore.NewSQLitePersister(db)
	case "memory":
		p = ctxstore.NopPersister{}
	default:
		return nil, fmt.Errorf("unknown context backend %q: must be json, sqlite or memory", cfg.Context.Backend)
	}

	store := ctxstore.New(p,
		ctxstore.WithMaxEntries(cfg.Context.MaxEntries),
		ctxstore.WithMaxAge(cfg.Context.MaxAge),
		ctxstore.WithDebounce(cfg.Context.Debounce),
		ctxstore.WithSummaryLength(cfg.Context.SummaryLength),
	)
	if err := store.Load(); err != nil {
		// A corrupt or unreadable file must not block the run.
		log.Printf("[hive] warning: starting with an empty context store: %v", err)
	}
	return store, nil
}

// buildPlan returns the tasks to submit: the plan file, or a single task
// from the command line.
func buildPlan(args []string, planPath, category, priority string) (*plan.Plan, error) {
	if planPath != "" {
		if len(args) > 0 {
			return nil, errors.New("give either a task description or --plan, not both")
		}
		return plan.Load(planPath)
	}
	if len(args) == 0 || args[0] == "" {
		return nil, errors.New("nothing to run: give a task description or --plan")
	}

	p := &plan.Plan{Tasks: []plan.Entry{{
		Description: args[0],
		Category:    category,
		Priority:    priority,
	}}}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// serveMetrics serves /metrics on addr until the returned server is closed.
func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[hive] warning: metrics server: %v", err)
		}
	}()
	log.Printf("[hive] serving metrics on %s/metrics", addr)
	return srv
}
