package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonathan/resume-analyzer/internal/config"
	"github.com/jonathan/resume-analyzer/internal/db"
	"github.com/jonathan/resume-analyzer/internal/document"
	"github.com/jonathan/resume-analyzer/internal/kv"
	"github.com/jonathan/resume-analyzer/internal/llm"
	"github.com/jonathan/resume-analyzer/internal/pipeline"
	"github.com/jonathan/resume-analyzer/internal/records"
	"github.com/jonathan/resume-analyzer/internal/storage"
)

// app holds the collaborators shared by commands
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error

	database *db.DB
	backend  kv.Store
	ai       llm.Client
}

// newApp loads configuration and logging. With useMemory the record store is
// process-local and no database is needed.
func newApp(ctx context.Context, useMemory bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger, closeLog := config.SetupLogger(cfg.LogFile, level)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, closeLog: closeLog}
	if useMemory {
		logger.Warn("using in-memory record store; analyses are lost on exit")
		a.backend = kv.NewMemory()
		return a, nil
	}

	if cfg.DatabaseURL == "" {
		a.close()
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	a.database, err = db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		a.close()
		return nil, err
	}
	a.backend = a.database.KV()
	return a, nil
}

func (a *app) recordStore() *records.Store {
	return records.NewStore(a.backend, a.logger)
}

func (a *app) fileStorage() (*storage.FS, error) {
	return storage.NewDir(a.cfg.StorageDir)
}

// orchestrator wires the full pipeline against the configured collaborators
func (a *app) orchestrator(ctx context.Context) (*pipeline.Orchestrator, *storage.FS, error) {
	if a.cfg.APIKey == "" {
		return nil, nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	files, err := a.fileStorage()
	if err != nil {
		return nil, nil, err
	}

	llmCfg := a.cfg.LLMConfig()
	a.ai, err = llm.NewClient(ctx, llmCfg, a.cfg.APIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AI client: %w", err)
	}

	orch, err := pipeline.NewOrchestrator(pipeline.Deps{
		Storage:    files,
		Rasterizer: document.NewPoppler(a.logger),
		AI:         a.ai,
		Records:    a.recordStore(),
		LLM:        llmCfg,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return orch, files, nil
}

func (a *app) close() {
	var errs []error
	if a.ai != nil {
		errs = append(errs, a.ai.Close())
	}
	if a.database != nil {
		a.database.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("failed to release resources", "error", err)
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}
