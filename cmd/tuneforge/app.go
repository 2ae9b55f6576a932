package main

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/ai"
	"github.com/xxxsen/tuneforge/internal/archive"
	"github.com/xxxsen/tuneforge/internal/config"
	"github.com/xxxsen/tuneforge/internal/dataset"
	"github.com/xxxsen/tuneforge/internal/extractor"
	"github.com/xxxsen/tuneforge/internal/finetune"
	"github.com/xxxsen/tuneforge/internal/logging"
)

// app holds every component a command may need.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	generators []string
	extractor  *extractor.Extractor
	drafts     *dataset.DraftStore
	tuner      *finetune.Client
	archive    archive.Store
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogConfig)
	logger.Info("config loaded", zap.String("config", configPath))

	entries := make([]ai.StreamerEntry, 0, len(cfg.Generation.Providers))
	names := make([]string, 0, len(cfg.Generation.Providers))
	for _, p := range cfg.Generation.Providers {
		provider, err := ai.NewProvider(p.Provider, p.Data)
		if err != nil {
			return nil, fmt.Errorf("init ai provider %s: %w", p.Name, err)
		}
		entries = append(entries, ai.StreamerEntry{Name: p.Name, Streamer: ai.NewStreamer(provider, p.Model)})
		names = append(names, p.Name+"/"+p.Model)
	}
	ex := extractor.New(ai.NewGroupStreamer(entries, logger), extractor.Config{
		MaxCount:   cfg.Generation.MaxCount,
		DebugBatch: cfg.Generation.DebugBatch,
		MaxDepth:   cfg.Generation.MaxDepth,
		Timeout:    cfg.Generation.Timeout,
	}, logger)

	openai := ai.NewOpenAIClient(ai.OpenAIConfig{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		Organization: cfg.OpenAI.Organization,
		Timeout:      cfg.OpenAI.Timeout,
	})
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		logger.Warn("openai api key is empty, fine-tuning calls will be rejected upstream")
	}

	store, err := archive.New(cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("init archive store: %w", err)
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		generators: names,
		extractor:  ex,
		drafts:     dataset.NewDraftStore(cfg.Dataset.MaxDrafts, time.Duration(cfg.Dataset.DraftTTLMinutes)*time.Minute),
		tuner:      finetune.NewClient(openai, cfg.FineTune.SupportedModels, logger),
		archive:    store,
	}, nil
}

func (a *app) generatorName() string {
	return strings.Join(a.generators, ",")
}
