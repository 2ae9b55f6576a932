package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/handler"
	"github.com/xxxsen/tuneforge/internal/job"
	"github.com/xxxsen/tuneforge/internal/logging"
	"github.com/xxxsen/tuneforge/internal/mcpserver"
	"github.com/xxxsen/tuneforge/internal/middleware"
	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
	"github.com/xxxsen/tuneforge/internal/schedule"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "tuneforge",
		Short:         "generate question-answer datasets and drive fine-tuning jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (json, yaml or toml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run tuneforge http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			return runServer(a)
		},
	}

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "serve tuneforge tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return mcpserver.New(a.extractor, a.tuner, a.cfg.Dataset.MinSelection, a.logger).Run(ctx, version)
		},
	}

	rootCmd.AddCommand(runCmd, mcpCmd, newGenerateCmd(&configPath), newCorpusCmd(&configPath), newJobsCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError prints structured failures as JSON so scripts can read them.
func reportError(err error) {
	var structured *appErr.Error
	if errors.As(err, &structured) {
		payload, _ := json.MarshalIndent(map[string]interface{}{"error": structured}, "", "  ")
		fmt.Fprintln(os.Stderr, string(payload))
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
}

func runServer(a *app) error {
	cfg := a.cfg
	logger := a.logger
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logger.Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("generator", a.generatorName()),
		zap.Strings("supported_models", a.tuner.SupportedModels()),
		zap.String("archive", cfg.Archive.Type),
	)

	deps := handler.RouterDeps{
		Datasets: handler.NewDatasetHandler(a.extractor, a.drafts, a.tuner, a.archive, cfg.Dataset.MinSelection, logger),
		Files:    handler.NewFileHandler(a.tuner, a.archive, cfg.Dataset.MaxUploadSize, logger),
		FineTune: handler.NewFineTuneHandler(a.tuner, logger),
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			logging.AccessLog(logger),
			middleware.CORS(cfg.CORS.AllowedOrigins),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{handler.GenerateRoute})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.FineTune.Watch.Enabled {
		scheduler := schedule.NewCronScheduler(logger)
		watch := job.NewFineTuneWatchJob(a.tuner, cfg.FineTune.Watch.Limit, logger)
		if err := scheduler.AddJob(watch, cfg.FineTune.Watch.Spec); err != nil {
			return fmt.Errorf("schedule fine-tune watch: %w", err)
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
		go scheduler.RunNow(watch.Name())
	}

	logger.Info("http server listening", zap.String("addr", addr))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("server stopping...")
	return nil
}
