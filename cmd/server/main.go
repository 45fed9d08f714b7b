package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/config"
	"github.com/Brownie44l1/lesion-api/internal/handlers"
	"github.com/Brownie44l1/lesion-api/internal/logger"
	"github.com/Brownie44l1/lesion-api/internal/model"
	"github.com/Brownie44l1/lesion-api/internal/prediction"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	fetcher := model.NewFetcher(cfg.Model.FetchTimeout, cfg.Model.FetchRetries, zlog)
	loader := model.NewONNXLoader(model.ONNXSource{
		ModelSource:    cfg.Model.Source,
		MetadataSource: cfg.Model.MetadataSource,
		Metadata:       cfg.Model.Metadata,
		Session: model.SessionOptions{
			SharedLibraryPath: cfg.Model.SharedLibrary,
			IntraOpThreads:    cfg.Model.IntraOpThreads,
		},
	}, fetcher, zlog)

	manager := model.NewManager(loader, zlog)
	defer manager.Close()
	// Loads in the background; /predict fails fast until it is ready.
	manager.StartLoad(context.Background())
	if cfg.Model.WaitOnStart > 0 {
		go awaitModel(context.Background(), manager, cfg.Model.WaitOnStart, zlog)
	}

	filter, err := prediction.ParseFilter(cfg.Prediction.ResizeFilter)
	if err != nil {
		return err
	}
	engine, err := prediction.NewEngine(cfg.Prediction.Threshold, cfg.Prediction.CacheSize, zlog)
	if err != nil {
		return err
	}
	service := prediction.NewService(
		prediction.NewUploadValidator(cfg.Upload.Field, cfg.Upload.MaxBytes),
		manager,
		prediction.NewPreprocessor(filter, cfg.Prediction.AutoOrient, cfg.Prediction.MaxPixels),
		engine,
		prediction.NewFormatter(),
		zlog,
	)

	mux := http.NewServeMux()
	handlers.NewHandler(service, manager, zlog).Routes(mux)
	stack := handlers.Chain(
		handlers.Recovery(zlog),
		handlers.Logging(zlog),
		handlers.CORS(cfg.Server.CORSOrigins),
	)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           stack(mux),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("Server starting",
			zap.String("addr", server.Addr),
			zap.String("model", cfg.Model.Source),
			zap.Int64("max_upload_bytes", cfg.Upload.MaxBytes))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-quit:
		zlog.Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type modelWaiter interface {
	Wait(ctx context.Context) error
}

// awaitModel reports whether the model finished loading within timeout.
// It only logs; requests are served regardless of the outcome.
func awaitModel(ctx context.Context, m modelWaiter, timeout time.Duration, zlog *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := m.Wait(ctx)
	switch {
	case err == nil:
		zlog.Info("Model ready at startup", zap.Duration("wait_on_start", timeout))
	case errors.Is(err, context.DeadlineExceeded):
		zlog.Warn("Model still loading after startup wait, serving anyway",
			zap.Duration("wait_on_start", timeout))
	default:
		zlog.Error("Model unavailable at startup", zap.Error(err))
	}
}
