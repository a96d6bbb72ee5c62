//go:build windows && (amd64 || arm64)

package main

import (
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	projfs "github.com/aegistudio/go-projfs"
	"github.com/aegistudio/go-projfs/gofs"
	"github.com/aegistudio/go-projfs/internal/config"
)

const notificationMask = projfs.NotifyPreDelete |
	projfs.NotifyPreRename |
	projfs.NotifyNewFileCreated |
	projfs.NotifyFileRenamed |
	projfs.NotifyFileHandleClosedFileModified |
	projfs.NotifyFileHandleClosedFileDeleted

// waitForShutdown blocks until stdin is closed in test mode,
// or until the process is interrupted otherwise.
func waitForShutdown(testMode bool) {
	if testMode {
		_, _ = io.Copy(io.Discard, os.Stdin)
		return
	}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	<-signals
}

func run(cfg *config.Config, logger *zap.Logger) error {
	source, err := os.Stat(cfg.Source)
	if err != nil {
		return errors.Wrapf(err, "stat source %q", cfg.Source)
	}
	if !source.IsDir() {
		return errors.Errorf("source %q is not a directory", cfg.Source)
	}
	driver, err := projfs.NewDriver()
	if err != nil {
		return err
	}
	matcher, err := projfs.NativeNameMatcher()
	if err != nil {
		return err
	}
	metrics := cfg.Metrics.Listen != ""
	opts := []projfs.Option{
		projfs.Logger(logger),
		projfs.NameMatcher(matcher),
		projfs.PoolThreadCount(cfg.Instance.PoolThreads),
		projfs.ConcurrentThreadCount(cfg.Instance.ConcurrentThreads),
		projfs.NegativePathCache(cfg.Instance.NegativePathCache),
		projfs.Metrics(metrics),
	}
	if cfg.Provider.Notifications {
		mapping, err := projfs.NewNotificationMapping(notificationMask, "")
		if err != nil {
			return err
		}
		opts = append(opts, projfs.NotificationMappings(mapping))
	}
	inst, err := projfs.NewVirtualizationInstance(driver, cfg.Root, opts...)
	if err != nil {
		return err
	}

	provider := gofs.New(
		afero.NewBasePathFs(afero.NewOsFs(), cfg.Source),
		gofs.WithLogger(logger),
		gofs.WithDenyDeletes(cfg.Provider.DenyDeletes),
		gofs.WithAsyncData(cfg.Provider.AsyncData),
		gofs.WithWorkers(cfg.Provider.Workers),
		gofs.WithChunkSize(cfg.Provider.ChunkSize),
	)
	if err := inst.Start(provider); err != nil {
		provider.Close()
		return errors.Wrapf(err, "start virtualizing %q", cfg.Root)
	}
	defer shutdown(provider, inst)

	if metrics {
		gofs.RegisterMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() { _ = server.Close() }()
	}

	logger.Info("virtualizing",
		zap.String("source", cfg.Source),
		zap.String("root", cfg.Root))
	waitForShutdown(cfg.TestMode)
	logger.Info("stopping")
	return nil
}
