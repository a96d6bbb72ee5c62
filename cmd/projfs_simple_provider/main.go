// Command projfs_simple_provider projects a source directory
// into a virtualization root.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/aegistudio/go-projfs/internal/config"
	"github.com/aegistudio/go-projfs/internal/logging"
)

// loadConfig loads the config file named by the flags and
// overrides it with the flags explicitly set.
func loadConfig(args []string) (*config.Config, bool, error) {
	flags := pflag.NewFlagSet("projfs_simple_provider", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path of the yaml config file")
	source := flags.StringP("source", "s", "", "source directory to project")
	root := flags.StringP("root", "r", "", "virtualization root")
	verbose := flags.BoolP("verbose", "v", false, "enable debug logging")
	notifications := flags.Bool("notifications", false, "register for file system notifications")
	denyDeletes := flags.Bool("deny-deletes", false, "veto deletion of projected files")
	testMode := flags.Bool("test-mode", false, "stop when stdin is closed")
	poolThreads := flags.Uint32("pool-threads", 0, "thread pool size hint")
	concurrentThreads := flags.Uint32("concurrent-threads", 0, "concurrent thread hint")
	negativePathCache := flags.Bool("negative-path-cache", true, "enable the negative path cache")
	asyncData := flags.Bool("async-data", false, "hydrate file data asynchronously")
	metricsListen := flags.String("metrics-listen", "", "address of the prometheus exporter")
	if err := flags.Parse(args); err != nil {
		return nil, false, err
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return nil, false, err
	}
	if flags.Changed("source") {
		cfg.Source = *source
	}
	if flags.Changed("root") {
		cfg.Root = *root
	}
	if flags.Changed("notifications") {
		cfg.Provider.Notifications = *notifications
	}
	if flags.Changed("deny-deletes") {
		cfg.Provider.DenyDeletes = *denyDeletes
	}
	if flags.Changed("test-mode") {
		cfg.TestMode = *testMode
	}
	if flags.Changed("pool-threads") {
		cfg.Instance.PoolThreads = *poolThreads
	}
	if flags.Changed("concurrent-threads") {
		cfg.Instance.ConcurrentThreads = *concurrentThreads
	}
	if flags.Changed("negative-path-cache") {
		cfg.Instance.NegativePathCache = *negativePathCache
	}
	if flags.Changed("async-data") {
		cfg.Provider.AsyncData = *asyncData
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Listen = *metricsListen
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, errors.Wrap(err, "invalid config")
	}
	return cfg, *verbose, nil
}

// shutdown drains the provider before stopping the
// instance, the hydration workers complete their commands
// through the instance.
func shutdown(
	provider interface{ Close() }, inst interface{ Stop() },
) {
	provider.Close()
	inst.Stop()
}

func main() {
	cfg, verbose, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Logging, verbose)
	defer func() { _ = logger.Sync() }()
	if err := run(cfg, logger); err != nil {
		logger.Error("provider exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
