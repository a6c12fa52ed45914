package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/oxcache/filecached/internal/logger"
	"github.com/oxcache/filecached/internal/server"
	"github.com/oxcache/filecached/pkg/config"
	"github.com/oxcache/filecached/pkg/filecache"
	"github.com/oxcache/filecached/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the filecached server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	// instanceID distinguishes this process's log lines from another
	// filecached instance's when logs from multiple runs are aggregated.
	instanceID := uuid.NewString()

	var registry prometheus.Registerer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		registry = reg
		go serveMetrics(cfg.Metrics.Addr, reg)
	}
	collector := metrics.New(registry)

	store := filecache.New(filecache.Config{
		MaxFileCount: cfg.Storage.MaxFileCount,
		MaxByteSize:  cfg.Storage.MaxSize.Int64(),
	}).WithRecorder(collector)

	srv := server.New(server.Config{
		SocketPath: cfg.Server.SocketPath,
		Workers:    cfg.Server.WorkersInPool,
		Backlog:    cfg.Server.Backlog,
	}, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go watchStatsDumpSignal(store)

	logger.Info("starting filecached", "instance_id", instanceID, "socket", cfg.Server.SocketPath, "max_files", cfg.Storage.MaxFileCount, "max_size", cfg.Storage.MaxSize.String())
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	store.Destroy()
	logger.Info("filecached stopped")
	return nil
}

// watchStatsDumpSignal logs a snapshot of Store.Stats whenever the process
// receives SIGUSR1, for on-demand inspection of a running daemon without
// restarting it.
func watchStatsDumpSignal(store *filecache.Store) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	for range ch {
		s := store.Stats()
		logger.Info("stats dump",
			"file_count", s.FileCount,
			"max_file_count", s.MaxFileCount,
			"byte_size", s.ByteSize,
			"max_byte_size", s.MaxByteSize,
			"evictions_file_cap", s.EvictionsFileCap,
			"evictions_byte_cap", s.EvictionsByteCap,
			"evicted_files", s.EvictedFiles,
			"cleanup_count", s.CleanupCount,
		)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", "err", err)
	}
}
