package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Windecay/ComfyUI-Model-Downloader/internal/cleanup"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/config"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/downloader"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/folders"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/http/rest"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/logctx"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/notifier"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/storage"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/storage/sqlite"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/telemetry"
	"github.com/Windecay/ComfyUI-Model-Downloader/internal/transfer"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errFailedDownloads makes fetch exit non-zero without printing usage.
var errFailedDownloads = errors.New("some downloads failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFailedDownloads) {
			slog.Error("fatal error", "err", err)
		}

		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "model_downloader",
		Short:         "Download model weights from trusted hubs into a ComfyUI models tree",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newFetchCmd())

	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("model downloader starting...", "version", version, "log_level", cfg.LogLevel)

			return serve(logctx.WithLogger(ctx, logger), cfg)
		},
	}
}

func newFetchCmd() *cobra.Command {
	var (
		folder    string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "Download up to five URLs once and print the report",
		Args:  cobra.RangeArgs(1, rest.MaxBatchURLs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			// transfers run to completion; only the process being killed stops them
			ctx := logctx.WithLogger(context.WithoutCancel(cmd.Context()), logger)

			return fetch(ctx, cfg, cmd, transfer.BatchRequest{
				URLs:      args,
				Folder:    folder,
				Run:       true,
				Overwrite: overwrite,
			})
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", folders.DefaultFolder, "model folder to download into")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace files that already exist")

	return cmd
}

func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}

	logger := logctx.NewJSONLogger(os.Stderr, cfg.SlogLevel())
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		DiskPath:       cfg.ModelsDir,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	history, closeDB, err := openHistory(cfg, tel)
	if err != nil {
		return err
	}
	defer closeDB()

	// =========================================================================
	// Start Downloader
	resolver := folders.NewStatic(cfg.ModelsDir, folders.ParseOverrides(cfg.FolderPaths))
	d := buildDownloader(cfg, resolver, history, tel)

	var historyReader storage.DownloadReadRepository
	if history != nil {
		historyReader = history
	}

	// =========================================================================
	// Start API Service
	server := &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      rest.NewRouter(rest.NewDownloadsHandler(d, historyReader), tel),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress, "models_dir", cfg.ModelsDir)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		sweepPartials(gctx, resolver, cfg, tel)

		return nil
	})

	return g.Wait()
}

func fetch(ctx context.Context, cfg *config.Config, cmd *cobra.Command, req transfer.BatchRequest) error {
	history, closeDB, err := openHistory(cfg, nil)
	if err != nil {
		return err
	}
	defer closeDB()

	resolver := folders.NewStatic(cfg.ModelsDir, folders.ParseOverrides(cfg.FolderPaths))
	d := buildDownloader(cfg, resolver, history, nil)

	report := d.DownloadBatch(ctx, req)

	fmt.Fprintln(cmd.OutOrStdout(), report.String())

	var total int64
	for _, o := range report.Outcomes {
		total += o.Bytes
	}

	logctx.LoggerFromContext(ctx).Info("fetch finished",
		"urls", len(report.Outcomes),
		"failed", report.Failed(),
		"downloaded", humanize.Bytes(uint64(total)),
	)

	if len(report.Outcomes) > 0 && report.Outcomes[0].URL != "" && report.Failed() > 0 {
		return errFailedDownloads
	}

	return nil
}

// openHistory opens the history store when enabled. The returned repository
// is nil when history is disabled.
func openHistory(cfg *config.Config, tel *telemetry.Telemetry) (*sqlite.InstrumentedDownloadRepository, func(), error) {
	if !cfg.HistoryEnabled {
		return nil, func() {}, nil
	}

	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("DB error: %w", err)
	}

	return sqlite.NewInstrumentedDownloadRepository(database, tel), func() { database.Close() }, nil
}

func buildDownloader(
	cfg *config.Config,
	resolver folders.Resolver,
	history *sqlite.InstrumentedDownloadRepository,
	tel *telemetry.Telemetry,
) *downloader.Downloader {
	opts := []downloader.Option{
		downloader.WithHTTPClient(downloader.NewHTTPClient(cfg.HTTPConnectTimeout, cfg.HTTPResponseHeaderTimeout)),
		downloader.WithUserAgent(cfg.UserAgent),
		downloader.WithProgressInterval(cfg.ProgressBytes()),
		downloader.WithTelemetry(tel),
	}

	if history != nil {
		opts = append(opts, downloader.WithHistory(history))
	}

	if cfg.DiscordWebhookURL != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		opts = append(opts, downloader.WithNotifier(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, client)))
	}

	return downloader.New(resolver, opts...)
}

// sweepPartials removes stale partial files at startup and then on every
// cleanup tick until ctx is done.
func sweepPartials(ctx context.Context, resolver *folders.Static, cfg *config.Config, tel *telemetry.Telemetry) {
	logger := logctx.LoggerFromContext(ctx)

	sweep := func() {
		removed, err := cleanup.DeleteStalePartials(ctx, resolver.AllDirs(), cfg.PartialMaxAge)
		if err != nil {
			logger.Error("failed to delete stale partial files", "err", err)
			tel.RecordSystemError(ctx, "cleanup", "delete_partials")
		}

		if removed > 0 {
			logger.Info("stale partial files removed", "count", removed)
		}
	}

	sweep()

	if cfg.CleanupInterval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down")

			return
		case <-ticker.C:
			sweep()
		}
	}
}
