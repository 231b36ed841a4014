package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-finder/internal/blob"
	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/constants"
	"github.com/kozaktomas/photo-finder/internal/images"
	"github.com/kozaktomas/photo-finder/internal/search"
	"github.com/kozaktomas/photo-finder/internal/telemetry"
	"github.com/kozaktomas/photo-finder/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Photo Finder HTTP API.

The server exposes registration, login, authenticated uploads and public
similarity search under /api/v1. Storage is selected by DATABASE_URL
(memory://, sqlite://, postgres:// or redis://); uploads are copied to S3 or
GCS when BLOB_PROVIDER and BLOB_BUCKET are set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on (overrides PORT)")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to (overrides HOST)")
}

// applyServeFlags lets explicit flags win over the file and environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Web.Port = mustGetInt(cmd, "port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Web.Host = mustGetString(cmd, "host")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	logger := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(flushCtx); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
	}()

	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Opening store %s...\n", redactURL(cfg.Database.URL))
	store, err := openStore(ctx, cfg, codec, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := storeSummary(ctx, store)
	if err != nil {
		return err
	}
	fmt.Println(summary)

	imageOpts := []images.Option{images.WithLogger(logger)}
	blobs, err := blob.Open(ctx, &cfg.Blob)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}
	if blobs != nil {
		defer blobs.Close()
		imageOpts = append(imageOpts, images.WithBlobStore(blobs, cfg.Blob.Prefix))
		fmt.Printf("Copying uploads to %s bucket %s\n", cfg.Blob.Provider, cfg.Blob.Bucket)
	}

	authService, err := newAuthService(cfg, store, logger)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg, web.Services{
		Auth:   authService,
		Images: images.NewService(store, codec, imageOpts...),
		Search: search.NewEngine(store, codec, cfg.Search, logger),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("Photo Finder API listening on http://%s:%d/api/v1 (%s, threshold %d)\n",
		cfg.Web.Host, cfg.Web.Port, codec.Algorithm().Scheme(), cfg.Search.HammingDistance)
	fmt.Println("Press Ctrl+C to stop")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeoutSeconds*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
