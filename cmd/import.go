package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-finder/internal/auth"
	"github.com/kozaktomas/photo-finder/internal/blob"
	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/constants"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
	"github.com/kozaktomas/photo-finder/internal/images"
)

var importCmd = &cobra.Command{
	Use:   "import <owner> <folder-path> [folder-path...]",
	Short: "Fingerprint and store every image in one or more folders",
	Long: `Import images from folders straight into the configured store, attributed
to an existing user. Each file becomes one record; its title is the file name
without extension.

By default, only files in the specified folders are imported (non-recursive).
Use -r to search recursively in subdirectories.
Supported formats: jpg, jpeg, png, gif, bmp, tiff, webp

Example:
  photo-finder import alice /path/to/photos
  photo-finder import -r -w 16 alice /path/to/folder1 /path/to/folder2`,
	Args: cobra.MinimumNArgs(2),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolP("recursive", "r", false, "Search for images recursively in subdirectories")
	importCmd.Flags().IntP("workers", "w", constants.WorkerPoolSize, "Number of files processed in parallel")
	importCmd.Flags().Bool("json", false, "Output the summary as JSON")
}

// ImportResult summarizes an import run
type ImportResult struct {
	Batch         string   `json:"batch"`
	FilesFound    int      `json:"files_found"`
	Imported      int      `json:"imported"`
	Failed        int      `json:"failed"`
	Failures      []string `json:"failures,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
	DurationHuman string   `json:"duration,omitempty"`
}

// isImageFile checks if a file has an extension the codec can decode
func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp":
		return true
	}
	return false
}

// collectImageFiles lists image files in folders, optionally walking subdirectories.
func collectImageFiles(folders []string, recursive bool) ([]string, error) {
	var filePaths []string
	for _, folderPath := range folders {
		info, err := os.Stat(folderPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access folder %s: %w", folderPath, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", folderPath)
		}

		if recursive {
			err := filepath.WalkDir(folderPath, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isImageFile(d.Name()) {
					filePaths = append(filePaths, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cannot walk folder %s: %w", folderPath, err)
			}
			continue
		}

		entries, err := os.ReadDir(folderPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read folder %s: %w", folderPath, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isImageFile(entry.Name()) {
				filePaths = append(filePaths, filepath.Join(folderPath, entry.Name()))
			}
		}
	}
	return filePaths, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	owner := args[0]
	recursive := mustGetBool(cmd, "recursive")
	workers := mustGetInt(cmd, "workers")
	jsonOutput := mustGetBool(cmd, "json")
	if workers < 1 {
		return errors.New("--workers must be at least 1")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	filePaths, err := collectImageFiles(args[1:], recursive)
	if err != nil {
		return err
	}
	if len(filePaths) == 0 {
		fmt.Println("No image files found in the specified folders.")
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	batch := uuid.NewString()
	logger := slog.Default().With("batch", batch)

	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, codec, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	owner, err = resolveOwner(ctx, store, owner)
	if err != nil {
		return err
	}

	opts := []images.Option{images.WithLogger(logger)}
	blobs, err := blob.Open(ctx, &cfg.Blob)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}
	if blobs != nil {
		defer blobs.Close()
		opts = append(opts, images.WithBlobStore(blobs, cfg.Blob.Prefix))
	}
	service := images.NewService(store, codec, opts...)

	if !jsonOutput {
		fmt.Printf("Found %d image(s) to import from %d folder(s) for %s\n\n", len(filePaths), len(args)-1, owner)
	}

	result := importFiles(ctx, service, owner, filePaths, workers, !jsonOutput)
	result.Batch = batch

	if jsonOutput {
		result.DurationHuman = ""
		return outputJSON(result)
	}

	for _, msg := range result.Failures {
		fmt.Printf("Failed: %s\n", msg)
	}
	fmt.Println("\nImport complete!")
	fmt.Printf("  Imported: %d\n", result.Imported)
	if result.Failed > 0 {
		fmt.Printf("  Failed:   %d\n", result.Failed)
	}
	fmt.Printf("  Duration: %s\n", result.DurationHuman)
	if summary, err := storeSummary(ctx, store); err == nil {
		fmt.Printf("  %s\n", summary)
	}

	if result.Imported == 0 {
		return errors.New("no files were imported successfully")
	}
	return nil
}

// resolveOwner normalizes owner the way registration does and checks that
// the account exists.
func resolveOwner(ctx context.Context, users database.UserStore, owner string) (string, error) {
	name := auth.NormalizeUsername(owner)
	if _, err := users.GetUser(ctx, name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", fmt.Errorf("unknown user %q, register it first", owner)
		}
		return "", err
	}
	return name, nil
}

// uploader is the part of images.Service the importer needs.
type uploader interface {
	Upload(ctx context.Context, req images.UploadRequest) (*database.ImageRecord, error)
}

// importFiles uploads filePaths with a bounded number of workers.
func importFiles(ctx context.Context, svc uploader, owner string, filePaths []string, workers int, showProgress bool) ImportResult {
	startTime := time.Now()

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(len(filePaths),
			progressbar.OptionSetDescription("Importing"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var (
		imported int64
		failures []string
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, workers)
	)

	for _, filePath := range filePaths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := importFile(ctx, svc, owner, path); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(path), err))
				mu.Unlock()
			} else {
				atomic.AddInt64(&imported, 1)
			}
			if bar != nil {
				bar.Add(1)
			}
		}(filePath)
	}
	wg.Wait()

	if bar != nil {
		fmt.Println()
	}

	duration := time.Since(startTime)
	return ImportResult{
		FilesFound:    len(filePaths),
		Imported:      int(imported),
		Failed:        len(failures),
		Failures:      failures,
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}
}

func importFile(ctx context.Context, svc uploader, owner, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) > constants.MaxFieldSize {
		return fmt.Errorf("file exceeds %d bytes", constants.MaxFieldSize)
	}
	_, err = svc.Upload(ctx, images.UploadRequest{
		Data:     data,
		Encoding: fingerprint.EncodingRawFile,
		Owner:    owner,
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	})
	return err
}
