package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
	"github.com/kozaktomas/photo-finder/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <file|url>",
	Short: "Find stored images similar to a local file or an image URL",
	Long: `Find stored images whose fingerprint lies within a Hamming distance of the
query image. Lower distance means more similar; 0 is a pixel-level match
after scaling.

Examples:
  photo-finder search ./holiday.jpg
  photo-finder search https://example.com/cat.png --threshold 5
  photo-finder search ./holiday.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("threshold", -1, "Maximum Hamming distance in bits (default: configured HAMMING_DISTANCE)")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
}

// SearchOutput represents the JSON output of the search command
type SearchOutput struct {
	Query     string          `json:"query"`
	Threshold uint            `json:"threshold"`
	Results   []search.Result `json:"results"`
	Count     int             `json:"count"`
}

// queryPayload decides how the argument is encoded: http(s) URLs are fetched
// by the codec, anything else is read as a local file.
func queryPayload(arg string) (fingerprint.Encoding, []byte, error) {
	lower := strings.ToLower(arg)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return fingerprint.EncodingURL, []byte(arg), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return 0, nil, fmt.Errorf("reading query image: %w", err)
	}
	return fingerprint.EncodingRawFile, data, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	thresholdFlag := mustGetInt(cmd, "threshold")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	enc, data, err := queryPayload(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := slog.Default()

	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, codec, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := search.NewEngine(store, codec, cfg.Search, logger)
	threshold := engine.DefaultThreshold()
	if thresholdFlag >= 0 {
		threshold = uint(thresholdFlag)
	}

	results, err := engine.SearchImage(ctx, enc, data, &threshold)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(SearchOutput{
			Query:     args[0],
			Threshold: threshold,
			Results:   results,
			Count:     len(results),
		})
	}

	if len(results) == 0 {
		fmt.Printf("No images within distance %d.\n", threshold)
		return nil
	}

	fmt.Printf("Found %d image(s) within distance %d:\n\n", len(results), threshold)
	printSearchResults(results)
	return nil
}

func printSearchResults(results []search.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDISTANCE\tOWNER\tTITLE\tURL")
	fmt.Fprintln(w, "--\t--------\t-----\t-----\t---")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.ID, r.Distance, r.Owner, r.Title, r.ImageURL)
	}
	w.Flush()
}
