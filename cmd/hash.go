package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

var hashCmd = &cobra.Command{
	Use:   "hash <file> [file...]",
	Short: "Print the dHash and pHash fingerprints of image files",
	Long: `Compute both perceptual hashes of local image files without touching the
store. Useful for checking how far apart two files are before choosing a
search threshold.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHash,
}

func init() {
	rootCmd.AddCommand(hashCmd)
	hashCmd.Flags().Bool("json", false, "Output as JSON")
}

// HashOutput is one file's hashes
type HashOutput struct {
	File string `json:"file"`
	*fingerprint.HashResult
}

func runHash(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	outputs := make([]HashOutput, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		result, err := fingerprint.ComputeHashes(data)
		if err != nil {
			return fmt.Errorf("hashing %s: %w", path, err)
		}
		outputs = append(outputs, HashOutput{File: path, HashResult: result})
	}

	if jsonOutput {
		return outputJSON(outputs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tDHASH\tPHASH\tSIZE")
	for _, o := range outputs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\n", o.File, o.DHash, o.PHash, o.Width, o.Height)
	}
	w.Flush()

	if len(outputs) > 1 {
		first := outputs[0]
		fmt.Println()
		for _, o := range outputs[1:] {
			fmt.Printf("%s vs %s: dHash distance %d, pHash distance %d\n", first.File, o.File,
				fingerprint.HammingDistance(first.DHashBits, o.DHashBits),
				fingerprint.HammingDistance(first.PHashBits, o.PHashBits))
		}
	}
	return nil
}
