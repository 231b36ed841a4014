package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "photo-finder",
	Short: "Store images and find visually similar ones",
	Long: `Photo Finder stores uploaded images under a 64-bit perceptual fingerprint
and answers "which stored images look like this one" by Hamming distance,
so recompressed, resized or lightly edited copies are still found.

Run 'photo-finder serve' for the HTTP API or use the import, search and
hash commands against the configured store directly.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
