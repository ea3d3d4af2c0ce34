package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "snaplearn",
	Short: "Ask questions from text, images, PDFs or web pages and keep a searchable answer history",
	Long: `snaplearn turns a question — typed, OCR'd from an image, or extracted from a
PDF or web page — into a progressively rendered answer from the Gemini API,
and keeps accepted answers in a searchable local history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the snaplearn version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("snaplearn version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	// A .env next to the binary is a convenient place for SNAPLEARN_* vars
	// during development; missing files are fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
