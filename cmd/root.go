package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/knowhow/internal/config"
)

var (
	configFile string
	verbose    bool

	// cfg is loaded once before any subcommand runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "knowhow",
	Short: "Knowhow - find who knows what in your codebase",
	Long: `Knowhow answers natural-language questions about who worked on what.

It ingests pull requests and commits into a relationship store and an
embedding index, then answers questions such as "Who worked on gRPC
services?" with citations to the changesets that back the answer.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			log.SetOutput(io.Discard)
		}

		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./knowhow.yaml or ~/.config/knowhow/knowhow.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show pipeline logs")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}
