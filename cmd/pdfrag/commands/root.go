// Package commands defines all Cobra CLI commands for the pdfrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/pdfrag-go/internal/audit"
	"github.com/54b3r/pdfrag-go/internal/config"
	"github.com/54b3r/pdfrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pdfrag",
		Short: "pdfrag: ask questions about your PDFs",
		Long: `pdfrag extracts, chunks and embeds uploaded documents and answers
questions about them with a hosted or local LLM.

The generation backend is selected via MODEL_PROVIDER (default: gemini, which
requires GOOGLE_API_KEY) or a YAML config file (~/.pdfrag/config.yaml).
See 'pdfrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// A ./.env file fills unset variables first, then the YAML file.
			if _, err := config.LoadDotEnv("", log); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			// LOG_LEVEL / LOG_FORMAT may have come from the file.
			log = logging.New()
			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.pdfrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewVersionCmd(),
	)

	return root
}
