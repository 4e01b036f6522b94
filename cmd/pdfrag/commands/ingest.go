package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/rag"
)

// NewIngestCmd constructs the `pdfrag ingest` command, which runs the upload
// pipeline locally and prints the upload summary for each file.
func NewIngestCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Extract, chunk and embed files locally and print the upload summary",
		Long: `Run the same pipeline POST /upload runs, against local files, and print
the resulting {filename, total_chars, num_chunks, preview} JSON per file.

Useful for checking what text a PDF yields and how it is chunked before
uploading it to a running server. Chunks are held in a process-local index
and discarded on exit; no LLM credential is needed.

Examples:
  pdfrag ingest report.pdf
  EMBEDDING_PROVIDER=ollama pdfrag ingest a.pdf b.pdf notes.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			uploadDir, err := os.MkdirTemp("", "pdfrag-ingest-")
			if err != nil {
				return fmt.Errorf("ingest: failed to create scratch dir: %w", err)
			}
			defer func() { _ = os.RemoveAll(uploadDir) }()

			pipeline, err := buildPipeline(emb, rag.NewMemoryIndex(), uploadDir)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			var progress io.Writer = cmd.ErrOrStderr()
			if quiet {
				progress = io.Discard
			}
			bar := newProgressBar(progress, len(args), "ingesting")

			for _, path := range args {
				bar.Describe(color.BlueString("ingesting %s", path))
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				res, err := pipeline.Ingest(ctx, path, content)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}
				_ = bar.Add(1)
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}
			_ = bar.Finish()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the progress bar on stderr")

	return cmd
}

// newProgressBar renders per-file ingestion progress to w.
func newProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
