package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cobra"

	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/provider"
	"github.com/54b3r/pdfrag-go/internal/rag"
	"github.com/54b3r/pdfrag-go/internal/tracing"
)

// askOutput mirrors the POST /ask response body.
type askOutput struct {
	Question   string     `json:"question"`
	Filename   string     `json:"filename"`
	Answer     string     `json:"answer"`
	TopMatches []askMatch `json:"top_matches"`
}

// askMatch is one retrieved chunk in askOutput.
type askMatch struct {
	Chunk string  `json:"chunk"`
	Score float32 `json:"score"`
}

// chatModelFactory builds the generation model from the environment.
type chatModelFactory func(ctx context.Context) (model.BaseChatModel, *provider.Config, error)

// NewAskCmd constructs the `pdfrag ask` command, which ingests one file into
// a process-local index and answers a single question about it.
func NewAskCmd() *cobra.Command {
	return newAskCmd(provider.NewFromEnv)
}

func newAskCmd(newChatModel chatModelFactory) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "ask --file FILE QUESTION",
		Short: "Answer a question about a local file",
		Long: `Ingest FILE into a process-local index and answer QUESTION from it.

The output has the same shape as the POST /ask response.

Examples:
  pdfrag ask --file report.pdf "What is the capital?"
  MODEL_PROVIDER=ollama pdfrag ask -f notes.md "Summarise the conclusions"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush := tracing.Setup(tracing.ConfigFromEnv(), log)
			defer flush()

			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			chatModel, providerCfg, err := newChatModel(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			uploadDir, err := os.MkdirTemp("", "pdfrag-ask-")
			if err != nil {
				return fmt.Errorf("ask: failed to create scratch dir: %w", err)
			}
			defer func() { _ = os.RemoveAll(uploadDir) }()

			idx := rag.NewMemoryIndex()
			pipeline, err := buildPipeline(emb, idx, uploadDir)
			if err != nil {
				return fmt.Errorf("ask: failed to create pipeline: %w", err)
			}
			res, err := pipeline.Ingest(ctx, file, content)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			answerer, err := buildAnswerer(ctx, chatModel, providerCfg, emb, idx, nil)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise answerer: %w", err)
			}

			question := strings.Join(args, " ")
			ans, err := answerer.Answer(ctx, res.Filename, question)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := askOutput{
				Question:   ans.Question,
				Filename:   ans.Filename,
				Answer:     ans.Answer,
				TopMatches: make([]askMatch, len(ans.Matches)),
			}
			for i, m := range ans.Matches {
				out.TopMatches[i] = askMatch{Chunk: m.Text, Score: m.Score}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "PDF, .txt or .md file to ask about")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
