package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/pdfrag-go/internal/ingestion"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/provider"
	"github.com/54b3r/pdfrag-go/internal/server"
	"github.com/54b3r/pdfrag-go/internal/tracing"
	"github.com/54b3r/pdfrag-go/internal/version"
)

// NewServeCmd constructs the `pdfrag serve` command, which starts the HTTP
// API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pdfrag HTTP server",
		Long: `Start the pdfrag HTTP server.

Endpoints:
  GET    /                          status message
  POST   /upload                    multipart "file": extract, chunk, embed, index
  POST   /ask                       form "filename", "question": answer from the document
  GET    /api/documents             indexed documents
  DELETE /api/documents/{filename}  remove a document and its history
  GET    /api/history               ?filename=&limit= recent questions and answers
  GET    /api/health, /api/ready    liveness and readiness
  GET    /metrics                   Prometheus metrics

The generation credential (GOOGLE_API_KEY for the default gemini backend) is
required; the server refuses to start without it.

Examples:
  pdfrag serve
  pdfrag serve --port 9090
  MODEL_PROVIDER=ollama pdfrag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("version", version.String()))

			flush := tracing.Setup(tracing.ConfigFromEnv(), log)
			defer flush()

			chatModel, providerCfg, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised",
				slog.String("provider", string(providerCfg.Backend)),
				slog.String("model", providerCfg.ModelName()),
			)

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			idx, indexPinger, err := buildIndex(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = idx.Close() }()

			history, closeHistory := buildHistory(log)
			defer closeHistory()

			pipeline, err := buildPipeline(emb, idx, getEnvOrDefault("PDFRAG_UPLOAD_DIR", ingestion.DefaultUploadDir))
			if err != nil {
				return fmt.Errorf("serve: failed to create pipeline: %w", err)
			}

			answerer, err := buildAnswerer(ctx, chatModel, providerCfg, emb, idx, history)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise answerer: %w", err)
			}

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("PDFRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("PDFRAG_PORT", port)
			}

			srv, err := server.New(server.Deps{
				Ingester: pipeline,
				Answerer: answerer,
				Catalog:  idx,
				History:  history,
			}, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				Pingers:        buildPingers(chatModel, providerCfg, indexPinger),
				RateLimit:      getEnvFloat("PDFRAG_RATE_LIMIT", 0),
				RateBurst:      getEnvInt("PDFRAG_RATE_BURST", 0),
				MaxUploadBytes: int64(getEnvInt("PDFRAG_MAX_UPLOAD_MB", 32)) << 20,
				StatusMessage:  getEnvOrDefault("PDFRAG_STATUS_MESSAGE", ""),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: PDFRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (env: PDFRAG_PORT)")

	return cmd
}
