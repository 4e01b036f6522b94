// Package qa answers a question about one uploaded document: it retrieves the
// most similar chunks, formats them into the prompt and asks the generation
// model, all through a compiled eino chain.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/budget"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/rag"
	"github.com/54b3r/pdfrag-go/internal/store"
)

// systemPrompt frames every answer.
const systemPrompt = "You are a helpful assistant that answers questions based on provided document excerpts. " +
	"Answer concisely and cite relevant parts if possible."

// userTemplate is rendered with the joined excerpts and the question.
const userTemplate = "Context: {context}\n\nQuestion: {input}\nAnswer:"

// contextSeparator joins excerpts in the prompt.
const contextSeparator = "\n\n"

// Retriever fetches the chunks of one document most similar to a query.
type Retriever interface {
	Retrieve(ctx context.Context, filename, query string, topK int) ([]rag.Match, error)
}

// Config holds the dependencies required to construct an Answerer.
type Config struct {
	// ChatModel is the generation backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// Retriever supplies the context chunks.
	Retriever Retriever

	// TopK is the number of chunks retrieved per question. Defaults to 3.
	TopK int

	// CallOptions are applied to every generation call (temperature etc).
	CallOptions []model.Option

	// MaxContextTokens caps the estimated prompt size; lowest-scoring chunks
	// are dropped to fit. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// History optionally records every answered question. Failures to record
	// are logged and never fail the answer.
	History store.HistoryStore
}

// Answer is the result of one question.
type Answer struct {
	// Question is the question as asked.
	Question string
	// Filename is the document the question was asked about.
	Filename string
	// Answer is the generated text.
	Answer string
	// Matches are the chunks given to the model, best first.
	Matches []rag.Match
}

// Answerer turns (filename, question) into an Answer.
type Answerer struct {
	// chain renders the prompt and invokes the model.
	chain compose.Runnable[map[string]any, *schema.Message]

	retriever        Retriever
	topK             int
	callOptions      []model.Option
	maxContextTokens int
	history          store.HistoryStore
}

// New compiles the prompt → model chain and returns a ready Answerer.
func New(ctx context.Context, cfg *Config) (*Answerer, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("qa: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("qa: Retriever must not be nil")
	}

	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userTemplate),
	)
	chain, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(tpl).
		AppendChatModel(cfg.ChatModel).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("qa: failed to compile chain: %w", err)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &Answerer{
		chain:            chain,
		retriever:        cfg.Retriever,
		topK:             topK,
		callOptions:      cfg.CallOptions,
		maxContextTokens: maxCtx,
		history:          cfg.History,
	}, nil
}

// Answer retrieves context from filename and generates an answer to question.
// It fails with apperr.KindNotFound when filename was never ingested, and
// apperr.KindUpstream when the embedder or the model fails.
func (a *Answerer) Answer(ctx context.Context, filename, question string) (*Answer, error) {
	const op = "answer"
	log := logging.FromContext(ctx)

	if strings.TrimSpace(filename) == "" {
		return nil, apperr.Errorf(apperr.KindInvalidInput, op, "filename is required")
	}
	if strings.TrimSpace(question) == "" {
		return nil, apperr.Errorf(apperr.KindInvalidInput, op, "question is required")
	}

	matches, err := a.retriever.Retrieve(ctx, filename, question, a.topK)
	if err != nil {
		return nil, err
	}
	matches = a.fitContext(ctx, question, matches)

	start := time.Now()
	opts := []compose.Option{compose.WithChatModelOption(a.callOptions...)}
	msg, err := a.chain.Invoke(ctx, map[string]any{
		"context": joinContext(matches),
		"input":   question,
	}, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.New(apperr.KindInternal, op, ctx.Err())
		}
		return nil, apperr.New(apperr.KindUpstream, op, fmt.Errorf("generation failed: %w", err))
	}
	if msg == nil {
		return nil, apperr.Errorf(apperr.KindUpstream, op, "generation returned no message")
	}

	log.Info("qa: question answered",
		slog.String("filename", filename),
		slog.Int("matches", len(matches)),
		slog.Int("answer_chars", len(msg.Content)),
		slog.Duration("generation", time.Since(start)),
	)

	ans := &Answer{
		Question: question,
		Filename: filename,
		Answer:   msg.Content,
		Matches:  matches,
	}
	a.record(ctx, ans)
	return ans, nil
}

// fitContext drops the weakest matches if the prompt would exceed the budget.
func (a *Answerer) fitContext(ctx context.Context, question string, matches []rag.Match) []rag.Match {
	fixed := budget.EstimateMessages([]*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(strings.NewReplacer("{context}", "", "{input}", question).Replace(userTemplate)),
	})
	kept := budget.TrimMatches(fixed, matches, a.maxContextTokens)
	if dropped := len(matches) - len(kept); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped context chunks to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(kept)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}
	return kept
}

func (a *Answerer) record(ctx context.Context, ans *Answer) {
	if a.history == nil {
		return
	}
	e := store.Entry{Filename: ans.Filename, Question: ans.Question, Answer: ans.Answer}
	if len(ans.Matches) > 0 {
		e.TopScore = ans.Matches[0].Score
	}
	if err := a.history.Record(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("history: failed to record answer", slog.Any("error", err))
	}
}

// joinContext concatenates match texts, best first, separated by blank lines.
func joinContext(matches []rag.Match) string {
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	return strings.Join(texts, contextSeparator)
}
