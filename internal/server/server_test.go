package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/embedder"
	"github.com/54b3r/pdfrag-go/internal/ingestion"
	"github.com/54b3r/pdfrag-go/internal/qa"
	"github.com/54b3r/pdfrag-go/internal/rag"
	"github.com/54b3r/pdfrag-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeIngester records the last upload and returns a canned result.
type fakeIngester struct {
	mu          sync.Mutex
	err         error
	gotFilename string
	gotContent  []byte
}

func (f *fakeIngester) Ingest(_ context.Context, filename string, content []byte) (*ingestion.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotFilename = filename
	f.gotContent = content
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.Result{
		Filename:   filename,
		TotalChars: len(content),
		NumChunks:  1,
		Preview:    string(content),
	}, nil
}

// fakeAnswerer returns a canned answer or error.
type fakeAnswerer struct {
	answer *qa.Answer
	err    error
}

func (f *fakeAnswerer) Answer(_ context.Context, filename, question string) (*qa.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.answer != nil {
		return f.answer, nil
	}
	return &qa.Answer{Question: question, Filename: filename, Answer: "fake answer"}, nil
}

// fakeHistory is an in-memory store.HistoryStore.
type fakeHistory struct {
	mu      sync.Mutex
	entries []store.Entry
}

func (f *fakeHistory) Record(_ context.Context, e store.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeHistory) Recent(_ context.Context, filename string, n int) ([]store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Entry
	for _, e := range f.entries {
		if e.Filename == filename {
			out = append(out, e)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (f *fakeHistory) Clear(_ context.Context, filename string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[:0]
	var n int64
	for _, e := range f.entries {
		if e.Filename == filename {
			n++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return n, nil
}

func (f *fakeHistory) Close() error { return nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newTestServer builds a *Server with fake services and an isolated registry.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithDeps(t, Deps{
		Ingester: &fakeIngester{},
		Answerer: &fakeAnswerer{},
		Catalog:  rag.NewMemoryIndex(),
	})
}

// newTestServerWithDeps builds a *Server around deps.
func newTestServerWithDeps(t *testing.T, deps Deps) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(deps, &Config{
		Logger:          slog.New(slog.DiscardHandler),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		RateLimit:       1000,
		RateBurst:       1000,
		MaxUploadBytes:  1 << 20,
		StatusMessage:   "test backend is running",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

// uploadRequest builds a multipart POST /upload with one "file" part.
func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// askRequest builds a urlencoded POST /ask.
func askRequest(filename, question string) *http.Request {
	form := url.Values{}
	if filename != "" {
		form.Set("filename", filename)
	}
	if question != "" {
		form.Set("question", question)
	}
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// serve runs req through the full middleware stack.
func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v (raw %q)", err, w.Body.String())
	}
	if body.Error == "" {
		t.Errorf("error body has empty message")
	}
	return body
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RequiresServices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		deps Deps
	}{
		{"no ingester", Deps{Answerer: &fakeAnswerer{}, Catalog: rag.NewMemoryIndex()}},
		{"no answerer", Deps{Ingester: &fakeIngester{}, Catalog: rag.NewMemoryIndex()}},
		{"no catalog", Deps{Ingester: &fakeIngester{}, Answerer: &fakeAnswerer{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.deps, &Config{MetricsRegistry: prometheus.NewRegistry()}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// GET /
// ---------------------------------------------------------------------------

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body statusResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != "test backend is running" {
		t.Errorf("message: got %q", body.Message)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header")
	}
}

func TestUnknownRoute_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /upload
// ---------------------------------------------------------------------------

func TestHandleUpload_OK(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	s := newTestServerWithDeps(t, Deps{Ingester: ing, Answerer: &fakeAnswerer{}, Catalog: rag.NewMemoryIndex()})

	w := serve(s, uploadRequest(t, "report.pdf", []byte("hello")))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"filename", "total_chars", "num_chunks", "preview"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %q: %v", key, body)
		}
	}
	if ing.gotFilename != "report.pdf" || string(ing.gotContent) != "hello" {
		t.Errorf("ingester got (%q, %q)", ing.gotFilename, ing.gotContent)
	}
}

func TestHandleUpload_ReplacesHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hist := &fakeHistory{}
	_ = hist.Record(ctx, store.Entry{Filename: "report.pdf", Question: "old", CreatedAt: time.Now()})
	_ = hist.Record(ctx, store.Entry{Filename: "other.pdf", Question: "keep", CreatedAt: time.Now()})
	s := newTestServerWithDeps(t, Deps{Ingester: &fakeIngester{}, Answerer: &fakeAnswerer{}, Catalog: rag.NewMemoryIndex(), History: hist})

	w := serve(s, uploadRequest(t, "report.pdf", []byte("new content")))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if got, _ := hist.Recent(ctx, "report.pdf", 10); len(got) != 0 {
		t.Errorf("history of the replaced document survived: %+v", got)
	}
	if got, _ := hist.Recent(ctx, "other.pdf", 10); len(got) != 1 {
		t.Errorf("history of another document was touched: %+v", got)
	}
}

func TestHandleUpload_FailureKeepsHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hist := &fakeHistory{}
	_ = hist.Record(ctx, store.Entry{Filename: "report.pdf", Question: "old", CreatedAt: time.Now()})
	ing := &fakeIngester{err: apperr.Errorf(apperr.KindExtraction, "ingest", "bad pdf")}
	s := newTestServerWithDeps(t, Deps{Ingester: ing, Answerer: &fakeAnswerer{}, Catalog: rag.NewMemoryIndex(), History: hist})

	serve(s, uploadRequest(t, "report.pdf", []byte("junk")))

	if got, _ := hist.Recent(ctx, "report.pdf", 10); len(got) != 1 {
		t.Errorf("failed upload cleared history: %+v", got)
	}
}

func TestHandleUpload_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		ingestErr  error
		build      func(t *testing.T) *http.Request
		wantStatus int
		wantKind   apperr.Kind
		retryable  bool
	}{
		{
			name: "missing file field",
			build: func(t *testing.T) *http.Request {
				var buf bytes.Buffer
				mw := multipart.NewWriter(&buf)
				_ = mw.WriteField("other", "x")
				_ = mw.Close()
				req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
				req.Header.Set("Content-Type", mw.FormDataContentType())
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   apperr.KindInvalidInput,
		},
		{
			name: "not multipart",
			build: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("raw"))
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   apperr.KindInvalidInput,
		},
		{
			name: "body too large",
			build: func(t *testing.T) *http.Request {
				return uploadRequest(t, "big.pdf", bytes.Repeat([]byte("a"), 2<<20))
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   apperr.KindInvalidInput,
		},
		{
			name:       "unparseable pdf",
			ingestErr:  apperr.Errorf(apperr.KindExtraction, "ingest", "not a pdf"),
			build:      func(t *testing.T) *http.Request { return uploadRequest(t, "bad.pdf", []byte("junk")) },
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   apperr.KindExtraction,
		},
		{
			name:       "embedder down",
			ingestErr:  apperr.Errorf(apperr.KindUpstream, "ingest", "connection refused"),
			build:      func(t *testing.T) *http.Request { return uploadRequest(t, "a.pdf", []byte("x")) },
			wantStatus: http.StatusBadGateway,
			wantKind:   apperr.KindUpstream,
			retryable:  true,
		},
		{
			name:       "unclassified failure",
			ingestErr:  errors.New("disk full"),
			build:      func(t *testing.T) *http.Request { return uploadRequest(t, "a.pdf", []byte("x")) },
			wantStatus: http.StatusInternalServerError,
			wantKind:   apperr.KindInternal,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServerWithDeps(t, Deps{
				Ingester: &fakeIngester{err: tc.ingestErr},
				Answerer: &fakeAnswerer{},
				Catalog:  rag.NewMemoryIndex(),
			})
			w := serve(s, tc.build(t))

			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
			body := decodeError(t, w)
			if body.Kind != string(tc.wantKind) {
				t.Errorf("kind: want %q, got %q", tc.wantKind, body.Kind)
			}
			if body.Retryable != tc.retryable {
				t.Errorf("retryable: want %v, got %v", tc.retryable, body.Retryable)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// POST /ask
// ---------------------------------------------------------------------------

func TestHandleAsk_OK(t *testing.T) {
	t.Parallel()

	ans := &fakeAnswerer{answer: &qa.Answer{
		Question: "What is the capital?",
		Filename: "doc.pdf",
		Answer:   "Atlantis.",
		Matches: []rag.Match{
			{Index: 3, Text: "The capital is Atlantis.", Score: 0.87},
			{Index: 1, Text: "Other text.", Score: 0.12},
		},
	}}
	s := newTestServerWithDeps(t, Deps{Ingester: &fakeIngester{}, Answerer: ans, Catalog: rag.NewMemoryIndex()})

	w := serve(s, askRequest("doc.pdf", "What is the capital?"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body askResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Answer != "Atlantis." || body.Filename != "doc.pdf" || body.Question != "What is the capital?" {
		t.Errorf("unexpected body: %+v", body)
	}
	if len(body.TopMatches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(body.TopMatches))
	}
	if body.TopMatches[0].Chunk != "The capital is Atlantis." || body.TopMatches[0].Score != 0.87 {
		t.Errorf("first match: %+v", body.TopMatches[0])
	}
}

func TestHandleAsk_EmptyMatchesEncodeAsArray(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := serve(s, askRequest("doc.pdf", "q"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"top_matches":[]`) {
		t.Errorf("expected empty top_matches array, got %s", w.Body.String())
	}
}

func TestHandleAsk_MultipartForm(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("filename", "doc.pdf")
	_ = mw.WriteField("question", "Why?")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/ask", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := serve(s, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleAsk_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		filename   string
		question   string
		answerErr  error
		wantStatus int
		wantKind   apperr.Kind
	}{
		{"missing filename", "", "q", nil, http.StatusBadRequest, apperr.KindInvalidInput},
		{"missing question", "doc.pdf", "", nil, http.StatusBadRequest, apperr.KindInvalidInput},
		{
			"never uploaded", "ghost.pdf", "q",
			apperr.New(apperr.KindNotFound, "retrieve", apperr.ErrNotFound),
			http.StatusNotFound, apperr.KindNotFound,
		},
		{
			"generation failure", "doc.pdf", "q",
			apperr.Errorf(apperr.KindUpstream, "answer", "quota"),
			http.StatusBadGateway, apperr.KindUpstream,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServerWithDeps(t, Deps{
				Ingester: &fakeIngester{},
				Answerer: &fakeAnswerer{err: tc.answerErr},
				Catalog:  rag.NewMemoryIndex(),
			})
			w := serve(s, askRequest(tc.filename, tc.question))

			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
			if body := decodeError(t, w); body.Kind != string(tc.wantKind) {
				t.Errorf("kind: want %q, got %q", tc.wantKind, body.Kind)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// CORS
// ---------------------------------------------------------------------------

func TestCORS(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := serve(s, httptest.NewRequest(http.MethodOptions, "/ask", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("preflight allow-origin: got %q", got)
	}

	w = serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("GET allow-origin: got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Document catalog and history
// ---------------------------------------------------------------------------

func TestDocuments_ListAndDelete(t *testing.T) {
	t.Parallel()

	idx := rag.NewMemoryIndex()
	ctx := context.Background()
	if err := idx.Put(ctx, "b.pdf", []rag.Chunk{{Index: 0, Text: "x", Embedding: []float32{1}}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Put(ctx, "a.pdf", []rag.Chunk{
		{Index: 0, Text: "x", Embedding: []float32{1}},
		{Index: 1, Text: "y", Embedding: []float32{1}},
	}); err != nil {
		t.Fatal(err)
	}
	hist := &fakeHistory{}
	_ = hist.Record(ctx, store.Entry{Filename: "a.pdf", Question: "q1", Answer: "a1"})
	_ = hist.Record(ctx, store.Entry{Filename: "b.pdf", Question: "q2", Answer: "a2"})

	s := newTestServerWithDeps(t, Deps{Ingester: &fakeIngester{}, Answerer: &fakeAnswerer{}, Catalog: idx, History: hist})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var list documentsResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Documents) != 2 || list.Documents[0].Filename != "a.pdf" || list.Documents[0].NumChunks != 2 {
		t.Fatalf("unexpected documents: %+v", list.Documents)
	}

	w = serve(s, httptest.NewRequest(http.MethodDelete, "/api/documents/a.pdf", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var del deleteResponse
	if err := json.NewDecoder(w.Body).Decode(&del); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if del.Filename != "a.pdf" || del.HistoryCleared != 1 {
		t.Errorf("unexpected delete response: %+v", del)
	}
	if ok, _ := idx.Has(ctx, "a.pdf"); ok {
		t.Error("a.pdf still indexed after delete")
	}

	w = serve(s, httptest.NewRequest(http.MethodDelete, "/api/documents/a.pdf", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hist := &fakeHistory{}
	for _, q := range []string{"q1", "q2", "q3"} {
		_ = hist.Record(ctx, store.Entry{Filename: "doc.pdf", Question: q, CreatedAt: time.Now()})
	}
	s := newTestServerWithDeps(t, Deps{Ingester: &fakeIngester{}, Answerer: &fakeAnswerer{}, Catalog: rag.NewMemoryIndex(), History: hist})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/history?filename=doc.pdf&limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body historyResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Enabled || len(body.Entries) != 2 || body.Entries[0].Question != "q2" {
		t.Errorf("unexpected history: %+v", body)
	}

	for _, target := range []string{"/api/history", "/api/history?filename=doc.pdf&limit=zero"} {
		w = serve(s, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, w.Code)
		}
	}
}

func TestHistory_Disabled(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/history?filename=doc.pdf", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"enabled":false`) || !strings.Contains(w.Body.String(), `"entries":[]`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// End to end through the real pipeline and index
// ---------------------------------------------------------------------------

// echoChatModel answers with the first line of the prompt context.
type echoChatModel struct{}

func (echoChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("answer based on: "+in[len(in)-1].Content, nil), nil
}

func (m echoChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestUploadThenAsk_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	emb := embedder.NewHashEmbedder(0)
	idx := rag.NewMemoryIndex()

	pipe, err := ingestion.NewPipeline(emb, idx, &ingestion.Config{UploadDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	ret, err := rag.NewRetriever(emb, idx, rag.DefaultTopK)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	ans, err := qa.New(ctx, &qa.Config{ChatModel: echoChatModel{}, Retriever: ret})
	if err != nil {
		t.Fatalf("qa.New: %v", err)
	}
	s := newTestServerWithDeps(t, Deps{Ingester: pipe, Answerer: ans, Catalog: idx})

	// Unknown document first: must be an error, never an answer.
	w := serve(s, askRequest("notes.txt", "What is the capital?"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("ask before upload: expected 404, got %d", w.Code)
	}

	text := strings.Repeat("Filler sentence about harbours and trade routes. ", 30) +
		"The capital is Atlantis. " +
		strings.Repeat("More filler about weather and seasons. ", 30)
	w = serve(s, uploadRequest(t, "notes.txt", []byte(text)))
	if w.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var up ingestion.Result
	if err := json.NewDecoder(w.Body).Decode(&up); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if up.NumChunks < 2 || up.TotalChars != len(text) {
		t.Errorf("unexpected upload result: %+v", up)
	}

	w = serve(s, askRequest("notes.txt", "What is the capital?"))
	if w.Code != http.StatusOK {
		t.Fatalf("ask: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got askResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode ask: %v", err)
	}
	if len(got.TopMatches) != rag.DefaultTopK {
		t.Fatalf("expected %d matches, got %d", rag.DefaultTopK, len(got.TopMatches))
	}
	found := false
	for _, m := range got.TopMatches {
		if strings.Contains(m.Chunk, "Atlantis") {
			found = true
		}
	}
	if !found {
		t.Errorf("Atlantis chunk not among top matches: %+v", got.TopMatches)
	}
	if got.TopMatches[0].Score < got.TopMatches[len(got.TopMatches)-1].Score {
		t.Errorf("matches not ordered by score: %+v", got.TopMatches)
	}
}
