package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/store"
)

// History limits for GET /api/history.
const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// multipartMemory is the in-memory threshold passed to ParseMultipartForm;
// larger parts spill to temporary files.
const multipartMemory = 8 << 20

// handleUpload handles POST /upload. The multipart field "file" is persisted,
// extracted, chunked, embedded and indexed under its base name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "upload"
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.fail(w, r, op, start, s.bodyError(op, err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, op, start, apperr.Errorf(apperr.KindInvalidInput, op, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, op, start, apperr.New(apperr.KindInternal, op, fmt.Errorf("read upload: %w", err)))
		return
	}

	res, err := s.ingester.Ingest(r.Context(), header.Filename, content)
	if err != nil {
		s.fail(w, r, op, start, err)
		return
	}

	s.clearHistory(r, res.Filename)
	s.observe(op, "ok", start)
	s.refreshDocumentGauge(r)
	writeJSON(w, r, http.StatusOK, res)
}

// handleAsk handles POST /ask with form fields "filename" and "question".
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	const op = "ask"
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := parseForm(r); err != nil {
		s.fail(w, r, op, start, s.bodyError(op, err))
		return
	}

	filename := r.PostFormValue("filename")
	question := r.PostFormValue("question")
	switch {
	case filename == "":
		s.fail(w, r, op, start, apperr.Errorf(apperr.KindInvalidInput, op, "form field \"filename\" is required"))
		return
	case strings.TrimSpace(question) == "":
		s.fail(w, r, op, start, apperr.Errorf(apperr.KindInvalidInput, op, "form field \"question\" is required"))
		return
	}

	ans, err := s.answerer.Answer(r.Context(), filename, question)
	if err != nil {
		s.fail(w, r, op, start, err)
		return
	}

	resp := askResponse{
		Question:   ans.Question,
		Filename:   ans.Filename,
		Answer:     ans.Answer,
		TopMatches: make([]matchResponse, len(ans.Matches)),
	}
	for i, m := range ans.Matches {
		resp.TopMatches[i] = matchResponse{Chunk: m.Text, Score: m.Score}
	}

	s.observe(op, "ok", start)
	writeJSON(w, r, http.StatusOK, resp)
}

// handleDocuments handles GET /api/documents.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.catalog.List(r.Context())
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.KindInternal, "list documents", err))
		return
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })

	resp := documentsResponse{Documents: make([]documentResponse, len(docs))}
	for i, d := range docs {
		resp.Documents[i] = documentResponse{Filename: d.Filename, NumChunks: d.NumChunks, IndexedAt: d.IndexedAt}
	}
	s.metrics.documentsIndexed.Set(float64(len(docs)))
	writeJSON(w, r, http.StatusOK, resp)
}

// handleDeleteDocument handles DELETE /api/documents/{filename}. It removes
// the index record and the document's Q&A history.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	const op = "delete document"
	filename := r.PathValue("filename")

	if err := s.catalog.Delete(r.Context(), filename); err != nil {
		kind := apperr.KindOf(err)
		if kind != apperr.KindNotFound {
			kind = apperr.KindInternal
		}
		s.writeError(w, r, apperr.New(kind, op, err))
		return
	}

	cleared := s.clearHistory(r, filename)
	logging.FromContext(r.Context()).Info("document deleted",
		slog.String("filename", filename),
		slog.Int64("history_cleared", cleared),
	)
	s.refreshDocumentGauge(r)
	writeJSON(w, r, http.StatusOK, deleteResponse{Filename: filename, HistoryCleared: cleared})
}

// clearHistory drops the Q&A log of filename. An upload replaces the
// document, so answers about the previous content no longer apply. Failures
// are logged and never fail the request.
func (s *Server) clearHistory(r *http.Request, filename string) int64 {
	if s.history == nil {
		return 0
	}
	n, err := s.history.Clear(r.Context(), filename)
	if err != nil {
		logging.FromContext(r.Context()).Warn("history: failed to clear document history",
			slog.String("filename", filename),
			slog.Any("error", err),
		)
	}
	return n
}

// handleHistory handles GET /api/history?filename=<name>&limit=<n>.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "history"
	q := r.URL.Query()

	filename := q.Get("filename")
	if filename == "" {
		s.writeError(w, r, apperr.Errorf(apperr.KindInvalidInput, op, "query parameter \"filename\" is required"))
		return
	}

	limit := defaultHistoryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, apperr.Errorf(apperr.KindInvalidInput, op, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	resp := historyResponse{Filename: filename, Enabled: s.history != nil, Entries: []store.Entry{}}
	if s.history != nil {
		entries, err := s.history.Recent(r.Context(), filename, limit)
		if err != nil {
			s.writeError(w, r, apperr.New(apperr.KindInternal, op, err))
			return
		}
		if entries != nil {
			resp.Entries = entries
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// parseForm parses either a multipart or a urlencoded request body.
func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(multipartMemory)
	}
	return r.ParseForm()
}

// bodyError classifies a failure to read the request body.
func (s *Server) bodyError(op string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Errorf(apperr.KindInvalidInput, op, "request body exceeds %d bytes", tooLarge.Limit)
	}
	return apperr.New(apperr.KindInvalidInput, op, fmt.Errorf("malformed form body: %w", err))
}

// fail records the failed outcome for op and writes the error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, start time.Time, err error) {
	s.observe(op, string(apperr.KindOf(err)), start)
	s.writeError(w, r, err)
}

// writeError logs err and writes it as {"error","kind","retryable"} with the
// status code of its kind.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	log := logging.FromContext(r.Context())
	attrs := []any{slog.String("kind", string(kind)), slog.Any("error", err)}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	writeJSON(w, r, status, errorResponse{
		Error:     err.Error(),
		Kind:      string(kind),
		Retryable: apperr.Retryable(kind),
	})
}

// refreshDocumentGauge sets the indexed-documents gauge from the catalog.
func (s *Server) refreshDocumentGauge(r *http.Request) {
	docs, err := s.catalog.List(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Debug("metrics: document count unavailable", slog.Any("error", err))
		return
	}
	s.metrics.documentsIndexed.Set(float64(len(docs)))
}
