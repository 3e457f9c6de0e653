package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dvloznov/expense-extractor/internal/api/middleware"
	"github.com/dvloznov/expense-extractor/internal/logger"
	"github.com/dvloznov/expense-extractor/internal/pipeline"
	"github.com/dvloznov/expense-extractor/internal/requestctx"
	"github.com/dvloznov/expense-extractor/internal/runs"
	"github.com/rs/zerolog"
)

const (
	receiptField = "receipt"
	historyField = "history"

	// multipartOverhead is added to the upload limit for form boundaries and headers.
	multipartOverhead = 1 << 20
)

// Extractor runs the extraction pipeline for one uploaded document.
type Extractor interface {
	ExtractSingleReceipt(ctx context.Context, doc pipeline.UploadedDocument) (*pipeline.ValidatedTransaction, error)
	ExtractHistoryBatch(ctx context.Context, doc pipeline.UploadedDocument) ([]pipeline.ValidatedTransaction, error)
}

// ReceiptsHandler handles receipt and transaction-history uploads.
type ReceiptsHandler struct {
	extractor Extractor
	maxBytes  int64
	log       zerolog.Logger
}

// NewReceiptsHandler creates a new receipts handler.
func NewReceiptsHandler(extractor Extractor, maxBytes int64, log zerolog.Logger) *ReceiptsHandler {
	if maxBytes <= 0 {
		maxBytes = pipeline.DefaultMaxUploadBytes
	}
	return &ReceiptsHandler{
		extractor: extractor,
		maxBytes:  maxBytes,
		log:       log,
	}
}

type receiptResponse struct {
	Message string `json:"message"`
	*pipeline.ValidatedTransaction
}

// ProcessReceipt handles POST /api/receipts/process
func (h *ReceiptsHandler) ProcessReceipt(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.readUpload(w, r, receiptField)
	if !ok {
		return
	}

	tx, err := h.extractor.ExtractSingleReceipt(r.Context(), doc)
	if err != nil {
		h.writeExtractionError(w, r, err)
		return
	}
	if pipeline.IsPlaceholder(*tx) {
		log := logger.FromContext(r.Context())
		log.Warn().
			Str("filename", doc.Filename).
			Msg("Receipt produced only placeholder values")
		middleware.WriteError(w, http.StatusUnprocessableEntity, "Could not read this document")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, receiptResponse{
		Message:              "Receipt processed successfully",
		ValidatedTransaction: tx,
	})
}

// ProcessHistory handles POST /api/receipts/process-history
func (h *ReceiptsHandler) ProcessHistory(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.readUpload(w, r, historyField)
	if !ok {
		return
	}

	transactions, err := h.extractor.ExtractHistoryBatch(r.Context(), doc)
	if err != nil {
		h.writeExtractionError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
	})
}

// readUpload reads the single file in field. It writes the error response
// itself and reports false when there is nothing to process.
func (h *ReceiptsHandler) readUpload(w http.ResponseWriter, r *http.Request, field string) (pipeline.UploadedDocument, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeExtractionError(w, r, pipeline.ErrPayloadTooLarge)
			return pipeline.UploadedDocument{}, false
		}
		h.writeExtractionError(w, r, pipeline.ErrNoFile)
		return pipeline.UploadedDocument{}, false
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		h.writeExtractionError(w, r, pipeline.ErrNoFile)
		return pipeline.UploadedDocument{}, false
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to read upload")
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return pipeline.UploadedDocument{}, false
	}

	return pipeline.UploadedDocument{
		Content:  content,
		MIMEType: header.Header.Get("Content-Type"),
		Filename: header.Filename,
	}, true
}

func (h *ReceiptsHandler) writeExtractionError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusForError(err)

	log := logger.FromContext(r.Context())
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Str("error_kind", string(pipeline.KindOf(err))).
		Int("status", status).
		Msg("Extraction request failed")

	middleware.WriteError(w, status, message)
}

// statusForError maps extraction failures to an HTTP status and client message.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrNoFile):
		return http.StatusBadRequest, "No file uploaded"
	case errors.Is(err, pipeline.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, pipeline.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, pipeline.ErrExternalService):
		return http.StatusBadGateway, "Failed to process document: " + err.Error()
	case errors.Is(err, pipeline.ErrNoStructuredDataFound),
		errors.Is(err, pipeline.ErrNoTransactionsExtracted):
		return http.StatusUnprocessableEntity, "Could not read this document: " + err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// RunsHandler exposes the extraction run log.
type RunsHandler struct {
	store runs.Reader
	log   zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(store runs.Reader, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		store: store,
		log:   log,
	}
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := runs.Filter{
		UserID: requestctx.UserID(ctx),
		Mode:   query.Get("mode"),
		Status: runs.Status(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	runsList, err := h.store.ListRuns(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runsList == nil {
		runsList = []*runs.Run{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runsList,
		"count": len(runsList),
	})
}

// GetRun handles GET /api/runs/{id}. Runs started by another user are reported as missing.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request, runID string) {
	ctx := r.Context()

	run, err := h.store.GetRun(ctx, runID)
	if errors.Is(err, runs.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	if userID := requestctx.UserID(ctx); userID != "" && run.UserID != userID {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, run)
}
