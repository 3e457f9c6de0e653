package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/expense-extractor/internal/logger"
	"github.com/dvloznov/expense-extractor/internal/observability"
	"github.com/dvloznov/expense-extractor/internal/requestctx"
	"github.com/dvloznov/expense-extractor/internal/runs"
)

// Pipeline orchestrates the execution of multiple pipeline steps.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in sequence and stops at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Extractor turns an uploaded receipt or transaction history into validated
// transactions. Each call is independent; an Extractor is safe for
// concurrent use as long as its dependencies are.
type Extractor struct {
	model     ModelClient
	store     DocumentStore
	recorder  runs.Recorder
	metrics   *observability.Metrics
	now       func() time.Time
	maxBytes  int64
	modelName string

	pipeline *Pipeline
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRecorder records every extraction in the given run log.
func WithRecorder(r runs.Recorder) Option {
	return func(e *Extractor) { e.recorder = r }
}

// WithMetrics reports extraction metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithClock sets the clock used for storage keys and default dates.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithMaxUploadBytes lowers the upload limit. Values outside
// (0, DefaultMaxUploadBytes] are ignored.
func WithMaxUploadBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 && n <= DefaultMaxUploadBytes {
			e.maxBytes = n
		}
	}
}

// WithModelName sets the model name written to the run log.
func WithModelName(name string) Option {
	return func(e *Extractor) { e.modelName = name }
}

// NewExtractor creates an Extractor that calls model and keeps uploads in store.
func NewExtractor(model ModelClient, store DocumentStore, opts ...Option) *Extractor {
	e := &Extractor{
		model:     model,
		store:     store,
		recorder:  runs.Nop{},
		now:       time.Now,
		maxBytes:  DefaultMaxUploadBytes,
		modelName: DefaultModelName,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.pipeline = NewPipeline(
		&ValidateDocumentStep{MaxBytes: e.maxBytes, Metrics: e.metrics},
		&StoreDocumentStep{Store: e.store, Now: e.now},
		&LoadDocumentStep{Store: e.store},
		&InvokeModelStep{Model: e.model, Metrics: e.metrics},
		&StoreModelOutputStep{Recorder: e.recorder},
		&RecoverStructuredDataStep{Metrics: e.metrics},
		&NormalizeStep{Normalizer: NewNormalizer(e.now)},
	)
	return e
}

// ExtractSingleReceipt extracts the one purchase shown on a receipt.
func (e *Extractor) ExtractSingleReceipt(ctx context.Context, doc UploadedDocument) (*ValidatedTransaction, error) {
	state, err := e.run(ctx, ModeSingleReceipt, doc)
	if err != nil {
		return nil, err
	}
	if len(state.Transactions) == 0 {
		return nil, ErrNoStructuredDataFound
	}
	tx := state.Transactions[0]
	return &tx, nil
}

// ExtractHistoryBatch extracts every row of a statement or transaction history.
func (e *Extractor) ExtractHistoryBatch(ctx context.Context, doc UploadedDocument) ([]ValidatedTransaction, error) {
	state, err := e.run(ctx, ModeHistoryBatch, doc)
	if err != nil {
		return nil, err
	}
	return state.Transactions, nil
}

func (e *Extractor) run(ctx context.Context, mode Mode, doc UploadedDocument) (*PipelineState, error) {
	log := logger.FromContext(ctx).With().
		Str("mode", string(mode)).
		Str("filename", doc.Filename).
		Logger()
	ctx = logger.WithContext(ctx, log)

	state := &PipelineState{Mode: mode, Document: doc}
	state.RunID = e.startRun(ctx, state)
	defer e.cleanup(ctx, state)

	err := e.pipeline.Execute(ctx, state)
	e.finishRun(ctx, state, err)
	if err != nil {
		log.Error().Err(err).Str("run_id", state.RunID).Msg("Extraction failed")
		var extErr *ExtractionError
		if errors.As(err, &extErr) {
			return state, extErr
		}
		return state, err
	}

	log.Info().
		Str("run_id", state.RunID).
		Str("strategy", string(state.Recovery.Strategy)).
		Int("transactions", len(state.Transactions)).
		Msg("Extraction succeeded")
	return state, nil
}

func (e *Extractor) startRun(ctx context.Context, state *PipelineState) string {
	runID, err := e.recorder.StartRun(ctx, &runs.Run{
		RequestID: requestctx.RequestID(ctx),
		UserID:    requestctx.UserID(ctx),
		Mode:      string(state.Mode),
		Filename:  state.Document.Filename,
		MIMEType:  state.Document.MIMEType,
		SizeBytes: int64(len(state.Document.Content)),
		Model:     e.modelName,
		StartedAt: e.now().UTC(),
	})
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to start extraction run")
		return ""
	}
	return runID
}

func (e *Extractor) finishRun(ctx context.Context, state *PipelineState, runErr error) {
	result := runs.Result{TransactionCount: len(state.Transactions)}
	if state.Recovery != nil {
		result.Strategy = string(state.Recovery.Strategy)
	}
	if state.Response != nil {
		result.TokensInput = state.Response.TokensInput
		result.TokensOutput = state.Response.TokensOutput
	}

	if runErr != nil {
		result.ErrorKind = string(KindOf(runErr))
		e.metrics.IncrExtraction(string(state.Mode), result.ErrorKind)
		if state.RunID != "" {
			e.recorder.MarkFailed(ctx, state.RunID, result, runErr)
		}
		return
	}

	e.metrics.IncrExtraction(string(state.Mode), "success")
	if state.RunID == "" {
		return
	}
	if err := e.recorder.MarkSucceeded(ctx, state.RunID, result); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", state.RunID).Msg("Failed to mark extraction run succeeded")
	}
}

// cleanup deletes the stored document whatever the outcome. Failures are
// logged only.
func (e *Extractor) cleanup(ctx context.Context, state *PipelineState) {
	if state.Stored == nil {
		return
	}
	if err := e.store.Delete(context.WithoutCancel(ctx), state.Stored.Key); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("key", state.Stored.Key).Msg("Failed to delete stored document")
	}
}
