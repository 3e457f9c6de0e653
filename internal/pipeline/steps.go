package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/expense-extractor/internal/logger"
	"github.com/dvloznov/expense-extractor/internal/observability"
	"github.com/dvloznov/expense-extractor/internal/runs"
)

// PipelineStep represents a single step in the extraction pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the state of one extraction request across all steps.
type PipelineState struct {
	Mode         Mode
	Document     UploadedDocument
	MIMEType     string
	Stored       *StoredDocument
	Content      []byte
	RunID        string
	Response     *RawModelResponse
	Recovery     *Recovery
	Transactions []ValidatedTransaction
}

// Step 1: ValidateDocumentStep rejects unsupported or oversized documents
// before anything is stored or sent to the model.
type ValidateDocumentStep struct {
	MaxBytes int64
	Metrics  *observability.Metrics
}

func (s *ValidateDocumentStep) Execute(ctx context.Context, state *PipelineState) error {
	mimeType, err := ValidateDocument(state.Document, s.MaxBytes)
	if err != nil {
		return err
	}
	state.MIMEType = mimeType
	s.Metrics.RecordUpload(len(state.Document.Content))
	return nil
}

// Step 2: StoreDocumentStep writes the document to the transient store.
type StoreDocumentStep struct {
	Store DocumentStore
	Now   func() time.Time
}

func (s *StoreDocumentStep) Execute(ctx context.Context, state *PipelineState) error {
	key := newStorageKey(state.Mode, state.Document.Filename, s.Now())
	// Set before Save so cleanup also removes a partially written object.
	state.Stored = &StoredDocument{
		Key:      key,
		MIMEType: state.MIMEType,
		Filename: state.Document.Filename,
		Size:     int64(len(state.Document.Content)),
	}
	if err := s.Store.Save(ctx, key, state.Document.Content, state.MIMEType); err != nil {
		return fmt.Errorf("StoreDocumentStep: save %s: %w", key, err)
	}
	return nil
}

// Step 3: LoadDocumentStep reads the stored document back for the model call.
type LoadDocumentStep struct {
	Store DocumentStore
}

func (s *LoadDocumentStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Stored == nil {
		return fmt.Errorf("LoadDocumentStep: no stored document")
	}
	content, err := s.Store.Read(ctx, state.Stored.Key)
	if err != nil {
		return fmt.Errorf("LoadDocumentStep: read %s: %w", state.Stored.Key, err)
	}
	state.Content = content
	return nil
}

// Step 4: InvokeModelStep sends the mode's prompt and the document to the model.
type InvokeModelStep struct {
	Model   ModelClient
	Metrics *observability.Metrics
}

func (s *InvokeModelStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	start := time.Now()
	resp, err := s.Model.Generate(ctx, PromptFor(state.Mode), state.Content, state.MIMEType)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		var extErr *ExtractionError
		if !errors.As(err, &extErr) {
			err = NewExternalServiceError(err.Error(), err)
		}
	case resp == nil:
		err = NewExternalServiceError("no response received", nil)
	case strings.TrimSpace(resp.Text) == "":
		err = NewExternalServiceError("empty response from model", nil)
	}
	s.Metrics.RecordModelCall(elapsed, err)
	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Msg("Model call failed")
		return err
	}

	if resp.Latency == 0 {
		resp.Latency = elapsed
	}
	s.Metrics.RecordTokens(resp.TokensInput, resp.TokensOutput)
	state.Response = resp

	log.Info().
		Str("model", resp.Model).
		Int64("tokens_input", resp.TokensInput).
		Int64("tokens_output", resp.TokensOutput).
		Dur("duration", elapsed).
		Msg("Model call completed")
	return nil
}

// Step 5: StoreModelOutputStep stores the raw model text in the run log.
// Run log failures are logged and never fail the extraction.
type StoreModelOutputStep struct {
	Recorder runs.Recorder
}

func (s *StoreModelOutputStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.RunID == "" || state.Response == nil {
		return nil
	}
	_, err := s.Recorder.StoreModelOutput(ctx, &runs.ModelOutput{
		RunID:   state.RunID,
		Model:   state.Response.Model,
		RawText: state.Response.Text,
	})
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", state.RunID).Msg("Failed to store model output")
	}
	return nil
}

// Step 6: RecoverStructuredDataStep runs the recovery cascade over the raw text.
type RecoverStructuredDataStep struct {
	Metrics *observability.Metrics
}

func (s *RecoverStructuredDataStep) Execute(ctx context.Context, state *PipelineState) error {
	rec, err := RecoverStructuredData(state.Response.Text, state.Mode)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Int("raw_length", len(state.Response.Text)).
			Msg("No structured data recovered from model output")
		return err
	}
	s.Metrics.IncrStrategyWin(string(state.Mode), string(rec.Strategy))
	state.Recovery = rec
	return nil
}

// Step 7: NormalizeStep converts candidates into validated transactions.
type NormalizeStep struct {
	Normalizer *Normalizer
}

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Transactions = s.Normalizer.NormalizeAll(state.Mode, state.Recovery.Candidates)
	return nil
}
