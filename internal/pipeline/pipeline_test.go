package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/expense-extractor/internal/logger"
	"github.com/dvloznov/expense-extractor/internal/observability"
	"github.com/dvloznov/expense-extractor/internal/pipeline"
	"github.com/dvloznov/expense-extractor/internal/requestctx"
	"github.com/dvloznov/expense-extractor/internal/runs"
	"github.com/dvloznov/expense-extractor/internal/runs/inmemory"
)

// MockModelClient is a mock implementation of pipeline.ModelClient.
type MockModelClient struct {
	GenerateFunc func(ctx context.Context, prompt string, content []byte, mimeType string) (*pipeline.RawModelResponse, error)

	mu    sync.Mutex
	calls int
}

func (m *MockModelClient) Generate(ctx context.Context, prompt string, content []byte, mimeType string) (*pipeline.RawModelResponse, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.GenerateFunc(ctx, prompt, content, mimeType)
}

func (m *MockModelClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func textResponse(text string) *MockModelClient {
	return &MockModelClient{
		GenerateFunc: func(ctx context.Context, prompt string, content []byte, mimeType string) (*pipeline.RawModelResponse, error) {
			return &pipeline.RawModelResponse{Text: text, Model: "test-model", TokensInput: 100, TokensOutput: 20}, nil
		},
	}
}

// MockDocumentStore is an in-memory pipeline.DocumentStore that remembers
// every key it has seen.
type MockDocumentStore struct {
	SaveErr   error
	DeleteErr error

	mu      sync.Mutex
	objects map[string][]byte
	saved   []string
	deleted []string
}

func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{objects: make(map[string][]byte)}
}

func (s *MockDocumentStore) Save(ctx context.Context, key string, content []byte, mimeType string) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), content...)
	s.saved = append(s.saved, key)
	return nil
}

func (s *MockDocumentStore) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return content, nil
}

func (s *MockDocumentStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.objects, key)
	return nil
}

func (s *MockDocumentStore) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

var testNow = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

func quietContext() context.Context {
	return logger.WithContext(context.Background(), logger.NewWithWriter(io.Discard))
}

func receiptUpload() pipeline.UploadedDocument {
	return pipeline.UploadedDocument{
		Content:  []byte("\xff\xd8\xff\xe0 fake jpeg"),
		MIMEType: "image/jpeg",
		Filename: "receipt.jpg",
	}
}

func newTestExtractor(model pipeline.ModelClient, store pipeline.DocumentStore, recorder runs.Recorder) *pipeline.Extractor {
	return pipeline.NewExtractor(model, store,
		pipeline.WithRecorder(recorder),
		pipeline.WithMetrics(observability.NewMetrics()),
		pipeline.WithClock(func() time.Time { return testNow }),
		pipeline.WithModelName("test-model"),
	)
}

func TestExtractSingleReceipt_FencedJSON(t *testing.T) {
	model := textResponse("Sure! ```json\n{\"vendor\":\"Cafe X\",\"amount\":\"12.40\",\"date\":\"2024-03-01\",\"category\":\"food\"}\n```")
	store := NewMockDocumentStore()
	recorder := inmemory.NewStore()
	ext := newTestExtractor(model, store, recorder)

	ctx := requestctx.WithUserID(quietContext(), "user-1")
	tx, err := ext.ExtractSingleReceipt(ctx, receiptUpload())
	if err != nil {
		t.Fatalf("ExtractSingleReceipt failed: %v", err)
	}

	want := pipeline.ValidatedTransaction{
		Title:       "Cafe X",
		Amount:      12.4,
		Date:        "2024-03-01",
		Category:    pipeline.CategoryFood,
		Type:        pipeline.TypeExpense,
		Description: "Purchase at Cafe X",
		Vendor:      "Cafe X",
	}
	if !reflect.DeepEqual(*tx, want) {
		t.Errorf("transaction = %+v, want %+v", *tx, want)
	}

	if store.Remaining() != 0 {
		t.Errorf("expected stored document to be deleted, %d left", store.Remaining())
	}

	list, err := recorder.ListRuns(context.Background(), runs.Filter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d runs, want 1", len(list))
	}
	run := list[0]
	if run.Status != runs.StatusSucceeded || run.Strategy != "fenced" || run.TransactionCount != 1 {
		t.Errorf("unexpected run %+v", run)
	}
	if run.TokensInput != 100 || run.TokensOutput != 20 {
		t.Errorf("tokens = %d/%d, want 100/20", run.TokensInput, run.TokensOutput)
	}
	outputs := recorder.ModelOutputs(run.RunID)
	if len(outputs) != 1 || outputs[0].Model != "test-model" {
		t.Errorf("unexpected model outputs %+v", outputs)
	}
}

func TestExtractSingleReceipt_UnreadableResponse(t *testing.T) {
	model := textResponse("I'm sorry, I cannot read this image.")
	store := NewMockDocumentStore()
	recorder := inmemory.NewStore()
	ext := newTestExtractor(model, store, recorder)

	tx, err := ext.ExtractSingleReceipt(quietContext(), receiptUpload())
	if !errors.Is(err, pipeline.ErrNoStructuredDataFound) {
		t.Fatalf("error = %v, want ErrNoStructuredDataFound", err)
	}
	if tx != nil {
		t.Errorf("expected no transaction, got %+v", tx)
	}
	if store.Remaining() != 0 {
		t.Errorf("expected stored document to be deleted after failure, %d left", store.Remaining())
	}

	list, _ := recorder.ListRuns(context.Background(), runs.Filter{})
	if len(list) != 1 || list[0].Status != runs.StatusFailed || list[0].ErrorKind != string(pipeline.KindNoStructuredDataFound) {
		t.Errorf("unexpected runs %+v", list)
	}
}

func TestExtractHistoryBatch(t *testing.T) {
	raw := "```json\n[" +
		"{\"title\":\"Salary\",\"amount\":2500,\"type\":\"income\",\"date\":\"2024-05-31\",\"category\":\"others\"}," +
		"{\"title\":\"Train\",\"amount\":\"£23.10\",\"type\":\"expense\",\"category\":\"transportation\"}" +
		"]\n```"
	ext := newTestExtractor(textResponse(raw), NewMockDocumentStore(), inmemory.NewStore())

	txs, err := ext.ExtractHistoryBatch(quietContext(), pipeline.UploadedDocument{
		Content:  []byte("%PDF-1.4 statement"),
		MIMEType: "application/pdf",
		Filename: "statement.pdf",
	})
	if err != nil {
		t.Fatalf("ExtractHistoryBatch failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}
	if txs[0].Type != pipeline.TypeIncome || txs[0].Amount != 2500 {
		t.Errorf("unexpected first row %+v", txs[0])
	}
	if txs[1].Amount != 23.1 || txs[1].Category != pipeline.CategoryTransportation || txs[1].Date != "2024-06-15" {
		t.Errorf("unexpected second row %+v", txs[1])
	}
}

func TestExtractHistoryBatch_EmptyArray(t *testing.T) {
	store := NewMockDocumentStore()
	ext := newTestExtractor(textResponse("```json\n[]\n```"), store, inmemory.NewStore())

	txs, err := ext.ExtractHistoryBatch(quietContext(), receiptUpload())
	if !errors.Is(err, pipeline.ErrNoTransactionsExtracted) {
		t.Fatalf("error = %v, want ErrNoTransactionsExtracted", err)
	}
	if txs != nil {
		t.Errorf("expected no transactions, got %+v", txs)
	}
	if store.Remaining() != 0 {
		t.Errorf("expected stored document to be deleted, %d left", store.Remaining())
	}
}

func TestExtract_RejectsBeforeModelCall(t *testing.T) {
	tests := []struct {
		name    string
		doc     pipeline.UploadedDocument
		opts    []pipeline.Option
		wantErr error
	}{
		{
			name:    "plain text",
			doc:     pipeline.UploadedDocument{Content: []byte("hello"), MIMEType: "text/plain", Filename: "notes.txt"},
			wantErr: pipeline.ErrUnsupportedMediaType,
		},
		{
			name:    "oversized",
			doc:     pipeline.UploadedDocument{Content: bytes.Repeat([]byte{0xff}, 2048), MIMEType: "image/png", Filename: "big.png"},
			opts:    []pipeline.Option{pipeline.WithMaxUploadBytes(1024)},
			wantErr: pipeline.ErrPayloadTooLarge,
		},
		{
			name:    "limit cannot be raised past 10 MiB",
			doc:     pipeline.UploadedDocument{Content: bytes.Repeat([]byte{0xff}, pipeline.DefaultMaxUploadBytes+1), MIMEType: "image/png", Filename: "huge.png"},
			opts:    []pipeline.Option{pipeline.WithMaxUploadBytes(20 << 20)},
			wantErr: pipeline.ErrPayloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := textResponse("{}")
			store := NewMockDocumentStore()
			ext := pipeline.NewExtractor(model, store, tt.opts...)

			_, err := ext.ExtractSingleReceipt(quietContext(), tt.doc)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if model.Calls() != 0 {
				t.Errorf("model called %d times, want 0", model.Calls())
			}
			if len(store.saved) != 0 {
				t.Errorf("expected nothing stored, got %v", store.saved)
			}
		})
	}
}

func TestExtract_ModelFailures(t *testing.T) {
	tests := []struct {
		name  string
		model *MockModelClient
	}{
		{
			name: "provider error",
			model: &MockModelClient{GenerateFunc: func(ctx context.Context, prompt string, content []byte, mimeType string) (*pipeline.RawModelResponse, error) {
				return nil, errors.New("quota exceeded")
			}},
		},
		{
			name: "nil response",
			model: &MockModelClient{GenerateFunc: func(ctx context.Context, prompt string, content []byte, mimeType string) (*pipeline.RawModelResponse, error) {
				return nil, nil
			}},
		},
		{
			name:  "empty text",
			model: textResponse("   "),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMockDocumentStore()
			ext := newTestExtractor(tt.model, store, inmemory.NewStore())

			_, err := ext.ExtractSingleReceipt(quietContext(), receiptUpload())
			if !errors.Is(err, pipeline.ErrExternalService) {
				t.Fatalf("error = %v, want ErrExternalService", err)
			}
			if store.Remaining() != 0 {
				t.Errorf("expected stored document to be deleted, %d left", store.Remaining())
			}
		})
	}
}

func TestExtract_PromptAndDocumentReachModel(t *testing.T) {
	var gotPrompt, gotMIME string
	var gotContent []byte
	model := &MockModelClient{GenerateFunc: func(ctx context.Context, prompt string, content []byte, mimeType string) (*pipeline.RawModelResponse, error) {
		gotPrompt, gotContent, gotMIME = prompt, content, mimeType
		return &pipeline.RawModelResponse{Text: "[{\"title\":\"x\"}]"}, nil
	}}
	ext := newTestExtractor(model, NewMockDocumentStore(), runs.Nop{})

	doc := receiptUpload()
	if _, err := ext.ExtractHistoryBatch(quietContext(), doc); err != nil {
		t.Fatalf("ExtractHistoryBatch failed: %v", err)
	}
	if gotPrompt != pipeline.PromptFor(pipeline.ModeHistoryBatch) {
		t.Error("expected the history prompt to be sent")
	}
	if !bytes.Equal(gotContent, doc.Content) || gotMIME != "image/jpeg" {
		t.Errorf("document not forwarded: mime %q, %d bytes", gotMIME, len(gotContent))
	}
}

func TestExtract_CleanupFailureDoesNotFailRequest(t *testing.T) {
	store := NewMockDocumentStore()
	store.DeleteErr = errors.New("permission denied")
	ext := newTestExtractor(textResponse(`{"vendor":"Shop"}`), store, inmemory.NewStore())

	if _, err := ext.ExtractSingleReceipt(quietContext(), receiptUpload()); err != nil {
		t.Fatalf("ExtractSingleReceipt failed: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Errorf("expected one delete attempt, got %v", store.deleted)
	}
}

func TestExtract_CleanupFailureIsLogged(t *testing.T) {
	store := NewMockDocumentStore()
	store.DeleteErr = errors.New("permission denied")
	recorder := &failingRecorder{Store: inmemory.NewStore()}
	ext := newTestExtractor(textResponse("no structure at all"), store, recorder)

	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(&buf))
	if _, err := ext.ExtractSingleReceipt(ctx, receiptUpload()); !errors.Is(err, pipeline.ErrNoStructuredDataFound) {
		t.Fatalf("error = %v, want ErrNoStructuredDataFound", err)
	}

	out := buf.String()
	for _, msg := range []string{
		"Failed to start extraction run",
		"No structured data recovered from model output",
		"Failed to delete stored document",
	} {
		if !strings.Contains(out, msg) {
			t.Errorf("log output missing %q:\n%s", msg, out)
		}
	}
}

// failingRecorder wraps the in-memory store but refuses to start runs.
type failingRecorder struct {
	*inmemory.Store
}

func (r *failingRecorder) StartRun(ctx context.Context, run *runs.Run) (string, error) {
	return "", errors.New("run log unavailable")
}

func TestExtract_StoreFailure(t *testing.T) {
	store := NewMockDocumentStore()
	store.SaveErr = errors.New("disk full")
	model := textResponse("{}")
	ext := newTestExtractor(model, store, inmemory.NewStore())

	_, err := ext.ExtractSingleReceipt(quietContext(), receiptUpload())
	if err == nil {
		t.Fatal("expected an error")
	}
	if pipeline.KindOf(err) != pipeline.KindInternal {
		t.Errorf("kind = %s, want %s", pipeline.KindOf(err), pipeline.KindInternal)
	}
	if model.Calls() != 0 {
		t.Errorf("model called %d times, want 0", model.Calls())
	}
	if len(store.deleted) != 1 {
		t.Errorf("expected the partially stored key to be deleted, got %v", store.deleted)
	}
}

func TestPipeline_StopsAtFirstError(t *testing.T) {
	var ran []int
	step := func(n int, err error) pipeline.PipelineStep {
		return stepFunc(func(ctx context.Context, state *pipeline.PipelineState) error {
			ran = append(ran, n)
			return err
		})
	}

	p := pipeline.NewPipeline(step(1, nil), step(2, pipeline.ErrNoFile), step(3, nil))
	err := p.Execute(context.Background(), &pipeline.PipelineState{})
	if !errors.Is(err, pipeline.ErrNoFile) {
		t.Fatalf("error = %v, want ErrNoFile", err)
	}
	if len(ran) != 2 {
		t.Errorf("ran steps %v, want [1 2]", ran)
	}
}

type stepFunc func(ctx context.Context, state *pipeline.PipelineState) error

func (f stepFunc) Execute(ctx context.Context, state *pipeline.PipelineState) error {
	return f(ctx, state)
}
