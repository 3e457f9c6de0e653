package runs

import (
	"context"
	"errors"
	"time"
)

// Status represents the current status of an extraction run.
type Status string

const (
	// StatusRunning indicates the extraction is in progress.
	StatusRunning Status = "RUNNING"
	// StatusSucceeded indicates transactions were returned to the caller.
	StatusSucceeded Status = "SUCCESS"
	// StatusFailed indicates the extraction ended with an error.
	StatusFailed Status = "FAILED"
)

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("run not found")

// Run is the audit record of one extraction attempt.
type Run struct {
	RunID     string `json:"run_id"`
	RequestID string `json:"request_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Mode      string `json:"mode"`

	Filename  string `json:"filename"`
	MIMEType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Model     string `json:"model"`

	Status       Status `json:"status"`
	Strategy     string `json:"strategy,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	TransactionCount int   `json:"transaction_count"`
	TokensInput      int64 `json:"tokens_input"`
	TokensOutput     int64 `json:"tokens_output"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ModelOutput is the raw text a model returned for a run.
type ModelOutput struct {
	OutputID  string    `json:"output_id"`
	RunID     string    `json:"run_id"`
	Model     string    `json:"model"`
	RawText   string    `json:"raw_text"`
	CreatedAt time.Time `json:"created_at"`
}

// Result carries what is known about a run when it finishes.
type Result struct {
	Strategy         string
	ErrorKind        string
	TransactionCount int
	TokensInput      int64
	TokensOutput     int64
}

// Recorder writes the run log. Implementations must be safe for concurrent use.
type Recorder interface {
	// StartRun stores run with status RUNNING and returns its ID.
	StartRun(ctx context.Context, run *Run) (string, error)

	// StoreModelOutput stores the raw model text for a run and returns its ID.
	StoreModelOutput(ctx context.Context, out *ModelOutput) (string, error)

	// MarkSucceeded updates a run to status SUCCESS.
	MarkSucceeded(ctx context.Context, runID string, result Result) error

	// MarkFailed updates a run to status FAILED. Errors are logged, not returned.
	MarkFailed(ctx context.Context, runID string, result Result, runErr error)
}

// Reader queries the run log.
type Reader interface {
	// GetRun retrieves a run by ID. Unknown IDs yield ErrNotFound.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns retrieves runs, newest first, with optional filtering.
	ListRuns(ctx context.Context, filter Filter) ([]*Run, error)
}

// Store is a run log that can be written and queried.
type Store interface {
	Recorder
	Reader
}

// Filter defines filtering criteria for listing runs.
type Filter struct {
	// UserID filters runs by the caller that started them.
	UserID string

	// Mode filters runs by extraction mode.
	Mode string

	// Status filters runs by status.
	Status Status

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Nop is a Recorder that records nothing.
type Nop struct{}

func (Nop) StartRun(ctx context.Context, run *Run) (string, error) { return run.RunID, nil }

func (Nop) StoreModelOutput(ctx context.Context, out *ModelOutput) (string, error) {
	return out.OutputID, nil
}

func (Nop) MarkSucceeded(ctx context.Context, runID string, result Result) error { return nil }

func (Nop) MarkFailed(ctx context.Context, runID string, result Result, runErr error) {}
