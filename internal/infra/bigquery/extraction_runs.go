package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-extractor/internal/runs"
)

const (
	extractionRunsTable = "extraction_runs"
	modelOutputsTable   = "model_outputs"

	// maxErrorMessageLen bounds error_message values.
	maxErrorMessageLen = 2000
)

type ExtractionRunRow struct {
	RunID   string     `bigquery:"run_id"`   // REQUIRED
	RunDate civil.Date `bigquery:"run_date"` // REQUIRED, partition column

	RequestID bigquery.NullString `bigquery:"request_id"` // NULLABLE
	UserID    bigquery.NullString `bigquery:"user_id"`    // NULLABLE
	Mode      string              `bigquery:"mode"`       // REQUIRED

	Filename  bigquery.NullString `bigquery:"filename"`   // NULLABLE
	MIMEType  bigquery.NullString `bigquery:"mime_type"`  // NULLABLE
	SizeBytes bigquery.NullInt64  `bigquery:"size_bytes"` // NULLABLE
	ModelName bigquery.NullString `bigquery:"model_name"` // NULLABLE

	Status       string              `bigquery:"status"`        // REQUIRED
	Strategy     bigquery.NullString `bigquery:"strategy"`      // NULLABLE
	ErrorKind    bigquery.NullString `bigquery:"error_kind"`    // NULLABLE
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE

	TransactionCount bigquery.NullInt64 `bigquery:"transaction_count"` // NULLABLE
	TokensInput      bigquery.NullInt64 `bigquery:"tokens_input"`      // NULLABLE
	TokensOutput     bigquery.NullInt64 `bigquery:"tokens_output"`     // NULLABLE

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE
}

// rowFromRun maps a new run onto its row.
func rowFromRun(run *runs.Run) *ExtractionRunRow {
	started := run.StartedAt.UTC()
	return &ExtractionRunRow{
		RunID:     run.RunID,
		RunDate:   civil.DateOf(started),
		RequestID: nullString(run.RequestID),
		UserID:    nullString(run.UserID),
		Mode:      run.Mode,
		Filename:  nullString(run.Filename),
		MIMEType:  nullString(run.MIMEType),
		SizeBytes: bigquery.NullInt64{Int64: run.SizeBytes, Valid: true},
		ModelName: nullString(run.Model),
		Status:    string(runs.StatusRunning),
		StartedTS: started,
	}
}

// toRun maps a stored row back onto a run.
func (r *ExtractionRunRow) toRun() *runs.Run {
	run := &runs.Run{
		RunID:            r.RunID,
		RequestID:        r.RequestID.StringVal,
		UserID:           r.UserID.StringVal,
		Mode:             r.Mode,
		Filename:         r.Filename.StringVal,
		MIMEType:         r.MIMEType.StringVal,
		SizeBytes:        r.SizeBytes.Int64,
		Model:            r.ModelName.StringVal,
		Status:           runs.Status(r.Status),
		Strategy:         r.Strategy.StringVal,
		ErrorKind:        r.ErrorKind.StringVal,
		ErrorMessage:     r.ErrorMessage.StringVal,
		TransactionCount: int(r.TransactionCount.Int64),
		TokensInput:      r.TokensInput.Int64,
		TokensOutput:     r.TokensOutput.Int64,
		StartedAt:        r.StartedTS,
	}
	if r.FinishedTS.Valid {
		finished := r.FinishedTS.Timestamp
		run.FinishedAt = &finished
	}
	return run
}

// nullString maps an empty string to NULL.
func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func truncateErrorMessage(msg string) string {
	if len(msg) > maxErrorMessageLen {
		return msg[:maxErrorMessageLen]
	}
	return msg
}
