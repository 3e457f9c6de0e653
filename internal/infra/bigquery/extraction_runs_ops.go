package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-extractor/internal/logger"
	"github.com/dvloznov/expense-extractor/internal/runs"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

const defaultListLimit = 50

// StartRunWithClient inserts a new row into extraction_runs with status=RUNNING
// and returns the run ID.
func StartRunWithClient(ctx context.Context, client *bigquery.Client, datasetID string, run *runs.Run) (string, error) {
	if run == nil {
		return "", fmt.Errorf("StartRun: run is required")
	}
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	row := rowFromRun(run)

	q := client.Query(fmt.Sprintf(`
		INSERT %s.%s (
			run_id,
			run_date,
			request_id,
			user_id,
			mode,
			filename,
			mime_type,
			size_bytes,
			model_name,
			status,
			started_ts
		)
		VALUES (
			@run_id,
			@run_date,
			@request_id,
			@user_id,
			@mode,
			@filename,
			@mime_type,
			@size_bytes,
			@model_name,
			@status,
			@started_ts
		)
	`, datasetID, extractionRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "run_date", Value: row.RunDate},
		{Name: "request_id", Value: row.RequestID},
		{Name: "user_id", Value: row.UserID},
		{Name: "mode", Value: row.Mode},
		{Name: "filename", Value: row.Filename},
		{Name: "mime_type", Value: row.MIMEType},
		{Name: "size_bytes", Value: row.SizeBytes},
		{Name: "model_name", Value: row.ModelName},
		{Name: "status", Value: row.Status},
		{Name: "started_ts", Value: row.StartedTS},
	}

	if err := runDML(ctx, q); err != nil {
		return "", fmt.Errorf("StartRun: %w", err)
	}
	return row.RunID, nil
}

// MarkRunSucceededWithClient sets status=SUCCESS, finished_ts and the run result.
func MarkRunSucceededWithClient(ctx context.Context, client *bigquery.Client, datasetID, runID string, result runs.Result) error {
	q := finishRunQuery(client, datasetID, runID, runs.StatusSucceeded, result, "")
	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("MarkRunSucceeded: %w", err)
	}
	return nil
}

// MarkRunFailedWithClient sets status=FAILED, finished_ts and error_message.
// Failures are logged because the caller is already on an error path.
func MarkRunFailedWithClient(ctx context.Context, client *bigquery.Client, datasetID, runID string, result runs.Result, runErr error) {
	log := logger.FromContext(ctx)

	errMsg := ""
	if runErr != nil {
		errMsg = truncateErrorMessage(runErr.Error())
	}

	q := finishRunQuery(client, datasetID, runID, runs.StatusFailed, result, errMsg)
	if err := runDML(ctx, q); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkRunFailed: update failed")
	}
}

func finishRunQuery(client *bigquery.Client, datasetID, runID string, status runs.Status, result runs.Result, errMsg string) *bigquery.Query {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    strategy = @strategy,
		    error_kind = @error_kind,
		    error_message = @error_message,
		    transaction_count = @transaction_count,
		    tokens_input = @tokens_input,
		    tokens_output = @tokens_output
		WHERE run_id = @run_id
	`, datasetID, extractionRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "finished_ts", Value: time.Now().UTC()},
		{Name: "strategy", Value: result.Strategy},
		{Name: "error_kind", Value: result.ErrorKind},
		{Name: "error_message", Value: errMsg},
		{Name: "transaction_count", Value: int64(result.TransactionCount)},
		{Name: "tokens_input", Value: result.TokensInput},
		{Name: "tokens_output", Value: result.TokensOutput},
		{Name: "run_id", Value: runID},
	}
	return q
}

// GetRunWithClient reads a single run by ID.
func GetRunWithClient(ctx context.Context, client *bigquery.Client, datasetID, runID string) (*runs.Run, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s.%s
		WHERE run_id = @run_id
		LIMIT 1
	`, datasetID, extractionRunsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRun: running query: %w", err)
	}

	var row ExtractionRunRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("GetRun: %w: %s", runs.ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("GetRun: reading row: %w", err)
	}
	return row.toRun(), nil
}

// ListRunsWithClient reads runs newest first, applying the filter.
func ListRunsWithClient(ctx context.Context, client *bigquery.Client, datasetID string, filter runs.Filter) ([]*runs.Run, error) {
	sql, params := buildListRunsQuery(datasetID, filter)
	q := client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: running query: %w", err)
	}

	var result []*runs.Run
	for {
		var row ExtractionRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRuns: reading row: %w", err)
		}
		result = append(result, row.toRun())
	}
	return result, nil
}

// buildListRunsQuery renders the SELECT for ListRuns and its parameters.
func buildListRunsQuery(datasetID string, filter runs.Filter) (string, []bigquery.QueryParameter) {
	var (
		conditions []string
		params     []bigquery.QueryParameter
	)
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = @user_id")
		params = append(params, bigquery.QueryParameter{Name: "user_id", Value: filter.UserID})
	}
	if filter.Mode != "" {
		conditions = append(conditions, "mode = @mode")
		params = append(params, bigquery.QueryParameter{Name: "mode", Value: filter.Mode})
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = @status")
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(filter.Status)})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	params = append(params,
		bigquery.QueryParameter{Name: "limit", Value: int64(limit)},
		bigquery.QueryParameter{Name: "offset", Value: int64(offset)},
	)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s.%s", datasetID, extractionRunsTable)
	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}
	b.WriteString(" ORDER BY started_ts DESC LIMIT @limit OFFSET @offset")
	return b.String(), params
}

// runDML runs a DML statement and waits for it to complete.
func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
