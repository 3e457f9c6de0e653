package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-extractor/internal/runs"
)

// RunRepository is the BigQuery-backed run log. It holds a shared client
// to avoid creating a new connection for each operation.
type RunRepository struct {
	client    *bigquery.Client
	datasetID string
}

var _ runs.Store = (*RunRepository)(nil)

// NewRunRepository creates a RunRepository for the given project and dataset.
func NewRunRepository(ctx context.Context, projectID, datasetID string) (*RunRepository, error) {
	if projectID == "" || datasetID == "" {
		return nil, fmt.Errorf("NewRunRepository: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRunRepository: creating client: %w", err)
	}
	return &RunRepository{client: client, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (r *RunRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RunRepository) StartRun(ctx context.Context, run *runs.Run) (string, error) {
	return StartRunWithClient(ctx, r.client, r.datasetID, run)
}

func (r *RunRepository) StoreModelOutput(ctx context.Context, out *runs.ModelOutput) (string, error) {
	return InsertModelOutputWithClient(ctx, r.client, r.datasetID, out)
}

func (r *RunRepository) MarkSucceeded(ctx context.Context, runID string, result runs.Result) error {
	return MarkRunSucceededWithClient(ctx, r.client, r.datasetID, runID, result)
}

func (r *RunRepository) MarkFailed(ctx context.Context, runID string, result runs.Result, runErr error) {
	MarkRunFailedWithClient(ctx, r.client, r.datasetID, runID, result, runErr)
}

func (r *RunRepository) GetRun(ctx context.Context, runID string) (*runs.Run, error) {
	return GetRunWithClient(ctx, r.client, r.datasetID, runID)
}

func (r *RunRepository) ListRuns(ctx context.Context, filter runs.Filter) ([]*runs.Run, error) {
	return ListRunsWithClient(ctx, r.client, r.datasetID, filter)
}
