package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-extractor/internal/runs"
	"github.com/google/uuid"
)

// InsertModelOutputWithClient inserts the raw model text for a run into
// model_outputs. Uses DML INSERT to avoid streaming buffer issues.
func InsertModelOutputWithClient(ctx context.Context, client *bigquery.Client, datasetID string, out *runs.ModelOutput) (string, error) {
	if out == nil || out.RunID == "" {
		return "", fmt.Errorf("InsertModelOutput: run ID is required")
	}

	row := &ModelOutputRow{
		OutputID:  out.OutputID,
		RunID:     out.RunID,
		ModelName: out.Model,
		RawText:   out.RawText,
		CreatedTS: out.CreatedAt,
	}
	if row.OutputID == "" {
		row.OutputID = uuid.NewString()
	}
	if row.CreatedTS.IsZero() {
		row.CreatedTS = time.Now().UTC()
	}

	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s.%s (
			output_id, run_id, model_name, raw_text, created_ts
		)
		VALUES (
			@output_id, @run_id, @model_name, @raw_text, @created_ts
		)
	`, datasetID, modelOutputsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "run_id", Value: row.RunID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "raw_text", Value: row.RawText},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	if err := runDML(ctx, q); err != nil {
		return "", fmt.Errorf("InsertModelOutput: %w", err)
	}
	return row.OutputID, nil
}
