package bigquery

import "time"

type ModelOutputRow struct {
	OutputID  string    `bigquery:"output_id"`  // REQUIRED
	RunID     string    `bigquery:"run_id"`     // REQUIRED
	ModelName string    `bigquery:"model_name"` // REQUIRED
	RawText   string    `bigquery:"raw_text"`   // REQUIRED
	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}
