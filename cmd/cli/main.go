package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/expense-extractor/internal/config"
	"github.com/dvloznov/expense-extractor/internal/docstore"
	"github.com/dvloznov/expense-extractor/internal/gemini"
	infraBQ "github.com/dvloznov/expense-extractor/internal/infra/bigquery"
	"github.com/dvloznov/expense-extractor/internal/logger"
	"github.com/dvloznov/expense-extractor/internal/pipeline"
	"github.com/dvloznov/expense-extractor/internal/runs"
	"github.com/dvloznov/expense-extractor/internal/runs/inmemory"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Out: os.Stderr})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "extract":
		runExtract(cfg, log)
	case "recover":
		runRecover(log)
	case "runs":
		runRuns(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Expense Extractor CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  extract   Extract transactions from a local receipt or statement")
	fmt.Println("  recover   Replay recovery over a saved raw model response")
	fmt.Println("  runs      List recorded extraction runs from BigQuery")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runExtract(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to a receipt image or statement PDF")
	modeName := fs.String("mode", string(pipeline.ModeSingleReceipt), "Extraction mode: receipt or history")
	model := fs.String("model", cfg.GeminiModel, "Gemini model name")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli extract -file PATH [-mode receipt|history]")
	}
	mode, ok := pipeline.ParseMode(*modeName)
	if !ok {
		log.Fatal().Str("mode", *modeName).Msg("Unknown mode")
	}
	if cfg.GeminiAPIKey == "" {
		log.Fatal().Msg("GEMINI_API_KEY is required")
	}

	content, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   *model,
		BaseURL: cfg.GeminiBaseURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	tmpDir, err := os.MkdirTemp("", "extract-")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create temp dir")
	}
	defer os.RemoveAll(tmpDir)

	store, err := docstore.NewLocalStore(tmpDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create document store")
	}

	extractor := pipeline.NewExtractor(client, store,
		pipeline.WithRecorder(inmemory.NewStore()),
		pipeline.WithMaxUploadBytes(cfg.MaxUploadBytes),
		pipeline.WithModelName(client.Model()),
	)

	doc := pipeline.UploadedDocument{
		Content:  content,
		MIMEType: mime.TypeByExtension(filepath.Ext(*filePath)),
		Filename: filepath.Base(*filePath),
	}

	log.Info().
		Str("file", *filePath).
		Str("mode", string(mode)).
		Str("model", client.Model()).
		Msg("Starting extraction")

	var result interface{}
	switch mode {
	case pipeline.ModeSingleReceipt:
		result, err = extractor.ExtractSingleReceipt(ctx, doc)
	default:
		result, err = extractor.ExtractHistoryBatch(ctx, doc)
	}
	if err != nil {
		log.Fatal().Err(err).Str("error_kind", string(pipeline.KindOf(err))).Msg("Extraction failed")
	}

	if err := writeJSON(os.Stdout, result); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
}

func runRecover(log zerolog.Logger) {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	rawPath := fs.String("raw", "", "Path to a saved raw model response")
	modeName := fs.String("mode", string(pipeline.ModeSingleReceipt), "Extraction mode: receipt or history")
	fs.Parse(os.Args[2:])

	if *rawPath == "" {
		log.Fatal().Msg("Usage: cli recover -raw PATH [-mode receipt|history]")
	}
	mode, ok := pipeline.ParseMode(*modeName)
	if !ok {
		log.Fatal().Str("mode", *modeName).Msg("Unknown mode")
	}

	raw, err := os.ReadFile(*rawPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read raw response")
	}

	result, err := recoverTransactions(string(raw), mode, time.Now)
	if err != nil {
		log.Fatal().Err(err).Str("error_kind", string(pipeline.KindOf(err))).Msg("Recovery failed")
	}

	log.Info().
		Str("strategy", string(result.Strategy)).
		Int("transactions", len(result.Transactions)).
		Msg("Recovery completed")

	if err := writeJSON(os.Stdout, result); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
}

// recoverResult is the output of the recover command.
type recoverResult struct {
	Strategy     pipeline.Strategy               `json:"strategy"`
	Candidates   []pipeline.CandidateTransaction `json:"candidates"`
	Transactions []pipeline.ValidatedTransaction `json:"transactions"`
}

// recoverTransactions runs recovery and normalization over raw model text
// without calling the model.
func recoverTransactions(raw string, mode pipeline.Mode, now func() time.Time) (*recoverResult, error) {
	recovery, err := pipeline.RecoverStructuredData(raw, mode)
	if err != nil {
		return nil, fmt.Errorf("recoverTransactions: %w", err)
	}
	return &recoverResult{
		Strategy:     recovery.Strategy,
		Candidates:   recovery.Candidates,
		Transactions: pipeline.NewNormalizer(now).NormalizeAll(mode, recovery.Candidates),
	}, nil
}

func runRuns(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	project := fs.String("project", cfg.BQProjectID, "BigQuery project ID (or set BQ_PROJECT_ID env)")
	dataset := fs.String("dataset", cfg.BQDataset, "BigQuery dataset (or set BQ_DATASET env)")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	status := fs.String("status", "", "Filter by status: RUNNING, SUCCESS or FAILED")
	user := fs.String("user", "", "Filter by user ID")
	fs.Parse(os.Args[2:])

	if *project == "" {
		log.Fatal().Msg("Usage: cli runs -project ID [-limit N]")
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	repo, err := infraBQ.NewRunRepository(ctx, *project, *dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create run repository")
	}
	defer repo.Close()

	list, err := repo.ListRuns(ctx, runs.Filter{
		UserID: *user,
		Status: runs.Status(*status),
		Limit:  *limit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	printRuns(os.Stdout, list)
}

func printRuns(w io.Writer, list []*runs.Run) {
	fmt.Fprintf(w, "\n=== Extraction Runs (%d) ===\n", len(list))
	for i, run := range list {
		fmt.Fprintf(w, "\n%d. %s [%s]\n", i+1, run.RunID, run.Status)
		fmt.Fprintf(w, "   Mode:         %s\n", run.Mode)
		fmt.Fprintf(w, "   File:         %s (%s, %d bytes)\n", run.Filename, run.MIMEType, run.SizeBytes)
		fmt.Fprintf(w, "   Started:      %s\n", run.StartedAt.Format(time.RFC3339))
		if run.Strategy != "" {
			fmt.Fprintf(w, "   Strategy:     %s\n", run.Strategy)
		}
		if run.Status == runs.StatusSucceeded {
			fmt.Fprintf(w, "   Transactions: %d\n", run.TransactionCount)
		}
		if run.ErrorKind != "" {
			fmt.Fprintf(w, "   Error:        %s: %s\n", run.ErrorKind, run.ErrorMessage)
		}
	}
	fmt.Fprintln(w)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
