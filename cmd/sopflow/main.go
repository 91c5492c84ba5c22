package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepnoodle-ai/sopflow"
	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// CLI configuration
type Config struct {
	Query          string
	DocsDir        string
	DocsDB         string
	ConfigFile     string
	InferenceURL   string
	APIKey         string
	SessionID      string
	CheckpointsDir string
	LogsDir        string
	Deep           bool
	Verbose        bool
	JSON           bool
}

func main() {
	config := parseFlags()

	if config.Query == "" {
		color.Red("Error: a query is required")
		flag.Usage()
		os.Exit(1)
	}
	if config.DocsDir == "" && config.DocsDB == "" {
		color.Red("Error: a document source is required (-docs or -docs-db)")
		flag.Usage()
		os.Exit(1)
	}

	logger := setupLogger(config.Verbose)

	engineConfig := sopflow.DefaultConfig()
	if config.ConfigFile != "" {
		var err error
		engineConfig, err = sopflow.LoadConfigFile(config.ConfigFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		color.Blue("Config: %s", config.ConfigFile)
	}

	store, err := openDocumentStore(config)
	if err != nil {
		log.Fatalf("Failed to open document store: %v", err)
	}

	llm, err := sopflow.NewHTTPInference(sopflow.HTTPInferenceOptions{
		BaseURL: config.InferenceURL,
		APIKey:  config.APIKey,
	})
	if err != nil {
		log.Fatalf("Failed to create inference client: %v", err)
	}

	var checkpointer sopflow.Checkpointer
	if config.CheckpointsDir != "" {
		checkpointer, err = sopflow.NewFileCheckpointer(config.CheckpointsDir)
		if err != nil {
			log.Fatalf("Failed to create checkpointer: %v", err)
		}
		color.Blue("Checkpoints: %s", config.CheckpointsDir)
	} else {
		checkpointer = sopflow.NewNullCheckpointer()
	}

	var callLogger sopflow.CallLogger
	if config.LogsDir != "" {
		callLogger = sopflow.NewFileCallLogger(config.LogsDir)
		color.Blue("Call logs: %s", config.LogsDir)
	} else {
		callLogger = sopflow.NewNullCallLogger()
	}

	engine, err := sopflow.New(sopflow.Options{
		Config:       engineConfig,
		Inference:    llm,
		Documents:    store,
		Checkpointer: checkpointer,
		CallLogger:   callLogger,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	mode := sopflow.ModeStandard
	if config.Deep {
		mode = sopflow.ModeDeep
	}
	sessionID := config.SessionID
	if sessionID == "" && config.CheckpointsDir != "" {
		sessionID = sopflow.NewSessionID()
	}

	color.Green("Processing query (%s mode)...", mode)
	result := engine.ProcessQuery(context.Background(), config.Query, nil, sopflow.ProcessQueryOptions{
		SessionID:           sessionID,
		Mode:                mode,
		EnableCheckpointing: config.CheckpointsDir != "",
	})

	showResult(result, config)
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.Query, "query", "", "Question to answer (required)")
	flag.StringVar(&config.Query, "q", "", "Question to answer (shorthand)")

	flag.StringVar(&config.DocsDir, "docs", "", "Directory of markdown procedure documents")
	flag.StringVar(&config.DocsDB, "docs-db", "", "SQLite document database path")

	flag.StringVar(&config.ConfigFile, "config", "", "Path to a YAML engine config (optional)")
	flag.StringVar(&config.ConfigFile, "c", "", "Path to a YAML engine config (shorthand)")

	flag.StringVar(&config.InferenceURL, "inference-url", "http://localhost:8000", "Inference service base URL")
	flag.StringVar(&config.APIKey, "api-key", os.Getenv("SOPFLOW_API_KEY"), "Inference service API key (or SOPFLOW_API_KEY)")

	flag.StringVar(&config.SessionID, "session", "", "Session ID for checkpoint resume (optional)")
	flag.StringVar(&config.CheckpointsDir, "checkpoints", "", "Directory to store checkpoints (optional)")
	flag.StringVar(&config.LogsDir, "logs", "", "Directory to store inference call logs (optional)")
	flag.StringVar(&config.LogsDir, "l", "", "Directory to store inference call logs (shorthand)")

	flag.BoolVar(&config.Deep, "deep", false, "Enable deep mode with iterative refinement")
	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")
	flag.BoolVar(&config.JSON, "json", false, "Output the result in JSON format")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `sopflow - answer questions from a procedure library

Usage: %s [options] -query "<question>" -docs <dir>

Examples:
  # Answer a question from a directory of markdown procedures
  %s -query "How do I rotate the signing keys?" -docs ./sops

  # Deep mode with refinement and checkpointing
  %s -query "What is the incident escalation path?" -docs ./sops -deep -checkpoints ./checkpoints

  # Use a SQLite document library and a custom config
  %s -query "How do I restore a backup?" -docs-db ./sops.db -config ./sopflow.yaml

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()

	// A bare positional argument is accepted as the query.
	if config.Query == "" && flag.NArg() > 0 {
		config.Query = strings.Join(flag.Args(), " ")
	}
	return config
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}

func openDocumentStore(config *Config) (sopflow.DocumentStore, error) {
	if config.DocsDB != "" {
		return sopflow.NewSQLiteDocumentStore(config.DocsDB)
	}
	return loadMarkdownDir(config.DocsDir)
}

// loadMarkdownDir builds an in-memory store from a directory of markdown
// files. The document title is the first level-one heading, falling back to
// the file name.
func loadMarkdownDir(dir string) (*sopflow.MemoryDocumentStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents directory: %w", err)
	}

	store := sopflow.NewMemoryDocumentStore()
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		store.Add(sopflow.Document{
			ID:      strings.TrimSuffix(entry.Name(), ".md"),
			Title:   markdownTitle(string(content), entry.Name()),
			Content: string(content),
		})
		count++
	}
	if count == 0 {
		color.Yellow("Warning: no markdown documents found in %s", dir)
	} else {
		color.Blue("Loaded %d documents from %s", count, dir)
	}
	return store, nil
}

func markdownTitle(content, filename string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return strings.TrimSuffix(filename, ".md")
}

func showResult(result *sopflow.Result, config *Config) {
	if config.JSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal result: %v", err)
		}
		fmt.Println(string(data))
		return
	}

	fmt.Println()
	fmt.Println(result.Answer)
	fmt.Println()

	switch result.Strategy() {
	case sopflow.StrategyFullAnswer:
		color.Green("Strategy: full answer (confidence %.2f)", result.Confidence)
	case sopflow.StrategyPartialAnswer:
		color.Yellow("Strategy: partial answer (confidence %.2f)", result.Confidence)
	default:
		color.Red("Strategy: escape hatch (confidence %.2f)", result.Confidence)
	}

	if len(result.Evidence) > 0 {
		color.Cyan("Evidence:")
		for _, item := range result.Evidence {
			fmt.Printf("  - %s (%.2f)\n", item.Title, item.Confidence)
		}
	}
	if len(result.FollowUpQuestions) > 0 {
		color.Cyan("Follow-up questions:")
		for _, question := range result.FollowUpQuestions {
			fmt.Printf("  - %s\n", question)
		}
	}
	if len(result.Errors) > 0 {
		color.Red("Errors during processing:")
		for _, message := range result.Errors {
			fmt.Printf("  - %s\n", message)
		}
	}
	color.White("%s", result.Summary())
}
