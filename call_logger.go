package sopflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CallLogEntry records one inference invocation.
type CallLogEntry struct {
	WorkflowID string    `json:"workflow_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Node       string    `json:"node"`
	Model      string    `json:"model,omitempty"`
	TokensIn   int       `json:"tokens_in"`
	TokensOut  int       `json:"tokens_out"`
	Duration   float64   `json:"duration_seconds"`
	Error      string    `json:"error,omitempty"`
	StartTime  time.Time `json:"start_time"`
}

// CallLogger receives a record for every inference invocation the engine
// makes.
type CallLogger interface {
	LogCall(ctx context.Context, entry *CallLogEntry) error
}

// NullCallLogger discards all entries.
type NullCallLogger struct{}

func NewNullCallLogger() *NullCallLogger {
	return &NullCallLogger{}
}

func (l *NullCallLogger) LogCall(ctx context.Context, entry *CallLogEntry) error {
	return nil
}

// FileCallLogger appends entries to one JSONL file per workflow run.
type FileCallLogger struct {
	logsDir string
	mutex   sync.Mutex
}

func NewFileCallLogger(logsDir string) *FileCallLogger {
	return &FileCallLogger{logsDir: logsDir}
}

func (l *FileCallLogger) LogCall(ctx context.Context, entry *CallLogEntry) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err := os.MkdirAll(l.logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal call log entry: %w", err)
	}

	path := filepath.Join(l.logsDir, entry.WorkflowID+".jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open call log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write call log entry: %w", err)
	}
	return nil
}
