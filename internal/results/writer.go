// Package results persists run artifacts: one directory tree per invocation
// holding per-run JSON files, plus an append-only JSONL index of run
// records shared by concurrent runs.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"counterfact/internal/logging"
)

const timestampLayout = "20060102_150405"

// Writer owns one run_<timestamp> directory. The JSONL appender is the only
// resource shared across concurrent runs; it is serialized so each record
// lands as one intact line.
type Writer struct {
	root   string
	logger logging.Logger

	mu    sync.Mutex
	jsonl *os.File
}

// NewWriter creates <resultsDir>/run_<timestamp>/ and opens the run index.
func NewWriter(resultsDir string, logger logging.Logger) (*Writer, error) {
	root := filepath.Join(resultsDir, "run_"+time.Now().Format(timestampLayout))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	jsonl, err := os.OpenFile(filepath.Join(root, "runs.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	return &Writer{root: root, logger: logging.OrNop(logger), jsonl: jsonl}, nil
}

// Root returns the run directory this writer owns.
func (w *Writer) Root() string {
	return w.root
}

// RunDir creates and returns the artifact directory for one run.
func (w *Writer) RunDir(situationName, runID string) (string, error) {
	dir := filepath.Join(w.root, fmt.Sprintf("%s_%s_%s", situationName, runID, time.Now().Format(timestampLayout)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

// WriteJSON writes one artifact as indented JSON.
func (w *Writer) WriteJSON(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	w.logger.Debug("wrote %s", path)
	return nil
}

// AppendRecord appends one record to runs.jsonl as a single line.
func (w *Writer) AppendRecord(record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.jsonl.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append run record: %w", err)
	}
	return nil
}

// Close flushes and closes the run index.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.jsonl.Close()
}
