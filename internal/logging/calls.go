// Package logging provides structured logging for AWS API calls and audit
// logging for share command invocations. A single share run touches IAM, S3,
// KMS, Glue and Lake Formation across two accounts, so call logs are appended
// as JSON Lines to ~/.config/datashare/calls.log. Audit entries are appended
// as JSON Lines to ~/.config/datashare/audit.log.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger defines the interface for structured AWS API call logging.
// Implementations record service, operation, duration, and result for
// each AWS SDK call.
type Logger interface {
	Log(service, operation string, duration time.Duration, err error)
	SetStderr(w io.Writer)
	Close() error
}

// CallLogEntry represents a single AWS API call log entry.
type CallLogEntry struct {
	Timestamp  string `json:"timestamp"`
	Service    string `json:"service"`
	Operation  string `json:"operation"`
	DurationMs int64  `json:"duration_ms"`
	Result     string `json:"result"`
	Error      string `json:"error,omitempty"`
}

// callLogger appends one JSON line per AWS API call to a log file and
// optionally mirrors entries to stderr when debug mode is enabled.
// Safe for concurrent use; SDK retries and paginated calls may log from
// multiple goroutines.
type callLogger struct {
	mu     sync.Mutex
	file   *os.File
	debug  bool
	stderr io.Writer
}

// NewCallLogger creates a Logger that appends JSON Lines entries to the file
// at path. The parent directory and file are created automatically if they do
// not exist. When debug is true, each entry is also written to stderr.
func NewCallLogger(path string, debug bool) (Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}

	return &callLogger{
		file:   f,
		debug:  debug,
		stderr: os.Stderr,
	}, nil
}

// SetStderr overrides the writer used for debug output.
// This is primarily useful for testing.
func (l *callLogger) SetStderr(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stderr = w
}

// Log records a single AWS API call. Logging failures are swallowed;
// they must never fail the share operation that triggered the call.
func (l *callLogger) Log(service, operation string, duration time.Duration, err error) {
	entry := CallLogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Service:    service,
		Operation:  operation,
		DurationMs: duration.Milliseconds(),
		Result:     "success",
	}
	if err != nil {
		entry.Result = "error"
		entry.Error = err.Error()
	}

	data, jsonErr := json.Marshal(entry)
	if jsonErr != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.file.Write(data)

	if l.debug && l.stderr != nil {
		_, _ = l.stderr.Write(data)
	}
}

// Close closes the underlying call log file.
func (l *callLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
