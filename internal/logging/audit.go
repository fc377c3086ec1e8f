package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Auditor defines the interface for share command audit logging.
// Every command that can change grants on customer data is recorded
// with the share it touched and the caller who ran it.
type Auditor interface {
	LogCommand(command, shareURI, callerARN string) error
	Close() error
}

// AuditLogEntry represents a single share command audit record.
type AuditLogEntry struct {
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
	ShareURI  string `json:"share_uri"`
	CallerARN string `json:"caller_arn"`
}

// auditLogger appends JSON Lines entries to a single audit log file.
type auditLogger struct {
	file *os.File
}

// NewAuditLogger creates an Auditor that appends entries to the file at path.
// The parent directory and file are created automatically if they do not exist.
func NewAuditLogger(path string) (Auditor, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &auditLogger{file: f}, nil
}

// LogCommand records a single share command invocation as a JSON Lines entry.
func (a *auditLogger) LogCommand(command, shareURI, callerARN string) error {
	entry := AuditLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
		ShareURI:  shareURI,
		CallerARN: callerARN,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	data = append(data, '\n')
	if _, err := a.file.Write(data); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}

	return nil
}

// Close closes the underlying audit log file.
func (a *auditLogger) Close() error {
	return a.file.Close()
}
