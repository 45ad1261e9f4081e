package organizer

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// AuditRecord is one copy or move operation, logged before anything else
// can go wrong so the trail survives crashes.
type AuditRecord struct {
	Time       time.Time `json:"time"`
	Action     string    `json:"action"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Confidence float64   `json:"confidence"`
}

// AuditLog appends records to a JSON-lines file. A nil or disabled log
// swallows appends.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
	log  logr.Logger
}

// OpenAuditLog opens the audit file for appending. An empty path disables
// auditing and returns a no-op log.
func OpenAuditLog(path string, log logr.Logger) (*AuditLog, error) {
	if path == "" {
		return &AuditLog{log: log}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open audit log: %w", err)
	}
	return &AuditLog{file: file, log: log}, nil
}

// Append writes one record. Audit failures are logged, not propagated:
// losing one audit line must not fail the photo operation it describes.
func (a *AuditLog) Append(record AuditRecord) {
	if a == nil || a.file == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		a.log.Error(err, "could not marshal audit record")
		return
	}
	if _, err := a.file.Write(append(data, '\n')); err != nil {
		a.log.Error(err, "could not write audit record")
	}
}

// Close closes the underlying file.
func (a *AuditLog) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	return a.file.Close()
}
