// File: internal/registry/registry.go
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Account status values shared by all registry backends.
const (
	StatusActive  = "active"
	StatusDoLater = "doLater"
)

// Registry is the shared account registry consulted by the host scheduler.
// The orchestrator only ever needs to park an account for a later pass.
type Registry interface {
	// MarkDoLater flags the account so the scheduler skips it this run.
	// A missing account entry is logged and ignored, not an error.
	MarkDoLater(ctx context.Context, email string) error
}

// Entry is one account record in the file-backed registry.
type Entry struct {
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileRegistry stores account state in a single JSON file. Writes go through
// a temp file + rename so a crash cannot leave a truncated registry.
type FileRegistry struct {
	logger *zap.Logger
	path   string
}

var _ Registry = (*FileRegistry)(nil)

// NewFileRegistry creates a registry backed by the JSON file at path.
func NewFileRegistry(path string, logger *zap.Logger) *FileRegistry {
	return &FileRegistry{
		logger: logger.Named("registry"),
		path:   path,
	}
}

func (r *FileRegistry) load() ([]Entry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}
	return entries, nil
}

func (r *FileRegistry) save(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return os.Rename(tmp, r.path)
}

// MarkDoLater parks the account. A registry file or entry that does not exist
// is tolerated: the flow that calls this is already failing and must not be
// failed harder by bookkeeping.
func (r *FileRegistry) MarkDoLater(_ context.Context, email string) error {
	entries, err := r.load()
	if err != nil {
		return err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	for i := range entries {
		if strings.ToLower(entries[i].Email) == email {
			entries[i].Status = StatusDoLater
			entries[i].UpdatedAt = time.Now().UTC()
			if err := r.save(entries); err != nil {
				return err
			}
			r.logger.Info("Account parked for a later pass.", zap.String("email", email))
			return nil
		}
	}

	r.logger.Warn("Account not present in registry; doLater mark skipped.", zap.String("email", email))
	return nil
}
