// File: internal/sessionstore/store.go
package sessionstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the persisted shape of an authenticated browser session. The
// host restores it on later runs to skip the sign-in flow entirely.
type Snapshot struct {
	Account     string           `json:"account"`
	DeviceClass string           `json:"deviceClass"`
	SavedAt     time.Time        `json:"savedAt"`
	URL         string           `json:"url"`
	Cookies     []browser.Cookie `json:"cookies"`
}

// Store writes session snapshots under a base directory, one file per
// account and device class.
type Store struct {
	logger *zap.Logger
	dir    string
}

// NewStore creates a session store rooted at dir.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{
		logger: logger.Named("sessionstore"),
		dir:    dir,
	}
}

// SaveSession harvests cookies from the surface and persists them.
func (st *Store) SaveSession(ctx context.Context, s browser.Surface, account, deviceClass string) error {
	cookies, err := s.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to harvest session cookies: %w", err)
	}
	url, err := s.CurrentURL(ctx)
	if err != nil {
		url = ""
	}

	snap := Snapshot{
		Account:     account,
		DeviceClass: deviceClass,
		SavedAt:     time.Now().UTC(),
		URL:         url,
		Cookies:     cookies,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}

	path := st.path(account, deviceClass)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session snapshot: %w", err)
	}

	st.logger.Info("Session persisted.",
		zap.String("account", account),
		zap.String("device_class", deviceClass),
		zap.Int("cookies", len(cookies)),
	)
	return nil
}

func (st *Store) path(account, deviceClass string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.ToLower(account))
	return filepath.Join(st.dir, safe, deviceClass+".json")
}
