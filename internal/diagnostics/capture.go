// File: internal/diagnostics/capture.go
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/loginpilot/internal/browser"
	"github.com/xkilldash9x/loginpilot/internal/config"
)

// Recorder writes best-effort diagnostic artifacts (screenshot + HTML dump)
// for a surface. Captures are rate-limited so a flapping detector cannot fill
// the disk; forced captures bypass the limiter.
type Recorder struct {
	logger  *zap.Logger
	dir     string
	limiter *rate.Limiter
}

// NewRecorder creates a recorder writing into cfg.Dir.
func NewRecorder(cfg config.DiagnosticsConfig, logger *zap.Logger) *Recorder {
	perMinute := cfg.MaxPerMinute
	if perMinute <= 0 {
		perMinute = 4
	}
	return &Recorder{
		logger:  logger.Named("diagnostics"),
		dir:     cfg.Dir,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

// Capture records a screenshot and HTML dump labeled for later triage. All
// failures are logged and swallowed; diagnostics must never break the flow.
func (r *Recorder) Capture(ctx context.Context, s browser.Surface, label string, force bool) {
	if r == nil || s == nil {
		return
	}
	if !force && !r.limiter.Allow() {
		r.logger.Debug("Diagnostic capture suppressed by rate limit.", zap.String("label", label))
		return
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.logger.Warn("Failed to create diagnostics directory.", zap.Error(err))
		return
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	base := filepath.Join(r.dir, fmt.Sprintf("%s-%s", sanitizeLabel(label), stamp))

	if png, err := s.Screenshot(ctx); err != nil {
		r.logger.Warn("Screenshot capture failed.", zap.String("label", label), zap.Error(err))
	} else if err := os.WriteFile(base+".png", png, 0o644); err != nil {
		r.logger.Warn("Screenshot write failed.", zap.Error(err))
	}

	if html, err := s.HTML(ctx); err != nil {
		r.logger.Warn("HTML dump failed.", zap.String("label", label), zap.Error(err))
	} else if err := os.WriteFile(base+".html", []byte(html), 0o644); err != nil {
		r.logger.Warn("HTML dump write failed.", zap.Error(err))
	}

	r.logger.Info("Diagnostic artifacts captured.", zap.String("path", base))
}

// sanitizeLabel keeps labels filesystem-safe.
func sanitizeLabel(label string) string {
	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" {
		return "capture"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, label)
}
