// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/config"
)

// Manager owns the browser process lifecycle. Initialization is deferred
// until the first surface is requested; Restart tears the allocator down so a
// caller honoring a restart-browsers hint gets a fresh process pool.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	mu         sync.Mutex
	allocCtx   context.Context
	allocStop  context.CancelFunc
	surfaces   map[string]*CDPSurface
	generation int
}

// NewManager creates a browser manager. No browser is launched yet.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		surfaces: make(map[string]*CDPSurface),
	}
}

// allocatorOptions assembles the exec allocator options from configuration.
func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	if m.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(m.cfg.UserDataDir))
	}
	for _, arg := range m.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// ensureAllocator lazily builds the exec allocator. Caller holds m.mu.
func (m *Manager) ensureAllocator() {
	if m.allocCtx != nil {
		return
	}
	m.generation++
	m.logger.Info("Launching browser allocator.", zap.Int("generation", m.generation))
	m.allocCtx, m.allocStop = chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
}

// NewSurface launches a fresh browsing context (its own tab in a shared
// browser process) and returns it as a Surface.
func (m *Manager) NewSurface(ctx context.Context) (Surface, error) {
	m.mu.Lock()
	m.ensureAllocator()
	alloc := m.allocCtx
	m.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(alloc)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to start browser surface: %w", err)
	}

	s := newCDPSurface(tabCtx, tabCancel, m.cfg, m.logger, m.forget)
	m.mu.Lock()
	m.surfaces[s.id] = s
	m.mu.Unlock()

	m.logger.Info("Created new surface.", zap.String("surface_id", s.id))
	return s, nil
}

// forget drops a closed surface from tracking.
func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.surfaces, id)
	m.mu.Unlock()
}

// CloseAll closes every tracked surface best-effort.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	open := make([]*CDPSurface, 0, len(m.surfaces))
	for _, s := range m.surfaces {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		_ = s.Close(ctx)
	}
}

// Restart closes all surfaces and tears the allocator down. The next
// NewSurface call launches a fresh browser process pool.
func (m *Manager) Restart(ctx context.Context) {
	m.CloseAll(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocStop != nil {
		m.logger.Info("Restarting browser allocator.", zap.Int("generation", m.generation))
		m.allocStop()
		m.allocCtx, m.allocStop = nil, nil
	}
}

// Shutdown stops everything. The manager is unusable afterwards.
func (m *Manager) Shutdown(ctx context.Context) {
	m.CloseAll(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocStop != nil {
		m.allocStop()
		m.allocCtx, m.allocStop = nil, nil
	}
	m.logger.Info("Browser manager shut down.")
}
