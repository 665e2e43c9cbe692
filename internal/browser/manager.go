// Package browser owns the shared headless Chrome process and hands out
// isolated incognito tabs, one per harvest.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"pinscout/internal/harvester"
)

const DefaultOperationTimeout = 30 * time.Second

type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string

	// Bin overrides the Chrome binary used by the launcher.
	Bin string

	Headful   bool
	NoSandbox bool

	// OperationTimeout bounds every navigation, element wait and evaluation.
	OperationTimeout time.Duration

	// BlockResources lists resource types dropped by request interception
	// (fonts, media, stylesheets, images).
	BlockResources []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager lazily starts one browser and reuses it for the life of the process.
type Manager struct {
	cfg    Config
	launch func(ctx context.Context) (*rod.Browser, error)

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

func NewManager(cfg Config) *Manager {
	cfg.defaults()
	m := &Manager{cfg: cfg}
	m.launch = m.launchChrome
	return m
}

// Browser returns the shared handle, launching Chrome on first use. Concurrent
// first callers wait for a single launch. A failed launch is not remembered,
// so the next call tries again.
func (m *Manager) Browser(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	b, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.cfg.Logger.Info("browser: ready", "elapsed", time.Since(start))
	return b, nil
}

// NewIsolatedContext opens a fresh incognito context with a single stealth
// page. The returned Tab must be closed by the caller.
func (m *Manager) NewIsolatedContext(ctx context.Context) (*Tab, error) {
	b, err := m.Browser(ctx)
	if err != nil {
		return nil, err
	}

	// Creation is bounded by the operation timeout; the handles are then
	// rebound to the browser's own context so they outlive this call.
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()
	root := b.GetContext()

	inc, err := b.Context(opCtx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito context: %w", err)
	}
	inc = inc.Context(root)

	page, err := stealth.Page(inc.Context(opCtx))
	if err != nil {
		_ = inc.Close()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	page = page.Context(root)

	tab := &Tab{page: page, incognito: inc, timeout: m.cfg.OperationTimeout}
	if len(m.cfg.BlockResources) > 0 {
		router, err := blockResources(page, m.cfg.BlockResources)
		if err != nil {
			m.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		} else {
			tab.router = router
		}
	}
	return tab, nil
}

// Close shuts Chrome down. Only used at process exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return err
}

func (m *Manager) launchChrome(_ context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(!m.cfg.Headful)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.NoSandbox {
			l = l.NoSandbox(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			l.Cleanup()
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headful", m.cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if m.lnch != nil {
			m.lnch.Cleanup()
			m.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// Open satisfies harvester.Opener.
func (m *Manager) Open(ctx context.Context) (harvester.Page, error) {
	tab, err := m.NewIsolatedContext(ctx)
	if err != nil {
		return nil, err
	}
	return tab, nil
}
