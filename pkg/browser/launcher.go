// Package browser launches visible Chromium instances with a remote
// debugging port and drives them through playwright over CDP.
package browser

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/authrelay/pkg/logging"
	"github.com/entrhq/authrelay/pkg/process"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("browser")
	if err != nil {
		debugLog.Warnf("Failed to initialize browser logger, using stderr fallback: %v", err)
	}
}

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultPortTimeout    = 10 * time.Second
	DefaultNavTimeout     = 30 * time.Second

	stopGrace = 3 * time.Second
)

// Viewport is the browser window size in pixels.
type Viewport struct {
	Width  int
	Height int
}

// LaunchOptions configures a single browser launch.
type LaunchOptions struct {
	DebugPort int
	Viewport  Viewport
	NoSandbox bool
	// ExecutablePath overrides the playwright-managed Chromium
	ExecutablePath    string
	PortTimeout       time.Duration
	NavigationTimeout time.Duration
}

func (o *LaunchOptions) applyDefaults() {
	if o.Viewport.Width <= 0 || o.Viewport.Height <= 0 {
		o.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if o.PortTimeout <= 0 {
		o.PortTimeout = DefaultPortTimeout
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = DefaultNavTimeout
	}
}

// Launcher owns the playwright driver and starts browser instances.
type Launcher struct {
	spawner     *process.Spawner
	mu          sync.Mutex
	playwright  *playwright.Playwright
	initialized bool
}

// NewLauncher creates a launcher that spawns browsers with spawner.
func NewLauncher(spawner *process.Spawner) *Launcher {
	return &Launcher{spawner: spawner}
}

// Initialize installs and starts the playwright driver and its Chromium.
// This must be called before Launch.
func (l *Launcher) Initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	l.playwright = pw
	l.initialized = true
	return nil
}

// Shutdown stops the playwright driver. Instances should be closed first.
func (l *Launcher) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized || l.playwright == nil {
		return nil
	}
	if err := l.playwright.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	l.playwright = nil
	l.initialized = false
	return nil
}

// Launch starts a visible Chromium on opts.DebugPort, waits for the port to
// accept connections and attaches over CDP. On any failure the browser
// process is stopped before the error is returned.
func (l *Launcher) Launch(ctx context.Context, opts LaunchOptions) (*Instance, error) {
	opts.applyDefaults()

	l.mu.Lock()
	pw := l.playwright
	l.mu.Unlock()
	if pw == nil {
		return nil, &LaunchError{Op: "init", Err: ErrNotInitialized}
	}

	executable := opts.ExecutablePath
	if executable == "" {
		executable = pw.Chromium.ExecutablePath()
	}

	inst, err := l.startProcess(ctx, opts, executable)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d", opts.DebugPort)
	b, err := pw.Chromium.ConnectOverCDP(endpoint)
	if err != nil {
		_ = inst.Close()
		return nil, &LaunchError{Op: "connect", Err: err}
	}
	inst.browser = b

	page, err := primaryPage(b)
	if err != nil {
		_ = inst.Close()
		return nil, &LaunchError{Op: "page", Err: err}
	}
	inst.page = page

	if err := page.SetViewportSize(opts.Viewport.Width, opts.Viewport.Height); err != nil {
		_ = inst.Close()
		return nil, &LaunchError{Op: "viewport", Err: err}
	}

	debugLog.Infof("Browser ready on port %d (pid %d)", opts.DebugPort, inst.proc.Pid())
	return inst, nil
}

// startProcess spawns the browser with a fresh profile and waits for its
// debugging port. The returned instance is not yet attached over CDP.
func (l *Launcher) startProcess(ctx context.Context, opts LaunchOptions, executable string) (*Instance, error) {
	profileDir, err := os.MkdirTemp("", "authrelay-profile-*")
	if err != nil {
		return nil, &LaunchError{Op: "profile", Err: err}
	}

	proc, err := l.spawner.Start(process.Spec{
		Name: "chromium",
		Path: executable,
		Args: chromiumArgs(opts, profileDir),
	})
	if err != nil {
		_ = os.RemoveAll(profileDir)
		return nil, &LaunchError{Op: "spawn", Err: err}
	}
	go drain(proc, opts.DebugPort)

	inst := &Instance{
		port:       opts.DebugPort,
		viewport:   opts.Viewport,
		navTimeout: opts.NavigationTimeout,
		proc:       proc,
		profileDir: profileDir,
	}

	if err := waitForDebugger(ctx, proc, opts.DebugPort, opts.PortTimeout); err != nil {
		_ = inst.Close()
		return nil, err
	}
	return inst, nil
}

// waitForDebugger waits for the debugging port and gives up early if the
// browser exits.
func waitForDebugger(ctx context.Context, proc *process.Process, port int, timeout time.Duration) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-proc.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	err := WaitForPort(waitCtx, "127.0.0.1", port, timeout)
	if err == nil {
		return nil
	}
	if proc.Exited() && ctx.Err() == nil {
		return &LaunchError{
			Op:  "spawn",
			Err: fmt.Errorf("browser exited before port %d opened (%v): %s", port, proc.Err(), tailText(proc, 5)),
		}
	}
	return &LaunchError{Op: "wait_port", Err: err}
}

// primaryPage returns the first page of the default context, creating one
// if the browser has none yet.
func primaryPage(b playwright.Browser) (playwright.Page, error) {
	contexts := b.Contexts()
	if len(contexts) == 0 {
		return nil, fmt.Errorf("browser exposes no default context")
	}
	if pages := contexts[0].Pages(); len(pages) > 0 {
		return pages[0], nil
	}
	return contexts[0].NewPage()
}

func chromiumArgs(opts LaunchOptions, profileDir string) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", opts.DebugPort),
		// DevTools clients reach the port through the tunnel's origin
		"--remote-allow-origins=*",
		fmt.Sprintf("--user-data-dir=%s", profileDir),
		fmt.Sprintf("--window-size=%d,%d", opts.Viewport.Width, opts.Viewport.Height),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-sync",
		"--disable-default-apps",
	}
	if opts.NoSandbox {
		args = append(args, "--no-sandbox")
	}
	return append(args, "about:blank")
}

// drain keeps the browser's output moving so it never blocks on a full pipe.
func drain(proc *process.Process, port int) {
	for line := range proc.Lines() {
		debugLog.Debugf("[chromium:%d %s] %s", port, line.Stream, line.Text)
	}
}

func tailText(proc *process.Process, n int) string {
	lines := proc.Tail(n)
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, " | ")
}
