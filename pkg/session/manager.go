// Package session runs remote login sessions: it provisions a browser and a
// tunnel per session, tracks them in a registry, polls for the token the
// login leaves behind, and tears everything down on capture, expiry,
// explicit cleanup or shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/entrhq/authrelay/pkg/audit"
	"github.com/entrhq/authrelay/pkg/browser"
	"github.com/entrhq/authrelay/pkg/capture"
	"github.com/entrhq/authrelay/pkg/logging"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("session")
	if err != nil {
		debugLog.Warnf("Failed to initialize session logger, using stderr fallback: %v", err)
	}
}

const (
	// DefaultTTL is the maximum lifetime of a session.
	DefaultTTL = 6 * time.Minute

	// DefaultLoginURL is opened when a request names none.
	DefaultLoginURL = "https://accounts.google.com/"

	// DefaultCaptureTimeout bounds one capture poll's page reads.
	DefaultCaptureTimeout = 5 * time.Second

	// ReasonRateLimited is the miss reason for polls over the limit.
	ReasonRateLimited = "poll rate exceeded"

	auditTimeout = 5 * time.Second
)

// Options wires a Manager to its collaborators.
type Options struct {
	Launcher    Launcher
	Provisioner Provisioner
	Ports       PortPool
	Extractor   *capture.Extractor
	// Audit is optional
	Audit Auditor

	Viewport          browser.Viewport
	NoSandbox         bool
	ExecutablePath    string
	PortTimeout       time.Duration
	NavigationTimeout time.Duration

	TTL             time.Duration
	DefaultLoginURL string
	// CaptureRate limits capture polls per session per second; 0 disables
	CaptureRate float64
	// CaptureTimeout bounds the cookie and storage reads of one poll
	CaptureTimeout time.Duration
	// LoginURLAllowed rejects login URLs outside policy; nil allows all
	LoginURLAllowed func(rawURL string) bool
}

// Manager is the session registry and lifecycle owner. All methods are safe
// for concurrent use.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager validates opts and creates a manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Launcher == nil {
		return nil, errors.New("session manager requires a launcher")
	}
	if opts.Provisioner == nil {
		return nil, errors.New("session manager requires a tunnel provisioner")
	}
	if opts.Ports == nil {
		return nil, errors.New("session manager requires a port pool")
	}
	if opts.Extractor == nil {
		extractor, err := capture.NewExtractor(nil)
		if err != nil {
			return nil, err
		}
		opts.Extractor = extractor
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.DefaultLoginURL == "" {
		opts.DefaultLoginURL = DefaultLoginURL
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = DefaultCaptureTimeout
	}
	if opts.CaptureRate < 0 {
		return nil, fmt.Errorf("capture rate must not be negative, got %v", opts.CaptureRate)
	}

	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
	}, nil
}

// Start provisions a browser and tunnel and registers the session. It
// returns only once the tunnel URL is known. On any failure every resource
// acquired so far is released before the error is returned.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, &ValidationError{Field: "ownerId", Message: "is required"}
	}
	loginURL, err := m.resolveLoginURL(req.LoginURL)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}

	id := uuid.NewString()

	// Checked before anything is spawned; a missing credential is never retried
	if err := m.opts.Provisioner.Ready(); err != nil {
		return nil, m.startFailed(id, ownerID, StageCredential, err)
	}

	port, err := m.opts.Ports.Acquire()
	if err != nil {
		return nil, m.startFailed(id, ownerID, StagePorts, err)
	}

	b, err := m.opts.Launcher.Launch(ctx, browser.LaunchOptions{
		DebugPort:         port,
		Viewport:          m.opts.Viewport,
		NoSandbox:         m.opts.NoSandbox,
		ExecutablePath:    m.opts.ExecutablePath,
		PortTimeout:       m.opts.PortTimeout,
		NavigationTimeout: m.opts.NavigationTimeout,
	})
	if err != nil {
		m.opts.Ports.Release(port)
		return nil, m.startFailed(id, ownerID, StageLaunch, err)
	}

	if err := b.Navigate(ctx, loginURL); err != nil {
		m.release(id, b, nil, port)
		return nil, m.startFailed(id, ownerID, StageNavigate, err)
	}

	provisionStart := time.Now()
	tun, err := m.opts.Provisioner.Provision(ctx, id, port)
	if err != nil {
		m.release(id, b, nil, port)
		return nil, m.startFailed(id, ownerID, StageTunnel, err)
	}
	metricTunnelProvision.Observe(time.Since(provisionStart).Seconds())

	if tun.PublicURL() == "" {
		m.release(id, b, tun, port)
		return nil, m.startFailed(id, ownerID, StageTunnel, errors.New("tunnel reported an empty url"))
	}

	now := time.Now()
	s := &Session{
		ID:        id,
		OwnerID:   ownerID,
		LoginURL:  loginURL,
		TunnelURL: tun.PublicURL(),
		DebugPort: port,
		CreatedAt: now,
		ExpiresAt: now.Add(m.opts.TTL),
		browser:   b,
		tunnel:    tun,
		stop:      make(chan struct{}),
	}
	if m.opts.CaptureRate > 0 {
		burst := int(math.Ceil(m.opts.CaptureRate))
		s.limiter = rate.NewLimiter(rate.Limit(m.opts.CaptureRate), burst)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.release(id, b, tun, port)
		return nil, m.startFailed(id, ownerID, StageRegister, ErrShutdown)
	}
	m.sessions[id] = s
	s.timer = time.AfterFunc(m.opts.TTL, func() {
		if m.teardown(id, ReasonExpired) {
			debugLog.Infof("Session %s expired after %v", id, m.opts.TTL)
		}
	})
	metricSessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	go m.watch(s)

	metricSessionsStarted.Inc()
	m.record(id, ownerID, audit.KindStarted, s.TunnelURL)
	debugLog.Infof("Session %s started for %s: %s -> port %d", id, ownerID, s.TunnelURL, port)

	return &StartResult{SessionID: id, TunnelURL: s.TunnelURL, ExpiresAt: s.ExpiresAt}, nil
}

// Capture polls the session's page for a token. A find consumes the
// session: it is torn down before the token is returned.
func (m *Manager) Capture(ctx context.Context, id string) (*CaptureResult, error) {
	s, ok := m.lookup(id)
	if !ok {
		return nil, ErrSessionNotFound
	}

	if s.limiter != nil && !s.limiter.Allow() {
		metricCaptureAttempts.WithLabelValues(outcomeRateLimited).Inc()
		return &CaptureResult{OK: false, Reason: ReasonRateLimited}, nil
	}

	readCtx, cancel := context.WithTimeout(ctx, m.opts.CaptureTimeout)
	tok, reason := m.opts.Extractor.Extract(readCtx, s.browser)
	cancel()
	if tok == nil {
		if _, still := m.lookup(id); !still {
			// Torn down while we were reading
			return nil, ErrSessionNotFound
		}
		metricCaptureAttempts.WithLabelValues(outcomeMiss).Inc()
		debugLog.Debugf("Capture miss for session %s: %s", id, reason)
		return &CaptureResult{OK: false, Reason: reason}, nil
	}

	metricCaptureAttempts.WithLabelValues(outcomeCaptured).Inc()
	debugLog.Infof("Captured token for session %s from %s", id, tok.Describe())
	m.teardownWithDetail(id, ReasonCaptured, tok.Describe())

	return &CaptureResult{OK: true, Token: tok}, nil
}

// Relay dispatches a pointer action to the session's page. Request fields
// are validated before the session is looked up.
func (m *Manager) Relay(ctx context.Context, req RelayRequest) (*RelayResult, error) {
	action, x, y, err := validateRelay(req)
	if err != nil {
		return nil, err
	}

	s, ok := m.lookup(req.SessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	if err := s.browser.Pointer(ctx, action, x, y); err != nil {
		if errors.Is(err, browser.ErrClosed) {
			// Lost a race with teardown
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("relay %s to session %s: %w", action, req.SessionID, err)
	}
	return &RelayResult{Action: string(action), X: x, Y: y, URL: s.browser.URL()}, nil
}

// Cleanup tears a session down. Unknown ids are ignored.
func (m *Manager) Cleanup(id string) {
	m.teardown(id, ReasonCleanup)
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (Info, error) {
	s, ok := m.lookup(id)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	return s.info(), nil
}

// List returns snapshots of all live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info())
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown tears down every session and rejects further starts.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, id := range ids {
		g.Go(func() error {
			m.teardown(id, ReasonShutdown)
			return nil
		})
	}
	_ = g.Wait()

	if len(ids) > 0 {
		debugLog.Infof("Shut down %d session(s)", len(ids))
	}
}

func (m *Manager) lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) teardown(id string, reason TeardownReason) bool {
	return m.teardownWithDetail(id, reason, "")
}

// teardownWithDetail removes the registry entry first so that a concurrent
// teardown finds nothing, then releases the session's resources. Resource
// errors are logged and suppressed. It reports whether this call did the
// work.
func (m *Manager) teardownWithDetail(id string, reason TeardownReason, detail string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		metricSessionsActive.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	if s.stop != nil {
		close(s.stop)
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	m.release(id, s.browser, s.tunnel, s.DebugPort)

	metricTeardowns.WithLabelValues(string(reason)).Inc()
	m.record(id, s.OwnerID, string(reason), detail)
	debugLog.Infof("Session %s terminated (%s)", id, reason)
	return true
}

// watch tears the session down when its browser or tunnel process exits on
// its own.
func (m *Manager) watch(s *Session) {
	var reason TeardownReason
	select {
	case <-s.stop:
		return
	case <-s.browser.Done():
		reason = ReasonBrowserExited
	case <-s.tunnel.Done():
		reason = ReasonTunnelExited
	}
	if m.teardown(s.ID, reason) {
		debugLog.Warnf("Session %s ended early: %s", s.ID, reason)
	}
}

// release closes the browser and tunnel concurrently, then frees the port.
func (m *Manager) release(id string, b Browser, tun Tunnel, port int) {
	var g errgroup.Group
	if b != nil {
		g.Go(func() error {
			if err := b.Close(); err != nil {
				debugLog.Warnf("Failed to close browser for session %s: %v", id, err)
			}
			return nil
		})
	}
	if tun != nil {
		g.Go(func() error {
			if err := tun.Close(); err != nil {
				debugLog.Warnf("Failed to close tunnel for session %s: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	m.opts.Ports.Release(port)
}

func (m *Manager) startFailed(id, ownerID, stage string, err error) error {
	metricStartFailures.WithLabelValues(stage).Inc()
	m.record(id, ownerID, audit.KindStartFailed, stage+": "+err.Error())
	debugLog.Errorf("Session %s for %s failed at %s: %v", id, ownerID, stage, err)
	return &StartError{Stage: stage, Err: err}
}

func (m *Manager) record(id, ownerID, kind, detail string) {
	if m.opts.Audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := m.opts.Audit.Record(ctx, audit.Event{SessionID: id, OwnerID: ownerID, Kind: kind, Detail: detail}); err != nil {
		debugLog.Warnf("Failed to record audit event %s for session %s: %v", kind, id, err)
	}
}

func (m *Manager) resolveLoginURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = m.opts.DefaultLoginURL
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &ValidationError{Field: "loginUrl", Message: "must be an absolute http(s) url"}
	}
	if m.opts.LoginURLAllowed != nil && !m.opts.LoginURLAllowed(raw) {
		return "", &ValidationError{Field: "loginUrl", Message: "host is not in the login allowlist"}
	}
	return raw, nil
}

func validateRelay(req RelayRequest) (browser.Action, float64, float64, error) {
	switch {
	case strings.TrimSpace(req.SessionID) == "":
		return "", 0, 0, &ValidationError{Field: "sessionId", Message: "is required"}
	case strings.TrimSpace(req.Action) == "":
		return "", 0, 0, &ValidationError{Field: "action", Message: "is required"}
	case req.X == nil:
		return "", 0, 0, &ValidationError{Field: "x", Message: "is required"}
	case req.Y == nil:
		return "", 0, 0, &ValidationError{Field: "y", Message: "is required"}
	}

	action, err := browser.ParseAction(req.Action)
	if err != nil {
		return "", 0, 0, &ValidationError{Field: "action", Message: err.Error()}
	}

	x, y := *req.X, *req.Y
	if !inUnitRange(x) {
		return "", 0, 0, &ValidationError{Field: "x", Message: "must be between 0 and 1"}
	}
	if !inUnitRange(y) {
		return "", 0, 0, &ValidationError{Field: "y", Message: "must be between 0 and 1"}
	}
	return action, x, y, nil
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
