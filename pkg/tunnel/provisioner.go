// Package tunnel exposes a local port on a public URL by running an external
// tunnel client (ngrok, cloudflared, localtunnel) and reading the URL it
// reports.
package tunnel

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/authrelay/pkg/config"
	"github.com/entrhq/authrelay/pkg/logging"
	"github.com/entrhq/authrelay/pkg/process"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("tunnel")
	if err != nil {
		debugLog.Warnf("Failed to initialize tunnel logger, using stderr fallback: %v", err)
	}
}

const (
	// DefaultStartTimeout bounds how long a tunnel may take to report its URL
	DefaultStartTimeout = 15 * time.Second

	placeholderPort       = "{port}"
	placeholderCredential = "{credential}"

	stopGrace = 2 * time.Second
)

// Config describes how to run the tunnel client.
type Config struct {
	Command string
	// Args and Env values may contain {port} and {credential}
	Args         []string
	Env          map[string]string
	Credential   string
	StartTimeout time.Duration
	// URLPatterns override DefaultPatterns when non-empty
	URLPatterns []string
	// StatusAPIURL, when set, is polled for the public URL in parallel
	// with output scanning
	StatusAPIURL string
}

// ConfigFromSettings builds a Config from the tunnel config section with an
// already resolved credential.
func ConfigFromSettings(s config.TunnelSettings, credential string) Config {
	return Config{
		Command:      s.Command,
		Args:         s.Args,
		Env:          s.Env,
		Credential:   credential,
		StartTimeout: s.StartTimeout,
		URLPatterns:  s.URLPatterns,
		StatusAPIURL: s.StatusAPIURL,
	}
}

// Tunnel is a running tunnel process and the public URL it serves.
type Tunnel struct {
	URL       string
	SessionID string
	LocalPort int
	StartedAt time.Time

	proc      *process.Process
	owner     *Provisioner
	closeOnce sync.Once
	closeErr  error
}

// Provisioner starts tunnels and keeps one registration per local port.
type Provisioner struct {
	cfg     Config
	spawner *process.Spawner
	matcher *Matcher
	client  *http.Client

	mu     sync.Mutex
	byPort map[int]*Tunnel
}

// NewProvisioner validates cfg and creates a provisioner.
func NewProvisioner(cfg Config, spawner *process.Spawner) (*Provisioner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("tunnel command is required")
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	matcher, err := NewMatcher(cfg.URLPatterns)
	if err != nil {
		return nil, err
	}

	return &Provisioner{
		cfg:     cfg,
		spawner: spawner,
		matcher: matcher,
		client:  &http.Client{Timeout: 2 * time.Second},
		byPort:  make(map[int]*Tunnel),
	}, nil
}

// Ready reports ErrMissingCredential when no credential is configured.
func (p *Provisioner) Ready() error {
	if strings.TrimSpace(p.cfg.Credential) == "" {
		return ErrMissingCredential
	}
	return nil
}

// Provision starts a tunnel to localPort and waits until it reports a public
// URL. An existing registration for the same port is torn down first. On
// timeout, exit or cancellation the tunnel process is stopped before the
// error is returned.
func (p *Provisioner) Provision(ctx context.Context, sessionID string, localPort int) (*Tunnel, error) {
	if err := p.Ready(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	previous := p.byPort[localPort]
	p.mu.Unlock()
	if previous != nil {
		debugLog.Warnf("Port %d already tunnelled for session %s, replacing", localPort, previous.SessionID)
		if err := previous.Close(); err != nil {
			debugLog.Warnf("Failed to close previous tunnel on port %d: %v", localPort, err)
		}
	}

	proc, err := p.spawner.Start(process.Spec{
		Name: "tunnel:" + strconv.Itoa(localPort),
		Path: p.cfg.Command,
		Args: p.expandArgs(localPort),
		Env:  p.expandEnv(localPort),
	})
	if err != nil {
		return nil, &TunnelError{Port: localPort, Op: "spawn", Err: err}
	}

	found := make(chan string, 1)
	go p.scan(proc, localPort, found)

	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()
	if p.cfg.StatusAPIURL != "" {
		go pollStatus(pollCtx, p.client, p.cfg.StatusAPIURL, localPort, found)
	}

	timer := time.NewTimer(p.cfg.StartTimeout)
	defer timer.Stop()

	var publicURL string
	select {
	case publicURL = <-found:
	case <-proc.Done():
		p.stop(proc)
		return nil, &TunnelError{
			Port: localPort,
			Op:   "exit",
			Err:  fmt.Errorf("%w before reporting a url (%v): %s", ErrTunnelExited, proc.Err(), p.redact(tailText(proc, 5))),
		}
	case <-timer.C:
		p.stop(proc)
		return nil, &TunnelError{Port: localPort, Op: "timeout", Err: ErrTunnelTimeout}
	case <-ctx.Done():
		p.stop(proc)
		return nil, &TunnelError{Port: localPort, Op: "cancel", Err: ctx.Err()}
	}

	t := &Tunnel{
		URL:       publicURL,
		SessionID: sessionID,
		LocalPort: localPort,
		StartedAt: time.Now(),
		proc:      proc,
		owner:     p,
	}

	p.mu.Lock()
	p.byPort[localPort] = t
	p.mu.Unlock()

	go p.watch(t)

	debugLog.Infof("Tunnel for session %s ready: %s -> 127.0.0.1:%d", sessionID, publicURL, localPort)
	return t, nil
}

// Lookup returns the tunnel registered for localPort.
func (p *Provisioner) Lookup(localPort int) (*Tunnel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.byPort[localPort]
	return t, ok
}

// Active returns the number of registered tunnels.
func (p *Provisioner) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byPort)
}

// CloseAll stops every registered tunnel.
func (p *Provisioner) CloseAll() {
	p.mu.Lock()
	tunnels := make([]*Tunnel, 0, len(p.byPort))
	for _, t := range p.byPort {
		tunnels = append(tunnels, t)
	}
	p.mu.Unlock()

	for _, t := range tunnels {
		if err := t.Close(); err != nil {
			debugLog.Warnf("Failed to close tunnel on port %d: %v", t.LocalPort, err)
		}
	}
}

// scan feeds output to the matcher until the first URL, then keeps draining
// so the client never blocks on a full pipe.
func (p *Provisioner) scan(proc *process.Process, localPort int, found chan<- string) {
	matched := false
	for line := range proc.Lines() {
		if !matched {
			if u, ok := p.matcher.Match(line.Text); ok {
				matched = true
				select {
				case found <- u:
				default:
				}
			}
		}
		debugLog.Debugf("[tunnel:%d %s] %s", localPort, line.Stream, p.redact(line.Text))
	}
}

// watch deregisters a tunnel whose process dies on its own.
func (p *Provisioner) watch(t *Tunnel) {
	<-t.proc.Done()
	if p.deregister(t) {
		debugLog.Warnf("Tunnel for session %s on port %d exited unexpectedly: %v", t.SessionID, t.LocalPort, t.proc.Err())
	}
}

// deregister removes t if it is still the registration for its port.
func (p *Provisioner) deregister(t *Tunnel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byPort[t.LocalPort] != t {
		return false
	}
	delete(p.byPort, t.LocalPort)
	return true
}

func (p *Provisioner) stop(proc *process.Process) {
	if err := proc.Stop(stopGrace); err != nil {
		debugLog.Warnf("Failed to stop tunnel process: %v", err)
	}
}

func (p *Provisioner) expand(s string, localPort int) string {
	s = strings.ReplaceAll(s, placeholderPort, strconv.Itoa(localPort))
	return strings.ReplaceAll(s, placeholderCredential, p.cfg.Credential)
}

func (p *Provisioner) expandArgs(localPort int) []string {
	args := make([]string, len(p.cfg.Args))
	for i, a := range p.cfg.Args {
		args[i] = p.expand(a, localPort)
	}
	return args
}

func (p *Provisioner) expandEnv(localPort int) map[string]string {
	env := make(map[string]string, len(p.cfg.Env))
	for k, v := range p.cfg.Env {
		env[k] = p.expand(v, localPort)
	}
	return env
}

// redact hides the credential in logged output.
func (p *Provisioner) redact(s string) string {
	if p.cfg.Credential == "" {
		return s
	}
	return strings.ReplaceAll(s, p.cfg.Credential, "[REDACTED]")
}

// Close stops the tunnel process and removes its registration. Safe to call
// multiple times.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		if t.owner != nil {
			t.owner.deregister(t)
		}
		if t.proc != nil {
			t.closeErr = t.proc.Stop(stopGrace)
		}
		debugLog.Debugf("Tunnel for session %s on port %d closed", t.SessionID, t.LocalPort)
	})
	return t.closeErr
}

// Done is closed when the tunnel process exits.
func (t *Tunnel) Done() <-chan struct{} {
	return t.proc.Done()
}

func tailText(proc *process.Process, n int) string {
	lines := proc.Tail(n)
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, " | ")
}
