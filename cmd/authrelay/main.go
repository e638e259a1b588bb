// Package main runs the authrelay service: it hands out tunnelled, remotely
// controllable browsers for third-party logins and returns the token the
// login leaves behind.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/authrelay/pkg/audit"
	"github.com/entrhq/authrelay/pkg/browser"
	"github.com/entrhq/authrelay/pkg/capture"
	appconfig "github.com/entrhq/authrelay/pkg/config"
	"github.com/entrhq/authrelay/pkg/logging"
	"github.com/entrhq/authrelay/pkg/ports"
	"github.com/entrhq/authrelay/pkg/process"
	"github.com/entrhq/authrelay/pkg/server"
	"github.com/entrhq/authrelay/pkg/session"
	"github.com/entrhq/authrelay/pkg/tunnel"
)

const (
	version = "0.1.0"

	shutdownTimeout = 15 * time.Second
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	Listen      string
	LogStderr   bool
	NoSandbox   bool
	ShowVersion bool
}

func main() {
	cliConfig := parseFlags()

	if cliConfig.ShowVersion {
		fmt.Printf("authrelay v%s\n", version)
		return
	}

	if cliConfig.LogStderr {
		logging.SetSink(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cliConfig); err != nil {
		log.Printf("authrelay failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func parseFlags() *CLIConfig {
	config := &CLIConfig{}

	flag.StringVar(&config.ConfigFile, "config", "", "Path to configuration file (JSON or YAML, default ~/.authrelay/config.json)")
	flag.StringVar(&config.Listen, "listen", "", "HTTP listen address (overrides server.listen)")
	flag.BoolVar(&config.LogStderr, "log-stderr", false, "Write logs to stderr instead of the log directory")
	flag.BoolVar(&config.NoSandbox, "no-sandbox", false, "Launch the browser without its sandbox (containers running as root)")
	flag.BoolVar(&config.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "authrelay - remote browser login relay\n\n")
		fmt.Fprintf(os.Stderr, "Usage: authrelay [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nThe tunnel credential is read from $%s unless set in the config file.\n", appconfig.DefaultCredentialEnv)
	}

	flag.Parse()
	return config
}

//nolint:gocyclo
func run(ctx context.Context, cliConfig *CLIConfig) error {
	logger, err := logging.NewLogger("authrelay")
	if err != nil {
		logger.Warnf("Failed to initialize log file, using stderr fallback: %v", err)
	}
	defer logger.Close()

	if err := appconfig.Initialize(cliConfig.ConfigFile); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	serverCfg := appconfig.GetServer()
	browserCfg := appconfig.GetBrowser()
	tunnelCfg := appconfig.GetTunnel()
	if cliConfig.Listen != "" {
		serverCfg.SetListen(cliConfig.Listen)
	}
	if cliConfig.NoSandbox {
		browserCfg.SetNoSandbox(true)
	}
	browserSettings := browserCfg.Settings()

	credential := tunnelCfg.ResolveCredential()
	if credential == "" {
		// Not fatal here: every start request fails fast until it is set
		logger.Warnf("No tunnel credential configured; set $%s or tunnel.credential", tunnelCfg.Settings().CredentialEnv)
	}

	spawner := process.NewSpawner()

	pool, err := ports.NewPool(browserSettings.PortRangeStart, browserSettings.PortRangeEnd)
	if err != nil {
		return fmt.Errorf("failed to create debug port pool: %w", err)
	}

	provisioner, err := tunnel.NewProvisioner(tunnel.ConfigFromSettings(tunnelCfg.Settings(), credential), spawner)
	if err != nil {
		return fmt.Errorf("failed to create tunnel provisioner: %w", err)
	}
	defer provisioner.CloseAll()

	extractor, err := capture.NewExtractor(browserSettings.CookiePatterns)
	if err != nil {
		return fmt.Errorf("invalid cookie patterns: %w", err)
	}

	launcher := browser.NewLauncher(spawner)
	if err := launcher.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize browser driver: %w", err)
	}
	defer func() {
		if err := launcher.Shutdown(); err != nil {
			logger.Warnf("Failed to stop browser driver: %v", err)
		}
	}()

	opts := session.Options{
		Launcher:          session.NewBrowserLauncher(launcher),
		Provisioner:       session.NewTunnelProvisioner(provisioner),
		Ports:             pool,
		Extractor:         extractor,
		Viewport:          browser.Viewport{Width: browserSettings.ViewportWidth, Height: browserSettings.ViewportHeight},
		NoSandbox:         browserSettings.NoSandbox,
		ExecutablePath:    browserSettings.Executable,
		PortTimeout:       browserSettings.PortTimeout,
		NavigationTimeout: browserSettings.NavigationTimeout,
		TTL:               browserSettings.SessionTTL,
		DefaultLoginURL:   browserSettings.DefaultLoginURL,
		CaptureRate:       browserSettings.CaptureRatePerSecond,
		CaptureTimeout:    browserSettings.CaptureTimeout,
		LoginURLAllowed:   appconfig.IsLoginURLAllowed,
	}

	if path := serverCfg.GetAuditDBPath(); path != "" {
		auditLog, err := audit.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()
		opts.Audit = auditLog
		logger.Infof("Audit log at %s", path)
	}

	manager, err := session.NewManager(opts)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	defer manager.Shutdown()

	srv := &http.Server{
		Addr:              serverCfg.GetListen(),
		Handler:           server.New(manager, server.Options{MetricsEnabled: serverCfg.IsMetricsEnabled()}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		portStart, portEnd := pool.Range()
		logger.Infof("authrelay v%s listening on %s (debug ports %d-%d)", version, srv.Addr, portStart, portEnd)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Infof("Shutting down")
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP shutdown: %v", err)
	}
	return nil
}
