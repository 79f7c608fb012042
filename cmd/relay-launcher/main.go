// Command relay-launcher runs the Session Launcher role (spec.md
// §4.1): it owns one PTY child, publishes a registry.Record on a
// heartbeat, and serves the local session channel for the hub (or a
// same-host agent) to attach to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/RJW34/CNM/internal/config"
	"github.com/RJW34/CNM/internal/logging"
	"github.com/RJW34/CNM/internal/registry"
	"github.com/RJW34/CNM/internal/session"
)

func main() {
	var (
		id              string
		cwd             string
		skipPermissions bool
	)
	pflag.StringVar(&id, "id", "", "session id (required)")
	pflag.StringVar(&cwd, "cwd", "", "working directory for the session's shell")
	pflag.BoolVar(&skipPermissions, "skip-permissions", false, "placeholder for future permission-gated tooling")
	pflag.Parse()

	if err := run(id, cwd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(id, cwd string) error {
	if id == "" {
		return fmt.Errorf("--id is required")
	}
	if cwd == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	log := logging.NewLogger("launcher", logging.Options{Level: os.Getenv("CNM_LOG_LEVEL")})

	registryDir, err := registry.Dir()
	if err != nil {
		return fmt.Errorf("resolve registry dir: %w", err)
	}

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	launcher := session.New(id, cwd, nil, registryDir, log)
	launcher.SetGeometry(session.Geometry{Cols: cfg.PTYCols, Rows: cfg.PTYRows})

	ln, err := launcher.Listen()
	if err != nil {
		return fmt.Errorf("session %s already live or endpoint unavailable: %w", id, err)
	}

	if err := launcher.Start(); err != nil {
		_ = ln.Close()
		return fmt.Errorf("start pty: %w", err)
	}
	go launcher.Serve(ln)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	select {
	case <-ctx.Done():
		launcher.Shutdown()
		<-launcher.Done()
	case <-launcher.Done():
		// child exited on its own
	}
	return nil
}
