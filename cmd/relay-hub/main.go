// Command relay-hub runs the Hub Server role (spec.md §4.3): the
// always-on process that terminates client and agent WebSockets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RJW34/CNM/internal/config"
	"github.com/RJW34/CNM/internal/hub"
	"github.com/RJW34/CNM/internal/logging"
	"github.com/RJW34/CNM/internal/registry"
	"github.com/RJW34/CNM/internal/singleton"
	"github.com/RJW34/CNM/internal/svcinstall"
)

var (
	configPath string
	noSingleton bool
)

func main() {
	root := &cobra.Command{
		Use:   "relay-hub",
		Short: "Run the CNM relay hub server",
		RunE:  runHub,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to relay.yml (default ~/.cnm/relay.yml)")
	root.Flags().BoolVar(&noSingleton, "no-singleton", false, "skip the single-instance lock (for tests)")

	root.AddCommand(serviceCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runHub(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.NewLogger("hub", logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	if !noSingleton {
		pid := os.Getpid()
		ok, owner, err := singleton.Acquire(singleton.Info{PID: pid, Role: "hub"})
		if err != nil {
			return fmt.Errorf("acquire singleton lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("a hub is already running (pid %d)", owner.PID)
		}
		defer singleton.Release("hub", pid)
	}

	registryDir, err := registry.Dir()
	if err != nil {
		return fmt.Errorf("resolve registry dir: %w", err)
	}

	h := hub.New(cfg, registryDir, log)

	if resolved := config.ResolvePath(configPath); resolved != "" {
		if err := h.WatchConfig(resolved); err != nil {
			log.WithError(err).Warn("failed to start config watcher, tokens will require a restart to rotate")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.WithField("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)).Info("starting hub")
	return h.Run(ctx)
}

func serviceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove the hub as an OS service",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Install and start the hub service",
		RunE: func(_ *cobra.Command, _ []string) error {
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			args := []string{}
			if configPath != "" {
				args = append(args, "--config", configPath)
			}
			return svcinstall.Install(svcinstall.Spec{Role: "hub", Executable: exe, Args: args})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Stop and remove the hub service",
		RunE: func(_ *cobra.Command, _ []string) error {
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			return svcinstall.Uninstall(svcinstall.Spec{Role: "hub", Executable: exe})
		},
	})
	return cmd
}
