// Command relay-agent runs the Agent role (spec.md §4.4): it registers
// this machine with a Hub Server and keeps its projects/sessions
// snapshot current.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RJW34/CNM/internal/agentpeer"
	"github.com/RJW34/CNM/internal/config"
	"github.com/RJW34/CNM/internal/fingerprint"
	"github.com/RJW34/CNM/internal/logging"
	"github.com/RJW34/CNM/internal/registry"
	"github.com/RJW34/CNM/internal/singleton"
	"github.com/RJW34/CNM/internal/svcinstall"
)

var (
	configPath   string
	hubURLFlag   string
	p2pListenFlag string
	noSingleton  bool
)

func main() {
	root := &cobra.Command{
		Use:   "relay-agent",
		Short: "Run the CNM relay agent",
		RunE:  runAgent,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to relay.yml (default ~/.cnm/relay.yml)")
	root.Flags().StringVar(&hubURLFlag, "hub", "", "hub WebSocket URL override")
	root.Flags().StringVar(&p2pListenFlag, "p2p-listen", "", "address to bind the direct client WebSocket listener (bypasses the hub)")
	root.Flags().BoolVar(&noSingleton, "no-singleton", false, "skip the single-instance lock (for tests)")
	root.AddCommand(serviceCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAgent(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if hubURLFlag != "" {
		cfg.HubURL = hubURLFlag
	}
	if p2pListenFlag != "" {
		cfg.P2PListenAddr = p2pListenFlag
	}
	if cfg.HubURL == "" {
		return fmt.Errorf("no hub URL configured (set hub_url in config or pass --hub)")
	}

	log := logging.NewLogger("agent", logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	if !noSingleton {
		pid := os.Getpid()
		ok, owner, err := singleton.Acquire(singleton.Info{PID: pid, Role: "agent"})
		if err != nil {
			return fmt.Errorf("acquire singleton lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("an agent is already running (pid %d)", owner.PID)
		}
		defer singleton.Release("agent", pid)
	}

	fp := fingerprint.Collect()
	machineID := fp.Fingerprint
	if machineID == "" {
		device, err := fingerprint.EnsureDeviceInfo()
		if err != nil {
			return fmt.Errorf("resolve device identity: %w", err)
		}
		machineID = device.DeviceID
	}
	if machineID == "" {
		machineID = uuid.NewString()
	}

	hostname, _ := os.Hostname()
	registryDir, err := registry.Dir()
	if err != nil {
		return fmt.Errorf("resolve registry dir: %w", err)
	}

	var address string
	if net := fingerprint.CollectNetworkInfo(); len(net.IPv4) > 0 {
		address = net.IPv4[0]
	}

	agent := agentpeer.New(agentpeer.Config{
		HubURL:           cfg.HubURL,
		MachineID:        machineID,
		Hostname:         hostname,
		Address:          address,
		AgentToken:       cfg.AgentToken,
		AgentVersion:     version(),
		ProjectsDir:      cfg.ProjectsDir,
		RegistryDir:      registryDir,
		ClientListenAddr: cfg.P2PListenAddr,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.WithField("hub", cfg.HubURL).WithField("machineId", machineID).Info("starting agent")
	return agent.Run(ctx)
}

func version() string {
	if v := os.Getenv("CNM_AGENT_VERSION"); v != "" {
		return v
	}
	return "dev"
}

func serviceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove the agent as an OS service",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Install and start the agent service",
		RunE: func(_ *cobra.Command, _ []string) error {
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			args := []string{}
			if configPath != "" {
				args = append(args, "--config", configPath)
			}
			if hubURLFlag != "" {
				args = append(args, "--hub", hubURLFlag)
			}
			return svcinstall.Install(svcinstall.Spec{Role: "agent", Executable: exe, Args: args})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Stop and remove the agent service",
		RunE: func(_ *cobra.Command, _ []string) error {
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			return svcinstall.Uninstall(svcinstall.Spec{Role: "agent", Executable: exe})
		},
	})
	return cmd
}
