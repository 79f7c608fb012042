// Command relay-term is the Client Runtime (CR, spec.md §4.5): a
// terminal UI that dials a hub, lists live sessions across every
// connected machine, and attaches to one for an interactive shell.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/RJW34/CNM/internal/client"
)

func main() {
	var hubURL, token string
	pflag.StringVar(&hubURL, "hub", os.Getenv("CNM_HUB_URL"), "hub WebSocket URL")
	pflag.StringVar(&token, "token", os.Getenv("CNM_AUTH_TOKEN"), "bearer token")
	pflag.Parse()

	if hubURL == "" {
		fmt.Fprintln(os.Stderr, "relay-term: --hub is required (or set CNM_HUB_URL)")
		os.Exit(1)
	}

	m := client.New(hubURL, token)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
