// Package svcinstall installs and removes the hub or agent as an OS
// service (systemd on Linux, launchd on macOS), adapted from the
// teacher's service.go generalized to either role instead of only the
// agent.
package svcinstall

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Spec describes the service to install.
type Spec struct {
	Role       string // "hub" or "agent"
	Executable string
	Args       []string
}

func (s Spec) unitName() string   { return "cnm-relay-" + s.Role + ".service" }
func (s Spec) unitPath() string   { return "/etc/systemd/system/" + s.unitName() }
func (s Spec) plistLabel() string { return "com.cnm.relay." + s.Role }
func (s Spec) plistPath() string  { return "/Library/LaunchDaemons/" + s.plistLabel() + ".plist" }

// Install registers spec as an OS service and starts it.
func Install(spec Spec) error {
	switch runtime.GOOS {
	case "linux":
		return installSystemd(spec)
	case "darwin":
		return installLaunchd(spec)
	default:
		return fmt.Errorf("service management is not supported on %s", runtime.GOOS)
	}
}

// Uninstall stops and removes the previously installed service.
func Uninstall(spec Spec) error {
	switch runtime.GOOS {
	case "linux":
		return uninstallSystemd(spec)
	case "darwin":
		return uninstallLaunchd(spec)
	default:
		return fmt.Errorf("service management is not supported on %s", runtime.GOOS)
	}
}

func installSystemd(spec Spec) error {
	content := fmt.Sprintf(`[Unit]
Description=CNM relay (%s)
After=network.target

[Service]
Type=simple
ExecStart=%s %s
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`, spec.Role, spec.Executable, strings.Join(spec.Args, " "))

	if err := os.WriteFile(spec.unitPath(), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write unit: %w", err)
	}
	if err := runCommand("systemctl", "daemon-reload"); err != nil {
		return err
	}
	return runCommand("systemctl", "enable", "--now", spec.unitName())
}

func uninstallSystemd(spec Spec) error {
	_ = runCommand("systemctl", "disable", "--now", spec.unitName())
	if err := os.Remove(spec.unitPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove unit: %w", err)
	}
	_ = runCommand("systemctl", "daemon-reload")
	return nil
}

func installLaunchd(spec Spec) error {
	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>%s</string>
  <key>ProgramArguments</key>
  <array>
    <string>%s</string>
    %s
  </array>
  <key>RunAtLoad</key><true/>
  <key>KeepAlive</key><true/>
  <key>StandardOutPath</key><string>/var/log/cnm-relay-%s.log</string>
  <key>StandardErrorPath</key><string>/var/log/cnm-relay-%s.log</string>
</dict>
</plist>
`, spec.plistLabel(), spec.Executable, launchdArgs(spec.Args), spec.Role, spec.Role)

	if err := os.WriteFile(spec.plistPath(), []byte(plist), 0o644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}
	_ = runCommand("launchctl", "bootout", "system/"+spec.plistLabel())
	if err := runCommand("launchctl", "bootstrap", "system", spec.plistPath()); err != nil {
		return err
	}
	_ = runCommand("launchctl", "enable", "system/"+spec.plistLabel())
	return runCommand("launchctl", "kickstart", "-k", "system/"+spec.plistLabel())
}

func uninstallLaunchd(spec Spec) error {
	_ = runCommand("launchctl", "bootout", "system/"+spec.plistLabel())
	if err := os.Remove(spec.plistPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

func launchdArgs(args []string) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range args {
		b.WriteString("    <string>")
		b.WriteString(a)
		b.WriteString("</string>\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}
