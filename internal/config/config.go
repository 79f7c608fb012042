// Package config loads the relay's YAML configuration, grounded on
// grovetools-core/config/config.go's env-var-expansion-then-unmarshal
// approach, without the workspace/ecosystem merge tiers: three plain
// file tiers are layered over built-in defaults (see Load).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Config enumerates every configuration option from spec.md §6.
type Config struct {
	AuthToken  string `yaml:"auth_token"`
	AgentToken string `yaml:"agent_token"`

	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	TLSKeyPath string `yaml:"tls_key_path"`
	TLSCertPath string `yaml:"tls_cert_path"`

	ProjectsDir string `yaml:"projects_dir"`

	UploadEnabled bool  `yaml:"upload_enabled"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	PTYCols int `yaml:"pty_cols"`
	PTYRows int `yaml:"pty_rows"`

	WebhookSecret string `yaml:"webhook_secret"`

	PathPrefix string `yaml:"path_prefix"`

	HubURL string `yaml:"hub_url"`

	// P2PListenAddr, if set, is the address the agent binds its direct
	// client WebSocket listener to (spec.md §4.4), letting a CR bypass
	// the hub entirely for this machine's sessions.
	P2PListenAddr string `yaml:"p2p_listen_addr"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Defaults returns the built-in baseline, equivalent to the teacher's
// hardcoded flag defaults (":8081", "changeme", 120x30) generalized
// into config fields.
func Defaults() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8443,
		ProjectsDir:    "~/projects",
		UploadEnabled:  true,
		MaxUploadBytes: 10 << 20,
		PTYCols:        120,
		PTYRows:        30,
		LogLevel:       "info",
	}
}

// systemConfigPath is the machine-wide config tier, checked ahead of
// the per-user and per-invocation tiers (spec.md §2.2).
const systemConfigPath = "/etc/cnm/relay.yml"

// Load builds Config by layering three file tiers over Defaults(),
// each one only overriding the fields it actually sets:
// /etc/cnm/relay.yml (if present), ~/.cnm/relay.yml (if present), then
// path (normally the -config flag, falling back to CNM_CONFIG) if
// given; CNM_* environment overrides are applied last. A missing file
// at any tier is not an error, so a role can run on defaults plus env
// vars alone, matching how the teacher's flags all have usable
// defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if err := mergeFile(&cfg, systemConfigPath); err != nil {
		return cfg, err
	}
	if err := mergeFile(&cfg, userConfigPath()); err != nil {
		return cfg, err
	}
	if err := mergeFile(&cfg, explicitConfigPath(path)); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg)
	cfg.ProjectsDir = expandHome(cfg.ProjectsDir)
	if cfg.PTYCols == 0 {
		cfg.PTYCols = 120
	}
	if cfg.PTYRows == 0 {
		cfg.PTYRows = 30
	}
	return cfg, nil
}

// mergeFile unmarshals path's (env-expanded) YAML onto cfg, leaving
// fields the document doesn't mention untouched. A blank path or a
// missing file is a silent no-op.
func mergeFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// explicitConfigPath resolves the fourth, most-specific tier: the
// -config flag value, or CNM_CONFIG if the flag wasn't given.
func explicitConfigPath(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv("CNM_CONFIG")
}

// ResolvePath returns the path Load would treat as the explicit tier:
// path, then CNM_CONFIG, then the ~/.cnm/relay.yml default if that
// file exists, otherwise "". Exported so a caller that needs to watch
// the file Load actually read (e.g. for hot-reload) doesn't have to
// duplicate this lookup.
func ResolvePath(path string) string {
	if explicit := explicitConfigPath(path); explicit != "" {
		return explicit
	}
	candidate := userConfigPath()
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cnm", "relay.yml")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CNM_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("CNM_AGENT_TOKEN"); v != "" {
		cfg.AgentToken = v
	}
	if v := os.Getenv("CNM_HUB_URL"); v != "" {
		cfg.HubURL = v
	}
	if v := os.Getenv("CNM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// HeartbeatInterval is the SL/AG heartbeat cadence (spec.md §3, ≤5s).
const HeartbeatInterval = 5 * time.Second

// StaleAfter is the SR staleness threshold (spec.md §3, 30s).
const StaleAfter = 30 * time.Second
