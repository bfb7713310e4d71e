// Package config loads the orchestrator's TOML configuration file
// (spec §6), using github.com/BurntSushi/toml the way the rest of the
// pack's CLI tools load settings files, with cobra/pflag flags
// layered on top by cmd/qubes-vm-update to override any file value.
package config

import (
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the orchestrator's on-disk configuration (spec §6):
// defaults for concurrency, staleness, and the post-update policy,
// overridable per invocation by CLI flags.
type Config struct {
	Concurrency int    `toml:"concurrency"`
	LogLevel    string `toml:"log_level"`
	LogDir      string `toml:"log_dir"`

	// UpdateIfStaleDays is the default staleness window in days used
	// by the selector's FilterUpdateIfStale when a qube has no
	// per-qube (or template-inherited) qubes-vm-update-update-if-stale
	// feature. dom0's own features are not consulted for this value.
	UpdateIfStaleDays int `toml:"update_if_stale_days"`

	// Policy names one of apply.Policy's three values: "no-apply",
	// "apply-to-sys", "apply-to-all" (spec §6).
	Policy string `toml:"policy"`

	// Plugins is read from the file but not passed on: the agent
	// always runs every registered hook (plugin.DefaultNames). Names
	// (spec's supplemented plugin system, see package plugin).
	Plugins []string `toml:"plugins"`
}

// Default returns the built-in defaults used when no config file is
// present: one worker per CPU, info logging, per-qube logs under
// /var/log/qubes/qubes-vm-update, a 7-day staleness window and no
// post-update action.
func Default() Config {
	return Config{
		Concurrency:       runtime.NumCPU(),
		LogLevel:          "info",
		LogDir:            "/var/log/qubes/qubes-vm-update",
		UpdateIfStaleDays: 7,
		Policy:            "no-apply",
	}
}

// Load reads and merges a TOML config file over Default(). A missing
// file is not an error; it simply yields the defaults, matching the
// teacher's "config files are optional" convention.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
