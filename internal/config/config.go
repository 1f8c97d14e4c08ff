// Package config loads bridge configuration from the config file and
// command-line flags, flags taking precedence.
package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/tracedeck/tracedeck/internal/device"
	"github.com/tracedeck/tracedeck/internal/xdg"
)

// Config holds the full bridge configuration.
type Config struct {
	// TrackerAddr is the device tracking daemon address.
	TrackerAddr string
	// EmulatorBinary is the emulator tool used to enumerate images.
	EmulatorBinary string
	// PluginManifest is the bundled plugin manifest path.
	PluginManifest string
	// BundleDir holds external plugin bundles, watched for changes.
	BundleDir string
	// DisabledPlugins lists plugin names or glob patterns to disable.
	DisabledPlugins []string
	// GatekeeperFile is the feature-flag snapshot consulted for gated
	// plugins. Empty means every gatekeeper key is inactive.
	GatekeeperFile string
	// HistoryPath is the device connection history database.
	HistoryPath string
	// MetricsAddr serves metrics and health probes. Empty disables it.
	MetricsAddr string
	// LogFormat is "json" or "text".
	LogFormat string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		TrackerAddr:    device.DefaultTrackerAddr,
		EmulatorBinary: "emulator",
		PluginManifest: filepath.Join(xdg.ConfigDir(), "plugins.yaml"),
		BundleDir:      xdg.BundlesDir(),
		HistoryPath:    xdg.HistoryPath(),
		MetricsAddr:    "127.0.0.1:9600",
		LogFormat:      "json",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.TrackerAddr == "" {
		return oops.Code("CONFIG_INVALID").New("tracker address is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log format must be 'json' or 'text', got %q", c.LogFormat)
	}
	return nil
}

// Load builds the configuration: defaults, then the YAML config file at
// path (skipped when absent), then flag overrides.
//
// The disabled-plugin list is best-effort outside input: a value of the
// wrong shape degrades to an empty list, logged and absorbed.
func Load(path string, flags *pflag.FlagSet, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Defaults()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return cfg, oops.Code("CONFIG_UNREADABLE").With("path", path).Wrap(err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, oops.Code("CONFIG_UNREADABLE").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return cfg, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	setString(k, "tracker.addr", &cfg.TrackerAddr)
	setString(k, "tracker.emulator-binary", &cfg.EmulatorBinary)
	setString(k, "plugins.manifest", &cfg.PluginManifest)
	setString(k, "plugins.bundles", &cfg.BundleDir)
	setString(k, "plugins.gatekeeper-file", &cfg.GatekeeperFile)
	setString(k, "history.path", &cfg.HistoryPath)
	setString(k, "metrics.addr", &cfg.MetricsAddr)
	setString(k, "log.format", &cfg.LogFormat)

	if k.Exists("plugins.disabled") {
		disabled := k.Strings("plugins.disabled")
		if len(disabled) == 0 && k.Get("plugins.disabled") != nil {
			logger.Warn("malformed disabled-plugin configuration, treating as empty",
				"key", "plugins.disabled",
			)
		}
		cfg.DisabledPlugins = disabled
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setString overwrites dst when the key is present and non-empty.
func setString(k *koanf.Koanf, key string, dst *string) {
	if v := k.String(key); v != "" {
		*dst = v
	}
}
