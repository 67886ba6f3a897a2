package main

import (
	"fmt"
	"net/url"
	"reflect"
	"time"

	"github.com/spf13/viper"

	"github.com/tomyedwab/nwhost/gui"
	"github.com/tomyedwab/nwhost/handoff"
	"github.com/tomyedwab/nwhost/httpserver"
	"github.com/tomyedwab/nwhost/launcher"
)

// Settings is the CLI view of a launch configuration.
type Settings struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	AssetDir          string        `mapstructure:"asset_dir" yaml:"asset_dir"`
	HandoffPath       string        `mapstructure:"handoff_path" yaml:"handoff_path"`
	StaticDir         string        `mapstructure:"static_dir" yaml:"static_dir"`
	RuntimeHome       string        `mapstructure:"runtime_home" yaml:"runtime_home"`
	RuntimeExecutable string        `mapstructure:"runtime_executable" yaml:"runtime_executable"`
	WorkDir           string        `mapstructure:"work_dir" yaml:"work_dir"`
	BindHost          string        `mapstructure:"bind_host" yaml:"bind_host"`
	PortLow           int           `mapstructure:"port_low" yaml:"port_low"`
	PortHigh          int           `mapstructure:"port_high" yaml:"port_high"`
	ReadyTimeout      time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
	RequireToken      bool          `mapstructure:"require_token" yaml:"require_token"`
	AllowCrossOrigin  bool          `mapstructure:"allow_cross_origin" yaml:"allow_cross_origin"`
	Journal           string        `mapstructure:"journal" yaml:"journal"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
}

func defaultSettings() Settings {
	return Settings{
		BaseURL:           launcher.DefaultBaseURL().String(),
		HandoffPath:       handoff.DefaultRelativePath,
		RuntimeExecutable: gui.DefaultExecutable(),
		BindHost:          "127.0.0.1",
		PortLow:           httpserver.EphemeralRange.Low,
		PortHigh:          httpserver.EphemeralRange.High,
		ReadyTimeout:      2 * time.Second,
		ShutdownGrace:     launcher.DefaultShutdownGrace,
		LogLevel:          "info",
	}
}

// setDefaults registers every key so that environment variables are
// picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	defaults := defaultSettings()

	v.SetDefault("base_url", defaults.BaseURL)
	v.SetDefault("asset_dir", defaults.AssetDir)
	v.SetDefault("handoff_path", defaults.HandoffPath)
	v.SetDefault("static_dir", defaults.StaticDir)
	v.SetDefault("runtime_home", defaults.RuntimeHome)
	v.SetDefault("runtime_executable", defaults.RuntimeExecutable)
	v.SetDefault("work_dir", defaults.WorkDir)
	v.SetDefault("bind_host", defaults.BindHost)
	v.SetDefault("port_low", defaults.PortLow)
	v.SetDefault("port_high", defaults.PortHigh)
	v.SetDefault("ready_timeout", defaults.ReadyTimeout)
	v.SetDefault("shutdown_grace", defaults.ShutdownGrace)
	v.SetDefault("require_token", defaults.RequireToken)
	v.SetDefault("allow_cross_origin", defaults.AllowCrossOrigin)
	v.SetDefault("journal", defaults.Journal)
	v.SetDefault("log_level", defaults.LogLevel)

	// The runtime's own variable is honored as well as the prefixed one
	_ = v.BindEnv("runtime_home", "NWHOST_RUNTIME_HOME", launcher.DefaultRuntimeHomeEnv)
}

func loadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}

// launcherConfig maps the settings onto a launch configuration. The
// handler, logger and journal are left for the caller.
func (s Settings) launcherConfig() (launcher.Config, error) {
	cfg := launcher.DefaultConfig()

	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return cfg, fmt.Errorf("invalid base_url %q: %w", s.BaseURL, err)
	}
	portRange := httpserver.PortRange{Low: s.PortLow, High: s.PortHigh}
	if err := portRange.Validate(); err != nil {
		return cfg, err
	}

	cfg.BaseURL = base
	cfg.AssetDir = s.AssetDir
	if s.AssetDir == "" {
		// Look for app/ next to the binary, or web/src/app in a checkout
		cfg.MarkerType = reflect.TypeOf(Settings{})
		cfg.OriginOf = launcher.ExecutableOrigin
	}
	cfg.HandoffPath = s.HandoffPath
	cfg.RuntimeHome = s.RuntimeHome
	cfg.RuntimeExecutable = s.RuntimeExecutable
	cfg.WorkDir = s.WorkDir
	cfg.BindHost = s.BindHost
	cfg.PortRange = portRange
	cfg.ReadyTimeout = s.ReadyTimeout
	cfg.ShutdownGrace = s.ShutdownGrace
	cfg.RequireToken = s.RequireToken
	cfg.AllowCrossOrigin = s.AllowCrossOrigin
	return cfg, nil
}
