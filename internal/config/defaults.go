package config

import "path/filepath"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Browser: BrowserConfig{
			ProfileDir: filepath.Join(DefaultConfigDir(), "chrome-profiles", "default"),
			Headless:   true,
		},
		Channel: ChannelConfig{
			Mode: "cdp",
			WebSocket: WebSocketConfig{
				Port: 8081,
				Path: "/channel",
			},
		},
		Trigger: TriggerConfig{
			Enabled: true,
			Port:    8082,
			Path:    "/trigger",
		},
		Profiles: ProfilesConfig{
			Dir: filepath.Join(DefaultConfigDir(), "profiles"),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}
