// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config represents the application configuration
type Config struct {
	Host          string         `toml:"host" mapstructure:"host"`
	Port          int            `toml:"port" mapstructure:"port"`
	BaseURL       string         `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string         `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string         `toml:"logPath" mapstructure:"logPath"`
	DataDir       string         `toml:"dataDir" mapstructure:"dataDir"`
	WebhookSecret string         `toml:"webhookSecret" mapstructure:"webhookSecret"`
	HTTPTimeouts  HTTPTimeouts   `toml:"httpTimeouts" mapstructure:"httpTimeouts"`
	Sweeper       SweeperConfig  `toml:"sweeper" mapstructure:"sweeper"`
	SMTP          SMTPConfig     `toml:"smtp" mapstructure:"smtp"`
	Pipeline      PipelineConfig `toml:"pipeline" mapstructure:"pipeline"`
}

// HTTPTimeouts represents HTTP server timeout configuration
type HTTPTimeouts struct {
	ReadTimeout  int `toml:"readTimeout" mapstructure:"readTimeout"`   // seconds
	WriteTimeout int `toml:"writeTimeout" mapstructure:"writeTimeout"` // seconds
	IdleTimeout  int `toml:"idleTimeout" mapstructure:"idleTimeout"`   // seconds
}

// SweeperConfig controls the device lifecycle sweeper thresholds and cadence.
// Durations are Go duration strings ("168h", "30m").
type SweeperConfig struct {
	OfflineThreshold string `toml:"offlineThreshold" mapstructure:"offlineThreshold"`
	RemovalThreshold string `toml:"removalThreshold" mapstructure:"removalThreshold"`
	SweepInterval    string `toml:"sweepInterval" mapstructure:"sweepInterval"`
	DailySweepHour   int    `toml:"dailySweepHour" mapstructure:"dailySweepHour"`
	OperatorEmail    string `toml:"operatorEmail" mapstructure:"operatorEmail"`
}

// SMTPConfig configures the transactional mail gateway. Leaving Host empty
// disables outbound mail entirely.
type SMTPConfig struct {
	Host     string `toml:"host" mapstructure:"host"`
	Port     int    `toml:"port" mapstructure:"port"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
	From     string `toml:"from" mapstructure:"from"`
}

// PipelineConfig configures the external build pipeline used to produce
// per-license agent installers.
type PipelineConfig struct {
	URL               string   `toml:"url" mapstructure:"url"`
	Token             string   `toml:"token" mapstructure:"token"`
	RequiredArtifacts []string `toml:"requiredArtifacts" mapstructure:"requiredArtifacts"`
}
