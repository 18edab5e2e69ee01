// Package config defines the bridge's configuration record and its loader.
// Parsing command-line flags, daemonization, and PID files belong to the
// enclosing program, not here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// AutoAnswerMode selects who counts rings and issues ATA.
type AutoAnswerMode string

const (
	// AutoAnswerSoftware has the bridge count RING events and issue ATA
	// itself after two rings inside the answer window.
	AutoAnswerSoftware AutoAnswerMode = "software"
	// AutoAnswerHardware leaves answering to the modem engine's S0 counter.
	AutoAnswerHardware AutoAnswerMode = "hardware"
)

// BridgeConfig is the opaque configuration record the supervisor consumes.
type BridgeConfig struct {
	// Serial side.
	Device   string `json:"device"`
	Baud     int    `json:"baud"`
	Parity   string `json:"parity"`   // "N", "O" or "E"
	DataBits int    `json:"dataBits"` // 7 or 8
	StopBits int    `json:"stopBits"` // 1 or 2
	Flow     string `json:"flow"`     // "none", "rtscts", "xonxoff", "both"

	// Network side.
	Host string `json:"host"`
	Port int    `json:"port"`

	// One-shot modem initialization string, semicolon-separated AT commands
	// sent to an attached hardware modem at startup (e.g. "ATZ;ATE0").
	InitString string `json:"initString,omitempty"`

	// AutoAnswer selects software- or hardware-mediated answering.
	AutoAnswer AutoAnswerMode `json:"autoAnswer"`

	// HealthCheckCommand is an optional AT command string run periodically
	// against the modem engine while the bridge is idle. Empty disables it.
	HealthCheckCommand string `json:"healthCheckCommand,omitempty"`
	// HealthCheckSchedule is a cron expression (with seconds field) for the
	// health check. Empty means hourly.
	HealthCheckSchedule string `json:"healthCheckSchedule,omitempty"`

	// Scheduler weights for the two pipeline directions. Zero means the
	// default 5:5 split.
	SerialWeight int `json:"serialWeight,omitempty"`
	TelnetWeight int `json:"telnetWeight,omitempty"`

	// HardwareFronting is true when a real external modem sits on the serial
	// line, so unsolicited RING/CONNECT/NO CARRIER lines are interpreted
	// rather than forwarded.
	HardwareFronting bool `json:"hardwareFronting,omitempty"`

	// TerminalType is reported in TERMINAL-TYPE subnegotiation.
	TerminalType string `json:"terminalType,omitempty"`
}

// DefaultConfig returns a BridgeConfig with every optional field at its
// default value. Device, Host and Port have no sensible defaults and stay
// zero.
func DefaultConfig() BridgeConfig {
	return BridgeConfig{
		Baud:         38400,
		Parity:       "N",
		DataBits:     8,
		StopBits:     1,
		Flow:         "rtscts",
		AutoAnswer:   AutoAnswerSoftware,
		SerialWeight: 5,
		TelnetWeight: 5,
		TerminalType: "ANSI",
	}
}

// Load reads a JSON BridgeConfig from path, layering it over DefaultConfig.
func Load(path string) (BridgeConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.SerialWeight == 0 {
		cfg.SerialWeight = DefaultConfig().SerialWeight
	}
	if cfg.TelnetWeight == 0 {
		cfg.TelnetWeight = DefaultConfig().TelnetWeight
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the fields the bridge cannot start without.
func (c BridgeConfig) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("config: device is required")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("config: baud must be positive, got %d", c.Baud)
	}
	switch c.Parity {
	case "N", "O", "E":
	default:
		return fmt.Errorf("config: parity must be N, O or E, got %q", c.Parity)
	}
	if c.DataBits != 7 && c.DataBits != 8 {
		return fmt.Errorf("config: dataBits must be 7 or 8, got %d", c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("config: stopBits must be 1 or 2, got %d", c.StopBits)
	}
	switch c.Flow {
	case "none", "rtscts", "xonxoff", "both":
	default:
		return fmt.Errorf("config: unknown flow mode %q", c.Flow)
	}
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port out of range: %d", c.Port)
	}
	switch c.AutoAnswer {
	case AutoAnswerSoftware, AutoAnswerHardware:
	default:
		return fmt.Errorf("config: unknown autoAnswer mode %q", c.AutoAnswer)
	}
	return nil
}
