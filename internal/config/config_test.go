package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"device":"/dev/ttyS0","host":"bbs.example.org","port":23}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Baud != 38400 {
		t.Errorf("default baud = %d, want 38400", cfg.Baud)
	}
	if cfg.Parity != "N" || cfg.DataBits != 8 || cfg.StopBits != 1 {
		t.Errorf("framing defaults = %s%d%d, want N81", cfg.Parity, cfg.DataBits, cfg.StopBits)
	}
	if cfg.AutoAnswer != AutoAnswerSoftware {
		t.Errorf("autoAnswer = %q, want software", cfg.AutoAnswer)
	}
	if cfg.TerminalType != "ANSI" {
		t.Errorf("terminalType = %q, want ANSI", cfg.TerminalType)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"device": "/dev/ttyUSB0",
		"baud": 115200,
		"parity": "E",
		"dataBits": 7,
		"stopBits": 2,
		"flow": "none",
		"host": "towel.blinkenlights.nl",
		"port": 23,
		"autoAnswer": "hardware",
		"serialWeight": 7,
		"telnetWeight": 3,
		"healthCheckCommand": "AT;ATI"
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Baud != 115200 || cfg.Parity != "E" || cfg.DataBits != 7 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.SerialWeight != 7 || cfg.TelnetWeight != 3 {
		t.Errorf("weights = %d:%d, want 7:3", cfg.SerialWeight, cfg.TelnetWeight)
	}
	if cfg.HealthCheckCommand != "AT;ATI" {
		t.Errorf("healthCheckCommand = %q", cfg.HealthCheckCommand)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BridgeConfig)
	}{
		{"missing device", func(c *BridgeConfig) { c.Device = "" }},
		{"zero baud", func(c *BridgeConfig) { c.Baud = 0 }},
		{"bad parity", func(c *BridgeConfig) { c.Parity = "M" }},
		{"bad data bits", func(c *BridgeConfig) { c.DataBits = 6 }},
		{"bad stop bits", func(c *BridgeConfig) { c.StopBits = 3 }},
		{"bad flow", func(c *BridgeConfig) { c.Flow = "dtr" }},
		{"missing host", func(c *BridgeConfig) { c.Host = "" }},
		{"bad port", func(c *BridgeConfig) { c.Port = 70000 }},
		{"bad auto answer", func(c *BridgeConfig) { c.AutoAnswer = "maybe" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Device = "/dev/ttyS0"
			cfg.Host = "localhost"
			cfg.Port = 23
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate accepted %+v", cfg)
			}
		})
	}
}
