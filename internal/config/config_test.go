package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  http_port: 5001\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPPort != 5001 {
		t.Errorf("http_port = %d", cfg.Server.HTTPPort)
	}
	if cfg.XKOP.ReceiveTimeout != time.Second || cfg.XKOP.ReconnectBackoff != 5*time.Second {
		t.Errorf("xkop timeouts = %+v", cfg.XKOP)
	}
	if cfg.UTMC.Lenient() {
		t.Error("output preIndex should default to strict")
	}
	if cfg.TestMode.Expiry != time.Hour {
		t.Errorf("test mode expiry = %s", cfg.TestMode.Expiry)
	}
	if cfg.Logging.BufferLines != 5000 || cfg.Logging.BufferTrim != 2000 {
		t.Errorf("log buffer = %d/%d", cfg.Logging.BufferLines, cfg.Logging.BufferTrim)
	}
	if cfg.HVI.Timeout != 6*time.Second || len(cfg.HVI.Fallbacks) != 2 {
		t.Errorf("hvi = %+v", cfg.HVI)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("XKOP_UTMC_OUTPUT_PREINDEX", "lenient")
	t.Setenv("XKOP_XKOP_CONTROLLER_IP", "10.0.0.9")

	cfg, err := Load(writeConfig(t, "xkop:\n  instance: 3\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.UTMC.Lenient() {
		t.Error("environment did not switch preIndex mode")
	}
	if cfg.XKOP.ControllerIP != "10.0.0.9" {
		t.Errorf("controller_ip = %q", cfg.XKOP.ControllerIP)
	}
	if g := cfg.InitialGateway(); g.XKOP != 3 || g.ControllerIP != "10.0.0.9" {
		t.Errorf("initial gateway = %+v", g)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"preindex":          "utmc:\n  output_preindex: sloppy\n",
		"port range":        "xkop:\n  min_port: 9000\n  max_port: 8000\n",
		"auth":              "auth:\n  enabled: true\n",
		"receive timeout":   "xkop:\n  receive_timeout: 0s\n",
		"read timeout":      "xkop:\n  read_timeout: 0s\n",
		"connect timeout":   "xkop:\n  connect_timeout: -1s\n",
		"reconnect backoff": "xkop:\n  reconnect_backoff: 0s\n",
		"rebind delay":      "xkop:\n  rebind_delay: 0s\n",
		"poll interval":     "xkop:\n  poll_interval: -5s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPortFallsBackToFirst(t *testing.T) {
	x := Default().XKOP
	tests := map[int]int{0: 8001, 1: 8001, 7: 8007, 20: 8020, 21: 8001, 99: 8001}
	for instance, want := range tests {
		if got := x.Port(instance); got != want {
			t.Errorf("Port(%d) = %d, want %d", instance, got, want)
		}
	}
}

func TestGatewayNormalize(t *testing.T) {
	g := Gateway{ControllerIP: " 192.168.1.20 "}.Normalize()
	if g.ControllerIP != "192.168.1.20" || g.InstationIP != "127.0.0.1" || g.XKOP != 1 || g.SNMPPort != 161 {
		t.Fatalf("Normalize() = %+v", g)
	}
	if g.Rows == nil {
		t.Fatal("rows should be an empty slice")
	}
}
