package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadRequiresDeviceID(t *testing.T) {
	path := writeTestConfig(t, "device:\n  name: bench\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing device.id")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, "device:\n  id: host-1\n")
	rt, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rt.DatabasePath == "" {
		t.Fatal("expected a default database path")
	}
	if rt.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", rt.LogLevel)
	}
	if rt.Session.DefaultTimeout != 5*time.Second {
		t.Fatalf("expected unmodified session default, got %v", rt.Session.DefaultTimeout)
	}
	if rt.Reliability.Retry.MaxAttempts != 4 {
		t.Fatalf("expected unmodified reliability default, got %d", rt.Reliability.Retry.MaxAttempts)
	}
}

func TestLoadOverridesOnlyNonZeroFields(t *testing.T) {
	path := writeTestConfig(t, `
device:
  id: host-1
  name: basecamp
transport:
  kind: serial
  serial_path: /dev/ttyUSB0
session:
  default_timeout_secs: 9
reliability:
  max_attempts: 7
  flood_after: 2
bridge:
  grpc_addr: 127.0.0.1:9090
telemetry:
  url: wss://telemetry.example/ws
`)
	rt, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rt.Session.DefaultTimeout != 9*time.Second {
		t.Fatalf("expected overridden session timeout, got %v", rt.Session.DefaultTimeout)
	}
	if rt.Session.PairingTimeout != 40*time.Second {
		t.Fatalf("expected default pairing timeout preserved, got %v", rt.Session.PairingTimeout)
	}
	if rt.Reliability.Retry.MaxAttempts != 7 || rt.Reliability.Retry.FloodAfter != 2 {
		t.Fatalf("expected overridden retry config, got %+v", rt.Reliability.Retry)
	}
	if rt.Reliability.Retry.MaxFloodAttempts == 0 {
		t.Fatal("expected default max flood attempts preserved")
	}
	if rt.BridgeGRPCAddr != "127.0.0.1:9090" {
		t.Fatalf("unexpected bridge addr: %q", rt.BridgeGRPCAddr)
	}
	if rt.TelemetryURL != "wss://telemetry.example/ws" {
		t.Fatalf("unexpected telemetry url: %q", rt.TelemetryURL)
	}
	if rt.SerialPath != "/dev/ttyUSB0" {
		t.Fatalf("unexpected serial path: %q", rt.SerialPath)
	}
}

func TestLoadDefaultsTransportKindToSerial(t *testing.T) {
	path := writeTestConfig(t, "device:\n  id: host-1\n")
	rt, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rt.TransportKind != "serial" {
		t.Fatalf("expected default transport kind serial, got %q", rt.TransportKind)
	}
}
