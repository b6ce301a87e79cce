// Package config loads the YAML configuration file the daemon and CLI read
// their runtime settings from, the way the donor project's command entry
// points do with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Avi0n/PocketMesh-sub005/internal/reliability"
	"github.com/Avi0n/PocketMesh-sub005/internal/session"
)

// File is the on-disk configuration file structure.
type File struct {
	Device struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"device"`

	Transport struct {
		Kind string `yaml:"kind"` // "serial" or "zmq"

		// Serial/BLE link: a path the daemon opens as a duplex byte
		// stream (a tty device, or a Unix socket proxying a BLE
		// characteristic pair).
		SerialPath string `yaml:"serial_path"`

		// ZeroMQ link: talks to a software mesh-node simulator instead
		// of real hardware.
		ZMQEventEndpoint   string `yaml:"zmq_event_endpoint"`
		ZMQCommandEndpoint string `yaml:"zmq_command_endpoint"`
		ZMQNodeIDHex       string `yaml:"zmq_node_id_hex"`
	} `yaml:"transport"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Session struct {
		DefaultTimeoutSecs int `yaml:"default_timeout_secs"`
		PairingTimeoutSecs int `yaml:"pairing_timeout_secs"`
		LoginBaseSecs      int `yaml:"login_base_secs"`
		LoginPerHopSecs    int `yaml:"login_per_hop_secs"`
		LoginMaxCapSecs    int `yaml:"login_max_cap_secs"`
	} `yaml:"session"`

	Reliability struct {
		MaxAttempts            int `yaml:"max_attempts"`
		FloodAfter             int `yaml:"flood_after"`
		MaxFloodAttempts       int `yaml:"max_flood_attempts"`
		DirectDedupCapacity    int `yaml:"direct_dedup_capacity"`
		ChannelDedupCapacity   int `yaml:"channel_dedup_capacity"`
		ReactionIndexCapacity  int `yaml:"reaction_index_capacity"`
		PendingReactionTTLSecs int `yaml:"pending_reaction_ttl_secs"`
	} `yaml:"reliability"`

	Bridge struct {
		GRPCAddr string `yaml:"grpc_addr"`
	} `yaml:"bridge"`

	Telemetry struct {
		URL string `yaml:"url"`
	} `yaml:"telemetry"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Runtime is the resolved, typed configuration the daemon builds its
// components from, merged from File on top of each package's own defaults.
type Runtime struct {
	DeviceID   string
	DeviceName string

	TransportKind      string
	SerialPath         string
	ZMQEventEndpoint   string
	ZMQCommandEndpoint string
	ZMQNodeIDHex       string

	DatabasePath string

	Session     session.Config
	Reliability reliability.Config

	BridgeGRPCAddr string
	TelemetryURL   string

	LogLevel string
	LogFile  string
}

// Load reads and parses path, returning a Runtime with File's values merged
// over each component's defaults (zero/empty fields in the file defer to
// the default).
func Load(path string) (Runtime, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Runtime{}, fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Runtime{}, fmt.Errorf("parse config file: %w", err)
	}

	if f.Device.ID == "" {
		return Runtime{}, fmt.Errorf("device.id is required")
	}

	rt := Runtime{
		DeviceID:           f.Device.ID,
		DeviceName:         f.Device.Name,
		TransportKind:      f.Transport.Kind,
		SerialPath:         f.Transport.SerialPath,
		ZMQEventEndpoint:   f.Transport.ZMQEventEndpoint,
		ZMQCommandEndpoint: f.Transport.ZMQCommandEndpoint,
		ZMQNodeIDHex:       f.Transport.ZMQNodeIDHex,
		DatabasePath:       f.Database.Path,
		Session:            session.DefaultConfig(),
		Reliability:        reliability.DefaultConfig(),
		BridgeGRPCAddr:     f.Bridge.GRPCAddr,
		TelemetryURL:       f.Telemetry.URL,
		LogLevel:           f.Logging.Level,
		LogFile:            f.Logging.File,
	}

	rt.Session.AppName = rt.DeviceName
	if rt.Session.AppName == "" {
		rt.Session.AppName = rt.DeviceID
	}

	if rt.TransportKind == "" {
		rt.TransportKind = "serial"
	}

	if rt.DatabasePath == "" {
		rt.DatabasePath = "/var/lib/meshhost/host.db"
	}
	if rt.LogLevel == "" {
		rt.LogLevel = "info"
	}

	if f.Session.DefaultTimeoutSecs > 0 {
		rt.Session.DefaultTimeout = time.Duration(f.Session.DefaultTimeoutSecs) * time.Second
	}
	if f.Session.PairingTimeoutSecs > 0 {
		rt.Session.PairingTimeout = time.Duration(f.Session.PairingTimeoutSecs) * time.Second
	}
	if f.Session.LoginBaseSecs > 0 {
		rt.Session.LoginBase = time.Duration(f.Session.LoginBaseSecs) * time.Second
	}
	if f.Session.LoginPerHopSecs > 0 {
		rt.Session.LoginPerHop = time.Duration(f.Session.LoginPerHopSecs) * time.Second
	}
	if f.Session.LoginMaxCapSecs > 0 {
		rt.Session.LoginMaxCap = time.Duration(f.Session.LoginMaxCapSecs) * time.Second
	}

	if f.Reliability.MaxAttempts > 0 {
		rt.Reliability.Retry.MaxAttempts = f.Reliability.MaxAttempts
	}
	if f.Reliability.FloodAfter > 0 {
		rt.Reliability.Retry.FloodAfter = f.Reliability.FloodAfter
	}
	if f.Reliability.MaxFloodAttempts > 0 {
		rt.Reliability.Retry.MaxFloodAttempts = f.Reliability.MaxFloodAttempts
	}
	if f.Reliability.DirectDedupCapacity > 0 {
		rt.Reliability.Dedup.DirectCapacity = f.Reliability.DirectDedupCapacity
	}
	if f.Reliability.ChannelDedupCapacity > 0 {
		rt.Reliability.Dedup.ChannelCapacity = f.Reliability.ChannelDedupCapacity
	}
	if f.Reliability.ReactionIndexCapacity > 0 {
		rt.Reliability.ReactionIndexCapacity = f.Reliability.ReactionIndexCapacity
	}
	if f.Reliability.PendingReactionTTLSecs > 0 {
		rt.Reliability.PendingReactionTTL = time.Duration(f.Reliability.PendingReactionTTLSecs) * time.Second
	}

	return rt, nil
}
