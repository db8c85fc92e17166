// Package config loads the node's runtime configuration from environment
// variables, following the same DefaultConfig+LoadFromEnv shape used
// throughout this codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the settings the upnpnode CLI needs to construct and run
// a node.Node.
type Config struct {
	// Multicast settings
	MulticastGroup string
	MulticastPort  int
	TTL            int
	MX             int

	// HTTP description server
	HTTPPort    int
	HTTPEnabled bool

	// Device identity (used by the publish subcommand)
	UUID         string
	DeviceName   string
	DeviceVer    int
	LocationSpec string // passed to location.Select: a URL, inline XML, or a file path

	SayByeByeOnClose bool

	// Observability
	LogLevel      string
	MetricsPort   int
	MetricsEnable bool
}

// DefaultConfig returns the protocol defaults plus reasonable CLI
// defaults (HTTP description server on 8008, info-level logging).
func DefaultConfig() *Config {
	return &Config{
		MulticastGroup: "239.255.255.250",
		MulticastPort:  1900,
		TTL:            300,
		MX:             5,

		HTTPPort:    8008,
		HTTPEnabled: true,

		DeviceVer: 1,

		SayByeByeOnClose: true,

		LogLevel:      "info",
		MetricsPort:   9100,
		MetricsEnable: false,
	}
}

// LoadFromEnv overrides defaults from the process environment. Flags
// passed on the command line (see cmd/upnpnode) take precedence over
// these.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("UPNPNODE_MULTICAST_GROUP"); val != "" {
		c.MulticastGroup = val
	}
	if val := os.Getenv("UPNPNODE_MULTICAST_PORT"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MulticastPort = v
		}
	}
	if val := os.Getenv("UPNPNODE_TTL"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.TTL = v
		}
	}
	if val := os.Getenv("UPNPNODE_MX"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MX = v
		}
	}
	if val := os.Getenv("UPNPNODE_HTTP_PORT"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.HTTPPort = v
		}
	}
	if val := os.Getenv("UPNPNODE_UUID"); val != "" {
		c.UUID = val
	}
	if val := os.Getenv("UPNPNODE_DEVICE_NAME"); val != "" {
		c.DeviceName = val
	}
	if val := os.Getenv("UPNPNODE_LOCATION"); val != "" {
		c.LocationSpec = val
	}
	if val := os.Getenv("UPNPNODE_SAY_BYEBYE_ON_CLOSE"); val != "" {
		c.SayByeByeOnClose = val != "0" && val != "false"
	}
	if val := os.Getenv("UPNPNODE_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("UPNPNODE_METRICS_PORT"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MetricsPort = v
		}
	}
	if val := os.Getenv("UPNPNODE_METRICS_ENABLE"); val != "" {
		c.MetricsEnable = val != "0" && val != "false"
	}
}

// Validate reports a configuration error the CLI should refuse to start
// with, rather than let a node fail confusingly partway through Start.
func (c *Config) Validate() error {
	if c.MulticastPort <= 0 {
		return fmt.Errorf("config: multicast port must be positive, got %d", c.MulticastPort)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("config: ttl must be positive, got %d", c.TTL)
	}
	if c.MX <= 0 {
		return fmt.Errorf("config: mx must be positive, got %d", c.MX)
	}
	return nil
}
