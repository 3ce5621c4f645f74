package config

import (
	"bytes"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Config represents the configuration for a pyrite node
type Config struct {
	// Default config file location
	configFile string

	Network struct {
		UDPPort           uint16   `toml:"udp_port"`
		KnownPeers        []string `toml:"known_peers"`
		ReceiveTimeout    Duration `toml:"receive_timeout"`
		KeepAliveInterval Duration `toml:"keep_alive_interval"`
	} `toml:"network"`

	// Compute settings are handed to the task runner as is
	Compute struct {
		MaxTasks        uint8 `toml:"max_tasks"`
		AllowFileIO     bool  `toml:"allow_file_io"`
		AllowNetworking bool  `toml:"allow_networking"`
	} `toml:"compute"`

	DataStore struct {
		TaskStorePath string `toml:"tasks"`
		TaskIndexPath string `toml:"index"`
	} `toml:"datastore"`

	Metrics struct {
		ListenAddress string `toml:"listen"`
	} `toml:"metrics"`
}

// Duration is a time.Duration written as a string ("30s") in TOML
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Network.UDPPort = 7331
	cfg.Network.KnownPeers = []string{}
	cfg.Network.ReceiveTimeout = Duration{30 * time.Second}
	cfg.Network.KeepAliveInterval = Duration{30 * time.Second}

	cfg.Compute.MaxTasks = 4
	cfg.Compute.AllowFileIO = false
	cfg.Compute.AllowNetworking = false

	cfg.DataStore.TaskStorePath = "/tmp/pyrite/tasks"
	cfg.DataStore.TaskIndexPath = "/tmp/pyrite/index"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(c); err != nil {
		return err
	}
	return os.WriteFile(c.configFile, buf.Bytes(), 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	md, err := toml.Decode(string(data), c)
	if err != nil {
		return err
	}
	for _, key := range md.Undecoded() {
		log.Warnf("Unknown config key %s", key.String())
	}

	return c.Validate()
}

func (c *Config) Validate() error {
	if _, err := c.KnownPeers(); err != nil {
		return err
	}
	if c.Network.ReceiveTimeout.Duration <= 0 {
		return fmt.Errorf("network.receive_timeout must be positive, got %s", c.Network.ReceiveTimeout)
	}
	if c.Network.KeepAliveInterval.Duration <= 0 {
		return fmt.Errorf("network.keep_alive_interval must be positive, got %s", c.Network.KeepAliveInterval)
	}
	return nil
}

// KnownPeers parses the bootstrap addresses
func (c *Config) KnownPeers() ([]netip.AddrPort, error) {
	peers := make([]netip.AddrPort, 0, len(c.Network.KnownPeers))
	for _, s := range c.Network.KnownPeers {
		addr, err := netip.ParseAddrPort(s)
		if err != nil {
			return nil, fmt.Errorf("invalid known peer %q: %w", s, err)
		}
		peers = append(peers, addr)
	}
	return peers, nil
}
