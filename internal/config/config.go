package config

import (
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/feedwatch/feedwatch/internal/feed"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// AddressEnv names the environment variable that supplies the feed address
// when neither the config file nor the command line does.
const AddressEnv = "FEEDWATCH_ADDRESS"

type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
}

type ClientConfig struct {
	FeedURL      string          `yaml:"feed_url"`
	Address      string          `yaml:"address"`
	PingInterval time.Duration   `yaml:"ping_interval"`
	QueueSize    int             `yaml:"queue_size"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`
	// HealthURL is the base URL of the origin's REST API; derived from
	// FeedURL when empty.
	HealthURL string `yaml:"health_url"`
	Token     string `yaml:"token"`
}

type ReconnectConfig struct {
	Attempts    int           `yaml:"attempts"`
	Delay       time.Duration `yaml:"delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Resubscribe bool          `yaml:"resubscribe"`
}

type ServerConfig struct {
	Host           string     `yaml:"host"`
	Port           int        `yaml:"port"`
	Feeds          []string   `yaml:"feeds"`
	AllowUnknown   bool       `yaml:"allow_unknown"`
	AllowedOrigins []string   `yaml:"allowed_origins"`
	MaxPostBytes   int        `yaml:"max_post_bytes"`
	SendBuffer     int        `yaml:"send_buffer"`
	MaxConnections int        `yaml:"max_connections"`
	AuthToken      string     `yaml:"auth_token"`
	Mock           MockConfig `yaml:"mock"`
}

type MockConfig struct {
	Interval time.Duration `yaml:"interval"`
}

func defaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			FeedURL: feed.DefaultBaseURL,
			Reconnect: ReconnectConfig{
				Attempts: 1,
				Delay:    time.Second,
				MaxDelay: 30 * time.Second,
			},
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         7777,
			MaxPostBytes: 256,
			SendBuffer:   64,
			Mock: MockConfig{
				Interval: 2 * time.Second,
			},
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "reading config %q", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Annotatef(err, "parsing config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotatef(err, "config %q", path)
	}
	return cfg, nil
}

// Validate rejects values that cannot be run.
func (c *Config) Validate() error {
	r := c.Client.Reconnect
	if r.Attempts < feed.UnlimitedAttempts {
		return errors.NotValidf("reconnect attempts %d", r.Attempts)
	}
	if r.Delay < 0 || r.MaxDelay < 0 {
		return errors.NotValidf("negative reconnect delay")
	}
	if c.Client.PingInterval < 0 {
		return errors.NotValidf("negative ping interval")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.NotValidf("server port %d", c.Server.Port)
	}
	if c.Server.MaxPostBytes < 0 || c.Server.SendBuffer < 0 || c.Server.MaxConnections < 0 {
		return errors.NotValidf("negative server limit")
	}
	return nil
}

// ResolveAddress picks the feed address: flag value first, then the config
// file, then the environment.
func (c *ClientConfig) ResolveAddress(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if c.Address != "" {
		return c.Address
	}
	return os.Getenv(AddressEnv)
}

// FeedOptions converts the client section to subscriber options.
func (c *ClientConfig) FeedOptions() feed.Options {
	opts := feed.Options{
		BaseURL:      c.FeedURL,
		PingInterval: c.PingInterval,
		QueueSize:    c.QueueSize,
	}
	if c.Token != "" {
		opts.Header = http.Header{"Authorization": {"Bearer " + c.Token}}
	}
	return opts
}

// Policy converts the reconnect section to a feed policy.
func (c *ClientConfig) Policy() feed.Policy {
	return feed.Policy{
		Attempts:    c.Reconnect.Attempts,
		Delay:       c.Reconnect.Delay,
		MaxDelay:    c.Reconnect.MaxDelay,
		Resubscribe: c.Reconnect.Resubscribe,
	}
}
