// Package config loads the YAML configuration used by the arcl command.
//
// A config file describes one ARCL session and the trackers the command
// should run on it:
//
//	connection: 192.168.100.10:7171:${ARCL_PASSWORD}
//	timeouts:
//	  dial: 3s
//	  read: 45s
//	extio:
//	  settle_delay: 10s
//	  sets:
//	    Cell1: {inputs: 16, outputs: 8}
//	status:
//	  rate: 500ms
//	  devices: [Laser_1]
//	bridge:
//	  nats_url: nats://127.0.0.1:4222
//	  subject_prefix: arcl
//	metrics:
//	  addr: ":9464"
//	log:
//	  level: info
//	  format: text
//
// ${VAR} references in the connection string and the NATS URL are expanded
// from the environment so passwords stay out of the file.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
)

// EnvConfig names the environment variable Load reads the config path from.
const EnvConfig = "ARCL_CONFIG"

// Config is the top-level configuration.
type Config struct {
	// Connection is the <ip>:<port>:<password> of the ARCL server.
	Connection string `yaml:"connection"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Retry    RetryConfig    `yaml:"retry"`
	ExtIO    ExtIOConfig    `yaml:"extio"`
	Status   StatusConfig   `yaml:"status"`
	Config   SectionsConfig `yaml:"config"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// TimeoutsConfig maps onto the arcl.With*Timeout options.
type TimeoutsConfig struct {
	Dial   time.Duration `yaml:"dial"`
	Socket time.Duration `yaml:"socket"`
	Read   time.Duration `yaml:"read"`
}

// RetryConfig controls how long the command keeps redialing a server that
// is not reachable yet.
type RetryConfig struct {
	// Timeout is the total time spent retrying. Zero dials once.
	Timeout time.Duration `yaml:"timeout"`

	// Interval is the pause between attempts.
	Interval time.Duration `yaml:"interval"`
}

// ExtIOConfig is the desired external IO layout.
type ExtIOConfig struct {
	SettleDelay time.Duration             `yaml:"settle_delay"`
	Sets        map[string]arcl.ExtIOSpec `yaml:"sets"`
}

// StatusConfig configures the status poller. A zero Rate disables it.
type StatusConfig struct {
	Rate    time.Duration `yaml:"rate"`
	Devices []string      `yaml:"devices"`
}

// SectionsConfig lists config sections fetched when watching.
type SectionsConfig struct {
	Sections []string `yaml:"sections"`
}

// BridgeConfig configures the NATS bridge.
type BridgeConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`

	// Categories limits the bridge to these category names. Empty means
	// every classified line, including uncategorized ones.
	Categories []string `yaml:"categories"`

	// MaxReconnects is passed to nats.MaxReconnects. -1 retries forever.
	MaxReconnects int `yaml:"max_reconnects"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Timeouts: TimeoutsConfig{
			Dial:   arcl.DialTimeout,
			Socket: arcl.SocketTimeout,
			Read:   arcl.ReadTimeout,
		},
		Retry: RetryConfig{
			Interval: 500 * time.Millisecond,
		},
		ExtIO: ExtIOConfig{
			SettleDelay: arcl.ExtIOSettleDelay,
		},
		Bridge: BridgeConfig{
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "arcl",
			MaxReconnects: -1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file named by ARCL_CONFIG. With the variable unset it
// returns Default.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults and expands environment references.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

func (c *Config) expandVariables() {
	c.Connection = os.ExpandEnv(c.Connection)
	c.Bridge.NATSURL = os.ExpandEnv(c.Bridge.NATSURL)
}

// ConnOptions turns the timeout settings into arcl options.
func (c *Config) ConnOptions() []arcl.Option {
	var opts []arcl.Option
	if c.Timeouts.Dial > 0 {
		opts = append(opts, arcl.WithDialTimeout(c.Timeouts.Dial))
	}
	if c.Timeouts.Socket > 0 {
		opts = append(opts, arcl.WithSocketTimeout(c.Timeouts.Socket))
	}
	if c.Timeouts.Read > 0 {
		opts = append(opts, arcl.WithReadTimeout(c.Timeouts.Read))
	}
	return opts
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Connection == "" {
		errs = append(errs, fmt.Errorf("connection is required"))
	} else if !arcl.ValidateConnectionString(c.Connection) {
		errs = append(errs, fmt.Errorf("connection must be <ip>:<port>:<password>"))
	}

	if c.Timeouts.Dial < 0 || c.Timeouts.Socket < 0 || c.Timeouts.Read < 0 {
		errs = append(errs, fmt.Errorf("timeouts must not be negative"))
	}
	if c.Retry.Timeout < 0 {
		errs = append(errs, fmt.Errorf("retry.timeout must not be negative"))
	}
	if c.Retry.Timeout > 0 && c.Retry.Interval <= 0 {
		errs = append(errs, fmt.Errorf("retry.interval must be positive when retry.timeout is set"))
	}

	if c.ExtIO.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("extio.settle_delay must not be negative"))
	}
	for _, name := range slices.Sorted(maps.Keys(c.ExtIO.Sets)) {
		spec := c.ExtIO.Sets[name]
		if spec.Inputs <= 0 && spec.Outputs <= 0 {
			errs = append(errs, fmt.Errorf("extio.sets.%s needs inputs or outputs", name))
		}
		if spec.Inputs < 0 || spec.Outputs < 0 {
			errs = append(errs, fmt.Errorf("extio.sets.%s has a negative width", name))
		}
	}

	if c.Status.Rate < 0 {
		errs = append(errs, fmt.Errorf("status.rate must not be negative"))
	}

	for _, name := range c.Bridge.Categories {
		if _, ok := arcl.ParseCategory(name); !ok {
			errs = append(errs, fmt.Errorf("bridge.categories: unknown category %q", name))
		}
	}

	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", logFormats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
