package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/healthwatch/healthwatch-go/pkg/bridge"
	"github.com/healthwatch/healthwatch-go/pkg/capability"
	"github.com/healthwatch/healthwatch-go/pkg/datatype"
	"github.com/healthwatch/healthwatch-go/pkg/relay"
	"github.com/healthwatch/healthwatch-go/pkg/transport"
)

// Config holds the bridge daemon configuration.
type Config struct {
	Listen       string        `yaml:"listen"`
	Channel      string        `yaml:"channel"`
	Types        []string      `yaml:"types"`
	Frequency    string        `yaml:"frequency"`
	SetupTimeout time.Duration `yaml:"setup_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Interactive  bool          `yaml:"interactive"`

	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Redis     RedisConfig     `yaml:"redis"`
	MDNS      MDNSConfig      `yaml:"mdns"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// LogConfig configures operational and protocol logging.
type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Protocol string `yaml:"protocol"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// RedisConfig configures the pub/sub fan-out. An empty Addr disables it.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// MDNSConfig configures service advertisement.
type MDNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Instance  string `yaml:"instance"`
	Interface string `yaml:"interface"`
}

// SimulatorConfig sets the initial simulated platform behavior.
type SimulatorConfig struct {
	Available bool `yaml:"available"`

	// Authorization is one of granted, denied or error.
	Authorization string `yaml:"authorization"`

	// Fail maps a data type name to the enable error it reports.
	Fail map[string]string `yaml:"fail"`
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		Listen:       transport.DefaultAddress,
		Channel:      bridge.ChannelName,
		Types:        datatype.Names(datatype.All()),
		Frequency:    capability.FrequencyImmediate.String(),
		WriteTimeout: transport.DefaultWriteTimeout,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Redis: RedisConfig{
			Channel: relay.DefaultRedisChannel,
		},
		MDNS: MDNSConfig{
			Instance: "healthwatch-bridge",
		},
		Simulator: SimulatorConfig{
			Available:     true,
			Authorization: "granted",
		},
	}
}

// flagValues mirrors the command line. Only flags set explicitly override
// the config file.
type flagValues struct {
	configFile   string
	listen       string
	channel      string
	types        string
	frequency    string
	setupTimeout time.Duration
	writeTimeout time.Duration
	interactive  bool
	logLevel     string
	logFormat    string
	protocolLog  string
	metrics      string
	redisAddr    string
	redisChannel string
	mdns         bool
	mdnsInstance string
	mdnsIface    string
	showVersion  bool
}

// ParseConfig parses args, loads the optional config file and validates the
// result. showVersion reports whether -version was given.
func ParseConfig(name string, args []string) (cfg Config, showVersion bool, err error) {
	def := DefaultConfig()
	var fv flagValues

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&fv.configFile, "config", "", "YAML configuration file path")
	fs.StringVar(&fv.listen, "listen", def.Listen, "Bridge listen address")
	fs.StringVar(&fv.channel, "channel", def.Channel, "Method channel name")
	fs.StringVar(&fv.types, "types", strings.Join(def.Types, ","), "Comma-separated data types to observe")
	fs.StringVar(&fv.frequency, "frequency", def.Frequency, "Background delivery frequency: immediate, hourly, daily, weekly")
	fs.DurationVar(&fv.setupTimeout, "setup-timeout", 0, "Bound on waiting for enable outcomes (0 waits forever)")
	fs.DurationVar(&fv.writeTimeout, "write-timeout", def.WriteTimeout, "Drop a shell that does not drain one event within this time")
	fs.BoolVar(&fv.interactive, "interactive", false, "Start the simulator console")
	fs.StringVar(&fv.logLevel, "log-level", def.Log.Level, "Log level: debug, info, warn, error")
	fs.StringVar(&fv.logFormat, "log-format", def.Log.Format, "Log format: text, json")
	fs.StringVar(&fv.protocolLog, "protocol-log", "", "Write protocol trace events to this .hwlog file")
	fs.StringVar(&fv.metrics, "metrics", "", "Prometheus listen address (e.g. :9090)")
	fs.StringVar(&fv.redisAddr, "redis", "", "Redis address for update fan-out")
	fs.StringVar(&fv.redisChannel, "redis-channel", def.Redis.Channel, "Redis pub/sub channel")
	fs.BoolVar(&fv.mdns, "mdns", false, "Advertise the bridge over mDNS")
	fs.StringVar(&fv.mdnsInstance, "mdns-instance", def.MDNS.Instance, "mDNS instance name")
	fs.StringVar(&fv.mdnsIface, "mdns-interface", "", "Network interface for mDNS (default all)")
	fs.BoolVar(&fv.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, false, err
	}
	if fv.showVersion {
		return def, true, nil
	}

	cfg = def
	if fv.configFile != "" {
		if err := loadConfigFile(fv.configFile, &cfg); err != nil {
			return Config{}, false, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = fv.listen
		case "channel":
			cfg.Channel = fv.channel
		case "types":
			cfg.Types = splitList(fv.types)
		case "frequency":
			cfg.Frequency = fv.frequency
		case "setup-timeout":
			cfg.SetupTimeout = fv.setupTimeout
		case "write-timeout":
			cfg.WriteTimeout = fv.writeTimeout
		case "interactive":
			cfg.Interactive = fv.interactive
		case "log-level":
			cfg.Log.Level = fv.logLevel
		case "log-format":
			cfg.Log.Format = fv.logFormat
		case "protocol-log":
			cfg.Log.Protocol = fv.protocolLog
		case "metrics":
			cfg.Metrics.Listen = fv.metrics
		case "redis":
			cfg.Redis.Addr = fv.redisAddr
		case "redis-channel":
			cfg.Redis.Channel = fv.redisChannel
		case "mdns":
			cfg.MDNS.Enabled = fv.mdns
		case "mdns-instance":
			cfg.MDNS.Instance = fv.mdnsInstance
		case "mdns-interface":
			cfg.MDNS.Interface = fv.mdnsIface
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, false, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, false, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks every field that can be wrong at startup.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Channel == "" {
		errs = append(errs, errors.New("channel is required"))
	}
	if _, err := c.DataTypes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := capability.ParseFrequency(c.Frequency); err != nil {
		errs = append(errs, err)
	}
	if c.SetupTimeout < 0 {
		errs = append(errs, fmt.Errorf("setup timeout must not be negative, got %s", c.SetupTimeout))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write timeout must be positive, got %s", c.WriteTimeout))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		errs = append(errs, errors.New("redis channel is required when redis is enabled"))
	}
	if c.MDNS.Enabled && c.MDNS.Instance == "" {
		errs = append(errs, errors.New("mdns instance is required when mdns is enabled"))
	}

	switch c.Simulator.Authorization {
	case "granted", "denied", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown simulator authorization %q", c.Simulator.Authorization))
	}
	for name := range c.Simulator.Fail {
		if _, err := datatype.Parse(name); err != nil {
			errs = append(errs, fmt.Errorf("simulator fail: %w", err))
		}
	}

	return errors.Join(errs...)
}

// DataTypes returns the configured types, deduplicated.
func (c *Config) DataTypes() ([]datatype.ID, error) {
	return datatype.ParseList(c.Types)
}

// DeliveryFrequency returns the parsed frequency.
func (c *Config) DeliveryFrequency() capability.Frequency {
	f, _ := capability.ParseFrequency(c.Frequency)
	return f
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
