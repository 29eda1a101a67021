// Package config loads the monitoring client configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mrd0ll4r/ipfs-tools/internal/archive"
	"github.com/mrd0ll4r/ipfs-tools/internal/broker"
	"github.com/mrd0ll4r/ipfs-tools/internal/monitoring"
)

// EnvPrefix prefixes environment variables that override file settings,
// e.g. BITSWAP_MONITOR_PROMETHEUS_ADDRESS.
const EnvPrefix = "BITSWAP_MONITOR"

// Config is the root configuration struct
type Config struct {
	AMQPServers          []AMQPServer   `mapstructure:"amqp_servers"`
	GeoIPDatabasePath    string         `mapstructure:"geoip_database_path"`
	GatewayFilePath      string         `mapstructure:"gateway_file_path"`
	GatewayFileWatch     bool           `mapstructure:"gateway_file_watch"`
	DiskLoggingDirectory string         `mapstructure:"disk_logging_directory"`
	PrometheusAddress    string         `mapstructure:"prometheus_address"`
	ReconnectBackoff     time.Duration  `mapstructure:"reconnect_backoff"`
	LogLevel             string         `mapstructure:"log_level"`
	LogFormat            string         `mapstructure:"log_format"`
	StatusInterval       time.Duration  `mapstructure:"status_report_interval"`
	StatusExportPath     string         `mapstructure:"status_export_path"`
	Archive              archive.Config `mapstructure:"archive"`
}

// AMQPServer is one broker and the monitors to subscribe to on it.
type AMQPServer struct {
	Address      string   `mapstructure:"amqp_server_address"`
	MonitorNames []string `mapstructure:"monitor_names"`
}

// Load reads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("prometheus_address", "localhost:8088")
	v.SetDefault("reconnect_backoff", time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("status_report_interval", time.Minute)
	v.SetDefault("status_export_path", "")
	v.SetDefault("gateway_file_path", "")
	v.SetDefault("gateway_file_watch", false)
	v.SetDefault("disk_logging_directory", "")
	v.SetDefault("geoip_database_path", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.use_ssl", false)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bitswap-monitor")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem that would keep the client from starting.
func (c *Config) Validate() error {
	var errs []error

	if len(c.AMQPServers) == 0 {
		errs = append(errs, errors.New("no amqp_servers configured"))
	}
	type pair struct{ addr, monitor string }
	seen := make(map[pair]struct{})
	for i, s := range c.AMQPServers {
		if s.Address == "" {
			errs = append(errs, fmt.Errorf("amqp_servers[%d]: missing amqp_server_address", i))
		} else if u, err := url.Parse(s.Address); err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") || u.Host == "" {
			errs = append(errs, fmt.Errorf("amqp_servers[%d]: invalid amqp_server_address %q", i, s.Address))
		}
		if len(s.MonitorNames) == 0 {
			errs = append(errs, fmt.Errorf("amqp_servers[%d]: no monitor_names", i))
		}
		for _, m := range s.MonitorNames {
			if err := monitoring.ValidateMonitorName(m); err != nil {
				errs = append(errs, fmt.Errorf("amqp_servers[%d]: %w", i, err))
				continue
			}
			p := pair{s.Address, m}
			if _, dup := seen[p]; dup {
				errs = append(errs, fmt.Errorf("amqp_servers[%d]: duplicate monitor %q", i, m))
			}
			seen[p] = struct{}{}
		}
	}

	if c.GeoIPDatabasePath == "" {
		errs = append(errs, errors.New("geoip_database_path is required"))
	}
	if c.GatewayFileWatch && c.GatewayFilePath == "" {
		errs = append(errs, errors.New("gateway_file_watch requires gateway_file_path"))
	}
	if _, _, err := net.SplitHostPort(c.PrometheusAddress); err != nil {
		errs = append(errs, fmt.Errorf("invalid prometheus_address %q: %w", c.PrometheusAddress, err))
	}
	if c.ReconnectBackoff <= 0 {
		errs = append(errs, fmt.Errorf("reconnect_backoff must be positive, got %s", c.ReconnectBackoff))
	}
	if c.StatusInterval < 0 {
		errs = append(errs, fmt.Errorf("status_report_interval must not be negative, got %s", c.StatusInterval))
	}
	if c.StatusExportPath != "" && c.StatusInterval == 0 {
		errs = append(errs, errors.New("status_export_path requires a status_report_interval"))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log_format %q", c.LogFormat))
	}
	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Sources returns every (broker, monitor) pair in configuration order.
func (c *Config) Sources() []Source {
	var out []Source
	for _, s := range c.AMQPServers {
		for _, m := range s.MonitorNames {
			out = append(out, Source{BrokerAddress: s.Address, Monitor: m})
		}
	}
	return out
}

// Source is one configured (broker, monitor) pair.
type Source struct {
	BrokerAddress string
	Monitor       string
}

// Log writes the effective configuration, without secrets.
func (c *Config) Log(logger *zap.Logger) {
	logger = logger.Named("config")
	for _, s := range c.Sources() {
		logger.Info("source", zap.String("amqp_server", broker.Redact(s.BrokerAddress)), zap.String("monitor", s.Monitor))
	}
	logger.Info("GeoIP database", zap.String("path", c.GeoIPDatabasePath))
	if c.GatewayFilePath != "" {
		logger.Info("gateway file", zap.String("path", c.GatewayFilePath), zap.Bool("watch", c.GatewayFileWatch))
	} else {
		logger.Info("no gateway file provided, all traffic will be counted as non-gateway")
	}
	if c.DiskLoggingDirectory != "" {
		logger.Info("logging events to disk", zap.String("directory", c.DiskLoggingDirectory))
	} else {
		logger.Info("disk logging disabled")
	}
	if c.Archive.Enabled() {
		logger.Info("archiving disk logs", zap.String("endpoint", c.Archive.Endpoint), zap.String("bucket", c.Archive.Bucket))
	}
	logger.Info("metrics endpoint", zap.String("address", c.PrometheusAddress))
	logger.Info("reconnect backoff", zap.Duration("backoff", c.ReconnectBackoff))
	if c.StatusInterval > 0 {
		logger.Info("status reports", zap.Duration("interval", c.StatusInterval), zap.String("export_path", c.StatusExportPath))
	}
}
