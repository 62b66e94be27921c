package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// DefaultMeasurement is used when the configuration leaves the
// measurement name empty.
const DefaultMeasurement = "response_log"

// Config holds the connection settings for the InfluxDB sink and the
// recorder's logging options. It is built once at setup time and
// read-only afterwards.
type Config struct {
	Host      string `mapstructure:"influxdb_host"`
	Port      int    `mapstructure:"influxdb_port"`
	User      string `mapstructure:"influxdb_user"`
	Password  string `mapstructure:"influxdb_password"`
	Database  string `mapstructure:"influxdb_database"`
	SSL       bool   `mapstructure:"influxdb_ssl"`
	VerifySSL bool   `mapstructure:"influxdb_verify_ssl"`

	// Retries is handed to the sink unchanged; 0 means retry until the
	// write succeeds.
	Retries    int    `mapstructure:"influxdb_retries"`
	TimeoutSec int    `mapstructure:"influxdb_timeout"`
	UseUDP     bool   `mapstructure:"influxdb_use_udp"`
	UDPPort    int    `mapstructure:"influxdb_udp_port"`
	Proxy      string `mapstructure:"influxdb_proxy"`
	PoolSize   int    `mapstructure:"influxdb_pool_size"`

	Measurement string `mapstructure:"influxdb_measurement"`
	Namespace   string `mapstructure:"influxdb_namespace"`

	// StatusCodeOnly is the allow-list of status codes to persist.
	// Empty means every completed cycle is persisted.
	StatusCodeOnly []int `mapstructure:"status_code_only"`
}

// Load reads configuration from an optional response_log.yaml in path
// and from RESPONSE_LOG_* environment variables. A missing config file
// is fine; defaults cover every key.
func Load(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("influxdb_host", "localhost")
	v.SetDefault("influxdb_port", 8086)
	v.SetDefault("influxdb_user", "root")
	v.SetDefault("influxdb_password", "root")
	v.SetDefault("influxdb_database", "")
	v.SetDefault("influxdb_ssl", false)
	v.SetDefault("influxdb_verify_ssl", false)
	v.SetDefault("influxdb_retries", 3)
	v.SetDefault("influxdb_timeout", 0)
	v.SetDefault("influxdb_use_udp", false)
	v.SetDefault("influxdb_udp_port", 4444)
	v.SetDefault("influxdb_proxy", "")
	v.SetDefault("influxdb_pool_size", 10)
	v.SetDefault("influxdb_measurement", DefaultMeasurement)
	v.SetDefault("influxdb_namespace", "")
	v.SetDefault("status_code_only", []int{})

	v.AddConfigPath(path)
	v.SetConfigName("response_log")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("RESPONSE_LOG")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

// Validate reports the first invalid connection parameter. Validation
// failures are fatal at setup time, before any hook is registered.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: influxdb host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid influxdb port %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("config: influxdb database is required")
	}
	if c.Retries < 0 {
		return fmt.Errorf("config: retries must not be negative, got %d", c.Retries)
	}
	if c.UseUDP && (c.UDPPort <= 0 || c.UDPPort > 65535) {
		return fmt.Errorf("config: invalid influxdb udp port %d", c.UDPPort)
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("config: invalid proxy url %q", c.Proxy)
		}
	}
	return nil
}
