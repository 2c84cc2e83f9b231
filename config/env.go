package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. DLWATCH_SERVER_ADDR
const EnvPrefix = "DLWATCH"

// Default locations, relative to the user's home directory
const (
	DefaultConfigFile = "~/.config/dlwatch/config.yaml"
	DefaultTokenFile  = "~/.config/dlwatch/token"
)

// Config is the complete client configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Push      PushConfig      `mapstructure:"push" yaml:"push"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Mock      MockConfig      `mapstructure:"mock" yaml:"mock"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ServerConfig locates the download service
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	Port           int           `mapstructure:"port" yaml:"port"`
	TLS            bool          `mapstructure:"tls" yaml:"tls"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// AuthConfig holds the bearer token, inline or in a file
type AuthConfig struct {
	Token     string `mapstructure:"token" yaml:"token,omitempty"`
	TokenFile string `mapstructure:"token_file" yaml:"token_file"`
}

// PushConfig tunes the push channel
type PushConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ReconnectAttempts  int           `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
}

// DashboardConfig configures the local dashboard server
type DashboardConfig struct {
	Port        int      `mapstructure:"port" yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// MockConfig configures the in-memory mock backend
type MockConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	Token        string        `mapstructure:"token" yaml:"token,omitempty"`
	Secret       string        `mapstructure:"secret" yaml:"secret,omitempty"`
	FreeSpace    uint64        `mapstructure:"free_space" yaml:"free_space"`
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// File, when set, receives the log instead of stderr. It is rotated
	// daily and the last ten days are kept.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "localhost",
			Port:           3033,
			RequestTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			TokenFile: DefaultTokenFile,
		},
		Push: PushConfig{
			PollInterval:       time.Second,
			ReconnectAttempts:  5,
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  30 * time.Second,
		},
		Dashboard: DashboardConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mock: MockConfig{
			Port:         3033,
			FreeSpace:    100 << 30,
			Workers:      2,
			TickInterval: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from defaults, the config file and the
// environment, in increasing order of precedence. An empty path falls back to
// DefaultConfigFile when that file exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// names kept from the dashboard's original deployment
	v.BindEnv("server.addr", EnvPrefix+"_SERVER_ADDR", "SERVER_ADDR")
	v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "SERVER_PORT")
	v.BindEnv("dashboard.cors_origins", EnvPrefix+"_DASHBOARD_CORS_ORIGINS", "CORS_ORIGINS")

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("config: expand %q: %w", path, err)
	}

	if _, statErr := os.Stat(expanded); statErr == nil {
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", expanded, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config: %w", statErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.tls", d.Server.TLS)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("auth.token", d.Auth.Token)
	v.SetDefault("auth.token_file", d.Auth.TokenFile)
	v.SetDefault("push.poll_interval", d.Push.PollInterval)
	v.SetDefault("push.reconnect_attempts", d.Push.ReconnectAttempts)
	v.SetDefault("push.reconnect_base_delay", d.Push.ReconnectBaseDelay)
	v.SetDefault("push.reconnect_max_delay", d.Push.ReconnectMaxDelay)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
	v.SetDefault("dashboard.cors_origins", d.Dashboard.CORSOrigins)
	v.SetDefault("mock.port", d.Mock.Port)
	v.SetDefault("mock.token", d.Mock.Token)
	v.SetDefault("mock.secret", d.Mock.Secret)
	v.SetDefault("mock.free_space", d.Mock.FreeSpace)
	v.SetDefault("mock.workers", d.Mock.Workers)
	v.SetDefault("mock.tick_interval", d.Mock.TickInterval)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}

// Validate rejects configurations that cannot produce endpoints
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("config: server.addr is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Push.ReconnectAttempts < 0 {
		return errors.New("config: push.reconnect_attempts must not be negative")
	}
	return nil
}

func (c *Config) hostPort() string {
	return net.JoinHostPort(c.Server.Addr, strconv.Itoa(c.Server.Port))
}

// HTTPEndpoint is the server's base URL
func (c *Config) HTTPEndpoint() string {
	scheme := "http"
	if c.Server.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.hostPort())
}

// RPCHTTPEndpoint is the command endpoint
func (c *Config) RPCHTTPEndpoint() string {
	return c.HTTPEndpoint() + "/rpc/http"
}

// RPCWebSocketEndpoint is the push endpoint
func (c *Config) RPCWebSocketEndpoint() string {
	scheme := "ws"
	if c.Server.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/rpc/ws", scheme, c.hostPort())
}

// WriteDefault writes the built-in configuration as YAML to path. It refuses
// to overwrite an existing file.
func WriteDefault(path string) (string, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("config: expand %q: %w", path, err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return expanded, fmt.Errorf("config: %s already exists", expanded)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("config: encode defaults: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(expanded, data, 0644); err != nil {
		return "", err
	}
	return expanded, nil
}
