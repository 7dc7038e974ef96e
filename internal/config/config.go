package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/state"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	XKOP     XKOPConfig     `mapstructure:"xkop"`
	UTMC     UTMCConfig     `mapstructure:"utmc"`
	Rows     RowsConfig     `mapstructure:"rows"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	TestMode TestModeConfig `mapstructure:"test_mode"`
	HVI      HVIConfig      `mapstructure:"hvi"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// XKOPConfig covers both controller transports.
type XKOPConfig struct {
	ControllerIP     string        `mapstructure:"controller_ip"`
	Instance         int           `mapstructure:"instance"`
	ListenHost       string        `mapstructure:"listen_host"`
	BasePort         int           `mapstructure:"base_port"`
	MinPort          int           `mapstructure:"min_port"`
	MaxPort          int           `mapstructure:"max_port"`
	DatagramEnabled  bool          `mapstructure:"datagram_enabled"`
	StreamEnabled    bool          `mapstructure:"stream_enabled"`
	ReceiveTimeout   time.Duration `mapstructure:"receive_timeout"`
	RebindDelay      time.Duration `mapstructure:"rebind_delay"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	// PollInterval > 0 sends read requests for all output indexes.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Port returns BasePort+instance, or MinPort when that falls outside
// [MinPort, MaxPort].
func (x XKOPConfig) Port(instance int) int {
	p := x.BasePort + instance
	if p < x.MinPort || p > x.MaxPort {
		return x.MinPort
	}
	return p
}

const (
	PreIndexStrict  = "strict"
	PreIndexLenient = "lenient"
)

type UTMCConfig struct {
	// OutputPreIndex is "strict" (GET accepts preIndex 0) or "lenient" (0 or 1).
	OutputPreIndex string `mapstructure:"output_preindex"`
	InstationIP    string `mapstructure:"instation_ip"`
	SNMPPort       int    `mapstructure:"snmp_port"`
}

func (u UTMCConfig) Lenient() bool {
	return strings.EqualFold(u.OutputPreIndex, PreIndexLenient)
}

type RowsConfig struct {
	File string `mapstructure:"file"`
}

type LoggingConfig struct {
	Level       string        `mapstructure:"level"`
	Format      string        `mapstructure:"format"`
	BufferLines int           `mapstructure:"buffer_lines"`
	BufferTrim  int           `mapstructure:"buffer_trim"`
	File        LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled        bool                 `mapstructure:"enabled"`
	JWTSecretEnv   string               `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration        `mapstructure:"access_token_ttl"`
	Users          []UserConfig         `mapstructure:"users"`
	MachineTokens  []MachineTokenConfig `mapstructure:"machine_tokens"`
}

// UserConfig holds an argon2id encoded password hash (see xkopctl hash-password).
type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// MachineTokenConfig holds the sha256 hex digest of a machine token.
type MachineTokenConfig struct {
	Name        string   `mapstructure:"name"`
	TokenHash   string   `mapstructure:"token_hash"`
	Permissions []string `mapstructure:"permissions"`
}

type TestModeConfig struct {
	Expiry time.Duration `mapstructure:"expiry"`
}

type HVIConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Fallbacks []int         `mapstructure:"fallbacks"`
}

// Gateway is the runtime configuration posted by operators.
type Gateway struct {
	ControllerIP string            `json:"ip"`
	InstationIP  string            `json:"instation_ip"`
	XKOP         int               `json:"xkop"`
	SNMPPort     int               `json:"snmp_port"`
	Rows         []state.RowConfig `json:"rows"`
}

// Normalize applies the defaults an empty request field implies.
func (g Gateway) Normalize() Gateway {
	g.ControllerIP = strings.TrimSpace(g.ControllerIP)
	g.InstationIP = strings.TrimSpace(g.InstationIP)
	if g.InstationIP == "" {
		g.InstationIP = "127.0.0.1"
	}
	if g.XKOP <= 0 {
		g.XKOP = 1
	}
	if g.SNMPPort <= 0 {
		g.SNMPPort = 161
	}
	if g.Rows == nil {
		g.Rows = []state.RowConfig{}
	}
	return g
}

// Load reads path (YAML) and applies defaults and XKOP_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	// XKOP_SERVER_HTTP_PORT overrides server.http_port
	v.SetEnvPrefix("XKOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	// defaults only contain plain values; decoding cannot fail
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 5000)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("xkop.controller_ip", "")
	v.SetDefault("xkop.instance", 1)
	v.SetDefault("xkop.listen_host", "0.0.0.0")
	v.SetDefault("xkop.base_port", 8000)
	v.SetDefault("xkop.min_port", 8001)
	v.SetDefault("xkop.max_port", 8020)
	v.SetDefault("xkop.datagram_enabled", true)
	v.SetDefault("xkop.stream_enabled", true)
	v.SetDefault("xkop.receive_timeout", "1s")
	v.SetDefault("xkop.rebind_delay", "1s")
	v.SetDefault("xkop.connect_timeout", "5s")
	v.SetDefault("xkop.read_timeout", "1s")
	v.SetDefault("xkop.reconnect_backoff", "5s")
	v.SetDefault("xkop.poll_interval", "0s")

	v.SetDefault("utmc.output_preindex", PreIndexStrict)
	v.SetDefault("utmc.instation_ip", "127.0.0.1")
	v.SetDefault("utmc.snmp_port", 161)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.buffer_lines", 5000)
	v.SetDefault("logging.buffer_trim", 2000)
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "logs/xkop-gateway.log")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.max_backups", 5)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "xkop")
	v.SetDefault("database.user", "xkop")
	v.SetDefault("database.max_connections", 4)

	// Auth Defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("test_mode.expiry", "1h")

	v.SetDefault("hvi.timeout", "6s")
	v.SetDefault("hvi.fallbacks", []int{1, 5})
}

// Validate checks ranges viper cannot express.
func (c *Config) Validate() error {
	if c.XKOP.MinPort <= 0 || c.XKOP.MaxPort < c.XKOP.MinPort || c.XKOP.MaxPort > 65535 {
		return fmt.Errorf("invalid xkop port range %d-%d", c.XKOP.MinPort, c.XKOP.MaxPort)
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"receive_timeout", c.XKOP.ReceiveTimeout},
		{"rebind_delay", c.XKOP.RebindDelay},
		{"connect_timeout", c.XKOP.ConnectTimeout},
		{"read_timeout", c.XKOP.ReadTimeout},
		{"reconnect_backoff", c.XKOP.ReconnectBackoff},
	} {
		if d.value <= 0 {
			return fmt.Errorf("xkop.%s must be positive, got %s", d.key, d.value)
		}
	}
	if c.XKOP.PollInterval < 0 {
		return fmt.Errorf("xkop.poll_interval must not be negative, got %s", c.XKOP.PollInterval)
	}
	switch strings.ToLower(c.UTMC.OutputPreIndex) {
	case PreIndexStrict, PreIndexLenient:
	default:
		return fmt.Errorf("invalid utmc.output_preindex %q (want %s or %s)",
			c.UTMC.OutputPreIndex, PreIndexStrict, PreIndexLenient)
	}
	if c.Logging.BufferTrim <= 0 || c.Logging.BufferTrim > c.Logging.BufferLines {
		return fmt.Errorf("logging.buffer_trim must be in 1..%d", c.Logging.BufferLines)
	}
	if c.Auth.Enabled && len(c.Auth.Users) == 0 && len(c.Auth.MachineTokens) == 0 {
		return fmt.Errorf("auth enabled but no users or machine tokens configured")
	}
	return nil
}

// InitialGateway builds the runtime configuration the gateway starts with.
func (c *Config) InitialGateway() Gateway {
	return Gateway{
		ControllerIP: c.XKOP.ControllerIP,
		InstationIP:  c.UTMC.InstationIP,
		XKOP:         c.XKOP.Instance,
		SNMPPort:     c.UTMC.SNMPPort,
	}.Normalize()
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
