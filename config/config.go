// Package config loads the process configuration from TOML file plus
// environment variable overlay, the way am/load.go does for the
// teacher's own config surface — just scoped to what SCBE needs:
// session bounds, server/transport settings, the backing store, auth,
// and logging.
package config

// Config is the root of the process configuration.
type Config struct {
	Session   SessionConfig   `mapstructure:"session"`
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SessionConfig carries the Session Coordinator bounds spec.md §5 names.
type SessionConfig struct {
	MaxParticipants            int `mapstructure:"max_participants"`
	OutboundQueueSize          int `mapstructure:"outbound_queue_size"`
	LocationTTLSeconds         int `mapstructure:"location_ttl_seconds"`
	IdleGraceSeconds           int `mapstructure:"idle_grace_seconds"`
	AbsenceTimeoutSeconds      int `mapstructure:"absence_timeout_seconds"`
	SessionBacklogMax          int `mapstructure:"session_backlog_max"`
	ProtocolErrorLimit         int `mapstructure:"protocol_error_limit"`
	ProtocolErrorWindowSeconds int `mapstructure:"protocol_error_window_seconds"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddress   string   `mapstructure:"listen_address"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	ShutdownTimeout int      `mapstructure:"shutdown_timeout_seconds"`
}

// TransportConfig configures the Attachment Endpoint's per-connection behavior.
// PingIntervalSeconds and PongTimeoutSeconds are loaded but not read by
// the transport package, which pings every 54s and waits 60s for a pong.
type TransportConfig struct {
	WriteDeadlineSeconds int     `mapstructure:"write_deadline_seconds"`
	InboundRatePerSecond float64 `mapstructure:"inbound_rate_per_second"`
	InboundRateBurst     int     `mapstructure:"inbound_rate_burst"`
	PingIntervalSeconds  int     `mapstructure:"ping_interval_seconds"`
	PongTimeoutSeconds   int     `mapstructure:"pong_timeout_seconds"`
}

// DatabaseConfig configures the SQLite-backed SessionStore.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig configures attachment credential verification. Field
// names and shape mirror what auth.NewJWTManager consumes directly.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenExpiry   string `mapstructure:"token_expiry"`
	RefreshExpiry string `mapstructure:"refresh_expiry"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	JSON bool `mapstructure:"json"`
}
