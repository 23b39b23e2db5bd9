package config

import "github.com/spf13/viper"

// SetDefaults configures every default value spec.md §5/§6 lists.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("session.max_participants", 50)
	v.SetDefault("session.outbound_queue_size", 64)
	v.SetDefault("session.location_ttl_seconds", 30)
	v.SetDefault("session.idle_grace_seconds", 60)
	v.SetDefault("session.absence_timeout_seconds", 60)
	v.SetDefault("session.session_backlog_max", 4096)
	v.SetDefault("session.protocol_error_limit", 5)
	v.SetDefault("session.protocol_error_window_seconds", 10)

	v.SetDefault("server.listen_address", ":8877")
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.shutdown_timeout_seconds", 10)

	v.SetDefault("transport.write_deadline_seconds", 5)
	v.SetDefault("transport.inbound_rate_per_second", 20.0)
	v.SetDefault("transport.inbound_rate_burst", 10)
	v.SetDefault("transport.ping_interval_seconds", 30)
	v.SetDefault("transport.pong_timeout_seconds", 60)

	v.SetDefault("database.path", "scbe.db")

	v.SetDefault("auth.token_expiry", "15m")
	v.SetDefault("auth.refresh_expiry", "720h")

	v.SetDefault("logging.json", false)
}

// BindSensitiveEnvVars wires secrets to explicit environment variable
// names rather than relying on AutomaticEnv's dotted-key replacement
// alone, mirroring am/defaults.go's BindSensitiveEnvVars.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("auth.jwt_secret", "SCBE_AUTH_JWT_SECRET")
	_ = v.BindEnv("database.path", "SCBE_DATABASE_PATH")
}
