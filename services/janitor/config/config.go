package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the janitor service.
type Config struct {
	LogLevel     string
	RedisAddr    string
	PostgresDSN  string
	Schedule     string
	Retention    time.Duration
	StaleAfter   time.Duration
	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		RedisAddr:    v.GetString("redis_addr"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		Schedule:     v.GetString("sweep_schedule"),
		Retention:    v.GetDuration("retention"),
		StaleAfter:   v.GetDuration("stale_after"),
		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),
	}
}
