package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the worker service.
type Config struct {
	LogLevel      string
	KafkaBrokers  string
	RedisAddr     string
	PostgresDSN   string
	Concurrency   int
	TaskTimeout   time.Duration
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	MetricsAddr   string
	OTelEndpoint  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		KafkaBrokers:  v.GetString("kafka_brokers"),
		RedisAddr:     v.GetString("redis_addr"),
		PostgresDSN:   v.GetString("postgres_dsn"),
		Concurrency:   v.GetInt("concurrency"),
		TaskTimeout:   v.GetDuration("task_timeout"),
		GeminiAPIKey:  v.GetString("gemini_api_key"),
		GeminiModel:   v.GetString("gemini_model"),
		GeminiBaseURL: v.GetString("gemini_base_url"),
		MetricsAddr:   v.GetString("metrics_addr"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
	}
}
