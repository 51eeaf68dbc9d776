package config

import (
	"time"

	"github.com/spf13/viper"
)

// Metrics metrics config struct
type Metrics struct {
	Enabled bool
	// Storage is either memory or redis
	Storage   string
	KeyPrefix string
	Retention time.Duration
	Redis     *Redis
}

// Redis connection settings used by the redis metrics storage
type Redis struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func getMetricsConfig(v *viper.Viper) *Metrics {
	return &Metrics{
		Enabled:   v.GetBool("metrics.enabled"),
		Storage:   v.GetString("metrics.storage"),
		KeyPrefix: v.GetString("metrics.key_prefix"),
		Retention: getDurationOrDefault(v, "metrics.retention", 7*24*time.Hour),
		Redis: &Redis{
			Addr:         v.GetString("metrics.redis.addr"),
			Password:     v.GetString("metrics.redis.password"),
			DB:           v.GetInt("metrics.redis.db"),
			DialTimeout:  getDurationOrDefault(v, "metrics.redis.dial_timeout", 5*time.Second),
			ReadTimeout:  getDurationOrDefault(v, "metrics.redis.read_timeout", 3*time.Second),
			WriteTimeout: getDurationOrDefault(v, "metrics.redis.write_timeout", 3*time.Second),
		},
	}
}
