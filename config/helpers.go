package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults registers the defaults every configuration starts from
func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "hostkit")
	v.SetDefault("run_mode", "release")
	v.SetDefault("extension.path", "./extensions")
	v.SetDefault("logger.level", 4)
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.storage", "memory")
	v.SetDefault("metrics.key_prefix", "hostkit")
	v.SetDefault("observes.tracer.endpoint", "localhost:4317")
	v.SetDefault("observes.tracer.sampling_rate", 1.0)
}

// getDurationOrDefault returns duration from config or default value
func getDurationOrDefault(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	if v.IsSet(key) {
		return v.GetDuration(key)
	}
	return defaultValue
}

// getIntOrDefault returns int from config or default value
func getIntOrDefault(v *viper.Viper, key string, defaultValue int) int {
	if v.IsSet(key) {
		return v.GetInt(key)
	}
	return defaultValue
}
