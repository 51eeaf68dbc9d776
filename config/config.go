package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	config *Config
	path   string
	mu     sync.RWMutex
	v      *viper.Viper
)

// Config represents the configuration implementation.
type Config struct {
	AppName   string
	RunMode   string
	Extension *Extension
	Logger    *Logger
	Metrics   *Metrics
	Scheduler *Scheduler
	Observes  *Observes
	Viper     *viper.Viper
}

// SetPath sets the config file used by GetConfig and Reload.
func SetPath(p string) {
	mu.Lock()
	defer mu.Unlock()
	path = p
}

// GetConfig returns the configuration, loading it on first use.
// It does not handle errors internally; instead, it returns the error for the caller to handle.
func GetConfig() (*Config, error) {
	mu.RLock()
	cfg := config
	mu.RUnlock()
	if cfg != nil {
		return cfg, nil
	}

	if err := Reload(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}

	mu.RLock()
	defer mu.RUnlock()
	return config, nil
}

// LoadConfig loads the configuration from the file.
func LoadConfig(configPath string) (*Config, error) {
	nv := viper.New()
	setDefaults(nv)

	if configPath != "" {
		nv.SetConfigFile(configPath)
	} else {
		ex, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		nv.SetConfigName("config")
		nv.AddConfigPath("/etc/hostkit")
		nv.AddConfigPath("$HOME/.hostkit")
		nv.AddConfigPath(".")
		nv.AddConfigPath(filepath.Dir(ex))
	}

	if err := nv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return fromViper(nv), nil
}

// fromViper builds the configuration from a viper instance
func fromViper(nv *viper.Viper) *Config {
	return &Config{
		AppName:   nv.GetString("app_name"),
		RunMode:   nv.GetString("run_mode"),
		Extension: getExtensionConfig(nv),
		Logger:    getLoggerConfig(nv),
		Metrics:   getMetricsConfig(nv),
		Scheduler: getSchedulerConfig(nv),
		Observes:  getObservesConfig(nv),
		Viper:     nv,
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	nv := viper.New()
	setDefaults(nv)
	return fromViper(nv)
}

// Reload reloads the configuration from the file.
func Reload() error {
	mu.Lock()
	defer mu.Unlock()

	newConfig, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	config = newConfig
	v = newConfig.Viper
	return nil
}

// Watch watches the configuration file and reloads it when it changes.
func Watch(callback func(*Config, error)) {
	mu.RLock()
	current := v
	mu.RUnlock()
	if current == nil {
		callback(nil, fmt.Errorf("config not loaded"))
		return
	}

	current.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := Reload(); err != nil {
			callback(nil, err)
			return
		}
		mu.RLock()
		cfg := config
		mu.RUnlock()
		callback(cfg, nil)
	})
	current.WatchConfig()
}
