package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Extension extension config struct
type Extension struct {
	// Path is the directory scanned for extension manifests
	Path string
	// Includes limits loading to the named extensions when not empty
	Includes []string
	// Excludes names extensions that are never loaded
	Excludes []string
	// ReservedNames are names no extension may use, on top of the built-in
	// host names
	ReservedNames []string
	// ReleaseOnDisable releases loader resources when an extension is disabled
	ReleaseOnDisable bool
	// HotReload reloads the extension set when the config file changes
	HotReload bool
}

// getExtensionConfig returns the extension config
func getExtensionConfig(v *viper.Viper) *Extension {
	return &Extension{
		Path:             v.GetString("extension.path"),
		Includes:         v.GetStringSlice("extension.includes"),
		Excludes:         v.GetStringSlice("extension.excludes"),
		ReservedNames:    v.GetStringSlice("extension.reserved_names"),
		ReleaseOnDisable: v.GetBool("extension.release_on_disable"),
		HotReload:        v.GetBool("extension.hot_reload"),
	}
}

// ShouldLoad applies the include and exclude lists to an extension name
func (e *Extension) ShouldLoad(name string) bool {
	for _, excluded := range e.Excludes {
		if strings.EqualFold(excluded, name) {
			return false
		}
	}
	if len(e.Includes) == 0 {
		return true
	}
	for _, included := range e.Includes {
		if strings.EqualFold(included, name) {
			return true
		}
	}
	return false
}
