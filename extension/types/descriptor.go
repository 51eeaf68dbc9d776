package types

import "strings"

// Descriptor represents the metadata an extension is discovered with.
// It is immutable once discovered.
type Descriptor struct {
	// Name is the identity key of the extension, compared case-insensitively
	Name string `json:"name" yaml:"name" validate:"required,max=64"`
	// Version is the version of the extension
	Version string `json:"version" yaml:"version" validate:"required"`
	// Main is the factory key used by loaders to build the runtime instance
	Main string `json:"main" yaml:"main" validate:"required"`
	// Description is the description of the extension
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Authors lists the people responsible for the extension
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	// Prefix is used for logging and command fallback prefixes, defaults to Name
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// Depend are hard dependencies, they must be loaded first
	Depend []string `json:"depend,omitempty" yaml:"depend,omitempty" validate:"dive,required"`
	// SoftDepend are loaded first when present, ignored when absent
	SoftDepend []string `json:"softdepend,omitempty" yaml:"softdepend,omitempty" validate:"dive,required"`
	// LoadBefore names extensions that should treat this one as a soft dependency
	LoadBefore []string `json:"loadbefore,omitempty" yaml:"loadbefore,omitempty" validate:"dive,required"`
	// Commands declared by the extension
	Commands []Command `json:"commands,omitempty" yaml:"commands,omitempty" validate:"dive"`
	// Permissions declared by the extension
	Permissions []PermissionSpec `json:"permissions,omitempty" yaml:"permissions,omitempty" validate:"dive"`
}

// Command describes a command an extension contributes to the host
type Command struct {
	Name        string   `json:"name" yaml:"name" validate:"required,excludesall= "`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Usage       string   `json:"usage,omitempty" yaml:"usage,omitempty"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Permission  string   `json:"permission,omitempty" yaml:"permission,omitempty"`
}

// PermissionSpec describes a permission an extension declares
type PermissionSpec struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Default is one of true, false, op or notop
	Default string `json:"default,omitempty" yaml:"default,omitempty" validate:"omitempty,oneof=true false op notop"`
}

// FullName returns name and version joined by a space
func (d *Descriptor) FullName() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + " v" + d.Version
}

// LogPrefix returns the prefix used when logging on behalf of the extension
func (d *Descriptor) LogPrefix() string {
	if d.Prefix != "" {
		return d.Prefix
	}
	return d.Name
}

// Key returns the case-insensitive identity key of the descriptor
func (d *Descriptor) Key() string {
	return NormalizeName(d.Name)
}

// NormalizeName folds an extension name into its identity key
func NormalizeName(name string) string {
	return strings.ToLower(name)
}

// LookupKey folds a name into the key used by registry lookups.
// Spaces are accepted there and treated as underscores.
func LookupKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}
