// Package permission keeps the registry of named permissions, derives the
// default permission set of each trust tier and notifies subscribed
// subjects when those defaults change.
package permission

import (
	"fmt"
	"strings"
)

// Tier is the trust level a subject holds
type Tier int

const (
	// Standard subjects receive permissions defaulting to true or notop
	Standard Tier = iota
	// Elevated subjects receive permissions defaulting to true or op
	Elevated
)

var tiers = [...]Tier{Standard, Elevated}

// String returns the tier name
func (t Tier) String() string {
	if t == Elevated {
		return "elevated"
	}
	return "standard"
}

// Default says which tiers receive a permission without an explicit grant
type Default string

const (
	DefaultTrue  Default = "true"
	DefaultFalse Default = "false"
	DefaultOp    Default = "op"
	DefaultNotOp Default = "notop"
)

// ParseDefault parses a default value. The empty string yields DefaultOp.
func ParseDefault(s string) (Default, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultOp, nil
	case "true", "t":
		return DefaultTrue, nil
	case "false", "f":
		return DefaultFalse, nil
	case "op", "isop", "operator", "elevated":
		return DefaultOp, nil
	case "notop", "!op", "not op", "isnotop", "standard":
		return DefaultNotOp, nil
	}
	return DefaultFalse, fmt.Errorf("unknown permission default %q", s)
}

// Applies reports whether the default grants the permission to tier
func (d Default) Applies(tier Tier) bool {
	switch d {
	case DefaultTrue:
		return true
	case DefaultOp:
		return tier == Elevated
	case DefaultNotOp:
		return tier == Standard
	default:
		return false
	}
}

// Permission is a named capability. Values are immutable once registered.
type Permission struct {
	Name        string
	Description string
	Default     Default
}

// New creates a permission
func New(name, description string, def Default) *Permission {
	return &Permission{Name: name, Description: description, Default: def}
}

// Key returns the case-insensitive identity of a permission name
func Key(name string) string {
	return strings.ToLower(name)
}

// Subject is notified whenever a default set it subscribed to changes.
// Subjects are identity keyed and must be comparable, usually pointers.
type Subject interface {
	RecalculatePermissions()
}
