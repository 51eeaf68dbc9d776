package command

import (
	"context"
	"errors"

	"github.com/ncobase/hostkit/extension/permission"
	"github.com/ncobase/hostkit/extension/types"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrOwnerDisabled    = errors.New("owner is disabled")
	ErrNoExecutor       = errors.New("command has no executor")
)

// Sender is whoever issues a command line
type Sender interface {
	Name() string
	HasPermission(name string) bool
}

// Executor is implemented by extensions that handle their declared
// commands. Returning false reports incorrect usage.
type Executor interface {
	OnCommand(ctx context.Context, sender Sender, cmd *Command, label string, args []string) (bool, error)
}

// Command is a declared command bound to its owner
type Command struct {
	types.Command
	Owner  types.Extension
	Prefix string
}

// Labels returns every label the command can be registered under
func (c *Command) Labels() []string {
	labels := make([]string, 0, 1+len(c.Aliases))
	labels = append(labels, c.Name)
	labels = append(labels, c.Aliases...)
	return labels
}

// ConsoleSender is the host console, holding permissions at its own tier
type ConsoleSender struct {
	*permission.Holder
	name string
}

// NewConsoleSender creates an elevated console sender
func NewConsoleSender(registry *permission.Registry) *ConsoleSender {
	return &ConsoleSender{Holder: permission.NewHolder(registry, permission.Elevated), name: "CONSOLE"}
}

// Name returns the sender name
func (c *ConsoleSender) Name() string { return c.name }
