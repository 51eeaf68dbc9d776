package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
)

// Map resolves command labels to commands.
//
// Every command is reachable as prefix:label. The bare label belongs to
// the first command that claimed it and is handed back on unregister.
type Map struct {
	mu    sync.RWMutex
	known map[string]*Command
}

// NewMap creates an empty command map
func NewMap() *Map {
	return &Map{known: make(map[string]*Command)}
}

// RegisterAll registers the commands declared by owner under prefix
func (m *Map) RegisterAll(prefix string, owner types.Extension, cmds []types.Command) error {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return errors.New("command prefix cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, decl := range cmds {
		name := strings.ToLower(strings.TrimSpace(decl.Name))
		if name == "" || strings.ContainsAny(name, " :") {
			errs = append(errs, fmt.Errorf("invalid command name %q", decl.Name))
			continue
		}
		cmd := &Command{Command: decl, Owner: owner, Prefix: prefix}
		for i, label := range cmd.Labels() {
			m.register(prefix, strings.ToLower(label), cmd, i > 0)
		}
	}
	return errors.Join(errs...)
}

func (m *Map) register(prefix, label string, cmd *Command, alias bool) {
	m.known[prefix+":"+label] = cmd
	if existing, taken := m.known[label]; taken && existing != cmd {
		if !alias {
			logger.Debugf(nil, "Command %s is already taken by %s, %s:%s registered only", label, existing.Prefix, prefix, label)
		}
		return
	}
	m.known[label] = cmd
}

// UnregisterAll removes every command owned by owner
func (m *Map) UnregisterAll(owner types.Extension) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var freed []string
	for label, cmd := range m.known {
		if cmd.Owner == owner {
			delete(m.known, label)
			if !strings.Contains(label, ":") {
				freed = append(freed, label)
			}
		}
	}

	// hand freed bare labels to another command still reachable by prefix
	sort.Strings(freed)
	for _, label := range freed {
		for _, candidate := range m.sortedLocked() {
			if candidate.Owner == owner {
				continue
			}
			if hasLabel(candidate, label) {
				m.known[label] = candidate
				break
			}
		}
	}
	return nil
}

func hasLabel(cmd *Command, label string) bool {
	for _, l := range cmd.Labels() {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// Get returns the command registered under label
func (m *Map) Get(label string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cmd, ok := m.known[strings.ToLower(label)]
	return cmd, ok
}

// Commands returns every distinct command, sorted by prefix and name
func (m *Map) Commands() []*Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked()
}

// CommandsOf returns the commands owned by owner
func (m *Map) CommandsOf(owner types.Extension) []*Command {
	var result []*Command
	for _, cmd := range m.Commands() {
		if cmd.Owner == owner {
			result = append(result, cmd)
		}
	}
	return result
}

func (m *Map) sortedLocked() []*Command {
	seen := make(map[*Command]struct{})
	var result []*Command
	for _, cmd := range m.known {
		if _, ok := seen[cmd]; ok {
			continue
		}
		seen[cmd] = struct{}{}
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Prefix != result[j].Prefix {
			return result[i].Prefix < result[j].Prefix
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Dispatch parses line and executes the matching command. It reports
// false when no command matches the label.
func (m *Map) Dispatch(ctx context.Context, sender Sender, line string) (bool, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return false, nil
	}
	label, args := fields[0], fields[1:]

	cmd, ok := m.Get(label)
	if !ok {
		return false, nil
	}

	if cmd.Owner != nil && !cmd.Owner.IsEnabled() {
		return true, fmt.Errorf("%w: cannot execute command %s in %s", ErrOwnerDisabled, label, cmd.Owner.Descriptor().FullName())
	}
	if cmd.Permission != "" && !sender.HasPermission(cmd.Permission) {
		return true, fmt.Errorf("%w: %s may not use %s", ErrPermissionDenied, sender.Name(), label)
	}

	executor, ok := cmd.Owner.(Executor)
	if !ok {
		return true, fmt.Errorf("%w: %s", ErrNoExecutor, label)
	}

	var handled bool
	err := types.SafeCall(func() error {
		var execErr error
		handled, execErr = executor.OnCommand(logger.WithExtension(ctx, cmd.Owner.Name()), sender, cmd, label, args)
		return execErr
	})
	if err != nil {
		return true, fmt.Errorf("unhandled exception executing command %s in %s: %w", label, cmd.Owner.Descriptor().FullName(), err)
	}
	if !handled && cmd.Usage != "" {
		return true, fmt.Errorf("usage: %s", strings.ReplaceAll(cmd.Usage, "<command>", label))
	}
	return true, nil
}
