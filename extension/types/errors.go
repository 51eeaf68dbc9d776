package types

import (
	"errors"
	"fmt"
	"strings"
)

// Discovery errors
var (
	ErrInvalidDescriptor = errors.New("invalid extension descriptor")
	ErrRestrictedName    = errors.New("restricted extension name")
	ErrInvalidName       = errors.New("extension name contains a space")
	ErrNoLoader          = errors.New("no loader registered for source")
)

// Dependency errors
var (
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrCircularDependency = errors.New("circular dependency detected")
)

// Contract violations, returned to the immediate caller
var (
	ErrDuplicatePermission = errors.New("permission is already defined")
	ErrIllegalAccess       = errors.New("extension is not enabled")
	ErrNoHandlerList       = errors.New("event kind has no handler list")
	ErrDuplicateExtension  = errors.New("extension is already loaded")
)

// DependencyError reports why an extension could not be ordered for loading
type DependencyError struct {
	Name    string
	Missing []string
	Err     error
}

func (e *DependencyError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// HookError wraps a failure raised by an extension lifecycle step
type HookError struct {
	Extension string
	Step      string
	Err       error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("error occurred (in the host) while %s %s: %v", e.Step, e.Extension, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// AuthorNagError is returned or raised by code that wants the extension
// authors to be told about misuse. It is reported at most once per
// extension until the naggable flag is reset.
type AuthorNagError struct {
	Message string
}

func (e *AuthorNagError) Error() string { return e.Message }

// PanicError carries a value recovered from a panicking hook or handler
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
