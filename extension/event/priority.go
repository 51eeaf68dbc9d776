package event

import (
	"fmt"
	"strings"
)

// Priority orders subscriptions on a handler list.
// Lower priorities run first, Monitor runs last and should only observe.
type Priority int

const (
	Lowest Priority = iota
	Low
	Normal
	High
	Highest
	Monitor
)

const numPriorities = int(Monitor) + 1

var priorityNames = [numPriorities]string{"LOWEST", "LOW", "NORMAL", "HIGH", "HIGHEST", "MONITOR"}

// String returns the priority name
func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	return p >= Lowest && p <= Monitor
}

// ParsePriority parses a priority name, case-insensitively
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(name, s) {
			return Priority(i), nil
		}
	}
	return Normal, fmt.Errorf("unknown event priority %q", s)
}
