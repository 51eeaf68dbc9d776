package event

// Kind identifies a category of event. Kinds form a single-rooted tree
// with explicit parent pointers.
//
// A kind either declares its own handler list or shares the list of its
// nearest ancestor that does. Subscriptions are made against a kind and
// receive events of that kind and of every descendant kind sharing the
// same list.
type Kind struct {
	name     string
	parent   *Kind
	declares bool
}

// Root is the abstract root of the kind tree. It declares no handler list.
var Root = &Kind{name: "Event"}

// NewKind creates a kind with its own handler list.
// A nil parent attaches the kind to Root.
func NewKind(name string, parent *Kind) *Kind {
	if parent == nil {
		parent = Root
	}
	return &Kind{name: name, parent: parent, declares: true}
}

// InheritKind creates a kind that dispatches through its ancestor's list.
func InheritKind(name string, parent *Kind) *Kind {
	if parent == nil {
		parent = Root
	}
	return &Kind{name: name, parent: parent}
}

// Name returns the kind name
func (k *Kind) Name() string { return k.name }

// Parent returns the parent kind, nil for Root
func (k *Kind) Parent() *Kind { return k.parent }

// DeclaresHandlers reports whether the kind owns a handler list
func (k *Kind) DeclaresHandlers() bool { return k.declares }

// IsA reports whether k is other or one of its descendants
func (k *Kind) IsA(other *Kind) bool {
	for c := k; c != nil; c = c.parent {
		if c == other {
			return true
		}
	}
	return false
}

// String returns the kind name
func (k *Kind) String() string { return k.name }

// handlerKind walks up to the closest kind declaring a handler list
func (k *Kind) handlerKind() *Kind {
	for c := k; c != nil; c = c.parent {
		if c.declares {
			return c
		}
	}
	return nil
}
