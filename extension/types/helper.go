package types

import (
	"errors"
	"runtime/debug"
)

// SafeCall runs fn and converts a panic into an error.
// A panic carrying an *AuthorNagError is returned as that error.
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if nag, ok := r.(*AuthorNagError); ok {
				err = nag
				return
			}
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// IsAuthorNag reports whether err is or wraps an *AuthorNagError
func IsAuthorNag(err error) (*AuthorNagError, bool) {
	var nag *AuthorNagError
	if errors.As(err, &nag) {
		return nag, true
	}
	return nil, false
}
