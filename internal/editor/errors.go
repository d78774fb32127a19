// internal/editor/errors.go
package editor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSession is returned by operations that need an open edit session.
	ErrNoSession = errors.New("no edit session is open")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("editor engine is closed")
)

// ClassApplicationFailedError is returned when neither the token-level write
// nor the attribute rewrite left the element with the intended classes. The
// element's original classes have been restored and the session aborted.
type ClassApplicationFailedError struct {
	Path     string
	Want     []string
	Got      []string
	Restored bool
}

// Error implements the error interface.
func (e *ClassApplicationFailedError) Error() string {
	msg := fmt.Sprintf("failed to apply classes [%s] to '%s' (found [%s])",
		strings.Join(e.Want, " "), e.Path, strings.Join(e.Got, " "))
	if !e.Restored {
		msg += "; original classes could not be restored"
	}
	return msg
}
