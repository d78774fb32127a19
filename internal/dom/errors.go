// internal/dom/errors.go
package dom

import "fmt"

// ElementNotFoundError is returned when every resolution strategy failed.
// Callers abort the edit session; the document is left untouched.
type ElementNotFoundError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *ElementNotFoundError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("element not found for path '%s'", e.Path)
	}
	return fmt.Sprintf("element not found for path '%s': %s", e.Path, e.Reason)
}

// NewElementNotFoundError creates a new ElementNotFoundError.
func NewElementNotFoundError(path, reason string) *ElementNotFoundError {
	return &ElementNotFoundError{Path: path, Reason: reason}
}

// PathAmbiguousError describes a lookup that matched more than one node. It is
// only ever logged; the first match in document order is used.
type PathAmbiguousError struct {
	Path     string
	Strategy Strategy
	Matches  int
}

// Error implements the error interface.
func (e *PathAmbiguousError) Error() string {
	return fmt.Sprintf("path '%s' matched %d elements using %s", e.Path, e.Matches, e.Strategy)
}
