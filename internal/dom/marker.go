// internal/dom/marker.go
package dom

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// MarkerAttribute addresses the node being edited for the lifetime of one
// edit session. It carries no styling and never reaches persisted output.
const MarkerAttribute = "data-" + ReservedPrefix + "id"

const markerPrefix = "edit-"

// NewMarker returns a globally unique, time-ordered marker token.
func NewMarker() string {
	return markerPrefix + strings.ToLower(ulid.Make().String())
}

// IsMarker reports whether token looks like a value produced by NewMarker.
func IsMarker(token string) bool {
	rest, ok := strings.CutPrefix(token, markerPrefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(rest))
	return err == nil
}

// Attributes and ids owned by the selection layer.
const (
	HoverAttribute     = "data-" + ReservedPrefix + "hover"
	SelectingAttribute = "data-" + ReservedPrefix + "selecting"
	// IgnoreAttribute is set by content authors to opt a subtree out of selection.
	IgnoreAttribute  = "data-" + ReservedPrefix + "ignore"
	SelectionStyleID = ReservedPrefix + "selection-style"
)

// ArtifactAttributes are attributes the editor adds and must never persist.
var ArtifactAttributes = []string{MarkerAttribute, HoverAttribute, SelectingAttribute}
