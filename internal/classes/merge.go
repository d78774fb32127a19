// internal/classes/merge.go
package classes

// Merge re-encodes model into prev. Classes of every family the model
// controls are dropped; everything else keeps its original relative order and
// the derived classes are appended after it. Merge is idempotent.
func Merge(prev []string, model StyleModel) []string {
	controlled := model.controlled()
	out := make([]string, 0, len(prev)+4)
	for _, c := range prev {
		if t, ok := classify(c); ok && controlled[t.family] {
			continue
		}
		out = append(out, c)
	}
	return append(out, model.Encode()...)
}

// Change summarizes the difference between two class lists.
type Change struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Empty reports whether the lists hold the same classes.
func (c Change) Empty() bool { return len(c.Added) == 0 && len(c.Removed) == 0 }

// Diff reports which classes were added and removed going from before to after.
func Diff(before, after []string) Change {
	var c Change
	inBefore := toSet(before)
	inAfter := toSet(after)
	for _, a := range after {
		if !in(inBefore, a) {
			c.Added = append(c.Added, a)
		}
	}
	for _, b := range before {
		if !in(inAfter, b) {
			c.Removed = append(c.Removed, b)
		}
	}
	return c
}
