// internal/selection/stylesheet.go
package selection

import (
	"fmt"

	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"

	"github.com/mmmyyc/ai-template-sub000/internal/dom"
)

// Stylesheet is injected into the document head while selection mode is on.
// Every rule is scoped to the flagged body so that it is inert otherwise.
var Stylesheet = fmt.Sprintf(`
body[%[1]s] * { pointer-events: auto !important; cursor: crosshair !important; }
body[%[1]s] [%[2]s], body[%[1]s] [%[2]s] * { pointer-events: none !important; cursor: auto !important; }
body[%[1]s] [%[3]s] { outline: 2px dashed #3b82f6 !important; outline-offset: 2px !important; }
`, dom.SelectingAttribute, dom.IgnoreAttribute, dom.HoverAttribute)

// ValidateStylesheet parses text and checks that every rule is a qualified
// rule with compilable selectors and at least one declaration.
func ValidateStylesheet(text string) (*css.Stylesheet, error) {
	sheet, err := parser.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse selection stylesheet: %w", err)
	}
	if len(sheet.Rules) == 0 {
		return nil, fmt.Errorf("selection stylesheet has no rules")
	}
	for _, rule := range sheet.Rules {
		if rule.Kind != css.QualifiedRule {
			return nil, fmt.Errorf("unexpected at-rule '%s' in selection stylesheet", rule.Name)
		}
		if len(rule.Declarations) == 0 {
			return nil, fmt.Errorf("rule '%s' has no declarations", rule.Prelude)
		}
		for _, sel := range rule.Selectors {
			if _, err := cascadia.Compile(sel); err != nil {
				return nil, fmt.Errorf("invalid selector '%s' in selection stylesheet: %w", sel, err)
			}
		}
	}
	return sheet, nil
}
