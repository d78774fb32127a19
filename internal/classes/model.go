// internal/classes/model.go
package classes

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is a hue with an intensity step. The zero Color is the unset sentinel.
type Color struct {
	Hue       string `json:"hue"`
	Intensity int    `json:"intensity,omitempty"`
}

// IsUnset reports whether c clears its token family.
func (c Color) IsUnset() bool { return c.Hue == "" }

// suffix renders the part after "text-" / "bg-".
func (c Color) suffix() string {
	if in(flatHueSet, c.Hue) {
		return c.Hue
	}
	intensity := c.Intensity
	if intensity == 0 {
		intensity = DefaultIntensity
	}
	return c.Hue + "-" + strconv.Itoa(intensity)
}

func (c Color) valid() bool {
	if in(flatHueSet, c.Hue) {
		return true
	}
	if !in(hueSet, c.Hue) {
		return false
	}
	if c.Intensity == 0 {
		return true
	}
	_, ok := intensitySet[c.Intensity]
	return ok
}

// Box holds one spacing value per side. An empty side is unset.
type Box struct {
	Top    string `json:"top"`
	Right  string `json:"right"`
	Bottom string `json:"bottom"`
	Left   string `json:"left"`
}

func (b Box) sides() [4]string { return [4]string{b.Top, b.Right, b.Bottom, b.Left} }

// Uniform returns a Box with every side set to v.
func Uniform(v string) Box { return Box{Top: v, Right: v, Bottom: v, Left: v} }

// StyleModel is the editable, semantic view of a class list.
//
// Every field is tri-state: a nil pointer leaves the family untouched, a
// pointer to the zero value removes the family, anything else replaces it.
type StyleModel struct {
	TextColor       *Color  `json:"textColor,omitempty"`
	BackgroundColor *Color  `json:"backgroundColor,omitempty"`
	FontSize        *string `json:"fontSize,omitempty"`
	FontWeight      *string `json:"fontWeight,omitempty"`
	TextAlign       *string `json:"textAlign,omitempty"`
	Padding         *Box    `json:"padding,omitempty"`
	Margin          *Box    `json:"margin,omitempty"`
	Display         *string `json:"display,omitempty"`
	FlexDirection   *string `json:"flexDirection,omitempty"`
	Justify         *string `json:"justify,omitempty"`
	Align           *string `json:"align,omitempty"`
	BorderRadius    *string `json:"borderRadius,omitempty"`
	HasBorder       *bool   `json:"hasBorder,omitempty"`
	Shadow          *string `json:"shadow,omitempty"`
}

// Ptr returns a pointer to v. It keeps model literals short.
func Ptr[T any](v T) *T { return &v }

// DefaultVariant names the bare "rounded" and "shadow" classes.
const DefaultVariant = "default"

// Overlay copies every present field of other onto m.
func (m *StyleModel) Overlay(other StyleModel) {
	if other.TextColor != nil {
		m.TextColor = other.TextColor
	}
	if other.BackgroundColor != nil {
		m.BackgroundColor = other.BackgroundColor
	}
	if other.FontSize != nil {
		m.FontSize = other.FontSize
	}
	if other.FontWeight != nil {
		m.FontWeight = other.FontWeight
	}
	if other.TextAlign != nil {
		m.TextAlign = other.TextAlign
	}
	if other.Padding != nil {
		m.Padding = other.Padding
	}
	if other.Margin != nil {
		m.Margin = other.Margin
	}
	if other.Display != nil {
		m.Display = other.Display
	}
	if other.FlexDirection != nil {
		m.FlexDirection = other.FlexDirection
	}
	if other.Justify != nil {
		m.Justify = other.Justify
	}
	if other.Align != nil {
		m.Align = other.Align
	}
	if other.BorderRadius != nil {
		m.BorderRadius = other.BorderRadius
	}
	if other.HasBorder != nil {
		m.HasBorder = other.HasBorder
	}
	if other.Shadow != nil {
		m.Shadow = other.Shadow
	}
}

// controlled reports which families the model takes ownership of.
func (m StyleModel) controlled() map[family]bool {
	c := make(map[family]bool)
	c[familyTextColor] = m.TextColor != nil
	c[familyBackgroundColor] = m.BackgroundColor != nil
	c[familyFontSize] = m.FontSize != nil
	c[familyFontWeight] = m.FontWeight != nil
	c[familyTextAlign] = m.TextAlign != nil
	c[familyPadding] = m.Padding != nil
	c[familyMargin] = m.Margin != nil
	c[familyDisplay] = m.Display != nil
	c[familyFlexDirection] = m.FlexDirection != nil
	c[familyJustify] = m.Justify != nil
	c[familyAlign] = m.Align != nil
	c[familyBorderRadius] = m.BorderRadius != nil
	c[familyBorder] = m.HasBorder != nil
	c[familyShadow] = m.Shadow != nil
	return c
}

// Validate reports the first field whose value is outside the vocabulary.
// Unset sentinels are always valid.
func (m StyleModel) Validate() error {
	check := func(name string, v *string, ok func(string) bool) error {
		if v == nil || *v == "" || ok(*v) {
			return nil
		}
		return fmt.Errorf("%s: unsupported value %q", name, *v)
	}
	colorCheck := func(name string, c *Color) error {
		if c == nil || c.IsUnset() || c.valid() {
			return nil
		}
		return fmt.Errorf("%s: unsupported color %q/%d", name, c.Hue, c.Intensity)
	}
	boxCheck := func(name string, b *Box, allowAuto bool) error {
		if b == nil {
			return nil
		}
		for _, s := range b.sides() {
			if s != "" && !isSpacingValue(s, allowAuto) {
				return fmt.Errorf("%s: unsupported spacing value %q", name, s)
			}
		}
		return nil
	}
	isVariant := func(set map[string]struct{}, base string) func(string) bool {
		return func(v string) bool {
			if v == DefaultVariant {
				return true
			}
			return in(set, base+"-"+v)
		}
	}

	errs := []error{
		colorCheck("textColor", m.TextColor),
		colorCheck("backgroundColor", m.BackgroundColor),
		check("fontSize", m.FontSize, func(v string) bool { return in(fontSizeSet, v) }),
		check("fontWeight", m.FontWeight, func(v string) bool { return in(fontWeightSet, v) }),
		check("textAlign", m.TextAlign, func(v string) bool { return in(textAlignSet, v) }),
		boxCheck("padding", m.Padding, false),
		boxCheck("margin", m.Margin, true),
		check("display", m.Display, func(v string) bool { return in(displaySet, v) }),
		check("flexDirection", m.FlexDirection, func(v string) bool { return in(flexDirSet, "flex-"+v) }),
		check("justify", m.Justify, func(v string) bool { return in(justifySet, v) }),
		check("align", m.Align, func(v string) bool { return in(alignSet, v) }),
		check("borderRadius", m.BorderRadius, isVariant(radiusSet, "rounded")),
		check("shadow", m.Shadow, isVariant(shadowSet, "shadow")),
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Encode renders the present, set fields as classes in fixed field order.
// Invalid values are skipped so they can never leak into the class list.
func (m StyleModel) Encode() []string {
	var out []string
	color := func(prefix string, c *Color) {
		if c != nil && !c.IsUnset() && c.valid() {
			out = append(out, prefix+c.suffix())
		}
	}
	word := func(prefix string, v *string, ok func(string) bool) {
		if v != nil && *v != "" && ok(*v) {
			out = append(out, prefix+*v)
		}
	}
	variant := func(base string, set map[string]struct{}, v *string) {
		if v == nil || *v == "" {
			return
		}
		if *v == DefaultVariant {
			out = append(out, base)
			return
		}
		if in(set, base+"-"+*v) {
			out = append(out, base+"-"+*v)
		}
	}

	color("text-", m.TextColor)
	color("bg-", m.BackgroundColor)
	word("text-", m.FontSize, func(v string) bool { return in(fontSizeSet, v) })
	word("font-", m.FontWeight, func(v string) bool { return in(fontWeightSet, v) })
	word("text-", m.TextAlign, func(v string) bool { return in(textAlignSet, v) })
	if m.Padding != nil {
		out = append(out, encodeBox("p", *m.Padding, false)...)
	}
	if m.Margin != nil {
		out = append(out, encodeBox("m", *m.Margin, true)...)
	}
	word("", m.Display, func(v string) bool { return in(displaySet, v) })
	word("flex-", m.FlexDirection, func(v string) bool { return in(flexDirSet, "flex-"+v) })
	word("justify-", m.Justify, func(v string) bool { return in(justifySet, v) })
	word("items-", m.Align, func(v string) bool { return in(alignSet, v) })
	variant("rounded", radiusSet, m.BorderRadius)
	if m.HasBorder != nil && *m.HasBorder {
		out = append(out, BorderClass)
	}
	variant("shadow", shadowSet, m.Shadow)
	return out
}

// encodeBox finds the shortest combination of uniform, axis and side classes
// that reproduces b exactly. Ties go to the combination found first, which
// prefers fewer shorthands.
func encodeBox(prefix string, b Box, allowAuto bool) []string {
	sides := b.sides()
	for i, s := range sides {
		if s != "" && !isSpacingValue(s, allowAuto) {
			sides[i] = ""
		}
	}

	var values []string
	seen := map[string]bool{}
	for _, s := range sides {
		if s != "" && !seen[s] {
			seen[s] = true
			values = append(values, s)
		}
	}
	if len(values) == 0 {
		return nil
	}
	options := append([]string{""}, values...)

	var best []string
	for _, u := range options {
		for _, x := range options {
			for _, y := range options {
				candidate, ok := boxCandidate(prefix, sides, u, x, y)
				if !ok {
					continue
				}
				if best == nil || len(candidate) < len(best) {
					best = candidate
				}
			}
		}
	}
	return best
}

var sideLetters = [4]string{"t", "r", "b", "l"}

func boxCandidate(prefix string, sides [4]string, u, x, y string) ([]string, bool) {
	var out []string
	if u != "" {
		out = append(out, prefix+"-"+u)
	}
	if x != "" {
		out = append(out, prefix+"x-"+x)
	}
	if y != "" {
		out = append(out, prefix+"y-"+y)
	}
	for i, want := range sides {
		base := u
		if i%2 == 0 && y != "" { // top, bottom
			base = y
		}
		if i%2 == 1 && x != "" { // right, left
			base = x
		}
		if want == base {
			continue
		}
		if want == "" {
			return nil, false
		}
		out = append(out, prefix+sideLetters[i]+"-"+want)
	}
	return out, true
}

// String renders the model compactly for logs.
func (m StyleModel) String() string {
	return "[" + strings.Join(m.Encode(), " ") + "]"
}
