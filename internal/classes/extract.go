// internal/classes/extract.go
package classes

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// family identifies a set of classes that control the same property.
type family int

const (
	familyNone family = iota
	familyTextColor
	familyBackgroundColor
	familyFontSize
	familyFontWeight
	familyTextAlign
	familyPadding
	familyMargin
	familyDisplay
	familyFlexDirection
	familyJustify
	familyAlign
	familyBorderRadius
	familyBorder
	familyShadow
)

// spacingLevel orders spacing classes from least to most specific.
type spacingLevel int

const (
	levelUniform spacingLevel = iota
	levelAxis
	levelSide
)

// token is one recognized class.
type token struct {
	family family
	value  string
	color  Color
	rank   int

	// spacing only
	level spacingLevel
	sides []int // indexes into Box.sides()
}

var spacingPattern = regexp.MustCompile(`^([pm])([trblxy]?)-(.+)$`)

// classify maps a class onto its token family. It is the single source of
// truth for both extraction and merging.
func classify(class string) (token, bool) {
	switch {
	case strings.HasPrefix(class, "text-"):
		v := strings.TrimPrefix(class, "text-")
		if in(fontSizeSet, v) {
			return token{family: familyFontSize, value: v, rank: indexOf(FontSizes, v)}, true
		}
		if in(textAlignSet, v) {
			return token{family: familyTextAlign, value: v, rank: indexOf(TextAligns, v)}, true
		}
		if c, rank, ok := parseColor(v); ok {
			return token{family: familyTextColor, color: c, rank: rank}, true
		}
		return token{}, false
	case strings.HasPrefix(class, "bg-"):
		if c, rank, ok := parseColor(strings.TrimPrefix(class, "bg-")); ok {
			return token{family: familyBackgroundColor, color: c, rank: rank}, true
		}
		return token{}, false
	case strings.HasPrefix(class, "font-"):
		v := strings.TrimPrefix(class, "font-")
		if in(fontWeightSet, v) {
			return token{family: familyFontWeight, value: v, rank: indexOf(FontWeights, v)}, true
		}
		return token{}, false
	case in(displaySet, class):
		return token{family: familyDisplay, value: class, rank: indexOf(Displays, class)}, true
	case in(flexDirSet, class):
		v := strings.TrimPrefix(class, "flex-")
		return token{family: familyFlexDirection, value: v, rank: indexOf(FlexDirections, class)}, true
	case strings.HasPrefix(class, "justify-") && in(justifySet, strings.TrimPrefix(class, "justify-")):
		v := strings.TrimPrefix(class, "justify-")
		return token{family: familyJustify, value: v, rank: indexOf(Justifies, v)}, true
	case strings.HasPrefix(class, "items-") && in(alignSet, strings.TrimPrefix(class, "items-")):
		v := strings.TrimPrefix(class, "items-")
		return token{family: familyAlign, value: v, rank: indexOf(Aligns, v)}, true
	case in(radiusSet, class):
		return token{family: familyBorderRadius, value: variantOf(class, "rounded"), rank: indexOf(Radii, class)}, true
	case class == BorderClass:
		return token{family: familyBorder, value: class}, true
	case in(shadowSet, class):
		return token{family: familyShadow, value: variantOf(class, "shadow"), rank: indexOf(Shadows, class)}, true
	}
	return classifySpacing(class)
}

func classifySpacing(class string) (token, bool) {
	m := spacingPattern.FindStringSubmatch(class)
	if m == nil {
		return token{}, false
	}
	fam, allowAuto := familyPadding, false
	if m[1] == "m" {
		fam, allowAuto = familyMargin, true
	}
	value := m[3]
	if !isSpacingValue(value, allowAuto) {
		return token{}, false
	}
	t := token{family: fam, value: value, rank: spacingRank(value)}
	switch m[2] {
	case "":
		t.level, t.sides = levelUniform, []int{0, 1, 2, 3}
	case "x":
		t.level, t.sides = levelAxis, []int{1, 3}
	case "y":
		t.level, t.sides = levelAxis, []int{0, 2}
	case "t":
		t.level, t.sides = levelSide, []int{0}
	case "r":
		t.level, t.sides = levelSide, []int{1}
	case "b":
		t.level, t.sides = levelSide, []int{2}
	case "l":
		t.level, t.sides = levelSide, []int{3}
	}
	return t, true
}

func parseColor(v string) (Color, int, bool) {
	if in(flatHueSet, v) {
		return Color{Hue: v}, (len(Hues)+indexOf(FlatHues, v))*len(Intensities) + 1, true
	}
	if in(hueSet, v) {
		return Color{Hue: v, Intensity: DefaultIntensity}, colorRank(v, DefaultIntensity), true
	}
	i := strings.LastIndexByte(v, '-')
	if i <= 0 {
		return Color{}, 0, false
	}
	hue := v[:i]
	intensity, err := strconv.Atoi(v[i+1:])
	if err != nil || !in(hueSet, hue) {
		return Color{}, 0, false
	}
	if _, ok := intensitySet[intensity]; !ok {
		return Color{}, 0, false
	}
	return Color{Hue: hue, Intensity: intensity}, colorRank(hue, intensity), true
}

func colorRank(hue string, intensity int) int {
	step := 0
	for i, v := range Intensities {
		if v == intensity {
			step = i
		}
	}
	return indexOf(Hues, hue)*len(Intensities) + step
}

func spacingRank(v string) int {
	if i := indexOf(SpacingScale, v); i >= 0 {
		return i
	}
	if v == "auto" {
		return len(SpacingScale)
	}
	return len(SpacingScale) + 1
}

func variantOf(class, base string) string {
	if class == base {
		return DefaultVariant
	}
	return strings.TrimPrefix(class, base+"-")
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

// IsRecognized reports whether class belongs to any editable token family.
func IsRecognized(class string) bool {
	_, ok := classify(class)
	return ok
}

// Rule decodes one token family from a class list. Rules are pure and
// independent; Extract overlays their results in order.
type Rule struct {
	Name  string
	Match func(classes []string) StyleModel
}

// Rules is the fixed decoding order.
var Rules = []Rule{
	{Name: "text-color", Match: colorRule(familyTextColor, func(m *StyleModel, c Color) { m.TextColor = &c })},
	{Name: "background-color", Match: colorRule(familyBackgroundColor, func(m *StyleModel, c Color) { m.BackgroundColor = &c })},
	{Name: "font-size", Match: wordRule(familyFontSize, func(m *StyleModel, v string) { m.FontSize = &v })},
	{Name: "font-weight", Match: wordRule(familyFontWeight, func(m *StyleModel, v string) { m.FontWeight = &v })},
	{Name: "text-align", Match: wordRule(familyTextAlign, func(m *StyleModel, v string) { m.TextAlign = &v })},
	{Name: "padding", Match: boxRule(familyPadding, func(m *StyleModel, b Box) { m.Padding = &b })},
	{Name: "margin", Match: boxRule(familyMargin, func(m *StyleModel, b Box) { m.Margin = &b })},
	{Name: "display", Match: wordRule(familyDisplay, func(m *StyleModel, v string) { m.Display = &v })},
	{Name: "flex-direction", Match: wordRule(familyFlexDirection, func(m *StyleModel, v string) { m.FlexDirection = &v })},
	{Name: "justify", Match: wordRule(familyJustify, func(m *StyleModel, v string) { m.Justify = &v })},
	{Name: "align", Match: wordRule(familyAlign, func(m *StyleModel, v string) { m.Align = &v })},
	{Name: "border-radius", Match: wordRule(familyBorderRadius, func(m *StyleModel, v string) { m.BorderRadius = &v })},
	{Name: "border", Match: wordRule(familyBorder, func(m *StyleModel, _ string) { m.HasBorder = Ptr(true) })},
	{Name: "shadow", Match: wordRule(familyShadow, func(m *StyleModel, v string) { m.Shadow = &v })},
}

// Extract decodes a class list into a StyleModel. The result does not depend
// on the order of the input: conflicting classes of one family resolve to the
// one ranked last in the vocabulary.
func Extract(list []string) StyleModel {
	var model StyleModel
	for _, r := range Rules {
		model.Overlay(r.Match(list))
	}
	return model
}

// pick returns the tokens of family f, highest rank last.
func pick(list []string, f family) []token {
	var out []token
	for _, c := range list {
		if t, ok := classify(c); ok && t.family == f {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		return out[i].value < out[j].value
	})
	return out
}

func colorRule(f family, set func(*StyleModel, Color)) func([]string) StyleModel {
	return func(list []string) StyleModel {
		var m StyleModel
		if toks := pick(list, f); len(toks) > 0 {
			set(&m, toks[len(toks)-1].color)
		}
		return m
	}
}

func wordRule(f family, set func(*StyleModel, string)) func([]string) StyleModel {
	return func(list []string) StyleModel {
		var m StyleModel
		if toks := pick(list, f); len(toks) > 0 {
			set(&m, toks[len(toks)-1].value)
		}
		return m
	}
}

// boxRule resolves each side with precedence side > axis > uniform.
func boxRule(f family, set func(*StyleModel, Box)) func([]string) StyleModel {
	return func(list []string) StyleModel {
		var m StyleModel
		toks := pick(list, f)
		if len(toks) == 0 {
			return m
		}
		var sides [4]string
		var levels [4]spacingLevel
		for _, t := range toks {
			for _, s := range t.sides {
				if sides[s] == "" || t.level >= levels[s] {
					sides[s], levels[s] = t.value, t.level
				}
			}
		}
		set(&m, Box{Top: sides[0], Right: sides[1], Bottom: sides[2], Left: sides[3]})
		return m
	}
}
