// internal/classes/vocab.go
package classes

import "strings"

// The vocabularies below are fixed. Extraction and merging must agree on them
// exactly or class lists stop round-tripping.

// Hues lists every chromatic hue name that carries an intensity step.
var Hues = []string{
	"slate", "gray", "zinc", "neutral", "stone",
	"red", "orange", "amber", "yellow", "lime", "green",
	"emerald", "teal", "cyan", "sky", "blue", "indigo",
	"violet", "purple", "fuchsia", "pink", "rose",
}

// FlatHues are hues that never take an intensity suffix.
var FlatHues = []string{"white", "black"}

// Intensities lists the valid intensity steps.
var Intensities = []int{50, 100, 200, 300, 400, 500, 600, 700, 800, 900, 950}

// DefaultIntensity is assumed for "text-<hue>" and "bg-<hue>".
const DefaultIntensity = 500

// FontSizes is the typography size vocabulary used after "text-".
var FontSizes = []string{"xs", "sm", "base", "lg", "xl", "2xl", "3xl", "4xl", "5xl", "6xl", "7xl", "8xl", "9xl"}

// TextAligns is the alignment vocabulary used after "text-".
var TextAligns = []string{"left", "center", "right", "justify", "start", "end"}

// FontWeights is the weight vocabulary used after "font-".
var FontWeights = []string{"normal", "medium", "semibold", "bold"}

// Displays are complete class names.
var Displays = []string{"block", "inline-block", "inline", "flex", "grid", "hidden"}

// FlexDirections are complete class names.
var FlexDirections = []string{"flex-row", "flex-col"}

// Justifies is the vocabulary used after "justify-".
var Justifies = []string{"start", "end", "center", "between", "around", "evenly"}

// Aligns is the vocabulary used after "items-".
var Aligns = []string{"start", "end", "center", "baseline", "stretch"}

// Radii are complete class names. Bare "rounded" is its own value.
var Radii = []string{"rounded", "rounded-none", "rounded-sm", "rounded-md", "rounded-lg", "rounded-xl", "rounded-2xl", "rounded-3xl", "rounded-full"}

// Shadows are complete class names. Bare "shadow" is its own value.
var Shadows = []string{"shadow", "shadow-none", "shadow-sm", "shadow-md", "shadow-lg", "shadow-xl", "shadow-2xl", "shadow-inner"}

// BorderClass is the only border token the editor controls.
const BorderClass = "border"

// SpacingScale lists the numeric spacing steps. Margins additionally accept "auto"
// and both accept bracketed arbitrary values such as "[10px]".
var SpacingScale = []string{
	"0", "px", "0.5", "1", "1.5", "2", "2.5", "3", "3.5", "4", "5", "6", "7", "8", "9", "10",
	"11", "12", "14", "16", "20", "24", "28", "32", "36", "40", "44", "48", "52", "56", "60",
	"64", "72", "80", "96",
}

var (
	hueSet        = toSet(Hues)
	flatHueSet    = toSet(FlatHues)
	fontSizeSet   = toSet(FontSizes)
	textAlignSet  = toSet(TextAligns)
	fontWeightSet = toSet(FontWeights)
	displaySet    = toSet(Displays)
	flexDirSet    = toSet(FlexDirections)
	justifySet    = toSet(Justifies)
	alignSet      = toSet(Aligns)
	radiusSet     = toSet(Radii)
	shadowSet     = toSet(Shadows)
	spacingSet    = toSet(SpacingScale)
	intensitySet  = map[int]struct{}{}
)

func init() {
	for _, i := range Intensities {
		intensitySet[i] = struct{}{}
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func in(set map[string]struct{}, v string) bool {
	_, ok := set[v]
	return ok
}

// isSpacingValue reports whether v is a valid spacing value for padding
// (allowAuto=false) or margin (allowAuto=true).
func isSpacingValue(v string, allowAuto bool) bool {
	if in(spacingSet, v) {
		return true
	}
	if allowAuto && v == "auto" {
		return true
	}
	return len(v) > 2 && strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") &&
		!strings.ContainsAny(v, " \t\r\n\f:")
}

// Split tokenizes a class attribute value. Duplicate tokens are kept.
func Split(attr string) []string {
	return strings.Fields(attr)
}

// Join renders a class list as a class attribute value.
func Join(list []string) string {
	return strings.Join(list, " ")
}
