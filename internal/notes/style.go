package notes

import "regexp"

// Styling attributes are purely cosmetic; validation is structural
// only. Values come straight from the editor form.
const (
	DefaultBgColor   = "#ffffff"
	DefaultTextColor = "#1a1a2e"
	DefaultFontSize  = 16

	minFontSize = 10
	maxFontSize = 32
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func validColor(value string) bool {
	return colorPattern.MatchString(value)
}

func validFontSize(value int) bool {
	return value >= minFontSize && value <= maxFontSize
}
