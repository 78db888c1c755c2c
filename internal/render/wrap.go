package render

import (
	"math"
	"strings"
	"unicode"
)

const breakRunes = ",，.。:：;；!！?？、"

func isBreak(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(breakRunes, r)
}

// CharsPerLine is the character budget of a line: width/(fontSize*0.6).
func CharsPerLine(width, fontSize float64) int {
	if fontSize <= 0 {
		return 0
	}
	n := int(math.Floor(width / (fontSize * 0.6)))
	if n < 0 {
		return 0
	}
	return n
}

// Wrap splits text into lines using a character budget rather than glyph
// metrics. When the rest does not fit, it breaks after the last break
// character at or before the budget index; with none, the line takes the
// budget plus one rune. Lengths are counted in runes.
func Wrap(text string, width, fontSize float64) []string {
	cpl := CharsPerLine(width, fontSize)
	rest := []rune(text)
	if len(rest) <= cpl {
		return []string{text}
	}
	var lines []string
	for len(rest) > 0 {
		if len(rest) <= cpl {
			lines = append(lines, string(rest))
			break
		}
		bp := cpl
		for bp > 0 && !isBreak(rest[bp]) {
			bp--
		}
		if bp == 0 {
			bp = cpl
		}
		lines = append(lines, string(rest[:bp+1]))
		rest = rest[bp+1:]
	}
	return lines
}

// WrapMeasured splits text so each line measures at most width, preferring
// to break after a break character. A line always holds at least one rune.
func WrapMeasured(text string, width, fontSize float64, measure func(string, float64) float64) []string {
	rest := []rune(text)
	if measure(text, fontSize) <= width {
		return []string{text}
	}
	var lines []string
	for len(rest) > 0 {
		n := fit(rest, width, fontSize, measure)
		if n == len(rest) {
			lines = append(lines, string(rest))
			break
		}
		bp := n - 1
		for bp > 0 && !isBreak(rest[bp]) {
			bp--
		}
		if bp == 0 {
			bp = n - 1
		}
		lines = append(lines, string(rest[:bp+1]))
		rest = rest[bp+1:]
	}
	return lines
}

// fit returns the longest prefix length of r that measures within width.
func fit(r []rune, width, fontSize float64, measure func(string, float64) float64) int {
	lo, hi := 1, len(r)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if measure(string(r[:mid]), fontSize) <= width {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
