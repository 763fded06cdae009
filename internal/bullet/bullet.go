// Package bullet renders the values of a list placeholder as bullet lines.
package bullet

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shineum/mailmerge-lite/internal/markup"
)

// ErrUnknownStyle is returned by Lookup for names outside the catalog.
var ErrUnknownStyle = errors.New("unknown bullet style")

// Style is one entry of the fixed bullet catalog.
type Style struct {
	name    string
	marker  func(i int) string
	pattern *regexp.Regexp
}

// Catalog entries.
var (
	Round = &Style{
		name:    "round",
		marker:  glyph("•"),
		pattern: regexp.MustCompile(`^\s*•\s`),
	}
	Square = &Style{
		name:    "square",
		marker:  glyph("▪"),
		pattern: regexp.MustCompile(`^\s*▪\s`),
	}
	Numbered = &Style{
		name:    "numbered",
		marker:  func(i int) string { return strconv.Itoa(i+1) + "." },
		pattern: regexp.MustCompile(`^\s*[0-9]+\.\s`),
	}
	Lettered = &Style{
		name:    "lettered",
		marker:  func(i int) string { return letters(i) + "." },
		// Two letters cover 702 entries; longer words are prose.
		pattern: regexp.MustCompile(`^\s*[a-z]{1,2}\.\s`),
	}
)

var styles = []*Style{Round, Square, Numbered, Lettered}

func glyph(g string) func(int) string {
	return func(int) string { return g }
}

// letters returns a, b, ... z, aa, ab, ... for i = 0, 1, ...
func letters(i int) string {
	var b []byte
	for i >= 0 {
		b = append([]byte{byte('a' + i%26)}, b...)
		i = i/26 - 1
	}
	return string(b)
}

// Styles returns the catalog in order.
func Styles() []*Style {
	out := make([]*Style, len(styles))
	copy(out, styles)
	return out
}

// Lookup finds a style by name, case-insensitively.
func Lookup(name string) (*Style, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, s := range styles {
		if s.name == n {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStyle, name)
}

// Name returns the catalog name of s.
func (s *Style) Name() string {
	return s.name
}

// Marker returns the bullet for the i-th (zero-based) entry.
func (s *Style) Marker(i int) string {
	return s.marker(i)
}

// LooksLikeBulletLine reports whether line already begins with this style's
// bullet.
func (s *Style) LooksLikeBulletLine(line string) bool {
	return s.pattern.MatchString(line)
}

// Render formats values as one bullet line each, in order. Every entry is
// trimmed and followed by a line break; an empty slice renders "".
func Render(values []string, s *Style) string {
	var b strings.Builder
	br := markup.LineBreak.Open("")

	for i, v := range values {
		b.WriteString(s.marker(i))
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(v))
		b.WriteString(br)
	}

	return b.String()
}

// Detect returns the first style whose bullet begins line.
func Detect(line string) (*Style, bool) {
	for _, s := range styles {
		if s.LooksLikeBulletLine(line) {
			return s, true
		}
	}
	return nil, false
}
