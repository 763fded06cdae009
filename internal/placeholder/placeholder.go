// Package placeholder defines the identity and textual form of the named
// substitution points in a mail-merge template.
package placeholder

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// StartDelimiter opens a placeholder occurrence.
	StartDelimiter = "<!"
	// EndDelimiter closes a placeholder occurrence.
	EndDelimiter = "!>"
	// ListMarker is appended to the display name of a list placeholder.
	ListMarker = "(List)"
)

// ErrInvalidName is returned when a placeholder name is empty or contains
// reserved delimiter text.
var ErrInvalidName = errors.New("invalid placeholder name")

// occurrencePattern matches any "<!...!>" occurrence in raw markup. The name
// may not span markup brackets, so declarations such as "<!DOCTYPE html>" are
// never mistaken for the start of a placeholder.
var occurrencePattern = regexp.MustCompile(`<!([^<>!\r\n]+)!>`)

// Kind distinguishes a single-value placeholder from a list placeholder.
type Kind uint8

const (
	// Flat placeholders hold exactly one value.
	Flat Kind = iota
	// List placeholders hold an ordered array of values rendered as bullets.
	List
)

func (k Kind) String() string {
	if k == List {
		return "list"
	}
	return "flat"
}

// Placeholder is an immutable named substitution point. Identity is the base
// name only: a flat and a list placeholder sharing a name are equal, so
// switching a placeholder between kinds keeps its value slot.
type Placeholder struct {
	name string
	kind Kind
}

// NewFlat creates a single-value placeholder.
func NewFlat(name string) (Placeholder, error) {
	return newPlaceholder(name, Flat)
}

// NewList creates a list placeholder.
func NewList(name string) (Placeholder, error) {
	return newPlaceholder(name, List)
}

// MustFlat is like NewFlat but panics on an invalid name.
func MustFlat(name string) Placeholder {
	p, err := NewFlat(name)
	if err != nil {
		panic(err)
	}
	return p
}

// MustList is like NewList but panics on an invalid name.
func MustList(name string) Placeholder {
	p, err := NewList(name)
	if err != nil {
		panic(err)
	}
	return p
}

func newPlaceholder(name string, kind Kind) (Placeholder, error) {
	if strings.TrimSpace(name) == "" {
		return Placeholder{}, fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	for _, reserved := range []string{StartDelimiter, EndDelimiter, ListMarker} {
		if strings.Contains(name, reserved) {
			return Placeholder{}, fmt.Errorf("%w: %q contains reserved text %q", ErrInvalidName, name, reserved)
		}
	}
	if strings.ContainsAny(name, "<>!\r\n") {
		return Placeholder{}, fmt.Errorf("%w: %q contains a delimiter character", ErrInvalidName, name)
	}
	return Placeholder{name: name, kind: kind}, nil
}

// Name returns the base name, without the list marker.
func (p Placeholder) Name() string {
	return p.name
}

// Kind reports whether p is flat or list.
func (p Placeholder) Kind() Kind {
	return p.kind
}

// IsList reports whether p is a list placeholder.
func (p Placeholder) IsList() bool {
	return p.kind == List
}

// DisplayName returns the name as written in a template, including the list
// marker for list placeholders.
func (p Placeholder) DisplayName() string {
	if p.kind == List {
		return p.name + ListMarker
	}
	return p.name
}

// String returns the textual form used in template markup.
func (p Placeholder) String() string {
	return StartDelimiter + p.DisplayName() + EndDelimiter
}

// Key returns the canonical map key for p. Two placeholders are Equal
// exactly when their keys are equal.
func (p Placeholder) Key() string {
	return p.name
}

// Equal reports whether p and other share a base name.
func (p Placeholder) Equal(other Placeholder) bool {
	return p.name == other.name
}

// Hash returns a hash of the base name, consistent with Equal.
func (p Placeholder) Hash() uint64 {
	return xxhash.Sum64String(p.name)
}

// Pattern returns the matcher that recognizes placeholder occurrences in raw
// markup. Submatch 1 is the display name.
func Pattern() *regexp.Regexp {
	return occurrencePattern
}

// Parse converts a single occurrence such as "<!Items(List)!>" into a
// placeholder. A bare display name without delimiters is also accepted.
func Parse(token string) (Placeholder, error) {
	display := token
	if m := occurrencePattern.FindStringSubmatch(token); m != nil && m[0] == token {
		display = m[1]
	}
	if base, ok := strings.CutSuffix(display, ListMarker); ok {
		return NewList(base)
	}
	return NewFlat(display)
}

// Scan discovers the ordered placeholder catalog of a template. Each base
// name is reported once, with the kind of its first occurrence.
func Scan(markup string) ([]Placeholder, error) {
	matches := occurrencePattern.FindAllString(markup, -1)
	catalog := make([]Placeholder, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))

	for _, m := range matches {
		p, err := Parse(m)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[p.Key()]; ok {
			continue
		}
		seen[p.Key()] = struct{}{}
		catalog = append(catalog, p)
	}

	return catalog, nil
}

// Index returns the position of p in catalog by identity, or -1.
func Index(catalog []Placeholder, p Placeholder) int {
	for i, c := range catalog {
		if c.Equal(p) {
			return i
		}
	}
	return -1
}
