// Package markup maps rich-text formatting between HTML markup and the
// inline style declarations used by the editor. The catalog is fixed and
// shared; elements are immutable.
package markup

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Kind selects between elements with and without a parameter.
type Kind uint8

const (
	// Fixed elements carry no value (bold, line break, ...).
	Fixed Kind = iota
	// Parameterized elements carry one value (font family, size, ...).
	Parameterized
)

func (k Kind) String() string {
	if k == Parameterized {
		return "parameterized"
	}
	return "fixed"
}

// Element is one entry of the markup/style table.
type Element struct {
	name string
	kind Kind

	// open and token are literal for Fixed elements and fmt templates with a
	// single %s verb for Parameterized ones.
	open  string
	close string
	token string

	openRe  *regexp.Regexp
	tokenRe *regexp.Regexp
}

func fixed(name, open, close, token string) *Element {
	return &Element{name: name, kind: Fixed, open: open, close: close, token: token}
}

// parameterized builds an element whose detection patterns are derived from
// the templates: the %s verb becomes a capture group. Markup values are
// escaped, so they never contain quotes or brackets; style values never
// contain the ';' that ends a declaration.
func parameterized(name, open, close, token string) *Element {
	return &Element{
		name:    name,
		kind:    Parameterized,
		open:    open,
		close:   close,
		token:   token,
		openRe:  templatePattern(open, `([^"<>]*)`),
		tokenRe: templatePattern(token, `([^;]*)`),
	}
}

func templatePattern(tmpl, capture string) *regexp.Regexp {
	before, after, _ := strings.Cut(tmpl, "%s")
	return regexp.MustCompile(regexp.QuoteMeta(before) + capture + regexp.QuoteMeta(after))
}

// Name returns the element's catalog name.
func (e *Element) Name() string { return e.name }

// Kind reports whether e takes a value.
func (e *Element) Kind() Kind { return e.kind }

// Open returns the opening markup. For Parameterized elements value is
// trimmed and HTML-escaped before substitution; Fixed elements ignore it.
func (e *Element) Open(value string) string {
	if e.kind == Fixed {
		return e.open
	}
	return fmt.Sprintf(e.open, html.EscapeString(strings.TrimSpace(value)))
}

// Close returns the closing markup. Void elements return their open tag.
func (e *Element) Close() string {
	return e.close
}

// StyleToken returns the style declaration for the same property. Fixed
// elements ignore value.
func (e *Element) StyleToken(value string) string {
	if e.kind == Fixed {
		return e.token
	}
	return fmt.Sprintf(e.token, strings.TrimSpace(value))
}

// MatchesStyle reports whether style carries e's property.
func (e *Element) MatchesStyle(style string) bool {
	if e.kind == Fixed {
		return strings.Contains(style, e.token)
	}
	return e.tokenRe.MatchString(style)
}

// StylePrefix returns the style token up to and including its ':' with the
// value stripped, so a caller can find and replace a previous value for the
// same property. Fixed elements return "".
func (e *Element) StylePrefix() string {
	if e.kind == Fixed {
		return ""
	}
	before, _, _ := strings.Cut(e.token, "%s")
	if i := strings.LastIndex(before, ":"); i >= 0 {
		return before[:i+1]
	}
	return before
}

// ParseOpen extracts the value from markup produced by Open. It reports false
// for Fixed elements or when markup does not contain e's opening tag.
func (e *Element) ParseOpen(markup string) (string, bool) {
	if e.kind == Fixed {
		return "", false
	}
	m := e.openRe.FindStringSubmatch(markup)
	if m == nil {
		return "", false
	}
	return html.UnescapeString(m[1]), true
}

// ParseStyle extracts the value of e's property from a style string.
func (e *Element) ParseStyle(style string) (string, bool) {
	if e.kind == Fixed {
		return "", false
	}
	m := e.tokenRe.FindStringSubmatch(style)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ApplyStyle returns style with e's declaration set to value. A previous
// declaration of the same property is replaced instead of stacked. Fixed
// elements are appended once.
func (e *Element) ApplyStyle(style, value string) string {
	token := e.StyleToken(value)
	if e.kind == Fixed {
		if strings.Contains(style, token) {
			return style
		}
		return joinStyle(style, token)
	}
	if loc := e.tokenRe.FindStringIndex(style); loc != nil {
		return style[:loc[0]] + token + style[loc[1]:]
	}
	return joinStyle(style, token)
}

// RemoveStyle returns style without e's declaration.
func (e *Element) RemoveStyle(style string) string {
	var out string
	if e.kind == Fixed {
		out = strings.Replace(style, e.token, "", 1)
	} else {
		out = e.tokenRe.ReplaceAllString(style, "")
	}
	return strings.Join(strings.Fields(out), " ")
}

func joinStyle(style, token string) string {
	style = strings.TrimSpace(style)
	if style == "" {
		return token
	}
	return style + " " + token
}
