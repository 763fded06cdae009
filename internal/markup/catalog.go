package markup

import (
	"slices"
	"strings"
)

// Catalog entries.
var (
	Bold          = fixed("bold", "<b>", "</b>", "font-weight: bold;")
	Italic        = fixed("italic", "<i>", "</i>", "font-style: italic;")
	Strikethrough = fixed("strikethrough", "<s>", "</s>", "text-decoration: line-through;")
	Underline     = fixed("underline", "<u>", "</u>", "text-decoration: underline;")
	LineBreak     = fixed("line-break", "<br>", "<br>", "\n")

	FontFamily  = parameterized("font-family", `<span style="font-family: %s;">`, "</span>", "font-family: '%s';")
	FontSize    = parameterized("font-size", `<span style="font-size: %spt;">`, "</span>", "font-size: %spt;")
	Subscript   = parameterized("subscript", `<sub style="font-size: %s;">`, "</sub>", "-rt-subscript: %s;")
	Superscript = parameterized("superscript", `<sup style="font-size: %s;">`, "</sup>", "-rt-superscript: %s;")
)

var catalog = []*Element{
	Bold, Italic, Strikethrough, Underline, LineBreak,
	FontFamily, FontSize, Subscript, Superscript,
}

// Catalog returns every element in table order.
func Catalog() []*Element {
	out := make([]*Element, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds an element by name.
func Lookup(name string) (*Element, bool) {
	for _, e := range catalog {
		if e.name == name {
			return e, true
		}
	}
	return nil, false
}

// StyleForMarkup translates one opening tag into the style declaration of
// the element it opens.
func StyleForMarkup(openTag string) (*Element, string, bool) {
	tag := strings.TrimSpace(openTag)
	for _, e := range catalog {
		if e.kind == Fixed {
			if tag == e.open {
				return e, e.token, true
			}
			continue
		}
		if v, ok := e.ParseOpen(tag); ok {
			return e, e.StyleToken(v), true
		}
	}
	return nil, "", false
}

// MarkupForStyle translates a style string into the markup that wraps a run
// carrying it: the opening tags in catalog order and the closing tags in
// reverse. Line breaks are not part of a run's style and are skipped.
func MarkupForStyle(style string) (open, close string) {
	var opens, closes []string

	for _, e := range catalog {
		if e == LineBreak || !e.MatchesStyle(style) {
			continue
		}
		if e.kind == Fixed {
			opens = append(opens, e.open)
		} else {
			v, _ := e.ParseStyle(style)
			opens = append(opens, e.Open(v))
		}
		closes = append(closes, e.close)
	}

	slices.Reverse(closes)

	return strings.Join(opens, ""), strings.Join(closes, "")
}
