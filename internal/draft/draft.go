// Package draft loads message templates from .eml, Markdown and HTML files.
// Every loader keeps placeholder occurrences byte-for-byte so the merge
// engine can resolve them.
package draft

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/shineum/mailmerge-lite/internal/bullet"
	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/merge"
	"github.com/shineum/mailmerge-lite/internal/placeholder"
)

var (
	// ErrUnsupportedFormat is returned by Load for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported draft format")
	// ErrInvalidFrontMatter is returned for malformed YAML front matter.
	ErrInvalidFrontMatter = errors.New("invalid front matter")
	// ErrEmptyDraft is returned when a draft has no body.
	ErrEmptyDraft = errors.New("draft has no body")
)

// Draft is a loaded template before it is bound to recipients.
type Draft struct {
	Subject     string
	From        string
	Markup      string
	Attachments []email.Attachment
	// Bullets maps placeholder names to bullet style names.
	Bullets map[string]string
}

// Load reads path and parses it by extension: .eml, .md/.markdown or
// .html/.htm.
func Load(path string) (*Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read draft: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".eml":
		return ParseEML(data)
	case ".md", ".markdown":
		return ParseMarkdown(data)
	case ".html", ".htm":
		return ParseHTML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Template builds a merge template from the draft and applies its bullet
// choices.
func (d *Draft) Template() (*merge.Template, error) {
	t, err := merge.NewTemplate(d.Subject, d.Markup)
	if err != nil {
		return nil, err
	}
	t.Attachments = d.Attachments
	t.From = d.From

	for name, styleName := range d.Bullets {
		style, err := bullet.Lookup(styleName)
		if err != nil {
			return nil, fmt.Errorf("bullet for %s: %w", name, err)
		}
		p, err := placeholder.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("bullet for %s: %w", name, err)
		}
		if err := t.SetBullet(p, style); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// styleValue admits the declarations produced by the markup catalog.
var styleValue = regexp.MustCompile(`^[a-zA-Z0-9 #%'".,:;_-]*$`)

// policy keeps the formatting the markup catalog produces and drops
// anything executable.
func policy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("b", "i", "s", "u", "br", "span", "sub", "sup", "font")
	p.AllowAttrs("style").Matching(styleValue).OnElements("span", "sub", "sup", "p", "div", "td")
	return p
}

// escapedOccurrence matches a placeholder typed into a rich-text editor,
// which stores the delimiters as entities.
var escapedOccurrence = regexp.MustCompile(`&lt;!([^<>!\r\n]+?)!&gt;`)

// sanitize runs html through the draft policy without disturbing
// placeholder occurrences.
func sanitize(html string) string {
	html = escapedOccurrence.ReplaceAllString(html, "<!$1!>")
	protected, restore := protect(html)
	return restore(policy().Sanitize(protected))
}

// protect swaps placeholder occurrences for inert alphanumeric tokens that
// survive Markdown conversion and sanitizing. The returned function puts
// the occurrences back.
func protect(src string) (string, func(string) string) {
	prefix := "mmph"
	for strings.Contains(src, prefix) {
		prefix += "x"
	}

	var originals []string
	out := placeholder.Pattern().ReplaceAllStringFunc(src, func(tag string) string {
		originals = append(originals, tag)
		return fmt.Sprintf("%s%dz", prefix, len(originals)-1)
	})

	restore := func(s string) string {
		if len(originals) == 0 {
			return s
		}
		pairs := make([]string, 0, 2*len(originals))
		for i, tag := range originals {
			pairs = append(pairs, fmt.Sprintf("%s%dz", prefix, i), tag)
		}
		return strings.NewReplacer(pairs...).Replace(s)
	}
	return out, restore
}
