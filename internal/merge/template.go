package merge

import (
	"fmt"
	"strings"

	"github.com/shineum/mailmerge-lite/internal/bullet"
	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/placeholder"
)

// Template is the raw markup of a message plus its ordered placeholder
// catalog and the attachments shared by every rendered document.
type Template struct {
	Subject string
	// From is the sender the template was authored with, if any. Callers
	// fall back to their own default when it is empty.
	From         string
	Markup       string
	Placeholders []placeholder.Placeholder
	Attachments  []email.Attachment

	// bullets holds the style chosen for each list placeholder, by key.
	bullets map[string]*bullet.Style
}

// NewTemplate builds a template whose catalog is discovered from markup.
func NewTemplate(subject, markup string) (*Template, error) {
	catalog, err := placeholder.Scan(markup)
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	return &Template{
		Subject:      subject,
		Markup:       markup,
		Placeholders: catalog,
	}, nil
}

// Placeholder returns the catalog entry sharing p's identity.
func (t *Template) Placeholder(p placeholder.Placeholder) (placeholder.Placeholder, bool) {
	if i := placeholder.Index(t.Placeholders, p); i >= 0 {
		return t.Placeholders[i], true
	}
	return placeholder.Placeholder{}, false
}

// SetBullet selects the bullet style used to render list placeholder p.
// The catalog entry sharing p's identity must be a list.
func (t *Template) SetBullet(p placeholder.Placeholder, s *bullet.Style) error {
	entry, ok := t.Placeholder(p)
	if !ok {
		return &UnknownTagError{Tag: p.String()}
	}
	if !entry.IsList() {
		return fmt.Errorf("%w: %s", ErrNotList, entry)
	}
	if t.bullets == nil {
		t.bullets = make(map[string]*bullet.Style)
	}
	t.bullets[p.Key()] = s
	return nil
}

// Bullet returns the style selected for p, or fallback.
func (t *Template) Bullet(p placeholder.Placeholder, fallback *bullet.Style) *bullet.Style {
	if s, ok := t.bullets[p.Key()]; ok && s != nil {
		return s
	}
	return fallback
}

// segment is either literal text or a reference into the catalog.
type segment struct {
	text string
	ref  int
}

// compile splits markup into literal text and catalog references. Every
// occurrence must resolve against the catalog.
func (t *Template) compile() ([]segment, error) {
	pattern := placeholder.Pattern()
	locs := pattern.FindAllStringIndex(t.Markup, -1)
	segments := make([]segment, 0, 2*len(locs)+1)

	last := 0
	for _, loc := range locs {
		if loc[0] > last {
			segments = append(segments, segment{text: t.Markup[last:loc[0]], ref: -1})
		}

		tag := t.Markup[loc[0]:loc[1]]
		p, err := placeholder.Parse(tag)
		if err != nil {
			return nil, &UnknownTagError{Tag: tag}
		}
		i := placeholder.Index(t.Placeholders, p)
		if i < 0 {
			return nil, &UnknownTagError{Tag: tag}
		}

		segments = append(segments, segment{ref: i})
		last = loc[1]
	}
	if last < len(t.Markup) {
		segments = append(segments, segment{text: t.Markup[last:], ref: -1})
	}

	return segments, nil
}

// Unresolved returns every distinct placeholder occurrence in the markup that
// is missing from the catalog.
func (t *Template) Unresolved() (missing []string) {
	seen := make(map[string]struct{})
	for _, tag := range placeholder.Pattern().FindAllString(t.Markup, -1) {
		p, err := placeholder.Parse(tag)
		if err == nil && placeholder.Index(t.Placeholders, p) >= 0 {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		missing = append(missing, tag)
	}
	return missing
}

func (t *Template) String() string {
	names := make([]string, len(t.Placeholders))
	for i, p := range t.Placeholders {
		names[i] = p.String()
	}
	return fmt.Sprintf("template %q [%s]", t.Subject, strings.Join(names, ", "))
}
