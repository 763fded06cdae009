// Package merge partitions recipients into groups that need byte-identical
// output and renders one document per group.
package merge

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/shineum/mailmerge-lite/internal/bullet"
	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

// Config configures an Engine.
type Config struct {
	// DefaultBullet renders list placeholders without a per-template style.
	// Defaults to bullet.Round.
	DefaultBullet *bullet.Style
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine validates, groups and renders. It holds no per-merge state and may
// be shared; the recipients passed to one Merge call must not be mutated
// until it returns.
type Engine struct {
	bullet *bullet.Style
	logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.DefaultBullet == nil {
		cfg.DefaultBullet = bullet.Round
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{bullet: cfg.DefaultBullet, logger: cfg.Logger}
}

// Entry addresses one recipient through one role. A recipient may appear in
// several entries with different roles.
type Entry struct {
	Recipient *recipient.Recipient
	Role      recipient.Role
}

// Member is one distinct recipient of a group with every role it is
// addressed through.
type Member struct {
	Recipient *recipient.Recipient
	Roles     []recipient.Role
}

// Group is a set of recipients sharing identical placeholder values and the
// single document rendered for them.
type Group struct {
	Fingerprint recipient.Fingerprint
	Members     []Member
	Document    string
	Attachments []email.Attachment
}

// Recipients returns the members addressed through role, in member order.
func (g *Group) Recipients(role recipient.Role) []*recipient.Recipient {
	var out []*recipient.Recipient
	for _, m := range g.Members {
		if slices.Contains(m.Roles, role) {
			out = append(out, m.Recipient)
		}
	}
	return out
}

// Merge validates every entry, partitions the recipients by content and
// renders one document per group, in order of discovery. It is all or
// nothing: on error no group is returned.
func (e *Engine) Merge(t *Template, entries []Entry) ([]Group, error) {
	if err := e.validate(t, entries); err != nil {
		return nil, err
	}

	groups, err := e.group(entries)
	if err != nil {
		return nil, err
	}

	segments, err := t.compile()
	if err != nil {
		return nil, err
	}

	for i := range groups {
		groups[i].Document = e.render(t, segments, groups[i].Members[0].Recipient)
		groups[i].Attachments = t.Attachments
	}

	e.logger.Debug("merge complete",
		"entries", len(entries),
		"groups", len(groups),
		"placeholders", len(t.Placeholders),
	)

	return groups, nil
}

// Render validates a single recipient and renders its document.
func (e *Engine) Render(t *Template, r *recipient.Recipient) (string, error) {
	if err := e.validate(t, []Entry{{Recipient: r}}); err != nil {
		return "", err
	}
	segments, err := t.compile()
	if err != nil {
		return "", err
	}
	return e.render(t, segments, r), nil
}

// validate reports the first empty value in entry order, then catalog order.
// A placeholder the recipient has no slot for counts as empty.
func (e *Engine) validate(t *Template, entries []Entry) error {
	for i, en := range entries {
		if en.Recipient == nil {
			return fmt.Errorf("merge: entry %d has no recipient", i)
		}
		for _, p := range t.Placeholders {
			values, ok := en.Recipient.Value(p)
			if !ok {
				return &EmptyValueError{Address: en.Recipient.Address(), Placeholder: p}
			}
			for j, v := range values {
				if v == "" {
					return &EmptyValueError{Address: en.Recipient.Address(), Placeholder: p, Index: j}
				}
			}
		}
	}
	return nil
}

// group partitions entries by fingerprint. Each address lands in exactly one
// group; a repeated address only contributes its role. Recipients whose
// fingerprints collide without equal values get separate groups.
func (e *Engine) group(entries []Entry) ([]Group, error) {
	type ref struct{ group, member int }

	var groups []Group
	buckets := make(map[recipient.Fingerprint][]int)
	byAddress := make(map[string]ref)

	for _, en := range entries {
		r := en.Recipient

		if at, ok := byAddress[r.Address()]; ok {
			m := &groups[at.group].Members[at.member]
			if m.Recipient != r && !m.Recipient.SameValues(r) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateRecipient, r.Address())
			}
			if !slices.Contains(m.Roles, en.Role) {
				m.Roles = append(m.Roles, en.Role)
			}
			continue
		}

		fp := r.Fingerprint()
		gi := -1
		for _, candidate := range buckets[fp] {
			if groups[candidate].Members[0].Recipient.SameValues(r) {
				gi = candidate
				break
			}
		}
		if gi < 0 {
			if len(buckets[fp]) > 0 {
				e.logger.Warn("fingerprint collision, splitting group", "fingerprint", fp.String())
			}
			gi = len(groups)
			groups = append(groups, Group{Fingerprint: fp})
			buckets[fp] = append(buckets[fp], gi)
		}

		groups[gi].Members = append(groups[gi].Members, Member{Recipient: r, Roles: []recipient.Role{en.Role}})
		byAddress[r.Address()] = ref{group: gi, member: len(groups[gi].Members) - 1}
	}

	return groups, nil
}

func (e *Engine) render(t *Template, segments []segment, r *recipient.Recipient) string {
	var b strings.Builder
	b.Grow(len(t.Markup))

	for _, s := range segments {
		if s.ref < 0 {
			b.WriteString(s.text)
			continue
		}

		p := t.Placeholders[s.ref]
		values, _ := r.Value(p)
		if p.IsList() {
			b.WriteString(bullet.Render(values, t.Bullet(p, e.bullet)))
		} else if len(values) > 0 {
			b.WriteString(values[0])
		}
	}

	return b.String()
}
