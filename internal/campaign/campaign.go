// Package campaign loads a mail-merge campaign file: the draft to send, the
// shared attachments and the recipients with their roles and values.
package campaign

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shineum/mailmerge-lite/internal/bullet"
	"github.com/shineum/mailmerge-lite/internal/draft"
	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/merge"
	"github.com/shineum/mailmerge-lite/internal/placeholder"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

var (
	// ErrNoTemplate is returned when a campaign names no draft.
	ErrNoTemplate = errors.New("campaign has no template")
	// ErrNoRecipients is returned when a campaign lists no recipients.
	ErrNoRecipients = errors.New("campaign has no recipients")
)

// Campaign is the parsed campaign file.
type Campaign struct {
	Name        string            `yaml:"name"`
	Template    string            `yaml:"template"`
	Subject     string            `yaml:"subject"`
	From        string            `yaml:"from"`
	ReplyTo     string            `yaml:"reply_to"`
	Bullet      string            `yaml:"bullet"`
	Bullets     map[string]string `yaml:"bullets"`
	Attachments []string          `yaml:"attachments"`
	Headers     map[string]string `yaml:"headers"`
	Recipients  []Recipient       `yaml:"recipients"`

	// dir resolves relative template and attachment paths.
	dir string
}

// Recipient is one entry of the campaign's recipient list.
type Recipient struct {
	Address  string            `yaml:"address"`
	Nickname string            `yaml:"nickname"`
	Roles    []string          `yaml:"roles"`
	Values   map[string]Values `yaml:"values"`
}

// Values accepts either a single scalar or a sequence in YAML.
type Values []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = Values{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*v = list
		return nil
	default:
		return fmt.Errorf("line %d: values must be a string or a list of strings", node.Line)
	}
}

// Load reads and validates a campaign file.
func Load(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign file: %w", err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// Parse decodes campaign YAML. Relative paths resolve against the working
// directory.
func Parse(data []byte) (*Campaign, error) {
	c := &Campaign{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse campaign: %w", err)
	}
	if strings.TrimSpace(c.Template) == "" {
		return nil, ErrNoTemplate
	}
	if len(c.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return c, nil
}

// Resolve returns path relative to the campaign file.
func (c *Campaign) Resolve(path string) string {
	if filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// DefaultBullet returns the campaign-wide bullet style, or nil when unset.
func (c *Campaign) DefaultBullet() (*bullet.Style, error) {
	if c.Bullet == "" {
		return nil, nil
	}
	return bullet.Lookup(c.Bullet)
}

// Draft loads the campaign's draft and applies its overrides: subject,
// sender, bullet choices and extra attachments.
func (c *Campaign) Draft() (*draft.Draft, error) {
	d, err := draft.Load(c.Resolve(c.Template))
	if err != nil {
		return nil, err
	}

	if c.Subject != "" {
		d.Subject = c.Subject
	}
	if c.From != "" {
		d.From = c.From
	}
	if len(c.Bullets) > 0 {
		if d.Bullets == nil {
			d.Bullets = make(map[string]string, len(c.Bullets))
		}
		for name, style := range c.Bullets {
			d.Bullets[name] = style
		}
	}

	for _, path := range c.Attachments {
		att, err := loadAttachment(c.Resolve(path))
		if err != nil {
			return nil, err
		}
		d.Attachments = append(d.Attachments, att)
	}

	return d, nil
}

// Build loads the draft and binds every recipient to its template. The
// returned entries follow file order, one per role.
func (c *Campaign) Build() (*merge.Template, []merge.Entry, error) {
	d, err := c.Draft()
	if err != nil {
		return nil, nil, err
	}
	t, err := d.Template()
	if err != nil {
		return nil, nil, err
	}

	entries, err := c.Entries(t)
	if err != nil {
		return nil, nil, err
	}
	return t, entries, nil
}

// Entries turns the recipient list into merge entries bound to t.
func (c *Campaign) Entries(t *merge.Template) ([]merge.Entry, error) {
	entries := make([]merge.Entry, 0, len(c.Recipients))

	for i, rc := range c.Recipients {
		r, err := recipient.New(rc.Address, rc.Nickname)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i+1, err)
		}
		r.AssignTemplate(t.Placeholders)

		for key, values := range rc.Values {
			p, err := placeholder.Parse(key)
			if err != nil {
				return nil, fmt.Errorf("recipient %s: %w", r.Address(), err)
			}
			if err := r.SetValue(p, values); err != nil {
				return nil, fmt.Errorf("recipient %s: %w", r.Address(), err)
			}
		}

		roles := rc.Roles
		if len(roles) == 0 {
			roles = []string{""}
		}
		for _, name := range roles {
			role, err := recipient.ParseRole(name)
			if err != nil {
				return nil, fmt.Errorf("recipient %s: %w", r.Address(), err)
			}
			entries = append(entries, merge.Entry{Recipient: r, Role: role})
		}
	}

	return entries, nil
}

func loadAttachment(path string) (email.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return email.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return email.Attachment{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Content:     content,
	}, nil
}
