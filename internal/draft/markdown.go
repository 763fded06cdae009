package draft

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML header of Markdown and HTML drafts.
type frontMatter struct {
	Subject string            `yaml:"subject"`
	From    string            `yaml:"from"`
	Bullets map[string]string `yaml:"bullets"`
}

var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Table),
	goldmark.WithRendererOptions(html.WithHardWraps(), html.WithUnsafe()),
)

// ParseMarkdown parses a Markdown draft with optional YAML front matter:
//
//	---
//	subject: Weekly report
//	bullets:
//	  Tasks: numbered
//	---
//	Hello <!Name!>, this week:
//
//	<!Tasks(List)!>
func ParseMarkdown(src []byte) (*Draft, error) {
	meta, body, err := splitFrontMatter(src)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyDraft
	}

	protected, restore := protect(string(body))

	var out bytes.Buffer
	if err := md.Convert([]byte(protected), &out); err != nil {
		return nil, fmt.Errorf("failed to convert markdown: %w", err)
	}

	return &Draft{
		Subject: meta.Subject,
		From:    meta.From,
		Markup:  restore(policy().Sanitize(out.String())),
		Bullets: meta.Bullets,
	}, nil
}

// ParseHTML parses an HTML draft with optional YAML front matter.
func ParseHTML(src []byte) (*Draft, error) {
	meta, body, err := splitFrontMatter(src)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyDraft
	}

	return &Draft{
		Subject: meta.Subject,
		From:    meta.From,
		Markup:  sanitize(string(body)),
		Bullets: meta.Bullets,
	}, nil
}

// splitFrontMatter separates a leading "---" delimited YAML block from the
// body. Content without the opening delimiter is all body.
func splitFrontMatter(content []byte) (frontMatter, []byte, error) {
	var meta frontMatter
	delimiter := []byte("---")

	if !bytes.HasPrefix(content, delimiter) {
		return meta, content, nil
	}

	afterFirst := bytes.TrimPrefix(content, delimiter)
	afterFirst = bytes.TrimLeft(afterFirst, "\r\n")

	endIdx := bytes.Index(afterFirst, delimiter)
	if endIdx == -1 {
		return meta, nil, fmt.Errorf("%w: closing delimiter not found", ErrInvalidFrontMatter)
	}

	header := afterFirst[:endIdx]
	body := afterFirst[endIdx+len(delimiter):]
	body = bytes.TrimPrefix(body, []byte("\r"))
	body = bytes.TrimPrefix(body, []byte("\n"))

	if len(bytes.TrimSpace(header)) > 0 {
		if err := yaml.Unmarshal(header, &meta); err != nil {
			return meta, nil, fmt.Errorf("%w: %v", ErrInvalidFrontMatter, err)
		}
	}

	return meta, body, nil
}
