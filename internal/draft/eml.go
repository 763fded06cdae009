package draft

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/shineum/mailmerge-lite/internal/email"
)

// ParseEML parses an RFC 5322 draft, typically saved from a mail client.
// The HTML part becomes the markup; a text-only draft is escaped and its
// line breaks turned into <br>. Attachments are kept for every recipient.
// Unrecognized MIME parts are logged as warnings.
func ParseEML(raw []byte) (*Draft, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &Draft{}

	if subject, err := mr.Header.Subject(); err == nil {
		result.Subject = subject
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		result.From = from[0].String()
	}

	var text, htmlBody string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := h.ContentType()
			content, err := io.ReadAll(part.Body)
			if err != nil {
				slog.Warn("failed to read part content",
					"content_type", mediaType,
					"error", err,
				)
				continue
			}
			switch mediaType {
			case "text/plain", "":
				if text == "" {
					text = string(content)
				}
			case "text/html":
				if htmlBody == "" {
					htmlBody = string(content)
				}
			default:
				slog.Warn("unrecognized MIME part, skipping",
					"content_type", mediaType,
				)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, params, _ := h.ContentType()
			if filename == "" {
				filename = fallbackFilename(contentType, params)
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				slog.Warn("failed to read attachment",
					"filename", filename,
					"error", err,
				)
				continue
			}
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Content:     content,
			})
		}
	}

	switch {
	case htmlBody != "":
		result.Markup = sanitize(htmlBody)
	case text != "":
		result.Markup = textToMarkup(text)
	default:
		return nil, ErrEmptyDraft
	}

	return result, nil
}

// textToMarkup escapes plain text and turns its line breaks into <br>,
// leaving placeholder occurrences untouched.
func textToMarkup(text string) string {
	protected, restore := protect(text)
	escaped := html.EscapeString(protected)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	escaped = strings.ReplaceAll(escaped, "\n", "<br>")
	return restore(escaped)
}

// fallbackFilename names an attachment that carries no filename, checking
// the Content-Type "name" parameter first.
func fallbackFilename(mediaType string, params map[string]string) string {
	if name := params["name"]; name != "" {
		return name
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}
