package email

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// ParseAddresses parses formatted addresses ("Name <addr>" or "addr").
func ParseAddresses(list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("failed to parse address %q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// Compose builds the RFC 5322 form of msg: a multipart/mixed message with a
// text/html alternative part and one part per attachment. Bcc recipients
// are left out of the headers. An empty msg.From falls back to from.
func Compose(from string, msg *Email) ([]byte, error) {
	sender := msg.From
	if sender == "" {
		sender = from
	}
	fromAddr, err := mail.ParseAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sender %q: %w", sender, err)
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{fromAddr})
	h.SetSubject(msg.Subject)
	if msg.MessageID != "" {
		h.SetMessageID(msg.MessageID)
	}

	for key, list := range map[string][]string{"To": msg.To, "Cc": msg.Cc} {
		if len(list) == 0 {
			continue
		}
		addrs, err := ParseAddresses(list)
		if err != nil {
			return nil, err
		}
		h.SetAddressList(key, addrs)
	}
	if msg.ReplyTo != "" {
		addrs, err := ParseAddresses([]string{msg.ReplyTo})
		if err != nil {
			return nil, err
		}
		h.SetAddressList("Reply-To", addrs)
	}
	for key, value := range msg.Headers {
		h.Set(key, value)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	if err := writeBody(mw, msg); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(att.ContentType, nil)
		ah.SetFilename(att.Filename)

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := w.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment %s: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

// writeBody writes the text and HTML alternatives, skipping empty ones.
func writeBody(mw *mail.Writer, msg *Email) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}

	parts := []struct{ mediaType, body string }{
		{"text/plain", msg.TextBody},
		{"text/html", msg.HtmlBody},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		var ih mail.InlineHeader
		ih.SetContentType(p.mediaType, map[string]string{"charset": "utf-8"})
		w, err := iw.CreatePart(ih)
		if err != nil {
			return fmt.Errorf("failed to create %s part: %w", p.mediaType, err)
		}
		if _, err := io.WriteString(w, p.body); err != nil {
			return fmt.Errorf("failed to write %s part: %w", p.mediaType, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to close %s part: %w", p.mediaType, err)
		}
	}

	return iw.Close()
}
