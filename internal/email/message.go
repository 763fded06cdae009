// Package email defines the outgoing envelope handed to delivery providers.
package email

// Email is one outgoing message: a rendered merge group addressed to all of
// its members.
type Email struct {
	From        string
	ReplyTo     string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	Headers     map[string]string
	MessageID   string
}

// Attachment is a file shared by every document of a merge.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Recipients returns every envelope recipient: To, then Cc, then Bcc.
func (e *Email) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	return append(out, e.Bcc...)
}
