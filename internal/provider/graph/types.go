// Package graph implements a Provider that sends merged messages through the
// Microsoft Graph sendMail API.
package graph

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/shineum/mailmerge-lite/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	From                   *recipient        `json:"from,omitempty"`
	ToRecipients           []recipient       `json:"toRecipients"`
	CcRecipients           []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient       `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient       `json:"replyTo,omitempty"`
	InternetMessageID      string            `json:"internetMessageId,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// messageHeader is a custom header. Graph only accepts names starting with
// "X-" or "x-".
type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Email into a Graph API sendMail
// request body. sender is the mailbox the request is posted for; a different
// msg.From is sent as a send-as address.
func buildSendMailRequest(sender string, msg *email.Email, saveToSent bool) (*sendMailRequest, error) {
	body := messageBody{
		ContentType: "text",
		Content:     msg.TextBody,
	}
	if msg.HtmlBody != "" {
		body.ContentType = "html"
		body.Content = msg.HtmlBody
	}

	to, err := recipients(msg.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	cc, err := recipients(msg.Cc)
	if err != nil {
		return nil, fmt.Errorf("cc: %w", err)
	}
	bcc, err := recipients(msg.Bcc)
	if err != nil {
		return nil, fmt.Errorf("bcc: %w", err)
	}

	m := sendMailMessage{
		Subject:       msg.Subject,
		Body:          body,
		ToRecipients:  to,
		CcRecipients:  cc,
		BccRecipients: bcc,
	}

	if msg.From != "" {
		from, err := mail.ParseAddress(msg.From)
		if err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
		if !strings.EqualFold(from.Address, sender) || from.Name != "" {
			m.From = &recipient{EmailAddress: emailAddress{Name: from.Name, Address: from.Address}}
		}
	}
	if msg.ReplyTo != "" {
		if m.ReplyTo, err = recipients([]string{msg.ReplyTo}); err != nil {
			return nil, fmt.Errorf("reply-to: %w", err)
		}
	}
	if msg.MessageID != "" {
		m.InternetMessageID = "<" + msg.MessageID + ">"
	}

	for name, value := range msg.Headers {
		if len(name) > 2 && strings.EqualFold(name[:2], "x-") {
			m.InternetMessageHeaders = append(m.InternetMessageHeaders, messageHeader{Name: name, Value: value})
		}
	}
	sort.Slice(m.InternetMessageHeaders, func(i, j int) bool {
		return m.InternetMessageHeaders[i].Name < m.InternetMessageHeaders[j].Name
	})

	for _, att := range msg.Attachments {
		m.Attachments = append(m.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return &sendMailRequest{Message: m, SaveToSentItems: saveToSent}, nil
}

// recipients splits "Name <addr>" strings into Graph recipients.
func recipients(list []string) ([]recipient, error) {
	out := make([]recipient, 0, len(list))
	for _, s := range list {
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", s, err)
		}
		out = append(out, recipient{EmailAddress: emailAddress{Name: addr.Name, Address: addr.Address}})
	}
	return out, nil
}
