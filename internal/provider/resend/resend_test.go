package resend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/resend/resend-go/v3"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/provider"
)

// mockEmails implements EmailsAPI for testing.
type mockEmails struct {
	err       error
	callCount int
	lastReq   *resend.SendEmailRequest
}

func (m *mockEmails) SendWithContext(_ context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	m.callCount++
	m.lastReq = params
	if m.err != nil {
		return nil, m.err
	}
	return &resend.SendEmailResponse{Id: "re_123"}, nil
}

func TestSend_BuildsRequest(t *testing.T) {
	t.Parallel()

	mock := &mockEmails{}
	p := NewWithClient(Config{
		SenderEmail: "merge@example.com",
		SenderName:  "Merge Bot",
		Tags:        map[string]string{"campaign": "spring", "env": "test"},
	}, mock)

	msg := &email.Email{
		To:        []string{"Alice <alice@example.com>"},
		Cc:        []string{"bob@example.com"},
		Bcc:       []string{"audit@example.com"},
		ReplyTo:   "support@example.com",
		Subject:   "Results",
		HtmlBody:  "<p>Hi</p>",
		TextBody:  "Hi",
		MessageID: "abc@mailmerge.local",
		Headers:   map[string]string{"X-Merge-Group": "00ff"},
		Attachments: []email.Attachment{
			{Filename: "a.pdf", ContentType: "application/pdf", Content: []byte("pdf")},
		},
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := mock.lastReq
	if req.From != "Merge Bot <merge@example.com>" {
		t.Errorf("From: got %q, want %q", req.From, "Merge Bot <merge@example.com>")
	}
	if diff := cmp.Diff(msg.To, req.To); diff != "" {
		t.Errorf("To mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(msg.Bcc, req.Bcc); diff != "" {
		t.Errorf("Bcc mismatch (-want +got):\n%s", diff)
	}
	wantHeaders := map[string]string{"X-Merge-Group": "00ff", "Message-ID": "<abc@mailmerge.local>"}
	if diff := cmp.Diff(wantHeaders, req.Headers); diff != "" {
		t.Errorf("Headers mismatch (-want +got):\n%s", diff)
	}
	if len(req.Attachments) != 1 || req.Attachments[0].Filename != "a.pdf" {
		t.Errorf("Attachments: got %+v", req.Attachments)
	}
	wantTags := []resend.Tag{{Name: "campaign", Value: "spring"}, {Name: "env", Value: "test"}}
	if diff := cmp.Diff(wantTags, req.Tags); diff != "" {
		t.Errorf("Tags mismatch (-want +got):\n%s", diff)
	}
}

func TestSend_SenderFallback(t *testing.T) {
	t.Parallel()

	mock := &mockEmails{}
	p := NewWithClient(Config{SenderEmail: "merge@example.com"}, mock)

	if err := p.Send(context.Background(), &email.Email{To: []string{"a@example.com"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.lastReq.From != "merge@example.com" {
		t.Errorf("From: got %q, want %q", mock.lastReq.From, "merge@example.com")
	}
	if mock.lastReq.Headers != nil {
		t.Errorf("Headers: got %v, want nil", mock.lastReq.Headers)
	}
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	mock := &mockEmails{err: errors.New("rate limited")}
	p := NewWithClient(Config{SenderEmail: "merge@example.com"}, mock)

	err := p.Send(context.Background(), &email.Email{To: []string{"a@example.com"}})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("got %v, want wrapped API error", err)
	}
}

func TestSend_NoRecipients(t *testing.T) {
	t.Parallel()

	mock := &mockEmails{}
	p := NewWithClient(Config{SenderEmail: "merge@example.com"}, mock)

	if err := p.Send(context.Background(), &email.Email{}); !errors.Is(err, provider.ErrNoRecipients) {
		t.Fatalf("got %v, want ErrNoRecipients", err)
	}
	if mock.callCount != 0 {
		t.Errorf("call count: got %d, want 0", mock.callCount)
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	if got := New(Config{APIKey: "re_test"}).Name(); got != "resend" {
		t.Errorf("Name(): got %q, want %q", got, "resend")
	}
}
