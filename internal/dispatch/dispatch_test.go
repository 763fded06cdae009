package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/journal"
	"github.com/shineum/mailmerge-lite/internal/merge"
	"github.com/shineum/mailmerge-lite/internal/placeholder"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockProvider records sent messages and fails for addresses in failFor.
type mockProvider struct {
	mu       sync.Mutex
	sent     []*email.Email
	failFor  map[string]bool
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (m *mockProvider) Send(ctx context.Context, msg *email.Email) error {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, to := range msg.Recipients() {
		if m.failFor[to] {
			return fmt.Errorf("mailbox unavailable: %s", to)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fixture merges n recipients into groups of two sharing a Name value.
func fixture(t *testing.T, n int) (*merge.Template, []merge.Group) {
	t.Helper()

	tmpl, err := merge.NewTemplate("Hello", "<p>Hi <!Name!></p>")
	if err != nil {
		t.Fatalf("NewTemplate: %v", err)
	}

	var entries []merge.Entry
	for i := 0; i < n; i++ {
		r, err := recipient.New(fmt.Sprintf("user%d@example.com", i), "")
		if err != nil {
			t.Fatalf("recipient.New: %v", err)
		}
		r.AssignTemplate(tmpl.Placeholders)
		if err := r.SetValue(placeholder.MustFlat("Name"), []string{fmt.Sprintf("team %d", i/2)}); err != nil {
			t.Fatalf("SetValue: %v", err)
		}
		entries = append(entries, merge.Entry{Recipient: r, Role: recipient.To})
	}

	groups, err := merge.New(merge.Config{}).Merge(tmpl, entries)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	return tmpl, groups
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	ctx := context.Background()
	j, err := journal.Open(ctx, "")
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	if err := j.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return j
}

func TestEnvelope(t *testing.T) {
	t.Parallel()

	tmpl, err := merge.NewTemplate("Report", "<p>Dear <!Name!></p>")
	if err != nil {
		t.Fatalf("NewTemplate: %v", err)
	}
	tmpl.Attachments = []email.Attachment{{Filename: "a.txt", ContentType: "text/plain", Content: []byte("a")}}

	newRecipient := func(addr, nick string) *recipient.Recipient {
		r, err := recipient.New(addr, nick)
		if err != nil {
			t.Fatalf("recipient.New: %v", err)
		}
		r.AssignTemplate(tmpl.Placeholders)
		if err := r.SetValue(placeholder.MustFlat("Name"), []string{"Ops"}); err != nil {
			t.Fatalf("SetValue: %v", err)
		}
		return r
	}
	alice := newRecipient("alice@example.com", "Smith, Alice")
	bob := newRecipient("bob@example.com", "")

	groups, err := merge.New(merge.Config{}).Merge(tmpl, []merge.Entry{
		{Recipient: alice, Role: recipient.To},
		{Recipient: bob, Role: recipient.Cc},
		{Recipient: bob, Role: recipient.Bcc},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	d := New(Config{Provider: &mockProvider{}, MessageIDDomain: "example.org"})
	msg := d.Envelope(tmpl, &groups[0], Options{
		From:    "news@example.com",
		ReplyTo: "help@example.com",
		Headers: map[string]string{"X-Campaign": "q3"},
	})

	if diff := cmp.Diff([]string{`"Smith, Alice" <alice@example.com>`}, msg.To); diff != "" {
		t.Errorf("To mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bob@example.com"}, msg.Cc); diff != "" {
		t.Errorf("Cc mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bob@example.com"}, msg.Bcc); diff != "" {
		t.Errorf("Bcc mismatch (-want +got):\n%s", diff)
	}
	if msg.Subject != "Report" || msg.HtmlBody != "<p>Dear Ops</p>" || msg.TextBody != "Dear Ops" {
		t.Errorf("content: subject %q html %q text %q", msg.Subject, msg.HtmlBody, msg.TextBody)
	}
	if msg.From != "news@example.com" || msg.ReplyTo != "help@example.com" {
		t.Errorf("sender: from %q reply-to %q", msg.From, msg.ReplyTo)
	}
	wantHeaders := map[string]string{"X-Campaign": "q3", GroupHeader: groups[0].Fingerprint.String()}
	if diff := cmp.Diff(wantHeaders, msg.Headers); diff != "" {
		t.Errorf("Headers mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasSuffix(msg.MessageID, "@example.org") {
		t.Errorf("MessageID: got %q", msg.MessageID)
	}
	if len(msg.Attachments) != 1 {
		t.Errorf("Attachments: got %d, want 1", len(msg.Attachments))
	}

	other := d.Envelope(tmpl, &groups[0], Options{})
	if other.MessageID == msg.MessageID {
		t.Error("Message-IDs must be unique per envelope")
	}
}

func TestDispatch_SendsOneMessagePerGroup(t *testing.T) {
	t.Parallel()

	tmpl, groups := fixture(t, 6)
	p := &mockProvider{}
	j := openJournal(t)

	report, err := New(Config{Provider: p, Journal: j}).Dispatch(context.Background(), tmpl, groups, Options{Campaign: "weekly"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if report.Sent != 3 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("report: sent %d failed %d skipped %d", report.Sent, report.Failed, report.Skipped)
	}
	if got := p.count(); got != 3 {
		t.Errorf("provider calls: got %d, want 3", got)
	}
	for i, r := range report.Results {
		if r.Fingerprint != groups[i].Fingerprint {
			t.Errorf("result %d out of group order", i)
		}
	}

	runs, err := j.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID || runs[0].Sent != 3 || !runs[0].Finished() {
		t.Errorf("journal run: %+v", runs)
	}
	deliveries, err := j.Deliveries(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("Deliveries: %v", err)
	}
	if len(deliveries) != 3 {
		t.Fatalf("deliveries: got %d, want 3", len(deliveries))
	}
	for _, d := range deliveries {
		if d.Status != journal.StatusSent || len(d.Recipients) != 2 {
			t.Errorf("delivery: %+v", d)
		}
	}
}

func TestDispatch_PartialFailure(t *testing.T) {
	t.Parallel()

	tmpl, groups := fixture(t, 4)
	p := &mockProvider{failFor: map[string]bool{"user3@example.com": true}}
	j := openJournal(t)

	report, err := New(Config{Provider: p, Journal: j}).Dispatch(context.Background(), tmpl, groups, Options{})
	if !errors.Is(err, ErrPartialFailure) {
		t.Fatalf("got %v, want ErrPartialFailure", err)
	}
	if report == nil || report.Sent != 1 || report.Failed != 1 {
		t.Fatalf("report: %+v", report)
	}
	if report.Results[1].Err == nil || report.Results[0].Err != nil {
		t.Errorf("failure attributed to wrong group: %+v", report.Results)
	}

	deliveries, err := j.Deliveries(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("Deliveries: %v", err)
	}
	var failed []journal.Delivery
	for _, d := range deliveries {
		if d.Status == journal.StatusFailed {
			failed = append(failed, d)
		}
	}
	if len(failed) != 1 || !strings.Contains(failed[0].Error, "user3@example.com") {
		t.Errorf("failed deliveries: %+v", failed)
	}
}

func TestDispatch_DryRun(t *testing.T) {
	t.Parallel()

	tmpl, groups := fixture(t, 4)
	j := openJournal(t)

	report, err := New(Config{Journal: j}).Dispatch(context.Background(), tmpl, groups, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Skipped != 2 || report.Sent != 0 {
		t.Errorf("report: %+v", report)
	}

	runs, _ := j.ListRuns(context.Background(), 0)
	if len(runs) != 1 || !runs[0].DryRun || runs[0].Provider != "none" {
		t.Errorf("journal run: %+v", runs)
	}
	deliveries, _ := j.Deliveries(context.Background(), report.RunID)
	for _, d := range deliveries {
		if d.Status != journal.StatusDryRun {
			t.Errorf("status: got %q, want %q", d.Status, journal.StatusDryRun)
		}
	}
}

func TestDispatch_NoProvider(t *testing.T) {
	t.Parallel()

	tmpl, groups := fixture(t, 2)
	if _, err := New(Config{}).Dispatch(context.Background(), tmpl, groups, Options{}); err == nil {
		t.Fatal("expected error without provider")
	}
}

func TestDispatch_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	tmpl, groups := fixture(t, 20)
	p := &mockProvider{delay: 10 * time.Millisecond}

	report, err := New(Config{Provider: p, Concurrency: 2}).Dispatch(context.Background(), tmpl, groups, Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Sent != 10 {
		t.Errorf("sent: got %d, want 10", report.Sent)
	}
	if got := p.maxSeen.Load(); got > 2 {
		t.Errorf("max in-flight sends: got %d, want <= 2", got)
	}
}

func TestDispatch_CancelledContext(t *testing.T) {
	t.Parallel()

	tmpl, groups := fixture(t, 4)
	p := &mockProvider{delay: time.Second}
	j := openJournal(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(Config{Provider: p, Journal: j}).Dispatch(ctx, tmpl, groups, Options{})
	if !errors.Is(err, ErrPartialFailure) {
		t.Fatalf("got %v, want ErrPartialFailure", err)
	}
	if report.Failed != 2 {
		t.Errorf("failed: got %d, want 2", report.Failed)
	}

	runs, _ := j.ListRuns(context.Background(), 0)
	if len(runs) != 1 || !runs[0].Finished() || runs[0].Failed != 2 {
		t.Errorf("run should be finished with failures recorded: %+v", runs)
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "paragraphs", in: "<p>Hello</p><p>World</p>", want: "Hello\nWorld"},
		{name: "bullets", in: "• a<br>• b<br>", want: "• a\n• b"},
		{name: "entities", in: "<b>Tom &amp; Jerry</b>", want: "Tom & Jerry"},
		{name: "blank runs", in: "a<br><br><br><br>b", want: "a\n\nb"},
		{name: "self-closing", in: "x<br/>y<BR />z", want: "x\ny\nz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PlainText(tt.in); got != tt.want {
				t.Errorf("PlainText(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
