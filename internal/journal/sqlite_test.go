package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openJournal(t *testing.T, path string) *Journal {
	t.Helper()

	ctx := context.Background()
	j, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	if err := j.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return j
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openJournal(t, "")

	started := time.UnixMilli(1_700_000_000_000)
	run := Run{ID: "run-1", Campaign: "weekly", Provider: "smtp", Groups: 2, StartedAt: started}
	if err := j.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	runs, err := j.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Finished() {
		t.Fatalf("expected one unfinished run, got %+v", runs)
	}

	finished := started.Add(3 * time.Second)
	if err := j.FinishRun(ctx, "run-1", 1, 1, finished); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err = j.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	want := Run{
		ID: "run-1", Campaign: "weekly", Provider: "smtp", Groups: 2,
		Sent: 1, Failed: 1, StartedAt: started, FinishedAt: finished,
	}
	if diff := cmp.Diff([]Run{want}, runs); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}
}

func TestFinishRun_Unknown(t *testing.T) {
	t.Parallel()

	j := openJournal(t, "")
	err := j.FinishRun(context.Background(), "missing", 0, 0, time.Now())
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("got %v, want ErrRunNotFound", err)
	}
}

func TestDeliveries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openJournal(t, "")

	at := time.UnixMilli(1_700_000_000_000)
	if err := j.StartRun(ctx, Run{ID: "run-1", Campaign: "c", Provider: "stdout", DryRun: true, StartedAt: at}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	in := []Delivery{
		{
			RunID: "run-1", Fingerprint: "00000000000000aa", MessageID: "m1@x", Status: StatusSent, CreatedAt: at,
			Recipients: []Recipient{{Address: "a@example.com", Role: "to"}, {Address: "b@example.com", Role: "cc"}},
		},
		{
			RunID: "run-1", Fingerprint: "00000000000000bb", MessageID: "m2@x", Status: StatusFailed,
			Error: "550 mailbox unavailable", CreatedAt: at,
		},
	}
	for i := range in {
		id, err := j.RecordDelivery(ctx, in[i])
		if err != nil {
			t.Fatalf("RecordDelivery: %v", err)
		}
		in[i].ID = id
	}

	got, err := j.Deliveries(ctx, "run-1")
	if err != nil {
		t.Fatalf("Deliveries: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}

	none, err := j.Deliveries(ctx, "other")
	if err != nil || len(none) != 0 {
		t.Errorf("unknown run: got %v (%v), want empty", none, err)
	}

	runs, _ := j.ListRuns(ctx, 1)
	if len(runs) != 1 || !runs[0].DryRun {
		t.Errorf("DryRun flag not persisted: %+v", runs)
	}
}

func TestRecordDelivery_RequiresRun(t *testing.T) {
	t.Parallel()

	j := openJournal(t, "")
	_, err := j.RecordDelivery(context.Background(), Delivery{RunID: "nope", Status: StatusSent, CreatedAt: time.Now()})
	if err == nil {
		t.Fatal("expected foreign key violation for unknown run")
	}
}

func TestListRuns_NewestFirstAndLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openJournal(t, "")

	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range []string{"a", "b", "c"} {
		if err := j.StartRun(ctx, Run{ID: id, Campaign: "c", Provider: "p", StartedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("StartRun %s: %v", id, err)
		}
	}

	runs, err := j.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"c", "b"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen_FilePersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := j.StartRun(ctx, Run{ID: "kept", Campaign: "c", Provider: "p", StartedAt: time.Now()}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openJournal(t, path)
	runs, err := reopened.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "kept" {
		t.Errorf("runs after reopen: %+v", runs)
	}
}
