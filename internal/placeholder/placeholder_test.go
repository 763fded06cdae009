package placeholder

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlatAndListShareIdentity(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"Name", "Items", "first name", "Ünïcode", "x"} {
		flat := MustFlat(name)
		list := MustList(name)

		if !flat.Equal(list) || !list.Equal(flat) {
			t.Errorf("%q: flat and list should be equal", name)
		}
		if flat.Hash() != list.Hash() {
			t.Errorf("%q: hash mismatch: %d vs %d", name, flat.Hash(), list.Hash())
		}
		if flat.Key() != list.Key() {
			t.Errorf("%q: key mismatch: %q vs %q", name, flat.Key(), list.Key())
		}
	}
}

func TestEqualIsCaseSensitive(t *testing.T) {
	t.Parallel()

	if MustFlat("Name").Equal(MustFlat("name")) {
		t.Error("expected case-sensitive comparison")
	}
}

func TestTextualForm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		p       Placeholder
		display string
		text    string
	}{
		{MustFlat("Name"), "Name", "<!Name!>"},
		{MustList("Items"), "Items(List)", "<!Items(List)!>"},
	}

	for _, tt := range tests {
		if got := tt.p.DisplayName(); got != tt.display {
			t.Errorf("DisplayName(): got %q, want %q", got, tt.display)
		}
		if got := tt.p.String(); got != tt.text {
			t.Errorf("String(): got %q, want %q", got, tt.text)
		}
		if got := tt.p.Name(); got != "Name" && got != "Items" {
			t.Errorf("Name(): got %q, want base name", got)
		}
	}
}

func TestInvalidNames(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "   ", "a<!b", "a!>b", "Items(List)", "a>b", "wow!", "two\nlines"} {
		if _, err := NewFlat(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("NewFlat(%q): got %v, want ErrInvalidName", name, err)
		}
		if _, err := NewList(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("NewList(%q): got %v, want ErrInvalidName", name, err)
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token string
		name  string
		kind  Kind
	}{
		{"<!Name!>", "Name", Flat},
		{"<!Items(List)!>", "Items", List},
		{"Name", "Name", Flat},
		{"Items(List)", "Items", List},
	}

	for _, tt := range tests {
		p, err := Parse(tt.token)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", tt.token, err)
		}
		if p.Name() != tt.name || p.Kind() != tt.kind {
			t.Errorf("Parse(%q): got (%q, %s), want (%q, %s)", tt.token, p.Name(), p.Kind(), tt.name, tt.kind)
		}
	}

	if _, err := Parse("<!(List)!>"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Parse of bare marker: got %v, want ErrInvalidName", err)
	}
}

func TestScan(t *testing.T) {
	t.Parallel()

	markup := `<!DOCTYPE html><p>Hi <!Name!>, items:<!Items(List)!></p><p>Bye <!Name!> <!Items!></p>`

	got, err := Scan(markup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"<!Name!>", "<!Items(List)!>"}
	var gotText []string
	for _, p := range got {
		gotText = append(gotText, p.String())
	}
	if diff := cmp.Diff(want, gotText); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}
}

func TestScan_NoPlaceholders(t *testing.T) {
	t.Parallel()

	got, err := Scan("<p>plain</p><!-- comment -->")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d placeholders, want 0", len(got))
	}
}

func TestScan_BlankName(t *testing.T) {
	t.Parallel()

	if _, err := Scan("Hello <!  !>"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("got %v, want ErrInvalidName", err)
	}
}

func TestPatternFindsEveryOccurrence(t *testing.T) {
	t.Parallel()

	matches := Pattern().FindAllStringSubmatch("<!A!><!B(List)!>x<!A!>", -1)
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	if matches[1][1] != "B(List)" {
		t.Errorf("submatch: got %q, want %q", matches[1][1], "B(List)")
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()

	catalog := []Placeholder{MustFlat("A"), MustList("B")}
	if got := Index(catalog, MustFlat("B")); got != 1 {
		t.Errorf("Index(B): got %d, want 1", got)
	}
	if got := Index(catalog, MustFlat("C")); got != -1 {
		t.Errorf("Index(C): got %d, want -1", got)
	}
}
