package bullet

import (
	"errors"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []string
		style  *Style
		want   string
	}{
		{"round two", []string{"x", "y"}, Round, "• x<br>• y<br>"},
		{"square trims", []string{"  x ", "\ty"}, Square, "▪ x<br>▪ y<br>"},
		{"numbered", []string{"a", "b", "c"}, Numbered, "1. a<br>2. b<br>3. c<br>"},
		{"lettered", []string{"a", "b"}, Lettered, "a. a<br>b. b<br>"},
		{"empty", nil, Round, ""},
		{"empty slice", []string{}, Numbered, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Render(tt.values, tt.style); got != tt.want {
				t.Errorf("Render: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_SingleValueHasNoSeparatorArtifacts(t *testing.T) {
	t.Parallel()

	got := Render([]string{"only"}, Round)
	if got != "• only<br>" {
		t.Errorf("got %q, want %q", got, "• only<br>")
	}
	if strings.Count(got, "•") != 1 || strings.Count(got, "<br>") != 1 {
		t.Errorf("duplicated glyph or separator in %q", got)
	}
}

func TestLetters(t *testing.T) {
	t.Parallel()

	tests := map[int]string{0: "a", 1: "b", 25: "z", 26: "aa", 27: "ab", 51: "az", 52: "ba", 701: "zz", 702: "aaa"}
	for i, want := range tests {
		if got := letters(i); got != want {
			t.Errorf("letters(%d): got %q, want %q", i, got, want)
		}
	}
}

func TestLooksLikeBulletLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		style *Style
		line  string
		want  bool
	}{
		{Round, "• milk", true},
		{Round, "   • milk", true},
		{Round, "•milk", false},
		{Round, "▪ milk", false},
		{Square, "▪ eggs", true},
		{Numbered, "12. bread", true},
		{Numbered, "1 bread", false},
		{Lettered, "b. jam", true},
		{Lettered, "B. jam", false},
		{Lettered, "plain text", false},
		{Lettered, "aa. jam", true},
		{Lettered, "etc. more", false},
		{Lettered, "end. next", false},
	}

	for _, tt := range tests {
		if got := tt.style.LooksLikeBulletLine(tt.line); got != tt.want {
			t.Errorf("%s.LooksLikeBulletLine(%q): got %v, want %v", tt.style.Name(), tt.line, got, tt.want)
		}
	}
}

func TestRenderedLinesAreDetected(t *testing.T) {
	t.Parallel()

	for _, s := range Styles() {
		rendered := Render([]string{"one", "two"}, s)
		for _, line := range strings.Split(strings.TrimSuffix(rendered, "<br>"), "<br>") {
			got, ok := Detect(line)
			if !ok || got != s {
				t.Errorf("%s: Detect(%q) = %v, %v", s.Name(), line, got, ok)
			}
		}
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	s, err := Lookup(" Numbered ")
	if err != nil || s != Numbered {
		t.Errorf("Lookup(Numbered): got (%v, %v)", s, err)
	}
	if _, err := Lookup("star"); !errors.Is(err, ErrUnknownStyle) {
		t.Errorf("Lookup(star): got %v, want ErrUnknownStyle", err)
	}
}
