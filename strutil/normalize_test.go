package strutil

import "testing"

func TestNormalizeUpper(t *testing.T) {
	cases := map[string]string{
		"  k1abc ": "K1ABC",
		"\tfn42\n": "FN42",
		"   ":      "",
		"":         "",
	}
	for in, want := range cases {
		if got := NormalizeUpper(in); got != want {
			t.Fatalf("NormalizeUpper(%q)=%q want %q", in, got, want)
		}
	}
}

func TestContainsFold(t *testing.T) {
	if !ContainsFold("K1ABC", "1ab") {
		t.Fatalf("expected substring match ignoring case")
	}
	if !ContainsFold("K1ABC", "  ") {
		t.Fatalf("expected blank filter to match")
	}
	if ContainsFold("K1ABC", "W6") {
		t.Fatalf("unexpected match")
	}
}
