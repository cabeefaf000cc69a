package awards

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestSuggestThresholdBoundaries(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		countries int
		want      []string
	}{
		{100, []string{"DXCC achieved: 100 unique countries"}},
		{120, []string{"DXCC achieved: 120 unique countries"}},
		{90, []string{"DXCC close: 90 countries (need 10 more)"}},
		{99, []string{"DXCC close: 99 countries (need 1 more)"}},
		{89, []string{}},
	}
	for _, tc := range cases {
		got := Suggest(Summary{UniqueCountries: tc.countries}, th)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("countries=%d: got %q want %q", tc.countries, got, tc.want)
		}
	}
}

func TestSuggestVUCCAndStrongBands(t *testing.T) {
	s := Summary{
		UniqueGrids: 95,
		GridsPerBand: map[string]int{
			"6M":  60,
			"2M":  50,
			"":    75,
			"10M": 49,
		},
	}
	got := Suggest(s, Thresholds{AwardVUCC: 100})
	want := []string{
		"VUCC close: 95 grids (need 5 more)",
		"Strong grid count on unknown: 75",
		"Strong grid count on 2M: 50",
		"Strong grid count on 6M: 60",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestSuggestCustomThresholds(t *testing.T) {
	got := Suggest(Summary{UniqueCountries: 2, UniqueGrids: 2}, Thresholds{AwardDXCC: 2, AwardVUCC: 2})
	want := []string{"DXCC achieved: 2 unique countries", "VUCC achieved: 2 unique grids"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q", got)
	}
}

func TestSuggestHugeGoalNotClose(t *testing.T) {
	th := LoadThresholds(strings.NewReader(`{"DXCC": 2000000000000000000}`))
	if got := Suggest(Summary{UniqueCountries: 5}, th); len(got) != 0 {
		t.Fatalf("5 countries should be far from a huge goal, got %q", got)
	}
	near := th.Goal(AwardDXCC) / 10 * 9
	got := Suggest(Summary{UniqueCountries: near}, th)
	if len(got) != 1 || !strings.HasPrefix(got[0], "DXCC close:") {
		t.Fatalf("expected close at 90%% of a huge goal, got %q", got)
	}
}

func TestCloseThreshold(t *testing.T) {
	for goal := 1; goal <= 1000; goal++ {
		if got, want := closeThreshold(goal), goal*9/10; got != want {
			t.Fatalf("closeThreshold(%d) = %d, want %d", goal, got, want)
		}
	}
	if got := closeThreshold(math.MaxInt); got <= 0 || got >= math.MaxInt {
		t.Fatalf("closeThreshold(MaxInt) overflowed: %d", got)
	}
}

func TestSuggestNilThresholdsUsesDefaults(t *testing.T) {
	got := Suggest(Summary{UniqueCountries: 100}, nil)
	if len(got) != 1 || !strings.HasPrefix(got[0], "DXCC achieved") {
		t.Fatalf("got %q", got)
	}
}

func TestLoadThresholds(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want Thresholds
	}{
		{"override", `{"DXCC": 125, "vucc": 75}`, Thresholds{"DXCC": 125, "VUCC": 75}},
		{"unknown kept", `{"MY_CUSTOM": 50}`, Thresholds{"DXCC": 100, "VUCC": 100, "MY_CUSTOM": 50}},
		{"invalid entries ignored", `{"DXCC": 0, "VUCC": -5, "WAS": 2.5, "X": "7", "Y": true, "Z": null}`, Thresholds{"DXCC": 100, "VUCC": 100}},
		{"malformed", `{"DXCC": `, Thresholds{"DXCC": 100, "VUCC": 100}},
		{"not object", `[1,2,3]`, Thresholds{"DXCC": 100, "VUCC": 100}},
		{"empty", ``, Thresholds{"DXCC": 100, "VUCC": 100}},
	}
	for _, tc := range cases {
		got := LoadThresholds(strings.NewReader(tc.src))
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
	if got := LoadThresholds(nil); !reflect.DeepEqual(got, DefaultThresholds()) {
		t.Fatalf("nil reader: got %v", got)
	}
}

func TestLoadThresholdsFileFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "awards.json")
	if err := os.WriteFile(path, []byte(`{"DXCC": 2, "VUCC": 2}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(ConfigEnvVar, path)
	resolved, err := ThresholdsPath()
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected %s, got %s", path, resolved)
	}
	got := LoadThresholdsFile(resolved)
	if got.Goal(AwardDXCC) != 2 || got.Goal(AwardVUCC) != 2 {
		t.Fatalf("unexpected thresholds %v", got)
	}
}

func TestLoadThresholdsFileMissing(t *testing.T) {
	got := LoadThresholdsFile(filepath.Join(t.TempDir(), "nope.json"))
	if !reflect.DeepEqual(got, DefaultThresholds()) {
		t.Fatalf("missing file should yield defaults, got %v", got)
	}
}

func TestDefaultThresholdsIsCopy(t *testing.T) {
	a := DefaultThresholds()
	a[AwardDXCC] = 1
	if DefaultThresholds()[AwardDXCC] != 100 {
		t.Fatalf("defaults mutated through copy")
	}
}
