package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleCTY = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>K</key>
	<dict>
		<key>Country</key><string>United States</string>
		<key>Prefix</key><string>K</string>
		<key>ADIF</key><integer>291</integer>
		<key>CQZone</key><integer>5</integer>
		<key>ITUZone</key><integer>8</integer>
		<key>Continent</key><string>NA</string>
		<key>Latitude</key><real>37.53</real>
		<key>Longitude</key><real>91.67</real>
		<key>GMTOffset</key><real>5.0</real>
		<key>ExactCallsign</key><false/>
	</dict>
	<key>DL</key>
	<dict>
		<key>Country</key><string>Fed. Rep. of Germany</string>
		<key>Prefix</key><string>DL</string>
		<key>ADIF</key><integer>230</integer>
		<key>CQZone</key><integer>14</integer>
		<key>ITUZone</key><integer>28</integer>
		<key>Continent</key><string>EU</string>
		<key>Latitude</key><real>51.0</real>
		<key>Longitude</key><real>-10.0</real>
		<key>GMTOffset</key><real>-1.0</real>
		<key>ExactCallsign</key><false/>
	</dict>
</dict>
</plist>
`

type cliEnv struct {
	t      *testing.T
	dir    string
	config string
}

// newCLIEnv points every path the CLI resolves at a temp dir and writes a
// config selecting backend.
func newCLIEnv(t *testing.T, backend string, extra string) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	ctyPath := filepath.Join(dir, "cty.plist")
	if err := os.WriteFile(ctyPath, []byte(sampleCTY), 0o644); err != nil {
		t.Fatalf("write cty: %v", err)
	}
	awardsPath := filepath.Join(dir, "awards.json")
	if err := os.WriteFile(awardsPath, []byte(`{"DXCC": 2, "VUCC": 3}`), 0o644); err != nil {
		t.Fatalf("write awards: %v", err)
	}
	storePath := filepath.Join(dir, "qsos")
	if backend == "sqlite" {
		storePath += ".db"
	}
	cfg := "storage:\n  backend: " + backend + "\n  path: " + storePath + "\n" +
		"awards:\n  config: " + awardsPath + "\n" +
		"cty:\n  enabled: true\n  file: " + ctyPath + "\n" +
		"openai:\n  disabled: true\n" + extra
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("QSOLOG_CONFIG", cfgPath)
	t.Setenv("W4GNS_DB_PATH", "")
	t.Setenv("W4GNS_AWARDS_CONFIG", "")
	t.Setenv("OPENAI_API_KEY", "")
	return &cliEnv{t: t, dir: dir, config: cfgPath}
}

func (e *cliEnv) run(args ...string) (int, string, string) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	code := run(ctx, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	code, out, errOut := e.run(args...)
	if code != 0 {
		e.t.Fatalf("%v exited %d\nstdout: %s\nstderr: %s", args, code, out, errOut)
	}
	return out
}

func TestRunUsageErrors(t *testing.T) {
	env := newCLIEnv(t, "pebble", "")
	cases := [][]string{
		{},
		{"frobnicate"},
		{"log"},
		{"log", "-call", "K1ABC", "-when", "yesterday-ish"},
		{"log", "-call", "K1ABC", "-grid", "ZZ99"},
		{"remove"},
		{"remove", "abc"},
		{"awards"},
		{"awards", "nope"},
		{"list", "-bogus"},
	}
	for _, args := range cases {
		if code, _, _ := env.run(args...); code != 2 {
			t.Fatalf("%v: expected exit 2, got %d", args, code)
		}
	}
	if code, _, _ := env.run("list", "-h"); code != 0 {
		t.Fatalf("list -h: expected exit 0, got %d", code)
	}
}

func TestRunBadConfig(t *testing.T) {
	env := newCLIEnv(t, "pebble", "")
	if err := os.WriteFile(env.config, []byte("storage:\n  backend: mongo\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	code, _, errOut := env.run("list")
	if code != 1 || !strings.Contains(errOut, "storage.backend") {
		t.Fatalf("expected config error, got %d %q", code, errOut)
	}
}

func TestCLIRoundTrip(t *testing.T) {
	for _, backend := range []string{"pebble", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			env := newCLIEnv(t, backend, "")

			if out := env.mustRun("init"); !strings.Contains(out, "Database ready at:") {
				t.Fatalf("init output: %q", out)
			}
			out := env.mustRun("log", "-call", "k1abc", "-when", "2024-06-01 12:30", "-freq", "14.074", "-mode", "FT8", "-grid", "fn42")
			if !strings.Contains(out, "Saved QSO id=1 with K1ABC at 2024-06-01 12:30:00Z") {
				t.Fatalf("log output: %q", out)
			}
			env.mustRun("log", "-call", "DL1XYZ", "-when", "2024-06-02T08:00:00Z", "-band", "40M", "-mode", "SSB", "-grid", "JO31", "-comment", "nice signal")
			env.mustRun("log", "-call", "K2DEF", "-when", "2024-06-03", "-band", "20m", "-mode", "FT8", "-grid", "FN31")

			list := env.mustRun("list")
			if !strings.Contains(list, "Comment") {
				t.Fatalf("list header missing: %q", list)
			}
			if strings.Index(list, "K2DEF") > strings.Index(list, "DL1XYZ") || strings.Index(list, "DL1XYZ") > strings.Index(list, "K1ABC") {
				t.Fatalf("list not newest first: %q", list)
			}
			if !strings.Contains(list, "20m") || !strings.Contains(list, "40m") {
				t.Fatalf("bands not derived or normalized: %q", list)
			}

			search := env.mustRun("search", "-mode", "FT8", "-json")
			if !strings.Contains(search, `"call":"K2DEF"`) || !strings.Contains(search, `"call":"K1ABC"`) || strings.Contains(search, "DL1XYZ") {
				t.Fatalf("search json: %q", search)
			}
			if !strings.Contains(search, `"country":"United States"`) {
				t.Fatalf("country not filled from cty: %q", search)
			}
			if miss := env.mustRun("search", "-call", "K1ABD"); !strings.Contains(miss, "Search results (0)") || !strings.Contains(miss, "Did you mean: K1ABC") {
				t.Fatalf("search suggestions: %q", miss)
			}

			exportPath := filepath.Join(env.dir, "out.adi")
			if out := env.mustRun("export", "-out", exportPath); !strings.Contains(out, "Exported 3 QSOs") {
				t.Fatalf("export output: %q", out)
			}
			adi, err := os.ReadFile(exportPath)
			if err != nil {
				t.Fatalf("read export: %v", err)
			}
			if !strings.Contains(string(adi), "<CALL:5>K1ABC") || !strings.Contains(string(adi), "<GRIDSQUARE:4>FN42") {
				t.Fatalf("export body: %q", adi)
			}

			// Re-importing the same file with duplicate skipping adds nothing.
			if out := env.mustRun("import", "-skip-duplicates", exportPath); !strings.Contains(out, "Imported 0 QSOs. Total now: 3 (was 3).") {
				t.Fatalf("import skip output: %q", out)
			}
			if out := env.mustRun("import", exportPath); !strings.Contains(out, "Imported 3 QSOs. Total now: 6 (was 3).") {
				t.Fatalf("import output: %q", out)
			}

			if out := env.mustRun("remove", "1"); !strings.Contains(out, "Deleted QSO id=1") {
				t.Fatalf("remove output: %q", out)
			}
			if out := env.mustRun("remove", "1"); !strings.Contains(out, "QSO id=1 not found") {
				t.Fatalf("second remove output: %q", out)
			}
		})
	}
}

func TestCLIImportSkipsUnusableRecords(t *testing.T) {
	env := newCLIEnv(t, "pebble", "")
	adi := "<ADIF_VER:3>3.1\n<PROGRAMID:13>W4GNS Logger\n<EOH>\n" +
		"<QSO_DATE:8>00010101<TIME_ON:4>0000<CALL:5>K1ZZZ<EOR>\n" +
		"<QSO_DATE:8>20240601<TIME_ON:4>1200<CALL:3>   <EOR>\n" +
		"<QSO_DATE:8>20240601<TIME_ON:4>1300<CALL:5>K1ABC<BAND:3>20m<EOR>\n"
	path := filepath.Join(env.dir, "mixed.adi")
	if err := os.WriteFile(path, []byte(adi), 0o644); err != nil {
		t.Fatalf("write adif: %v", err)
	}
	out := env.mustRun("import", path)
	if !strings.Contains(out, "Imported 1 QSOs. Total now: 1 (was 0).") {
		t.Fatalf("import output: %q", out)
	}
}

func TestCLIAwards(t *testing.T) {
	env := newCLIEnv(t, "pebble", "")
	env.mustRun("log", "-call", "K1ABC", "-when", "2024-06-01 12:00", "-band", "20m", "-mode", "FT8", "-grid", "FN42")
	env.mustRun("log", "-call", "DL1XYZ", "-when", "2024-06-01 13:00", "-band", "20m", "-mode", "SSB", "-grid", "JO31")
	env.mustRun("log", "-call", "K2DEF", "-when", "2024-06-01 14:00", "-band", "40m", "-mode", "FT8", "-grid", "FN31")

	summary := env.mustRun("awards", "summary", "-json")
	for _, want := range []string{`"total_qsos":3`, `"unique_countries":2`, `"unique_grids":3`, `"20M":2`} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary json missing %s: %q", want, summary)
		}
	}
	if table := env.mustRun("awards", "summary", "-band", "40m"); !strings.Contains(table, "Grids on 40M") {
		t.Fatalf("summary table: %q", table)
	}

	suggest := env.mustRun("awards", "suggest")
	if !strings.Contains(suggest, "- DXCC achieved: 2 unique countries") || !strings.Contains(suggest, "- VUCC achieved: 3 unique grids") {
		t.Fatalf("suggest output: %q", suggest)
	}
	if none := env.mustRun("awards", "suggest", "-mode", "CW"); !strings.Contains(none, "No award suggestions yet") {
		t.Fatalf("empty suggest output: %q", none)
	}

	eval := env.mustRun("awards", "eval", "-local", "-goals", "DXCC on 20m")
	if !strings.Contains(eval, "Awards summary:") || !strings.Contains(eval, "- QSOs: 3") {
		t.Fatalf("eval output: %q", eval)
	}
	byBand := env.mustRun("awards", "eval", "-by-band")
	if !strings.Contains(byBand, "== 20M ==") || !strings.Contains(byBand, "== 40M ==") {
		t.Fatalf("eval by band output: %q", byBand)
	}
	if strings.Index(byBand, "== 20M ==") > strings.Index(byBand, "== 40M ==") {
		t.Fatalf("bands out of order: %q", byBand)
	}

	if out := env.mustRun("summarize", "-local"); !strings.Contains(out, "QSOs: 3") {
		t.Fatalf("summarize output: %q", out)
	}
}

func TestCLILookupAndInfo(t *testing.T) {
	env := newCLIEnv(t, "pebble", "logging:\n  level: debug\n")
	out := env.mustRun("lookup", "k1abc", "DL/K1ABC", "ZZ0")
	for _, want := range []string{"K1ABC -> prefix=K, country=United States", "CQ=5", "grid=EM47", "DL/K1ABC -> prefix=DL, country=Fed. Rep. of Germany", "ZZ0 -> no matching prefix"} {
		if !strings.Contains(out, want) {
			t.Fatalf("lookup missing %q: %q", want, out)
		}
	}

	info := env.mustRun("cpuinfo")
	for _, want := range []string{"Physical cores:", "Logical cores:", "Workers (io):", "Workers (cpu):", "Workers (mixed):"} {
		if !strings.Contains(info, want) {
			t.Fatalf("cpuinfo missing %q: %q", want, info)
		}
	}

	cfg := env.mustRun("config")
	if !strings.Contains(cfg, "Storage: pebble") || !strings.Contains(cfg, "key=unset") {
		t.Fatalf("config output: %q", cfg)
	}
}

func TestParseWhen(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 999, time.UTC) }
	cases := map[string]time.Time{
		"now":                       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"":                          time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"2024-06-01":                time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		"2024-06-01 12:30":          time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
		"2024-06-01T12:30:15":       time.Date(2024, 6, 1, 12, 30, 15, 0, time.UTC),
		"2024-06-01T12:30:15Z":      time.Date(2024, 6, 1, 12, 30, 15, 0, time.UTC),
		"2024-06-01T14:30:15+02:00": time.Date(2024, 6, 1, 12, 30, 15, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := parseWhen(in, now)
		if err != nil {
			t.Fatalf("parseWhen(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parseWhen(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseWhen("June 1st", now); err == nil {
		t.Fatalf("expected error for free-form date")
	}
}

func TestCLICTYUpdate(t *testing.T) {
	env := newCLIEnv(t, "pebble", "")
	body := sampleCTY
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			_, _ = w.Write([]byte("<html>maintenance</html>"))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	if out := env.mustRun("cty-update", "-url", server.URL+"/cty.plist"); !strings.Contains(out, "cty.plist updated") {
		t.Fatalf("update output: %q", out)
	}
	if out := env.mustRun("cty-update", "-url", server.URL+"/cty.plist"); !strings.Contains(out, "already current") {
		t.Fatalf("second update output: %q", out)
	}
	code, _, errOut := env.run("cty-update", "-force", "-url", server.URL+"/broken")
	if code != 1 || !strings.Contains(errOut, "updating cty.plist") {
		t.Fatalf("expected rejected download, got %d %q", code, errOut)
	}
	if out := env.mustRun("lookup", "DL1XYZ"); !strings.Contains(out, "prefix=DL") {
		t.Fatalf("plist damaged by rejected update: %q", out)
	}
}
