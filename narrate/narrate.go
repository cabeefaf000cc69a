// Package narrate turns QSO records into short operator-facing text. Local
// output is deterministic; External asks an OpenAI-compatible chat endpoint
// and falls back to Local whenever that fails.
package narrate

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"qsolog/awards"
	"qsolog/dispatch"
	"qsolog/qso"
)

// Kind selects what a Request asks for.
type Kind int

const (
	// KindRecent summarizes a run of recent contacts.
	KindRecent Kind = iota
	// KindAwards reports award progress and a plan.
	KindAwards
)

// recentLineLimit bounds how many records feed a recent-contacts prompt.
const recentLineLimit = 50

// Request carries the records to describe. Goals and Thresholds only apply
// to KindAwards.
type Request struct {
	Kind       Kind
	Records    []qso.Record
	Goals      string
	Thresholds awards.Thresholds
}

// Narrator produces text for a Request.
type Narrator interface {
	Narrate(ctx context.Context, req Request) (string, error)
}

// Config mirrors the openai section of the YAML config.
type Config struct {
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	Endpoint     string        `yaml:"endpoint"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout"`
	// Disabled forces the local narrator even when a key is available.
	Disabled bool `yaml:"disabled"`
}

// APIKeyEnv is consulted when Config.APIKey is blank.
const APIKeyEnv = "OPENAI_API_KEY"

// Purpose: Pick the narrator for this run.
// Key aspects: External only when enabled and an API key is present.
// Upstream: CLI summarize and awards eval.
// Downstream: Local, External.
func New(cfg Config, logf func(string, ...any)) Narrator {
	if cfg.Disabled {
		return Local{}
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv(APIKeyEnv))
	}
	if key == "" {
		return Local{}
	}
	cfg.APIKey = key
	return NewExternal(cfg, logf)
}

// Local renders deterministic text with no network access.
type Local struct{}

func (Local) Narrate(_ context.Context, req Request) (string, error) {
	switch req.Kind {
	case KindRecent:
		return recentFallback(req.Records), nil
	case KindAwards:
		return strings.Join(awardsBaseText(req.Records, req.Thresholds), "\n"), nil
	default:
		return "", fmt.Errorf("narrate: unknown request kind %d", req.Kind)
	}
}

// recentFallback reports counts plus the sorted distinct bands and modes.
func recentFallback(recs []qso.Record) string {
	if len(recs) == 0 {
		return "No QSOs to summarize."
	}
	calls := make(map[string]struct{}, len(recs))
	bandSet := make(map[string]struct{})
	modeSet := make(map[string]struct{})
	for i := range recs {
		calls[recs[i].Call] = struct{}{}
		if b := qso.Value(recs[i].Band); b != "" {
			bandSet[b] = struct{}{}
		}
		if m := qso.Value(recs[i].Mode); m != "" {
			modeSet[m] = struct{}{}
		}
	}
	return fmt.Sprintf("QSOs: %d | Calls: %d | Bands: %s | Modes: %s",
		len(recs), len(calls), joinSorted(bandSet), joinSorted(modeSet))
}

func joinSorted(set map[string]struct{}) string {
	if len(set) == 0 {
		return "n/a"
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

// recentLines formats up to recentLineLimit records as
// "2006-01-02 15:04Z | CALL | band | mode | grid", skipping absent fields.
func recentLines(recs []qso.Record) []string {
	n := min(len(recs), recentLineLimit)
	lines := make([]string, 0, n)
	for i := range recs[:n] {
		r := &recs[i]
		parts := []string{r.StartAt.UTC().Format("2006-01-02 15:04Z"), r.Call}
		for _, p := range []*string{r.Band, r.Mode, r.Grid} {
			if v := qso.Value(p); v != "" {
				parts = append(parts, v)
			}
		}
		lines = append(lines, strings.Join(parts, " | "))
	}
	return lines
}

func awardsBaseText(recs []qso.Record, thresholds awards.Thresholds) []string {
	summary := awards.Summarize(recs)
	suggestions := awards.Suggest(summary, thresholds)
	lines := []string{
		"Awards summary:",
		fmt.Sprintf("- QSOs: %d", summary.Total),
		fmt.Sprintf("- Unique countries: %d", summary.UniqueCountries),
		fmt.Sprintf("- Unique grids: %d", summary.UniqueGrids),
		fmt.Sprintf("- Bands: %d | Modes: %d", summary.UniqueBands, summary.UniqueModes),
	}
	if len(suggestions) == 0 {
		return append(lines, "Suggestions: none yet - keep logging!")
	}
	lines = append(lines, "Suggestions:")
	for _, s := range suggestions {
		lines = append(lines, "- "+s)
	}
	return lines
}

// Purpose: Narrate several requests concurrently.
// Key aspects: Results keep request order; a request that fails or times out
// gets its Local rendering instead.
// Upstream: CLI awards eval -by-band.
// Downstream: dispatch.Map.
func NarrateAll(ctx context.Context, n Narrator, reqs []Request, exec *dispatch.Executor) []string {
	out := make([]string, len(reqs))
	results, err := dispatch.Map(ctx, exec, len(reqs), func(ctx context.Context, i int) (string, error) {
		return n.Narrate(ctx, reqs[i])
	})
	for i := range reqs {
		if err == nil && results[i].OK {
			out[i] = results[i].Value
			continue
		}
		out[i], _ = Local{}.Narrate(ctx, reqs[i])
	}
	return out
}
