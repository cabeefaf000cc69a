package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"

	"qsolog/adif"
	"qsolog/awards"
	"qsolog/bands"
	"qsolog/cty"
	"qsolog/dispatch"
	"qsolog/download"
	"qsolog/narrate"
	"qsolog/qso"
	"qsolog/strutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultListLimit   = 20
	defaultExportLimit = 1000
	defaultAwardsLimit = 10000
	recentSummaryLimit = 50
	suggestionPool     = 5000
	maxSuggestions     = 3
	maxEditDistance    = 2
	commentWidth       = 40
	ctyDownloadTimeout = time.Minute
)

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func (a *app) cmdInit(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "init", "init")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := a.gateway(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Database ready at: %s\n", displayPath(a.cfg.Storage.Path))
	return nil
}

// Purpose: Record one contact from flags.
// Key aspects: Upper-cases the call; derives band from -freq and country from
// cty.plist when those are omitted; validates grid shape.
// Upstream: dispatch "log".
// Downstream: Gateway.Create.
func (a *app) cmdLog(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "log", "log -call CALL [flags]")
	call := fs.String("call", "", "station call sign, e.g. K1ABC (required)")
	when := fs.String("when", "now", "UTC time: now, YYYY-MM-DD, YYYY-MM-DD HH:MM[:SS] or RFC 3339")
	band := fs.String("band", "", "band, e.g. 20m (derived from -freq when empty)")
	mode := fs.String("mode", "", "mode, e.g. SSB, FT8")
	freq := fs.Float64("freq", 0, "frequency in MHz")
	rstSent := fs.String("rst-sent", "", "report sent")
	rstRcvd := fs.String("rst-rcvd", "", "report received")
	name := fs.String("name", "", "operator name")
	qth := fs.String("qth", "", "QTH / city")
	grid := fs.String("grid", "", "Maidenhead grid")
	country := fs.String("country", "", "DXCC country (looked up from cty.plist when empty)")
	comment := fs.String("comment", "", "comment")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*call) == "" {
		return fmt.Errorf("%w: -call is required", errUsage)
	}
	start, err := parseWhen(*when, a.now)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	rec := qso.Record{
		Call:    strutil.NormalizeUpper(*call),
		StartAt: start,
		Mode:    qso.OptString(strings.TrimSpace(*mode)),
		RSTSent: qso.OptString(*rstSent),
		RSTRcvd: qso.OptString(*rstRcvd),
		Name:    qso.OptString(*name),
		QTH:     qso.OptString(*qth),
		Country: qso.OptString(strings.TrimSpace(*country)),
		Comment: qso.OptString(*comment),
	}
	if *freq > 0 {
		rec.FreqMHz = qso.Float(*freq)
	}
	switch b := strings.TrimSpace(*band); {
	case b != "" && bands.Known(b):
		rec.Band = qso.String(bands.Normalize(b))
	case b != "":
		rec.Band = qso.String(b)
	case rec.FreqMHz != nil:
		if derived, ok := bands.FromFreq(*rec.FreqMHz); ok {
			rec.Band = qso.String(derived)
		}
	}
	if g := strings.TrimSpace(*grid); g != "" {
		normalized, ok := cty.NormalizeGrid(g)
		if !ok {
			return fmt.Errorf("%w: invalid grid %q", errUsage, g)
		}
		rec.Grid = qso.String(normalized)
	}
	if rec.Country == nil {
		if found := a.ctyDatabase().Country(rec.Call); found != "" {
			rec.Country = qso.String(found)
		}
	}

	gw, err := a.gateway(ctx)
	if err != nil {
		return err
	}
	saved, err := gw.Create(ctx, rec)
	if err != nil {
		return fmt.Errorf("logging QSO: %w", err)
	}
	fmt.Fprintf(a.stdout, "Saved QSO id=%d with %s at %sZ\n", saved.ID, saved.Call, saved.StartAt.Format("2006-01-02 15:04:05"))
	return nil
}

// parseWhen accepts "now", YYYY-MM-DD, YYYY-MM-DD HH:MM[:SS] (T and trailing
// Z allowed) or RFC 3339, always yielding whole-second UTC.
func parseWhen(s string, now func() time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.EqualFold(trimmed, "now") {
		return qso.Truncate(now()), nil
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return qso.Truncate(t), nil
	}
	cleaned := strings.TrimSuffix(strings.Replace(trimmed, "T", " ", 1), "Z")
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, cleaned, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime format: %s", s)
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "list", "list [-limit N] [-call SUBSTR]")
	limit := fs.Int("limit", defaultListLimit, "max QSOs to show")
	call := fs.String("call", "", "filter by call sign substring")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	gw, err := a.gateway(ctx)
	if err != nil {
		return err
	}
	rows, err := gw.List(ctx, *limit, *call)
	if err != nil {
		return fmt.Errorf("listing QSOs: %w", err)
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.stdout, "No QSOs found.")
		return nil
	}
	fmt.Fprintf(a.stdout, "Recent QSOs (DB: %s)\n", displayPath(a.cfg.Storage.Path))
	writeTable(a.stdout, rows, true)
	return nil
}

func (a *app) cmdRemove(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "remove", "remove ID")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: remove takes exactly one QSO id", errUsage)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid id %q", errUsage, fs.Arg(0))
	}
	gw, err := a.gateway(ctx)
	if err != nil {
		return err
	}
	ok, err := gw.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting QSO: %w", err)
	}
	if ok {
		fmt.Fprintf(a.stdout, "Deleted QSO id=%d\n", id)
	} else {
		fmt.Fprintf(a.stdout, "QSO id=%d not found\n", id)
	}
	return nil
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "export", "export [-out FILE] [-limit N] [-call SUBSTR]")
	out := fs.String("out", "-", "ADIF file to write, - for stdout")
	limit := fs.Int("limit", defaultExportLimit, "how many recent QSOs to export")
	call := fs.String("call", "", "filter by call sign substring")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	gw, err := a.gateway(ctx)
	if err != nil {
		return err
	}
	rows, err := gw.List(ctx, *limit, *call)
	if err != nil {
		return fmt.Errorf("exporting ADIF: %w", err)
	}
	if *out == "-" {
		return adif.Write(a.stdout, rows)
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("exporting ADIF: %w", err)
	}
	if err := adif.Write(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("exporting ADIF: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("exporting ADIF: %w", err)
	}
	fmt.Fprintf(a.stdout, "Exported %s QSOs to %s\n", humanize.Comma(int64(len(rows))), *out)
	return nil
}

// Purpose: Load an ADIF file into the store.
// Key aspects: Parallel decode above dispatch.parse_threshold chunks; calls
// upper-cased; optional duplicate skipping by fingerprint.
// Upstream: dispatch "import".
// Downstream: adif.ParseParallel, Gateway.BulkCreate.
func (a *app) cmdImport(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "import", "import [-skip-duplicates] [-batch N] FILE")
	skipDup := fs.Bool("skip-duplicates", false, "skip contacts already in the log (same call, time, band and mode)")
	batch := fs.Int("batch", 0, "records per storage transaction (0 = default)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: import takes exactly one ADIF file", errUsage)
	}
	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("importing ADIF: %w", err)
	}

	started := time.Now()
	recs := adif.ParseParallel(ctx, string(raw), adif.Options{
		Workers:      a.cfg.Dispatch.Workers,
		Threshold:    a.cfg.Dispatch.ParseThreshold,
		ChunkTimeout: a.cfg.Dispatch.ChunkTimeout,
		Policy:       &a.policy,
	})
	a.logs.debugf("decoded %d records from %s in %s", len(recs), fs.Arg(0), time.Since(started))
	kept := recs[:0]
	for _, r := range recs {
		r.Call = strutil.NormalizeUpper(r.Call)
		if !r.Valid() {
			continue
		}
		kept = append(kept, r)
	}
	if dropped := len(recs) - len(kept); dropped > 0 {
		log.Printf("import: skipped %d records without call or start time", dropped)
	}
	recs = kept

	gw, err := a.gateway(ctx)
	if err != nil {
		return err
	}
	before, err := gw.Count(ctx)
	if err != nil {
		return fmt.Errorf("importing ADIF: %w", err)
	}
	written, err := gw.BulkCreate(ctx, recs, qso.BulkOptions{BatchSize: *batch, SkipDuplicates: *skipDup})
	if err != nil {
		return fmt.Errorf("importing ADIF after %d records: %w", written, err)
	}
	after, err := gw.Count(ctx)
	if err != nil {
		return fmt.Errorf("importing ADIF: %w", err)
	}
	fmt.Fprintf(a.stdout, "Imported %s QSOs. Total now: %s (was %s).\n",
		humanize.Comma(int64(written)), humanize.Comma(after), humanize.Comma(before))
	if skipped := len(recs) - written; skipped > 0 {
		fmt.Fprintf(a.stdout, "Skipped %s duplicates.\n", humanize.Comma(int64(skipped)))
	}
	return nil
}

type jsonRecord struct {
	ID      int64    `json:"id"`
	Call    string   `json:"call"`
	StartAt string   `json:"start_at"`
	Band    *string  `json:"band"`
	Mode    *string  `json:"mode"`
	FreqMHz *float64 `json:"freq_mhz"`
	RSTSent *string  `json:"rst_sent"`
	RSTRcvd *string  `json:"rst_rcvd"`
	Name    *string  `json:"name"`
	QTH     *string  `json:"qth"`
	Grid    *string  `json:"grid"`
	Country *string  `json:"country"`
	Comment *string  `json:"comment"`
}

func toJSONRecord(r qso.Record) jsonRecord {
	return jsonRecord{
		ID:      r.ID,
		Call:    r.Call,
		StartAt: r.StartAt.UTC().Format("2006-01-02T15:04:05"),
		Band:    r.Band,
		Mode:    r.Mode,
		FreqMHz: r.FreqMHz,
		RSTSent: r.RSTSent,
		RSTRcvd: r.RSTRcvd,
		Name:    r.Name,
		QTH:     r.QTH,
		Grid:    r.Grid,
		Country: r.Country,
		Comment: r.Comment,
	}
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "search", "search [-call SUBSTR] [-band B] [-mode M] [-grid G] [-limit N] [-json]")
	call := fs.String("call", "", "call sign substring")
	band := fs.String("band", "", "exact band value")
	mode := fs.String("mode", "", "exact mode value")
	grid := fs.String("grid", "", "exact grid square")
	limit := fs.Int("limit", qso.DefaultLimit, "max results")
	asJSON := fs.Bool("json", false, "output as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	gw, err := a.gateway(ctx)
	if err != nil {
		return err
	}
	rows, err := gw.Search(ctx, qso.SearchQuery{Call: *call, Band: *band, Mode: *mode, Grid: *grid, Limit: *limit})
	if err != nil {
		return fmt.Errorf("searching QSOs: %w", err)
	}
	if *asJSON {
		out := make([]jsonRecord, len(rows))
		for i, r := range rows {
			out[i] = toJSONRecord(r)
		}
		return a.writeJSON(out)
	}
	fmt.Fprintf(a.stdout, "Search results (%d)\n", len(rows))
	if len(rows) > 0 {
		writeTable(a.stdout, rows, false)
		return nil
	}
	if strings.TrimSpace(*call) != "" {
		if similar := a.similarCalls(ctx, gw, *call); len(similar) > 0 {
			fmt.Fprintf(a.stdout, "Did you mean: %s\n", strings.Join(similar, ", "))
		}
	}
	return nil
}

// similarCalls returns logged calls within a small edit distance of want,
// closest first.
func (a *app) similarCalls(ctx context.Context, gw qso.Gateway, want string) []string {
	rows, err := gw.List(ctx, suggestionPool, "")
	if err != nil {
		a.logs.debugf("call suggestions: %v", err)
		return nil
	}
	want = strutil.NormalizeUpper(want)
	type candidate struct {
		call string
		dist int
	}
	seen := make(map[string]bool)
	var cands []candidate
	for _, r := range rows {
		c := strutil.NormalizeUpper(r.Call)
		if seen[c] {
			continue
		}
		seen[c] = true
		if d := levenshtein.ComputeDistance(want, c); d <= maxEditDistance {
			cands = append(cands, candidate{c, d})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].call < cands[j].call
	})
	out := make([]string, 0, maxSuggestions)
	for _, c := range cands {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, c.call)
	}
	return out
}

func (a *app) narrator(local bool) narrate.Narrator {
	cfg := a.cfg.OpenAI
	if local {
		cfg.Disabled = true
	}
	return narrate.New(cfg, log.Printf)
}

func (a *app) cmdSummarize(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "summarize", "summarize [-limit N] [-local]")
	limit := fs.Int("limit", recentSummaryLimit, "how many recent QSOs to include")
	local := fs.Bool("local", false, "never call the language model")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	gw, err := a.gateway(ctx)
	if err != nil {
		return err
	}
	rows, err := gw.List(ctx, *limit, "")
	if err != nil {
		return fmt.Errorf("summarizing QSOs: %w", err)
	}
	text, err := a.narrator(*local).Narrate(ctx, narrate.Request{Kind: narrate.KindRecent, Records: rows})
	if err != nil {
		return fmt.Errorf("summarizing QSOs: %w", err)
	}
	fmt.Fprintln(a.stdout, text)
	return nil
}

func (a *app) cmdAwards(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: awards needs summary, suggest or eval", errUsage)
	}
	switch args[0] {
	case "summary":
		return a.cmdAwardsSummary(ctx, args[1:])
	case "suggest":
		return a.cmdAwardsSuggest(ctx, args[1:])
	case "eval":
		return a.cmdAwardsEval(ctx, args[1:])
	default:
		return fmt.Errorf("%w: unknown awards command %q", errUsage, args[0])
	}
}

type awardsFilter struct {
	band, mode string
	limit      int
}

func (f *awardsFilter) register(fs *flag.FlagSet) {
	fs.StringVar(&f.band, "band", "", "filter QSOs by band before computing")
	fs.StringVar(&f.mode, "mode", "", "filter QSOs by mode before computing")
	fs.IntVar(&f.limit, "limit", defaultAwardsLimit, "how many recent QSOs to consider")
}

func (a *app) awardsRecords(ctx context.Context, f awardsFilter) ([]qso.Record, error) {
	gw, err := a.gateway(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := gw.List(ctx, f.limit, "")
	if err != nil {
		return nil, err
	}
	return awards.Filter(rows, f.band, f.mode), nil
}

func (a *app) summarize(ctx context.Context, recs []qso.Record) awards.Summary {
	return awards.SummarizeWith(ctx, recs, awards.ParallelOptions{
		ChunkSize:   a.cfg.Dispatch.SummaryChunkSize,
		Workers:     a.cfg.Dispatch.Workers,
		UnitTimeout: a.cfg.Dispatch.ChunkTimeout,
		Policy:      &a.policy,
	})
}

func (a *app) cmdAwardsSummary(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "awards summary", "awards summary [-band B] [-mode M] [-limit N] [-json]")
	var filter awardsFilter
	filter.register(fs)
	asJSON := fs.Bool("json", false, "output JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	recs, err := a.awardsRecords(ctx, filter)
	if err != nil {
		return fmt.Errorf("computing awards summary: %w", err)
	}
	summary := a.summarize(ctx, recs)
	if *asJSON {
		return a.writeJSON(summary)
	}
	fmt.Fprintln(a.stdout, "Awards summary")
	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	rows := []struct {
		label string
		value int
	}{
		{"Total QSOs", summary.Total},
		{"Unique countries", summary.UniqueCountries},
		{"Unique grids", summary.UniqueGrids},
		{"Unique calls", summary.UniqueCalls},
		{"Unique bands", summary.UniqueBands},
		{"Unique modes", summary.UniqueModes},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t\n", r.label, humanize.Comma(int64(r.value)))
	}
	for _, b := range summary.Bands() {
		label := b
		if label == "" {
			label = "unknown"
		}
		fmt.Fprintf(tw, "Grids on %s\t%s\t\n", label, humanize.Comma(int64(summary.GridsPerBand[b])))
	}
	return tw.Flush()
}

func (a *app) cmdAwardsSuggest(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "awards suggest", "awards suggest [-band B] [-mode M] [-limit N]")
	var filter awardsFilter
	filter.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	recs, err := a.awardsRecords(ctx, filter)
	if err != nil {
		return fmt.Errorf("generating award suggestions: %w", err)
	}
	suggestions := awards.Suggest(a.summarize(ctx, recs), a.thresholds())
	if len(suggestions) == 0 {
		fmt.Fprintln(a.stdout, "No award suggestions yet - keep logging!")
		return nil
	}
	for _, s := range suggestions {
		fmt.Fprintf(a.stdout, "- %s\n", s)
	}
	return nil
}

// Purpose: Produce an award plan, optionally one per band.
// Key aspects: -by-band fans requests out through dispatch with IO-bound
// worker counts; each band falls back to local text independently.
// Upstream: dispatch "awards eval".
// Downstream: narrate.Narrator, narrate.NarrateAll.
func (a *app) cmdAwardsEval(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "awards eval", "awards eval [-goals TEXT] [-band B] [-mode M] [-limit N] [-by-band] [-local]")
	var filter awardsFilter
	filter.register(fs)
	goals := fs.String("goals", "", "your awards goals to tailor guidance")
	byBand := fs.Bool("by-band", false, "evaluate each band separately")
	local := fs.Bool("local", false, "never call the language model")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	recs, err := a.awardsRecords(ctx, filter)
	if err != nil {
		return fmt.Errorf("evaluating awards: %w", err)
	}
	n := a.narrator(*local)
	th := a.thresholds()
	if !*byBand {
		text, err := n.Narrate(ctx, narrate.Request{Kind: narrate.KindAwards, Records: recs, Goals: *goals, Thresholds: th})
		if err != nil {
			return fmt.Errorf("evaluating awards: %w", err)
		}
		fmt.Fprintln(a.stdout, text)
		return nil
	}

	groups, names := groupByBand(recs)
	reqs := make([]narrate.Request, len(groups))
	for i, g := range groups {
		reqs[i] = narrate.Request{Kind: narrate.KindAwards, Records: g, Goals: *goals, Thresholds: th}
	}
	workers := a.cfg.Dispatch.Workers
	if workers <= 0 {
		workers = a.policy.OptimalWorkers(dispatch.IOBound)
	}
	texts := narrate.NarrateAll(ctx, n, reqs, dispatch.NewExecutor(workers, a.cfg.Dispatch.ChunkTimeout))
	for i, text := range texts {
		if i > 0 {
			fmt.Fprintln(a.stdout)
		}
		fmt.Fprintf(a.stdout, "== %s ==\n%s\n", names[i], text)
	}
	return nil
}

// groupByBand buckets records by normalized band, sorted by band name with
// records lacking a band last under "unknown".
func groupByBand(recs []qso.Record) ([][]qso.Record, []string) {
	buckets := make(map[string][]qso.Record)
	for _, r := range recs {
		b, _ := r.Normalized(qso.FieldBand)
		buckets[b] = append(buckets[b], r)
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := buckets[""]; ok {
		keys = append(keys, "")
	}
	groups := make([][]qso.Record, len(keys))
	names := make([]string, len(keys))
	for i, k := range keys {
		groups[i] = buckets[k]
		names[i] = k
		if k == "" {
			names[i] = "unknown"
		}
	}
	return groups, names
}

func (a *app) cmdLookup(args []string) error {
	fs := newFlagSet(a, "lookup", "lookup CALL...")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: lookup needs at least one call sign", errUsage)
	}
	db := a.ctyDatabase()
	if db == nil {
		return errors.New("cty lookups need cty.enabled and cty.file in the config")
	}
	for _, call := range fs.Args() {
		call = strutil.NormalizeUpper(call)
		e, ok := db.Lookup(call)
		if !ok {
			fmt.Fprintf(a.stdout, "%s -> no matching prefix\n", call)
			continue
		}
		grid, _ := cty.EntityGrid(e)
		fmt.Fprintf(a.stdout, "%s -> prefix=%s, country=%s, continent=%s, CQ=%d, ITU=%d, grid=%s\n",
			call, e.Prefix, e.Country, e.Continent, e.CQZone, e.ITUZone, grid)
	}
	return nil
}

// Purpose: Refresh cty.plist from the configured URL.
// Key aspects: Conditional GET; a body that does not load as a plist never
// replaces the existing file.
// Upstream: dispatch "cty-update".
// Downstream: download.Download, cty.Load.
func (a *app) cmdCTYUpdate(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "cty-update", "cty-update [-url URL] [-force]")
	url := fs.String("url", a.cfg.CTY.URL, "plist URL")
	force := fs.Bool("force", false, "download even when the server reports no change")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(a.cfg.CTY.File) == "" {
		return errors.New("cty-update needs cty.file in the config")
	}
	res, err := download.Download(ctx, download.Request{
		URL:         *url,
		Destination: a.cfg.CTY.File,
		Timeout:     ctyDownloadTimeout,
		Force:       *force,
		UserAgent:   "qsolog",
		Validate: func(path string) error {
			db, err := cty.Load(path)
			if err != nil {
				return err
			}
			if db.Len() == 0 {
				return errors.New("plist has no entries")
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("updating cty.plist: %w", err)
	}
	switch res.Status {
	case download.StatusUpdated:
		fmt.Fprintf(a.stdout, "cty.plist updated: %s (%s)\n", a.cfg.CTY.File, humanize.Bytes(uint64(res.Bytes)))
	default:
		fmt.Fprintf(a.stdout, "cty.plist already current: %s\n", a.cfg.CTY.File)
	}
	return nil
}

func (a *app) cmdCPUInfo(args []string) error {
	fs := newFlagSet(a, "cpuinfo", "cpuinfo")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	info := a.policy.Describe()
	fmt.Fprintf(a.stdout, "Physical cores: %d\n", info.Physical)
	fmt.Fprintf(a.stdout, "Logical cores: %d\n", info.Logical)
	fmt.Fprintf(a.stdout, "Hyperthreading: %v\n", info.Hyperthreading)
	fmt.Fprintf(a.stdout, "Constrained environment: %v\n", info.Constrained)
	for _, c := range []dispatch.Category{dispatch.IOBound, dispatch.CPUBound, dispatch.Mixed} {
		fmt.Fprintf(a.stdout, "Workers (%s): %d\n", c, info.Workers[c])
	}
	return nil
}

func (a *app) writeJSON(v any) error {
	var (
		out []byte
		err error
	)
	if a.tty {
		out, err = json.MarshalIndent(v, "", "  ")
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	_, err = fmt.Fprintf(a.stdout, "%s\n", out)
	return err
}

func writeTable(w io.Writer, rows []qso.Record, withComment bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "ID\tUTC\tCall\tBand\tMode\tGrid"
	if withComment {
		header += "\tComment"
	}
	fmt.Fprintln(tw, header)
	for _, r := range rows {
		line := fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s", r.ID, r.StartAt.UTC().Format("2006-01-02 15:04:05"),
			r.Call, qso.Value(r.Band), qso.Value(r.Mode), qso.Value(r.Grid))
		if withComment {
			line += "\t" + truncateRunes(qso.Value(r.Comment), commentWidth)
		}
		fmt.Fprintln(tw, line)
	}
	tw.Flush()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
