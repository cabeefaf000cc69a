// Command qsolog is a ham radio QSO logger: it stores contacts, moves them in
// and out of ADIF, and reports DXCC/VUCC award progress.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"qsolog/awards"
	"qsolog/config"
	"qsolog/cty"
	"qsolog/dispatch"
	"qsolog/qso"
	"qsolog/qsostore"
	"qsolog/sqlstore"
)

const usageText = `Usage: qsolog [-config path] <command> [flags]

Commands:
  init                     create the log database
  log -call CALL [...]     record a contact
  list                     show recent contacts
  remove ID                delete a contact
  export [-out file]       write contacts as ADIF
  import FILE              read contacts from ADIF
  search [...]             find contacts by call, band, mode or grid
  summarize                summarize recent contacts
  awards summary|suggest|eval
                           award counts, suggestions and plans
  lookup CALL...           resolve call signs against cty.plist
  cty-update               download a fresh cty.plist
  cpuinfo                  show detected cores and worker counts
  config                   print the effective configuration

Run "qsolog <command> -h" for command flags.
`

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries what every command needs. The gateway is opened lazily so
// commands like cpuinfo never touch storage.
type app struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
	logs   *logFanout
	policy dispatch.Policy
	tty    bool
	now    func() time.Time

	gw  qso.Gateway
	cty *cty.Database
}

// Purpose: Parse global flags, load config and run one command.
// Key aspects: Returns the process exit code; 2 for usage errors, 1 for failures.
// Upstream: main, tests.
// Downstream: config.Load, setupLogging, app.dispatch.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("qsolog", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usageText) }
	configPath := global.String("config", "", "config file or directory (default $"+config.EnvPath+" or the user config dir)")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return 2
	}

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logs, err := setupLogging(cfg.Logging, stderr)
	if err != nil {
		log.Printf("Logging: %v", err)
	}
	defer logs.Close()

	a := &app{
		cfg:    cfg,
		stdout: stdout,
		stderr: stderr,
		logs:   logs,
		policy: dispatch.NewPolicy(dispatch.Detect()),
		tty:    isTTY(stdout),
		now:    qso.Now,
	}
	defer a.close()

	err = a.dispatch(ctx, rest[0], rest[1:])
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "init":
		return a.cmdInit(ctx, args)
	case "log":
		return a.cmdLog(ctx, args)
	case "list":
		return a.cmdList(ctx, args)
	case "remove":
		return a.cmdRemove(ctx, args)
	case "export":
		return a.cmdExport(ctx, args)
	case "import":
		return a.cmdImport(ctx, args)
	case "search":
		return a.cmdSearch(ctx, args)
	case "summarize":
		return a.cmdSummarize(ctx, args)
	case "awards":
		return a.cmdAwards(ctx, args)
	case "lookup":
		return a.cmdLookup(args)
	case "cty-update":
		return a.cmdCTYUpdate(ctx, args)
	case "cpuinfo":
		return a.cmdCPUInfo(args)
	case "config":
		a.cfg.Print(a.stdout)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(a.stdout, usageText)
		return nil
	default:
		fmt.Fprint(a.stderr, usageText)
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

// resolveConfigPath prefers the flag, then QSOLOG_CONFIG, then the default
// per-user location.
func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(config.EnvPath)); p != "" {
		return p
	}
	return config.DefaultPath()
}

// Purpose: Open the configured store on first use.
// Key aspects: Backend chosen by storage.backend; EnsureReady is called once.
// Upstream: every storage-backed command.
// Downstream: qsostore.New, sqlstore.New.
func (a *app) gateway(ctx context.Context) (qso.Gateway, error) {
	if a.gw != nil {
		return a.gw, nil
	}
	var gw qso.Gateway
	switch a.cfg.Storage.Backend {
	case config.BackendSQLite:
		gw = sqlstore.New(a.cfg.Storage.Path, sqlstore.Options{Logf: log.Printf})
	default:
		gw = qsostore.New(a.cfg.Storage.Path, qsostore.Options{})
	}
	if err := gw.EnsureReady(ctx); err != nil {
		gw.Close()
		return nil, fmt.Errorf("open %s store at %s: %w", a.cfg.Storage.Backend, a.cfg.Storage.Path, err)
	}
	a.logs.debugf("opened %s store at %s", a.cfg.Storage.Backend, a.cfg.Storage.Path)
	a.gw = gw
	return gw, nil
}

// ctyDatabase loads cty.plist when enabled. A load failure is logged and
// lookups are skipped rather than failing the command.
func (a *app) ctyDatabase() *cty.Database {
	if a.cty != nil || !a.cfg.CTY.Enabled {
		return a.cty
	}
	db, err := cty.Load(a.cfg.CTY.File)
	if err != nil {
		log.Printf("CTY: %v", err)
		a.cfg.CTY.Enabled = false
		return nil
	}
	a.logs.debugf("loaded %d cty keys from %s", db.Len(), a.cfg.CTY.File)
	a.cty = db
	return db
}

// thresholds resolves the awards file: W4GNS_AWARDS_CONFIG, then
// awards.config, then awards.json in the user config dir.
func (a *app) thresholds() awards.Thresholds {
	path := ""
	if os.Getenv(awards.ConfigEnvVar) == "" && a.cfg.Awards.ConfigPath != "" {
		path = a.cfg.Awards.ConfigPath
	} else if p, err := awards.ThresholdsPath(); err == nil {
		path = p
	}
	a.logs.debugf("award thresholds from %s", path)
	return awards.LoadThresholdsFile(path)
}

func (a *app) close() {
	if a.gw != nil {
		if err := a.gw.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
}

// isTTY reports whether w is a terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newFlagSet(a *app, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: qsolog %s\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

func displayPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
