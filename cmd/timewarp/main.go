// Package main implements the timewarp command line tool.
//
// timewarp adjusts the date, time, and timezone of assets in a Photos
// library catalog, and can mirror those values to or from the metadata
// embedded in the original files via exiftool.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"timewarp/catalog"
	"timewarp/exiftool"
	"timewarp/perf"
	"timewarp/reconcile"
	"timewarp/timeutils"
	"timewarp/timezone"
)

// Config holds application configuration.
type Config struct {
	// Library Configuration
	LibraryPath string

	// Asset selection
	UUIDs []string

	// Adjustments
	Date      string
	Time      string
	DateDelta int
	TimeDelta string
	Timezone  string
	MatchTime bool

	// Metadata tool
	PushExif     bool
	ExiftoolPath string

	// Logging
	LogLevel string
	Verbose  bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ExiftoolPath: "exiftool",
		LogLevel:     "warning",
	}
}

var (
	// Global logger
	log = logrus.New()

	// Command flags
	adjustCmd  = flag.NewFlagSet("adjust", flag.ExitOnError)
	pushCmd    = flag.NewFlagSet("push", flag.ExitOnError)
	pullCmd    = flag.NewFlagSet("pull", flag.ExitOnError)
	inspectCmd = flag.NewFlagSet("inspect", flag.ExitOnError)
	compareCmd = flag.NewFlagSet("compare", flag.ExitOnError)
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := DefaultConfig()
	var err error
	switch os.Args[1] {
	case "adjust":
		err = runAdjust(&cfg, os.Args[2:])
	case "push":
		err = runPush(&cfg, os.Args[2:])
	case "pull":
		err = runPull(&cfg, os.Args[2:])
	case "inspect":
		err = runInspect(&cfg, os.Args[2:])
	case "compare":
		err = runCompare(&cfg, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: timewarp <command> [flags]

Commands:
  adjust    Change date, time, or timezone of assets in the catalog
  push      Mirror catalog date/time/timezone into the original files
  pull      Update the catalog from the original files' metadata
  inspect   Print date/time/timezone for assets without changing anything
  compare   Compare catalog values against the files' embedded metadata
  help      Show this help

Run 'timewarp <command> -h' for command flags.
`)
}

// addCommonFlags registers the flags every command shares.
func addCommonFlags(cfg *Config, fs *flag.FlagSet) *string {
	fs.StringVar(&cfg.LibraryPath, "library", "", "path to the Photos library bundle (required)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warning, error)")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "show verbose output (implies -log-level info)")
	return fs.String("uuid", "", "comma-separated asset UUIDs to act on (required)")
}

func finishCommonFlags(cfg *Config, uuids *string) error {
	if cfg.Verbose && cfg.LogLevel == "warning" {
		cfg.LogLevel = "info"
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.LibraryPath == "" {
		return fmt.Errorf("-library is required")
	}
	for _, u := range strings.Split(*uuids, ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.UUIDs = append(cfg.UUIDs, u)
		}
	}
	if len(cfg.UUIDs) == 0 {
		return fmt.Errorf("-uuid is required")
	}
	return nil
}

func setupLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// openLibrary opens the catalog and routes its logging through the global
// logger.
func openLibrary(cfg *Config) (*catalog.Library, error) {
	libCfg := catalog.DefaultConfig()
	libCfg.LibraryPath = cfg.LibraryPath
	lib, err := catalog.New(libCfg)
	if err != nil {
		return nil, err
	}
	lib.SetLogger(log)
	return lib, nil
}

// openEngine wires catalog and, when needed, the exiftool client into an
// engine. The returned closer is nil when no tool was started.
func openEngine(cfg *Config, withTool bool) (*reconcile.Engine, func() error, error) {
	lib, err := openLibrary(cfg)
	if err != nil {
		return nil, nil, err
	}

	var tool *exiftool.Client
	var closer func() error
	if withTool {
		tool, err = exiftool.New(exiftool.Config{Path: cfg.ExiftoolPath})
		if err != nil {
			return nil, nil, err
		}
		tool.SetLogger(log)
		closer = tool.Close
	}

	var eng *reconcile.Engine
	if tool != nil {
		eng = reconcile.New(lib, tool)
	} else {
		eng = reconcile.New(lib, nil)
	}
	eng.SetLogger(log)
	return eng, closer, nil
}

// buildUpdate translates the date/time flags into an edit.
func buildUpdate(cfg *Config) (timeutils.Update, error) {
	var upd timeutils.Update
	if cfg.Date != "" {
		d, err := time.Parse("2006-01-02", cfg.Date)
		if err != nil {
			return upd, fmt.Errorf("invalid -date %q, expected YYYY-MM-DD", cfg.Date)
		}
		upd.Date = &d
	}
	if cfg.Time != "" {
		t, err := timeutils.ParseTimeString(cfg.Time)
		if err != nil {
			return upd, fmt.Errorf("invalid -time %q, expected HH:MM[:SS]", cfg.Time)
		}
		upd.Time = &t
	}
	upd.DateDelta = cfg.DateDelta
	if cfg.TimeDelta != "" {
		d, err := time.ParseDuration(cfg.TimeDelta)
		if err != nil {
			return upd, fmt.Errorf("invalid -time-delta %q, expected Go duration like -1h30m", cfg.TimeDelta)
		}
		upd.TimeDelta = d
	}
	return upd, upd.Validate()
}

func runAdjust(cfg *Config, args []string) error {
	uuids := addCommonFlags(cfg, adjustCmd)
	adjustCmd.StringVar(&cfg.Date, "date", "", "set date (YYYY-MM-DD), keeping time-of-day")
	adjustCmd.StringVar(&cfg.Time, "time", "", "set time-of-day (HH:MM[:SS]), keeping date")
	adjustCmd.IntVar(&cfg.DateDelta, "date-delta", 0, "shift date by whole days")
	adjustCmd.StringVar(&cfg.TimeDelta, "time-delta", "", "shift time by a duration (e.g. 1h30m, -45s)")
	adjustCmd.StringVar(&cfg.Timezone, "timezone", "", "set timezone as UTC offset (±HH:MM or ±HHMM)")
	adjustCmd.BoolVar(&cfg.MatchTime, "match-time", false, "with -timezone, shift the time so the datetime under the new timezone denotes the same instant")
	adjustCmd.BoolVar(&cfg.PushExif, "push-exif", false, "also mirror the result into the original files' metadata")
	adjustCmd.StringVar(&cfg.ExiftoolPath, "exiftool-path", cfg.ExiftoolPath, "path to the exiftool binary")
	adjustCmd.Parse(args)
	if err := finishCommonFlags(cfg, uuids); err != nil {
		return err
	}

	req := reconcile.Request{MatchTime: cfg.MatchTime, Push: cfg.PushExif}
	var err error
	if req.Update, err = buildUpdate(cfg); err != nil {
		return err
	}
	if cfg.Timezone != "" {
		seconds, err := timezone.ParseOffset(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid -timezone %q: %w", cfg.Timezone, err)
		}
		tz := timezone.FromOffsetSeconds(seconds)
		req.Timezone = &tz
	}

	eng, closer, err := openEngine(cfg, cfg.PushExif)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	return runBatch(cfg, eng, req)
}

func runPush(cfg *Config, args []string) error {
	uuids := addCommonFlags(cfg, pushCmd)
	pushCmd.StringVar(&cfg.ExiftoolPath, "exiftool-path", cfg.ExiftoolPath, "path to the exiftool binary")
	pushCmd.Parse(args)
	if err := finishCommonFlags(cfg, uuids); err != nil {
		return err
	}

	eng, closer, err := openEngine(cfg, true)
	if err != nil {
		return err
	}
	defer closer()

	return runBatch(cfg, eng, reconcile.Request{Push: true})
}

// runBatch processes the selected assets and reports per-asset outcomes.
func runBatch(cfg *Config, eng *reconcile.Engine, req reconcile.Request) error {
	metrics := perf.NewBatchMetrics()
	timer := perf.Start("batch", log)

	fmt.Printf("Processing %d asset(s)\n", len(cfg.UUIDs))
	batch, err := eng.Process(cfg.UUIDs, req)
	if err != nil {
		return err
	}
	metrics.TotalDuration = timer.Stop()

	for _, r := range batch.Results {
		metrics.RecordAsset(r.Err != nil, r.Skipped)
		switch {
		case r.Err != nil:
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", r.UUID, r.Err)
		case r.Skipped:
			fmt.Printf("%s: skipped (original file missing)\n", r.UUID)
		case r.Warning != "":
			fmt.Printf("%s: done (warning: %s)\n", r.UUID, r.Warning)
		default:
			fmt.Printf("%s: done\n", r.UUID)
		}
	}
	if cfg.Verbose {
		fmt.Print(metrics.Summary())
	}
	if batch.Failed > 0 {
		return fmt.Errorf("%d of %d assets failed", batch.Failed, len(batch.Results))
	}
	return nil
}

func runPull(cfg *Config, args []string) error {
	uuids := addCommonFlags(cfg, pullCmd)
	pullCmd.StringVar(&cfg.ExiftoolPath, "exiftool-path", cfg.ExiftoolPath, "path to the exiftool binary")
	pullCmd.Parse(args)
	if err := finishCommonFlags(cfg, uuids); err != nil {
		return err
	}

	eng, closer, err := openEngine(cfg, true)
	if err != nil {
		return err
	}
	defer closer()

	metrics := perf.NewBatchMetrics()
	timer := perf.Start("pull", log)
	var failed int
	for _, uuidStr := range cfg.UUIDs {
		err := eng.Pull(uuidStr)
		metrics.RecordAsset(err != nil, false)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", uuidStr, err)
			continue
		}
		fmt.Printf("%s: done\n", uuidStr)
	}
	metrics.TotalDuration = timer.Stop()
	if cfg.Verbose {
		fmt.Print(metrics.Summary())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d assets failed", failed, len(cfg.UUIDs))
	}
	return nil
}

func runInspect(cfg *Config, args []string) error {
	uuids := addCommonFlags(cfg, inspectCmd)
	inspectCmd.Parse(args)
	if err := finishCommonFlags(cfg, uuids); err != nil {
		return err
	}

	eng, _, err := openEngine(cfg, false)
	if err != nil {
		return err
	}

	fmt.Println("filename, uuid, time (local), time (zone), timezone offset, timezone name")
	for _, uuidStr := range cfg.UUIDs {
		info, err := eng.Inspect(uuidStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", uuidStr, err)
			continue
		}
		fmt.Printf("%s, %s, %s, %s, %s, %s\n",
			info.Filename, info.UUID,
			info.LocalTime.Format("2006-01-02 15:04:05Z0700"),
			info.ZoneTime.Format("2006-01-02 15:04:05Z0700"),
			info.OffsetStr, info.ZoneName)
	}
	return nil
}

func runCompare(cfg *Config, args []string) error {
	uuids := addCommonFlags(cfg, compareCmd)
	compareCmd.StringVar(&cfg.ExiftoolPath, "exiftool-path", cfg.ExiftoolPath, "path to the exiftool binary")
	compareCmd.Parse(args)
	if err := finishCommonFlags(cfg, uuids); err != nil {
		return err
	}

	eng, closer, err := openEngine(cfg, true)
	if err != nil {
		return err
	}
	defer closer()

	fmt.Println("uuid, date (catalog/file), time (catalog/file), offset (catalog/file)")
	for _, uuidStr := range cfg.UUIDs {
		diff, err := eng.Compare(uuidStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", uuidStr, err)
			continue
		}
		m := diff.Markup()
		fmt.Printf("%s, %s / %s, %s / %s, %s / %s\n",
			uuidStr,
			m.CatalogDate, m.FileDate,
			m.CatalogTime, m.FileTime,
			m.CatalogOffset, m.FileOffset)
	}
	return nil
}
