package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/brv.report/internal/config"
	"github.com/banshee-data/brv.report/internal/db"
	"github.com/banshee-data/brv.report/internal/fsutil"
	"github.com/banshee-data/brv.report/internal/ingest"
	"github.com/banshee-data/brv.report/internal/monitoring"
	"github.com/banshee-data/brv.report/internal/pipeline"
	"github.com/banshee-data/brv.report/internal/report"
	"github.com/banshee-data/brv.report/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "analyse", "analyze":
		handleAnalyse(args)
	case "migrate":
		handleMigrate(args)
	case "runs":
		handleRuns(args)
	case "version":
		fmt.Printf("brv %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`brv - ventilatory threshold and breathing-rate variability analysis

Usage: brv <command> [options]

Commands:
  analyse    Detect VT1/VT2, compute BRV per zone and cohort agreement
  migrate    Manage the run store schema (up, down, version)
  runs       List runs stored in a database
  version    Show version
  help       Show this help message

Examples:
  brv analyse -trials trials.csv -gold gold.csv -out results -figures
  brv analyse -trials trials.csv -gold gold.csv -subjects subjects.csv -db runs.db
  brv migrate -db runs.db up
  brv runs -db runs.db`)
}

// analyseOptions are the inputs of one analyse invocation.
type analyseOptions struct {
	Trials   string
	Gold     string
	Subjects string
	Config   string
	Out      string
	DBPath   string
	Figures  bool
	Workers  int
}

func handleAnalyse(args []string) {
	fs := flag.NewFlagSet("analyse", flag.ExitOnError)
	var o analyseOptions
	fs.StringVar(&o.Trials, "trials", "", "Cleaned breath-by-breath CSV (required)")
	fs.StringVar(&o.Gold, "gold", "", "Gold-standard VT1/VT2 CSV (required)")
	fs.StringVar(&o.Subjects, "subjects", "", "Optional subject attributes CSV")
	fs.StringVar(&o.Config, "config", "", "Analysis config JSON (defaults apply when omitted)")
	fs.StringVar(&o.Out, "out", "results", "Output directory")
	fs.StringVar(&o.DBPath, "db", "", "SQLite run store to record the run in")
	fs.BoolVar(&o.Figures, "figures", false, "Write PNG figures and the curves page")
	fs.IntVar(&o.Workers, "workers", 0, "Concurrent subjects (overrides config when > 0)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	monitoring.SetDebug(*debug)

	if o.Trials == "" || o.Gold == "" {
		fmt.Fprintln(os.Stderr, "Error: -trials and -gold are required")
		fs.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep, err := runAnalyse(ctx, fsutil.OSFileSystem{}, o)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
	printSummary(os.Stdout, rep)
}

// runAnalyse loads inputs, runs the pipeline and writes every artefact.
func runAnalyse(ctx context.Context, fsys fsutil.FileSystem, o analyseOptions) (*pipeline.Report, error) {
	cfg := config.DefaultAnalysisConfig()
	if o.Config != "" {
		loaded, err := config.LoadAnalysisConfig(o.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	trials, err := ingest.LoadTrials(fsys, o.Trials)
	if err != nil {
		return nil, err
	}
	gold, err := ingest.LoadGold(fsys, o.Gold)
	if err != nil {
		return nil, err
	}
	if o.Subjects != "" {
		subjects, err := ingest.LoadSubjects(fsys, o.Subjects)
		if err != nil {
			return nil, err
		}
		ingest.MergeSubjects(trials, subjects)
	}
	log.Printf("Loaded %d trials and %d gold-standard rows", len(trials), len(gold))

	var opts []pipeline.Option
	if o.Workers > 0 {
		opts = append(opts, pipeline.WithWorkers(o.Workers))
	}
	runner, err := pipeline.NewRunner(cfg, opts...)
	if err != nil {
		return nil, err
	}
	rep, err := runner.Run(ctx, pipeline.Input{Trials: trials, Gold: gold})
	if err != nil {
		return nil, err
	}

	w := report.NewWriter(fsys, o.Out)
	w.Figures = o.Figures
	w.Axis = cfg.GetEffortAxis()
	w.Channel = cfg.GetChannel()
	w.MinSamples = cfg.GetMinSamples()
	written, err := w.Write(rep, trials)
	if err != nil {
		return rep, err
	}
	for _, p := range written {
		monitoring.Debugf("wrote %s", p)
	}
	log.Printf("Wrote %d files to %s", len(written), o.Out)

	if o.DBPath != "" {
		store, err := db.OpenMigrated(o.DBPath)
		if err != nil {
			return rep, err
		}
		defer store.Close()
		if err := store.SaveReport(ctx, rep); err != nil {
			return rep, err
		}
		log.Printf("Stored run %s in %s", rep.RunID, o.DBPath)
	}
	return rep, nil
}

func printSummary(w io.Writer, rep *pipeline.Report) {
	fmt.Fprintf(w, "Run %s: %d subjects, %d exclusions\n", rep.RunID, len(rep.Subjects), len(rep.Exclusions))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPARISON\tN\tMETHOD\tR\tBIAS\tLOA")
	for _, c := range rep.Comparisons {
		ba := c.BlandAltman
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s..%s\n", c.Comparison, c.N, c.Method,
			metric(c.R.Float(), c.R.Defined()), metric(ba.Bias.Float(), ba.Bias.Defined()),
			metric(ba.LowerLoA.Float(), ba.LowerLoA.Defined()), metric(ba.UpperLoA.Float(), ba.UpperLoA.Defined()))
	}
	for _, s := range rep.Skipped {
		fmt.Fprintf(tw, "%s\t%d\tskipped\t-\t-\t%s\n", s.Comparison, s.N, s.Kind)
	}
	tw.Flush()
}

func metric(v float64, ok bool) string {
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "runs.db", "SQLite run store")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: brv migrate -db runs.db up|down|version|force <n>")
		os.Exit(1)
	}
	if err := runMigrate(os.Stdout, *dbPath, fs.Args()); err != nil {
		log.Fatalf("Migrate failed: %v", err)
	}
}

func runMigrate(w io.Writer, dbPath string, args []string) error {
	store, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	switch args[0] {
	case "up":
		if err := store.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := store.MigrateDown(); err != nil {
			return err
		}
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("force needs a version number")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := store.MigrateForce(v); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q", args[0])
	}

	v, dirty, err := store.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "schema version %d", v)
	if dirty {
		fmt.Fprint(w, " (dirty)")
	}
	fmt.Fprintln(w)
	return nil
}

func handleRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "runs.db", "SQLite run store")
	fs.Parse(args)

	if err := listRuns(context.Background(), os.Stdout, *dbPath); err != nil {
		log.Fatalf("List runs failed: %v", err)
	}
}

func listRuns(ctx context.Context, w io.Writer, dbPath string) error {
	store, err := db.OpenMigrated(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tSUBJECTS\tEXCLUDED\tVERSION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", r.RunID, r.StartedAt.Format(time.RFC3339),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), r.Subjects, r.Excluded, r.Version)
	}
	return tw.Flush()
}
