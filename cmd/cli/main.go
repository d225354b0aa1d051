package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/app"
	"github.com/Financial-Management-System/FMS-sub000/internal/config"
	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/gcsuploader"
	"github.com/Financial-Management-System/FMS-sub000/internal/jobs"
	"github.com/Financial-Management-System/FMS-sub000/internal/logger"
	"github.com/Financial-Management-System/FMS-sub000/internal/recurrence"
	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/Financial-Management-System/FMS-sub000/internal/templates"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "run":
		err = runRecurrence(args, log)
	case "next":
		err = runNext(args)
	case "templates":
		err = runTemplates(args, log)
	case "transactions":
		err = runTransactions(args, log)
	case "report":
		err = runReport(args, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Recurring expenses CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run           Materialize due recurring expenses once")
	fmt.Println("  next          Print upcoming occurrences of a schedule")
	fmt.Println("  templates     List recurring expense templates of an organization")
	fmt.Println("  transactions  List ledger transactions of an organization")
	fmt.Println("  report        Print an archived run report from GCS")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// openServices loads the config file and opens its services. The returned
// logger follows the config's logging section.
func openServices(ctx context.Context, path string, log zerolog.Logger) (*app.Services, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, log, fmt.Errorf("load config: %w", err)
	}
	log = logger.NewFromConfig(cfg.Logging)
	svc, err := app.Open(ctx, cfg, log)
	if err != nil {
		return nil, log, fmt.Errorf("initialize services: %w", err)
	}
	return svc, log, nil
}

func closeServices(svc *app.Services, log zerolog.Logger) {
	if err := svc.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close services")
	}
}

func runRecurrence(args []string, log zerolog.Logger) error {
	return runRecurrenceTo(os.Stdout, args, log)
}

func runRecurrenceTo(w io.Writer, args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("FMS_CONFIG"), "Path to config file")
	now := fs.String("now", "", "Reference time, RFC 3339 or YYYY-MM-DD (default: current time)")
	org := fs.String("org", "", "Restrict the run to one organization")
	limit := fs.Int("limit", 0, "Maximum templates to process (0 = default)")
	asJSON := fs.Bool("json", false, "Print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var at time.Time
	if *now != "" {
		t, err := templates.ParseDate(*now)
		if err != nil {
			return fmt.Errorf("invalid -now: %w", err)
		}
		at = t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	svc, log, err := openServices(ctx, *configPath, log)
	if err != nil {
		return err
	}
	defer closeServices(svc, log)

	job := &jobs.RecurrenceRunJob{
		JobID:          uuid.New().String(),
		Trigger:        jobs.TriggerCLI,
		OrganizationID: *org,
		Now:            at,
		Limit:          *limit,
		CreatedAt:      time.Now().UTC(),
	}

	res, err := app.ExecuteRun(ctx, svc.Runner, svc.Archiver, job, log)
	if err != nil {
		printRunResult(w, res, job.ReportURI)
		return fmt.Errorf("recurrence run: %w", err)
	}

	if *asJSON {
		printJSON(w, res)
		return nil
	}
	printRunResult(w, res, job.ReportURI)
	return nil
}

func printRunResult(w io.Writer, res recurrence.RunResult, reportURI string) {
	if res.Skipped {
		fmt.Fprintln(w, "Run skipped: another run holds the lock.")
		return
	}
	fmt.Fprintf(w, "Run at %s\n", res.Now.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  Processed templates:  %d\n", res.ProcessedTemplates)
	fmt.Fprintf(w, "  Created transactions: %d\n", res.CreatedTransactions)
	fmt.Fprintf(w, "  Ended templates:      %d\n", res.EndedTemplates)
	fmt.Fprintf(w, "  Conflicts:            %d\n", res.Conflicts)
	if len(res.Failures) > 0 {
		fmt.Fprintf(w, "\n=== Failures (%d) ===\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Fprintf(w, "  %s [%s] %s: %s\n", f.TemplateID, f.OrganizationID, f.Stage, f.Error)
		}
	}
	if reportURI != "" {
		fmt.Fprintf(w, "\nReport: %s\n", reportURI)
	}
}

func runNext(args []string) error {
	fs := flag.NewFlagSet("next", flag.ContinueOnError)
	frequency := fs.String("frequency", "monthly", "daily, weekly, monthly or yearly")
	interval := fs.Int("interval", 1, "Repeat every N periods")
	dayOfWeek := fs.Int("day-of-week", -1, "Weekly anchor, 0 = Sunday (-1 = none)")
	dayOfMonth := fs.Int("day-of-month", -1, "Monthly anchor, 1-31 (-1 = none)")
	from := fs.String("from", "", "Start date, RFC 3339 or YYYY-MM-DD (default: today)")
	count := fs.Int("count", 5, "Number of occurrences to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	start := time.Now().UTC().Truncate(24 * time.Hour)
	if *from != "" {
		t, err := templates.ParseDate(*from)
		if err != nil {
			return fmt.Errorf("invalid -from: %w", err)
		}
		start = t
	}

	dates, err := previewSchedule(*frequency, *interval, optionalDay(*dayOfWeek), optionalDay(*dayOfMonth), start, *count)
	if err != nil {
		return err
	}
	for _, d := range dates {
		fmt.Println(d.Format("2006-01-02 Mon"))
	}
	return nil
}

// previewSchedule returns the next count occurrences after from.
func previewSchedule(frequency string, interval int, dayOfWeek, dayOfMonth *int, from time.Time, count int) ([]time.Time, error) {
	freq, err := schedule.ParseFrequency(frequency)
	if err != nil {
		return nil, err
	}
	rule, err := schedule.RuleFromFields(freq, interval, dayOfWeek, dayOfMonth)
	if err != nil {
		return nil, err
	}
	return schedule.Preview(from, rule, count)
}

func optionalDay(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

func runTemplates(args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("templates", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("FMS_CONFIG"), "Path to config file")
	org := fs.String("org", "", "Organization ID (required)")
	status := fs.String("status", "", "Filter by status: active, paused or ended")
	limit := fs.Int("limit", 100, "Maximum templates to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *org == "" {
		return errors.New("-org is required")
	}

	ctx := context.Background()
	svc, log, err := openServices(ctx, *configPath, log)
	if err != nil {
		return err
	}
	defer closeServices(svc, log)

	items, err := templates.NewService(svc.Store, log).List(ctx, storage.TemplateFilter{
		OrganizationID: *org,
		Status:         domain.TemplateStatus(*status),
		Limit:          *limit,
	})
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	printTemplates(os.Stdout, items)
	return nil
}

func printTemplates(w io.Writer, items []*domain.RecurringTemplate) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tAMOUNT\tNEXT RUN\tSTATUS")
	for _, t := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%s\n",
			t.ID, t.Name, describeSchedule(t), t.Amount.StringFixed(2), t.Currency,
			t.NextRunAt.Format("2006-01-02"), t.Status)
	}
	tw.Flush()
}

func describeSchedule(t *domain.RecurringTemplate) string {
	s := string(t.Frequency)
	if t.Interval > 1 {
		s = fmt.Sprintf("every %d %s", t.Interval, t.Frequency)
	}
	switch {
	case t.Frequency == schedule.Weekly && t.DayOfWeek != nil:
		s += " on " + time.Weekday(*t.DayOfWeek).String()
	case t.Frequency == schedule.Monthly && t.DayOfMonth != nil:
		s += fmt.Sprintf(" on day %d", *t.DayOfMonth)
	}
	return s
}

func runTransactions(args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("transactions", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("FMS_CONFIG"), "Path to config file")
	org := fs.String("org", "", "Organization ID (required)")
	templateID := fs.String("template", "", "Only transactions materialized from this template")
	from := fs.String("from", "", "Start date YYYY-MM-DD (inclusive)")
	to := fs.String("to", "", "End date YYYY-MM-DD (inclusive)")
	limit := fs.Int("limit", 100, "Maximum transactions to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *org == "" {
		return errors.New("-org is required")
	}
	filter := storage.TransactionFilter{OrganizationID: *org, TemplateID: *templateID, Limit: *limit}
	var err error
	if *from != "" {
		if filter.From, err = templates.ParseDate(*from); err != nil {
			return fmt.Errorf("invalid -from: %w", err)
		}
	}
	if *to != "" {
		if filter.To, err = templates.ParseDate(*to); err != nil {
			return fmt.Errorf("invalid -to: %w", err)
		}
	}

	ctx := context.Background()
	svc, log, err := openServices(ctx, *configPath, log)
	if err != nil {
		return err
	}
	defer closeServices(svc, log)

	txns, err := svc.Store.ListTransactions(ctx, filter)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}

	fmt.Printf("\n=== Transactions (%d) ===\n", len(txns))
	for i, tx := range txns {
		fmt.Printf("\n%d. %s\n", i+1, tx.Notes)
		fmt.Printf("   Date:     %s\n", tx.Date.Format("2006-01-02"))
		fmt.Printf("   Amount:   %s %s\n", tx.Amount.StringFixed(2), tx.Currency)
		fmt.Printf("   Status:   %s\n", tx.Status)
		if tx.Category != "" {
			fmt.Printf("   Category: %s\n", tx.Category)
		}
		if tx.SourceTemplateID != nil {
			fmt.Printf("   Template: %s\n", *tx.SourceTemplateID)
		}
	}
	fmt.Println()
	return nil
}

func runReport(args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	uri := fs.String("uri", "", "gs:// URI of the archived run report")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *uri == "" {
		return errors.New("-uri is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := gcsuploader.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	report, err := gcsuploader.NewArchiver(client, "", "", log).FetchReport(ctx, *uri)
	if err != nil {
		return fmt.Errorf("fetch report: %w", err)
	}
	printJSON(os.Stdout, report)
	return nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
