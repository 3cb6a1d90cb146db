package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/scrapewatch/internal/app"
	"github.com/timmy/scrapewatch/internal/config"
	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/extract"
	"github.com/timmy/scrapewatch/internal/logger"
	"github.com/timmy/scrapewatch/internal/render"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	log        *logger.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "scrapewatch",
	Short:   "Operate scrapewatch extraction tasks",
	Long:    "scrapewatch validates extraction schemas against live pages and runs approved instructions outside the API server.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		log = app.NewLogger(&cfg.Log, "scrapewatch-cli")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dueCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- validate command ---

var showRecords bool

var validateCmd = &cobra.Command{
	Use:   "validate <url> <schema.json>",
	Short: "Render a page and report how a schema's selectors resolve on it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading schema: %w", err)
		}
		var schema domain.ExtractionSchema
		if err := json.Unmarshal(raw, &schema); err != nil {
			return fmt.Errorf("parsing schema: %w", err)
		}

		renderer, err := render.New(&cfg.Render)
		if err != nil {
			return err
		}
		defer renderer.Close()

		ctx, cancel := signalContext()
		defer cancel()

		doc, err := renderer.Render(ctx, args[0])
		if err != nil {
			return err
		}
		report, err := extract.Validate(doc, &schema)
		if err != nil {
			return err
		}

		out := map[string]interface{}{
			"url":     doc.URL,
			"title":   doc.Title(),
			"healthy": report.Healthy(),
			"report":  report,
		}
		if showRecords {
			records, err := extract.Extract(doc, &schema)
			if err != nil {
				return err
			}
			out["records"] = records
		}
		if err := printJSON(out); err != nil {
			return err
		}
		if !report.Healthy() {
			return fmt.Errorf("schema is not healthy; unmatched fields: %v", report.MissingFields())
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&showRecords, "records", false, "Also print the extracted records")
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run <instruction-id>",
	Short: "Execute one instruction immediately and store the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		ins, err := a.Store.Instructions.GetByID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("loading instruction %s: %w", args[0], err)
		}
		if ins.Status == domain.InstructionDeleted {
			return fmt.Errorf("instruction %s: %w", args[0], domain.ErrNotFound)
		}

		// RunNow takes the same database claim as the server's scheduler, so
		// this run never overlaps one started by a running API process.
		completion, err := a.Scheduler.RunNow(ctx, ins)
		if errors.Is(err, domain.ErrRunInProgress) {
			return fmt.Errorf("instruction %s is already running", ins.ID)
		}
		if err != nil {
			return err
		}

		events := a.Processor.Process(ctx, *completion)
		fmt.Printf("Run %s stored: %d records, %d changes\n", completion.Current.ID, completion.Current.RecordCount, len(events))
		for _, e := range events {
			fmt.Printf("  %-8s %s\n", e.ChangeType, e.RecordKey)
		}
		return nil
	},
}

// --- due command ---

var dueLimit int

var dueCmd = &cobra.Command{
	Use:   "due",
	Short: "List instructions that are due to run, most overdue first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		now := time.Now()
		due, err := a.Store.Instructions.ListDue(ctx, now, dueLimit)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			fmt.Println("Nothing is due.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tSITE\tOVERDUE\tFAILURES")
		for _, ins := range due {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				ins.ID, ins.UserID, ins.SiteURL,
				ins.Overdue(now).Truncate(time.Second), ins.ConsecutiveFailures)
		}
		return w.Flush()
	},
}

func init() {
	dueCmd.Flags().IntVar(&dueLimit, "limit", 50, "Maximum number of instructions to list")
}
