package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/monitoring"
	"github.com/sells-group/b2b-sync/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect sync run history",
	Long:  "Commands for listing, viewing, and summarizing sync runs recorded in the run ledger.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("ledger")
	},
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		batchStatus, _ := cmd.Flags().GetString("batch-status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:      model.RunStatus(status),
			BatchStatus: model.BatchStatus(batchStatus),
			Limit:       limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

// runDetail is a run with its row results.
type runDetail struct {
	Run  *model.Run        `json:"run" yaml:"run"`
	Rows []model.RowResult `json:"rows" yaml:"rows"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		onlyFailed, _ := cmd.Flags().GetBool("failed")
		rows, err := st.ListRowResults(ctx, run.ID, onlyFailed)
		if err != nil {
			return eris.Wrap(err, "runs show: rows")
		}

		format, _ := cmd.Flags().GetString("format")
		return writeRunDetail(os.Stdout, runDetail{Run: run, Rows: rows}, format)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		if since > 0 {
			runs = runsSince(runs, time.Now().Add(-since))
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

// -- runs check --

var runsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate recent runs against alert thresholds",
	Long:  "Collects run metrics over the lookback window, prints any breached thresholds, and posts them to the configured webhook.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lookback, _ := cmd.Flags().GetInt("lookback-hours")
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackHours
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, lookback)
		if err != nil {
			return err
		}
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)

		formatAlerts(os.Stdout, snap, alerts)
		alerter.SendAlerts(ctx, alerts)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().String("batch-status", "", "filter by batch outcome (success, partial, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().String("format", "json", "output format: json, yaml")
	runsShowCmd.Flags().Bool("failed", false, "only include failed rows")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h); 0 for all")

	runsCheckCmd.Flags().Int("lookback-hours", 0, "metrics window in hours (default from config)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsCheckCmd)
	rootCmd.AddCommand(runsCmd)
}

// runsSince keeps the runs created at or after t.
func runsSince(runs []model.Run, t time.Time) []model.Run {
	out := runs[:0:0]
	for _, r := range runs {
		if !r.CreatedAt.Before(t) {
			out = append(out, r)
		}
	}
	return out
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Running    int
	Success    int
	Partial    int
	Failed     int
	Cancelled  int
	Rows       int
	RowsFailed int
	Entities   model.Stats
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics from a list of runs.
// Aborted runs count as failed.
func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		if r.Cancelled {
			s.Cancelled++
		}
		switch r.Status {
		case model.RunStatusRunning:
			s.Running++
			continue
		case model.RunStatusFailed:
			s.Failed++
			continue
		}

		switch r.BatchStatus {
		case model.BatchSuccess:
			s.Success++
		case model.BatchPartial:
			s.Partial++
		default:
			s.Failed++
		}
		s.Rows += r.TotalRows
		s.RowsFailed += r.Stats.RowsFailed
		s.Entities.Merge(r.Stats)
		totalDur += r.UpdatedAt.Sub(r.CreatedAt)
		durCount++
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tOUTCOME\tROWS\tFAILED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-------\t----\t------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		source := r.Source
		if len(source) > 30 {
			source = "..." + source[len(source)-27:]
		}

		outcome := string(r.BatchStatus)
		if r.Cancelled {
			outcome += " (cancelled)"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			source,
			r.Status,
			outcome,
			r.TotalRows,
			r.Stats.RowsFailed,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Success:\t%d\n", s.Success)
	_, _ = fmt.Fprintf(w, "Partial:\t%d\n", s.Partial)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	if s.Cancelled > 0 {
		_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", s.Cancelled)
	}
	_, _ = fmt.Fprintf(w, "Rows synced:\t%d (%d failed)\n", s.Rows, s.RowsFailed)
	_, _ = fmt.Fprintf(w, "Companies created:\t%d\n", s.Entities.CompaniesCreated)
	_, _ = fmt.Fprintf(w, "Customers created:\t%d\n", s.Entities.CustomersCreated)
	_, _ = fmt.Fprintf(w, "Locations created:\t%d\n", s.Entities.LocationsCreated)
	_, _ = fmt.Fprintf(w, "Assignments created:\t%d\n", s.Entities.AssignmentsCreated)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// formatAlerts writes a health summary and any breached thresholds to out.
func formatAlerts(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (%d failed, %.1f%%)\n", snap.RunsTotal, snap.RunsFailed, snap.RunFailRate*100)
	_, _ = fmt.Fprintf(w, "Rows:\t%d (%d failed, %.1f%%)\n", snap.RowsTotal, snap.RowsFailed, snap.RowFailRate*100)
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No thresholds breached.")
		return
	}
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s\n", a.Severity, a.Message)
	}
}

// writeRunDetail encodes d as JSON or YAML.
func writeRunDetail(out io.Writer, d runDetail, format string) error {
	if d.Rows == nil {
		d.Rows = []model.RowResult{}
	}
	switch format {
	case "", "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return eris.Wrap(err, "encode run")
		}
		return enc.Close()
	default:
		return eris.Errorf("unknown format %q", format)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
