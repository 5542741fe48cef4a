package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/b2b-sync/internal/batch"
	"github.com/sells-group/b2b-sync/internal/config"
	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/monitoring"
	"github.com/sells-group/b2b-sync/internal/pipeline"
	"github.com/sells-group/b2b-sync/internal/remote"
	"github.com/sells-group/b2b-sync/internal/remote/memstore"
	"github.com/sells-group/b2b-sync/internal/resilience"
	"github.com/sells-group/b2b-sync/internal/resolver"
	"github.com/sells-group/b2b-sync/internal/sheet"
	"github.com/sells-group/b2b-sync/internal/store"
	"github.com/sells-group/b2b-sync/internal/validate"
	"github.com/sells-group/b2b-sync/pkg/shopify"
)

// errBatchFailed makes the process exit non-zero when no row succeeded.
var errBatchFailed = eris.New("sync: batch failed")

var (
	syncSheet       string
	syncSheetName   string
	syncConcurrency int
	syncOffline     bool
	syncDryRun      bool
	syncSummary     string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync a customer sheet into the remote store",
	Long: "Validates every row of the sheet, then resolves each row's company, customer, " +
		"contact, location and role assignment. Row failures are recorded in the run " +
		"ledger and never abort the batch; a validation failure aborts before any remote call.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if syncConcurrency > 0 {
			cfg.Sync.Concurrency = syncConcurrency
		}
		mode := "sync"
		if syncOffline || syncDryRun {
			mode = "offline"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		raws, err := loadSheet(ctx, cfg.Source, syncSheet, syncSheetName)
		if err != nil {
			return err
		}

		var st store.Store
		if !syncDryRun {
			st, err = initStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		var rs remote.Store
		if syncOffline {
			rs = memstore.New()
		} else {
			rs = newShopifyStore(cfg.Shopify)
		}

		res, runID, err := executeSync(ctx, cfg, st, rs, syncSheet, raws, syncDryRun)
		if runID != "" {
			alertOnRun(context.WithoutCancel(ctx), monitoring.NewAlerter(cfg.Monitoring), st, runID)
		}
		if res != nil {
			if werr := writeSummary(os.Stdout, res, syncSummary); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
		if ms, ok := rs.(*memstore.Store); ok {
			c := ms.Counts()
			zap.L().Info("offline store contents",
				zap.Int("companies", c.Companies),
				zap.Int("customers", c.Customers),
				zap.Int("locations", c.Locations),
				zap.Int("assignments", c.Assignments),
			)
		}
		if res.Status == model.BatchFailed {
			return errBatchFailed
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncSheet, "sheet", "", "sheet path or URL (xlsx, csv, http(s)://, ftp://)")
	syncCmd.Flags().StringVar(&syncSheetName, "sheet-name", "", "xlsx worksheet name (default from config, else first sheet)")
	syncCmd.Flags().IntVar(&syncConcurrency, "concurrency", 0, "rows processed in parallel (default from config)")
	syncCmd.Flags().BoolVar(&syncOffline, "offline", false, "sync against an in-memory store instead of Shopify")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "validate the sheet without touching the remote store")
	syncCmd.Flags().StringVar(&syncSummary, "summary", "text", "summary format: text, json, yaml")
	_ = syncCmd.MarkFlagRequired("sheet")
	rootCmd.AddCommand(syncCmd)
}

// loadSheet reads raw records from ref. A non-empty sheetName overrides the
// configured worksheet.
func loadSheet(ctx context.Context, src config.SourceConfig, ref, sheetName string) ([]model.RawRecord, error) {
	opts := sheet.Options{
		SheetName: src.SheetName,
		HeaderRow: src.HeaderRow,
		Columns:   src.Columns,
	}
	if sheetName != "" {
		opts.SheetName = sheetName
	}
	raws, err := sheet.Load(ctx, ref, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "load sheet %s", ref)
	}
	zap.L().Info("sheet loaded", zap.String("sheet", ref), zap.Int("rows", len(raws)))
	return raws, nil
}

func newValidator(c config.SyncConfig) *validate.Validator {
	return validate.New(validate.Defaults{
		Role:     c.DefaultRole,
		Currency: c.DefaultCurrency,
		Country:  c.DefaultCountry,
	})
}

func newShopifyStore(c config.ShopifyConfig) remote.Store {
	timeout := time.Duration(c.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := shopify.NewClient(c.ShopDomain, c.AccessToken,
		shopify.WithAPIVersion(c.APIVersion),
		shopify.WithRateLimit(c.RateLimitRPS),
		shopify.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return shopify.NewStore(client)
}

func newResolver(c *config.Config, rs remote.Store) *resolver.Resolver {
	retry := resilience.FromRetryConfig(
		c.Retry.MaxAttempts,
		c.Retry.InitialBackoffMs,
		c.Retry.MaxBackoffMs,
		c.Retry.Multiplier,
		c.Retry.JitterFraction,
	)
	cbCfg := resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs)
	cbCfg.OnStateChange = resilience.StateChangeLogger("remote_store")

	return resolver.New(rs,
		resolver.WithFirstLocationKey(c.Sync.FirstLocationKey),
		resolver.WithRetry(retry),
		resolver.WithBreaker(resilience.NewCircuitBreaker(cbCfg)),
	)
}

// executeSync runs one batch against rs and records it in st, returning
// the ledger run ID. A dry run validates only and leaves st untouched; st
// may be nil in that case.
func executeSync(ctx context.Context, c *config.Config, st store.Store, rs remote.Store, source string, raws []model.RawRecord, dryRun bool) (*batch.Result, string, error) {
	opts := batch.Options{Concurrency: c.Sync.Concurrency, DryRun: dryRun}
	if dryRun {
		res, err := batch.New(newValidator(c.Sync), nil, opts).RunBatch(ctx, raws)
		return res, "", err
	}

	run, err := st.CreateRun(ctx, source)
	if err != nil {
		return nil, "", eris.Wrap(err, "sync: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("run started", zap.String("source", source), zap.Int("rows", len(raws)))

	opts.Recorder = store.Recorder(st, run.ID)
	r := newResolver(c, rs)
	coord := batch.New(newValidator(c.Sync), pipeline.New(r), opts)

	res, err := coord.RunBatch(resolver.WithLogger(ctx, log), raws)
	if err != nil {
		// The ledger write must land even when ctx was cancelled.
		if ferr := st.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); ferr != nil {
			log.Error("sync: record run failure", zap.Error(ferr))
		}
		return res, run.ID, err
	}

	if err := st.CompleteRun(context.WithoutCancel(ctx), run.ID, res); err != nil {
		return res, run.ID, eris.Wrap(err, "sync: complete run")
	}
	log.Info("run finished",
		zap.String("status", string(res.Status)),
		zap.Int("failed", res.Stats.RowsFailed),
		zap.Bool("cancelled", res.Cancelled),
	)
	return res, run.ID, nil
}

// alertOnRun sends alerts for a finished run when a webhook is configured.
// Alert delivery never changes the command's outcome.
func alertOnRun(ctx context.Context, a *monitoring.Alerter, st store.Store, runID string) int {
	if !a.Enabled() {
		return 0
	}
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		zap.L().Warn("sync: load run for alerts", zap.String("run_id", runID), zap.Error(err))
		return 0
	}
	return a.SendAlerts(ctx, a.EvaluateRun(run))
}

// writeSummary prints res in the requested format.
func writeSummary(out io.Writer, res *batch.Result, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return eris.Wrap(err, "encode summary")
		}
		return enc.Close()
	case "", "text":
		formatSummary(out, res)
		return nil
	default:
		return eris.Errorf("unknown summary format %q", format)
	}
}

// formatSummary writes a human-readable batch summary to out.
func formatSummary(out io.Writer, res *batch.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", res.Status)
	if res.DryRun {
		_, _ = fmt.Fprintf(w, "Dry run:\t%d rows valid\n", res.Total)
	}
	_, _ = fmt.Fprintf(w, "Rows:\t%d\n", res.Total)
	_, _ = fmt.Fprintf(w, "Processed:\t%d\n", res.Stats.RowsProcessed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", res.Stats.RowsFailed)
	if res.Cancelled {
		_, _ = fmt.Fprintf(w, "Skipped (cancelled):\t%d\n", res.Skipped)
	}
	_, _ = fmt.Fprintf(w, "Companies:\t%d created, %d found\n", res.Stats.CompaniesCreated, res.Stats.CompaniesFound)
	_, _ = fmt.Fprintf(w, "Customers:\t%d created, %d found\n", res.Stats.CustomersCreated, res.Stats.CustomersFound)
	_, _ = fmt.Fprintf(w, "Contacts:\t%d linked, %d unassignable\n", res.Stats.ContactsLinked, res.Stats.ContactsUnassignable)
	_, _ = fmt.Fprintf(w, "Locations:\t%d created, %d found\n", res.Stats.LocationsCreated, res.Stats.LocationsFound)
	_, _ = fmt.Fprintf(w, "Assignments:\t%d created, %d existing\n", res.Stats.AssignmentsCreated, res.Stats.AssignmentsExisting)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", (time.Duration(res.DurationMs) * time.Millisecond).String())
	_ = w.Flush()

	if len(res.ValidationErrors) > 0 {
		_, _ = fmt.Fprintln(out)
		formatFieldErrors(out, res.ValidationErrors)
	}

	failed := res.FailedRows()
	if len(failed) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	fw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(fw, "LINE\tKEY\tSTAGE\tCLASS\tERROR")
	for _, r := range failed {
		_, _ = fmt.Fprintf(fw, "%d\t%s\t%s\t%s\t%s\n", r.Line, r.CompositeKey, r.FailedAt, r.ErrorClass, r.Error)
	}
	_ = fw.Flush()
}

// formatFieldErrors writes one line per validation error.
func formatFieldErrors(out io.Writer, errs []validate.FieldError) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LINE\tFIELD\tVALUE\tMESSAGE")
	for _, fe := range errs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", fe.Line, fe.Field, fe.Value, fe.Message)
	}
	_ = w.Flush()
}

// asBatchError extracts pre-flight field errors from err.
func asBatchError(err error) (*validate.BatchError, bool) {
	var be *validate.BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
