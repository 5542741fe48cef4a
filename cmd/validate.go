package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/b2b-sync/internal/batch"
	"github.com/sells-group/b2b-sync/internal/model"
)

var (
	validateSheet     string
	validateSheetName string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a customer sheet without syncing it",
	Long:  "Runs pre-flight validation over every row and prints every field error found.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("offline"); err != nil {
			return err
		}

		raws, err := loadSheet(ctx, cfg.Source, validateSheet, validateSheetName)
		if err != nil {
			return err
		}
		return runValidate(os.Stdout, newValidator(cfg.Sync), raws)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateSheet, "sheet", "", "sheet path or URL")
	validateCmd.Flags().StringVar(&validateSheetName, "sheet-name", "", "xlsx worksheet name")
	_ = validateCmd.MarkFlagRequired("sheet")
	rootCmd.AddCommand(validateCmd)
}

// rowValidator is the part of validate.Validator used here.
type rowValidator interface {
	NormalizeBatch(raws []model.RawRecord) ([]model.SourceRow, error)
}

// runValidate prints the outcome of pre-flight validation. It returns the
// validation error so the process exits non-zero.
func runValidate(out io.Writer, v rowValidator, raws []model.RawRecord) error {
	if len(raws) == 0 {
		_, _ = fmt.Fprintln(out, "Sheet has no data rows.")
		return batch.ErrEmptyBatch
	}
	rows, err := v.NormalizeBatch(raws)
	if err == nil {
		_, _ = fmt.Fprintf(out, "%d rows valid.\n", len(rows))
		return nil
	}
	if be, ok := asBatchError(err); ok {
		formatFieldErrors(out, be.Errors)
		_, _ = fmt.Fprintf(out, "\n%d errors on %d rows.\n", len(be.Errors), len(be.Lines()))
	}
	return err
}
