package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair missing announcement projections",
		Long: `Re-run projection rules for public events and ministries that have no
recorded projection, such as records whose projection failed or records
written before the rules existed. Safe to run repeatedly.

Exit codes:
  0 - Every checked source was repaired (or nothing needed repair)
  1 - One or more sources could not be repaired
  2 - Command error (settings, database)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, cmd)
		},
	}
}

func runReconcile(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openLocal(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	f := opts.formatter(cmd)
	report, err := a.engine.Reconcile(cmd.Context(), a.local)
	if err != nil {
		f.VerboseLog("reconcile: %d checked, %d repaired, failed %v", report.Checked, report.Repaired, report.Failed)
		return f.Fail("reconcile", err)
	}
	return f.Success(fmt.Sprintf("✓ reconciled: %d checked, %d repaired", report.Checked, report.Repaired), report)
}
