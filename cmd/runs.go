package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/andresmejia3/facesampler/internal/store"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded sampling runs, or the per-video outcomes of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if DB == nil {
			return errors.New("no database configured (use --db, FACESAMPLER_DATABASE_URL or POSTGRES_HOST)")
		}
		if len(args) == 1 {
			return runOutcomes(cmd.Context(), args[0])
		}
		return runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

func runList(ctx context.Context) error {
	runs, err := DB.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs found in database.")
		return nil
	}
	fmt.Println(renderRuns(runs))
	return nil
}

func runOutcomes(ctx context.Context, runID string) error {
	outcomes, err := DB.RunOutcomes(ctx, runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if len(outcomes) == 0 {
		fmt.Printf("Run %s has no recorded videos.\n", runID)
		return nil
	}
	fmt.Println(renderOutcomes(outcomes))
	return nil
}

func renderRuns(runs []store.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = fmtTime(r.FinishedAt.Sub(r.StartedAt).Seconds())
		}
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			duration,
			r.Status,
			strconv.FormatUint(r.Seed, 10),
			fmt.Sprintf("%d/%d/%g", r.Params.BaseSample, r.Params.BaseAttempts, r.Params.Ratio),
			strconv.Itoa(r.Samples),
		})
	}
	return renderTable(
		[]string{"ID", "STARTED", "DURATION", "STATUS", "SEED", "SAMPLE/ATTEMPTS/RATIO", "SAMPLES"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight},
	)
}

func renderOutcomes(outcomes []store.VideoOutcome) string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		rows = append(rows, []string{
			o.Label,
			o.Path,
			o.Status,
			strconv.Itoa(o.Samples),
			strconv.Itoa(o.FramesSaved),
			fmt.Sprintf("%d/%d", o.Attempts, o.FrameCount),
			o.Reason,
		})
	}
	return renderTable(
		[]string{"LABEL", "VIDEO", "STATUS", "SAMPLES", "FRAMES", "ATTEMPTS", "REASON"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

