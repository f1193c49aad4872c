package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"optionslab/internal/models"
	"optionslab/internal/store"
)

// addReportCommands adds the run-ledger reporting commands.
func addReportCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize recorded backtest runs",
		Long:  "Read the run ledger and print per-run trade counts, win rates, and premium P&L.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(app, cmd)
		},
	}

	cmd.Flags().String("db-path", app.Config.Backtest.DBPath, "path to the options chain sqlite database")
	cmd.Flags().Int("limit", 10, "number of most recent runs to show")

	rootCmd.AddCommand(cmd)
}

type runReportRow struct {
	Run     models.BacktestRun `json:"run"`
	Summary store.RunSummary   `json:"summary"`
}

func runReport(app *App, cmd *cobra.Command) error {
	output := NewOutput(cmd)

	dbPath := app.Config.Backtest.DBPath
	if cmd.Flags().Changed("db-path") {
		dbPath, _ = cmd.Flags().GetString("db-path")
	}
	if dbPath == "" {
		return fmt.Errorf("db-path is required (flag or config)")
	}
	limit, _ := cmd.Flags().GetInt("limit")

	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		output.Warning("No backtest runs recorded")
		return nil
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	var rows []runReportRow
	for _, run := range runs {
		summary, err := st.SummarizeRun(ctx, run)
		if err != nil {
			return err
		}
		rows = append(rows, runReportRow{Run: run, Summary: *summary})
	}

	if output.IsJSON() {
		return output.JSON(rows)
	}

	table := NewTable(output, "RUN", "DATE", "STRATEGY", "TRADES", "CLOSED", "WIN RATE", "PREMIUM P&L")
	for _, row := range rows {
		winRate := "-"
		if row.Summary.Closed > 0 {
			winRate = fmt.Sprintf("%.1f%%", float64(row.Summary.Wins)/float64(row.Summary.Closed)*100)
		}
		table.AddRow(
			fmt.Sprintf("%d", row.Run.ID),
			row.Run.RunAt.Format("2006-01-02 15:04"),
			row.Run.Strategy,
			fmt.Sprintf("%d", row.Summary.Trades),
			fmt.Sprintf("%d", row.Summary.Closed),
			winRate,
			output.FormatPnL(row.Summary.PremiumPnL),
		)
	}
	table.Render()

	output.Println()
	for _, row := range rows {
		if len(row.Summary.ReasonCounts) == 0 {
			continue
		}
		output.Dim("Run %d close reasons:", row.Run.ID)
		for _, reason := range []models.CloseReason{
			models.CloseProfitTake, models.CloseStopLoss,
			models.CloseExpired, models.CloseForcedDays,
		} {
			if n := row.Summary.ReasonCounts[reason]; n > 0 {
				output.Printf("  %-25s %d\n", reason, n)
			}
		}
	}
	return nil
}
