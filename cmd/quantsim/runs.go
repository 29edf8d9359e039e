package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/newthinker/quantsim/internal/storage/runindex"
)

var (
	runsStrategy string
	runsLimit    int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored backtest runs",
	Long:  `Commands for browsing runs recorded in the run index and archive.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsTradesCmd = &cobra.Command{
	Use:   "trades RUN_ID",
	Short: "Show the trade log of an indexed run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsTrades,
}

var runsShowCmd = &cobra.Command{
	Use:   "show ARCHIVE_PATH",
	Short: "Print the summary of an archived run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsListCmd.Flags().StringVar(&runsStrategy, "strategy", "", "Only runs of this strategy label")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsTradesCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func optional(v *float64, format func(float64) string) string {
	if v == nil {
		return "-"
	}
	return format(*v)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx, a, _, cleanup, err := setup(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := a.Runs(ctx, runindex.Filter{Strategy: runsStrategy, Limit: runsLimit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	sharpe := func(v float64) string { return fmt.Sprintf("%.2f", v) }
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTRATEGY\tSAVED\tPERIOD\tFINAL EQUITY\tRETURN\tSHARPE\tMAX DD\tTRADES")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s..%s\t%.2f\t%s\t%s\t%s\t%d\n",
			r.ID, r.Strategy, r.SavedAt.Format(time.DateTime),
			r.StartDate.Format(time.DateOnly), r.EndDate.Format(time.DateOnly),
			r.FinalEquity, optional(r.TotalReturn, pct), optional(r.SharpeRatio, sharpe),
			optional(r.MaxDrawdown, pct), r.TotalTrades)
	}
	return w.Flush()
}

func runRunsTrades(cmd *cobra.Command, args []string) error {
	ctx, a, _, cleanup, err := setup(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	trades, err := a.Trades(ctx, args[0])
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		fmt.Println("No trades")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tSIDE\tQTY\tENTRY\tEXIT\tENTRY PX\tEXIT PX\tPNL\tRETURN\tREASON")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%.4f\t%.4f\t%.2f\t%s\t%s\n",
			t.Symbol, t.Side, t.Quantity,
			t.EntryTime.Format(time.DateOnly), t.ExitTime.Format(time.DateOnly),
			t.EntryPrice, t.ExitPrice, t.PnL, pct(t.Return), t.ExitReason)
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx, a, _, cleanup, err := setup(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	rec, res, err := a.LoadRun(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Run %s saved %s\n", rec.ID, rec.SavedAt.Format(time.DateTime))
	printResult(os.Stdout, res)
	return nil
}
