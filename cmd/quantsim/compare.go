package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/config"
)

var compareStrategies []string

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run several strategies over the same data",
	Long: `Run every strategy listed under "compare" in the config file (or named with
--strategies, using default parameters) in parallel over the same bars and
print their statistics side by side.`,
	Args: cobra.NoArgs,
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().StringSliceVar(&compareStrategies, "strategies", nil, "Strategy names to compare, comma separated")
	addDataFlags(compareCmd)

	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx, a, _, cleanup, err := setup(func(cfg *config.Config) {
		applyDataFlags(cfg)
		if len(compareStrategies) > 0 {
			cfg.Compare = make([]config.StrategyConfig, len(compareStrategies))
			for i, name := range compareStrategies {
				cfg.Compare[i] = config.StrategyConfig{Name: name}
			}
		}
	})
	if err != nil {
		return err
	}
	defer cleanup()

	bars, err := a.LoadBars(ctx)
	if err != nil {
		return fmt.Errorf("loading bars: %w", err)
	}

	results, err := a.Compare(ctx, a.Config().Compare, bars)
	if results == nil {
		return err
	}
	printComparison(os.Stdout, results)
	return err
}

func printComparison(out io.Writer, results []backtest.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tFINAL EQUITY\tRETURN\tMAX DD\tSHARPE\tSORTINO\tTRADES\tWIN RATE\tERROR")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t-\t-\t%v\n", r.Name, r.Err)
			continue
		}
		res := r.Result
		if !res.HasStats() {
			fmt.Fprintf(w, "%s\t%.2f\t-\t-\t-\t-\t%d\t-\t%s\n", r.Name, res.FinalEquity, len(res.Trades), res.MetricsError)
			continue
		}
		fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%.2f\t%.2f\t%d\t%s\t\n",
			r.Name, res.FinalEquity, pct(res.TotalReturn), pct(res.MaxDrawdown),
			res.SharpeRatio, res.SortinoRatio, res.TotalTrades, pct(res.WinRate))
	}
	w.Flush()
}
