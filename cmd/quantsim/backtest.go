package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/config"
)

var (
	strategyName   string
	strategyParams map[string]string
	dataSymbols    []string
	dataFrom       string
	dataTo         string
	dataProvider   string
	dataDir        string
	backtestJSON   bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run backtest on a strategy",
	Long: `Run a strategy against historical data and show performance statistics.
Flags override the matching config file values.`,
	Args: cobra.NoArgs,
	RunE: runBacktest,
}

// addDataFlags registers the flags that override the data section
func addDataFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&dataSymbols, "symbols", nil, "Symbols to load, comma separated")
	cmd.Flags().StringVar(&dataFrom, "from", "", "Start date YYYY-MM-DD")
	cmd.Flags().StringVar(&dataTo, "to", "", "End date YYYY-MM-DD")
	cmd.Flags().StringVar(&dataProvider, "provider", "", "Data provider: csv, parquet or yahoo")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory of csv or parquet bar files")
}

// addStrategyFlags registers the flags that override the strategy section
func addStrategyFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&strategyName, "strategy", "s", "", "Strategy name (see `quantsim strategies`)")
	cmd.Flags().StringToStringVarP(&strategyParams, "param", "p", nil, "Strategy parameter key=value, repeatable")
}

func init() {
	addStrategyFlags(backtestCmd)
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "Print the full result as JSON")
	addDataFlags(backtestCmd)

	rootCmd.AddCommand(backtestCmd)
}

func applyDataFlags(cfg *config.Config) {
	if len(dataSymbols) > 0 {
		cfg.Data.Symbols = dataSymbols
	}
	if dataFrom != "" {
		cfg.Data.Start = dataFrom
	}
	if dataTo != "" {
		cfg.Data.End = dataTo
	}
	if dataProvider != "" {
		cfg.Data.Provider = dataProvider
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
}

func applyStrategyFlags(cfg *config.Config) {
	if strategyName != "" && strategyName != cfg.Strategy.Name {
		cfg.Strategy = config.StrategyConfig{Name: strategyName}
	}
	if len(strategyParams) > 0 {
		if cfg.Strategy.Params == nil {
			cfg.Strategy.Params = make(map[string]any, len(strategyParams))
		}
		for k, v := range strategyParams {
			cfg.Strategy.Params[k] = v
		}
	}
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx, a, log, cleanup, err := setup(func(cfg *config.Config) {
		applyDataFlags(cfg)
		applyStrategyFlags(cfg)
	})
	if err != nil {
		return err
	}
	defer cleanup()

	bars, err := a.LoadBars(ctx)
	if err != nil {
		return fmt.Errorf("loading bars: %w", err)
	}

	sc := a.Config().Strategy
	log.Info("running backtest", zap.String("strategy", sc.DisplayName()), zap.Int("symbols", len(bars)))

	res, err := a.Backtest(ctx, sc, bars)
	if res == nil && err != nil {
		return err
	}

	if backtestJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
	} else {
		printResult(os.Stdout, res)
	}
	// Storage failures still leave a printable result
	return err
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func printResult(out io.Writer, res *backtest.Result) {
	fmt.Fprintf(out, "=== %s ===\n", res.Strategy)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Symbols:\t%v\n", res.Symbols)
	fmt.Fprintf(w, "Period:\t%s to %s\n", res.StartDate.Format(time.DateOnly), res.EndDate.Format(time.DateOnly))
	fmt.Fprintf(w, "Bars:\t%d\n", res.BarsProcessed)
	fmt.Fprintf(w, "Initial capital:\t%.2f\n", res.InitialCapital)
	fmt.Fprintf(w, "Final equity:\t%.2f\n", res.FinalEquity)
	fmt.Fprintf(w, "Final cash:\t%.2f\n", res.FinalCash)
	fmt.Fprintf(w, "Exposure:\t%s\n", pct(res.Exposure))

	if res.HasStats() {
		fmt.Fprintf(w, "Total return:\t%s\n", pct(res.TotalReturn))
		fmt.Fprintf(w, "Annualized return:\t%s\n", pct(res.AnnualizedReturn))
		fmt.Fprintf(w, "Max drawdown:\t%s\n", pct(res.MaxDrawdown))
		fmt.Fprintf(w, "Sharpe:\t%.2f\n", res.SharpeRatio)
		fmt.Fprintf(w, "Sortino:\t%.2f\n", res.SortinoRatio)
		fmt.Fprintf(w, "VaR (%.0f%%):\t%s\n", res.VaRConfidence*100, pct(res.VaR))
		fmt.Fprintf(w, "Expected shortfall:\t%s\n", pct(res.ExpectedShortfall))
		fmt.Fprintf(w, "Trades:\t%d (%d won, %d lost)\n", res.TotalTrades, res.WinningTrades, res.LosingTrades)
		fmt.Fprintf(w, "Win rate:\t%s\n", pct(res.WinRate))
		fmt.Fprintf(w, "Profit factor:\t%.2f\n", res.ProfitFactor)
		fmt.Fprintf(w, "Avg trade PnL:\t%.2f\n", res.AvgTradePnL)
	} else {
		fmt.Fprintf(w, "Metrics:\tunavailable (%s)\n", res.MetricsError)
	}
	fmt.Fprintf(w, "Open positions:\t%d\n", len(res.Positions))
	fmt.Fprintf(w, "Risk breaches:\t%d\n", len(res.Breaches))
	fmt.Fprintf(w, "Dropped orders:\t%d\n", len(res.Dropped))
	w.Flush()
}
