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

	"github.com/newthinker/quantsim/internal/config"
	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/signal"
)

var signalsJSON bool

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Print the signals a strategy generates",
	Long: `Generate a strategy's BUY and SELL signals over historical data without
running a backtest. Each signal is stamped with the bar it would execute on.`,
	Args: cobra.NoArgs,
	RunE: runSignals,
}

func init() {
	addStrategyFlags(signalsCmd)
	signalsCmd.Flags().BoolVar(&signalsJSON, "json", false, "Print signals as JSON")
	addDataFlags(signalsCmd)

	rootCmd.AddCommand(signalsCmd)
}

func runSignals(cmd *cobra.Command, args []string) error {
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
	streams, err := a.Signals(ctx, sc, bars)
	if err != nil {
		return err
	}
	events, err := signal.Merge(streams)
	if err != nil {
		return err
	}
	log.Debug("signals generated", zap.String("strategy", sc.DisplayName()), zap.Int("signals", len(events)))

	if signalsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	printSignals(os.Stdout, sc.DisplayName(), events)
	return nil
}

func printSignals(out io.Writer, label string, events []core.SignalEvent) {
	if len(events) == 0 {
		fmt.Fprintf(out, "%s generated no signals\n", label)
		return
	}

	fmt.Fprintf(out, "=== %s: %d signals ===\n", label, len(events))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSYMBOL\tDIRECTION\tREASON")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Time.Format(time.DateTime), ev.Symbol, ev.Direction, ev.Reason)
	}
	w.Flush()
}
