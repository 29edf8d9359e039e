package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/collector"
	"github.com/newthinker/quantsim/internal/collector/csvfile"
	"github.com/newthinker/quantsim/internal/collector/parquetfile"
	"github.com/newthinker/quantsim/internal/logger"
)

var (
	convertFrom string
	convertTo   string
)

var convertCmd = &cobra.Command{
	Use:   "convert SYMBOL...",
	Short: "Convert csv bar files to parquet",
	Long: `Read <from>/<SYMBOL>.csv, validate the bars and write them to
<to>/<SYMBOL>.parquet for faster loading.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVar(&convertFrom, "from", "", "Directory of csv files (required)")
	convertCmd.Flags().StringVar(&convertTo, "to", "", "Directory for parquet files (required)")

	convertCmd.MarkFlagRequired("from")
	convertCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug, "")
	defer log.Sync()

	src := csvfile.New(convertFrom)
	dst := parquetfile.New(convertTo)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	for _, symbol := range args {
		raw, err := src.FetchHistory(ctx, symbol, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		bars, err := collector.Normalize(symbol, raw, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		if err := dst.WriteBars(symbol, bars); err != nil {
			return fmt.Errorf("writing %s: %w", dst.Path(symbol), err)
		}
		log.Info("converted", zap.String("symbol", symbol), zap.Int("bars", len(bars)), zap.String("path", dst.Path(symbol)))
	}
	return nil
}
