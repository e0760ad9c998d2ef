package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantdash/overview-engine/internal/model"
	"github.com/quantdash/overview-engine/internal/series"
)

// Output formats shared by the series-producing commands.
const (
	formatCSV     = "csv"
	formatJSON    = "json"
	formatSummary = "summary"
)

// NewRootCmd builds the overviewctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "overviewctl",
		Short: "Compute equity and win-rate series from position records",
		Long: `overviewctl computes the trading overview series offline.

It provides tools for:
  - Building equity and win-rate series from exported position files
  - Combining several exchanges into one aggregate curve
  - Fetching positions from the trading service and exporting CSV`,
		SilenceUsage: true,
	}

	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	}

	root.AddCommand(newSeriesCmd(), newFetchCmd())
	return root
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

type outputOptions struct {
	format string
	kind   string
}

func (o *outputOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "format", "f", formatCSV, "output format (csv, json, summary)")
	cmd.Flags().StringVarP(&o.kind, "kind", "k", string(series.KindEquity), "csv series (equity, win_rate)")
}

func (o *outputOptions) validate() error {
	switch o.format {
	case formatCSV, formatJSON, formatSummary:
	default:
		return fmt.Errorf("unknown format %q (supported: csv, json, summary)", o.format)
	}
	_, err := series.ParseKind(o.kind)
	return err
}

// write renders report in the selected format. label names the series in
// summary output.
func (o *outputOptions) write(w io.Writer, label string, report model.SeriesReport) error {
	switch o.format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case formatSummary:
		sum := series.Summarize(label, report.Series)
		fmt.Fprintf(w, "Exchange:      %s\n", sum.Exchange)
		fmt.Fprintf(w, "Closed trades: %d (%d won, %d lost)\n", sum.ClosedTrades, sum.Wins, sum.Losses)
		fmt.Fprintf(w, "Win rate:      %s%%\n", sum.WinRate.StringFixed(2))
		fmt.Fprintf(w, "Realized PnL:  %s\n", sum.RealizedPnL.String())
		fmt.Fprintf(w, "Peak equity:   %s\n", sum.PeakEquity.String())
		fmt.Fprintf(w, "Max drawdown:  %s\n", sum.MaxDrawdown.String())
		for _, f := range report.Failed {
			fmt.Fprintf(w, "Failed:        %s (%s)\n", f.Exchange, f.Error)
		}
		return nil
	default:
		kind, err := series.ParseKind(o.kind)
		if err != nil {
			return err
		}
		return series.WriteCSV(w, report.Series, kind)
	}
}

func now() time.Time { return time.Now().UTC() }

func readPositions(path string) ([]model.PositionRecord, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var positions []model.PositionRecord
	if err := json.NewDecoder(r).Decode(&positions); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return positions, nil
}
