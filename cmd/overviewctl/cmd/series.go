package cmd

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantdash/overview-engine/internal/exchange"
	"github.com/quantdash/overview-engine/internal/model"
	"github.com/quantdash/overview-engine/internal/series"
)

func newSeriesCmd() *cobra.Command {
	var (
		files []string
		out   outputOptions
	)

	cmd := &cobra.Command{
		Use:   "series",
		Short: "Build series from position JSON files",
		Long: `Series reads one or more JSON arrays of position records and prints the
derived equity or win-rate series. One file gives the single-exchange series;
several files are treated as one exchange each and combined into the
aggregate series. Use "-" to read from stdin.

Example:
  overviewctl series --file binance.json --file okx.json --kind win_rate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := out.validate(); err != nil {
				return err
			}

			byFile := make([][]model.PositionRecord, 0, len(files))
			for _, path := range files {
				positions, err := readPositions(path)
				if err != nil {
					return err
				}
				stampExchange(positions, fileLabel(path))
				slog.Debug("positions loaded", "file", path, "count", len(positions))
				byFile = append(byFile, positions)
			}

			report := model.SeriesReport{Exchanges: files, GeneratedAt: now()}
			label := files[0]
			if len(byFile) == 1 {
				report.Series = series.Compute(byFile[0])
			} else {
				report.Series = series.ComputeAggregate(byFile)
				label = exchange.Aggregate
			}
			if report.Series.Len() == 0 {
				slog.Warn("no closed positions found", "files", len(files))
			}
			return out.write(cmd.OutOrStdout(), label, report)
		},
	}

	cmd.Flags().StringArrayVar(&files, "file", nil, "position JSON file, repeatable (required)")
	out.register(cmd)
	cmd.MarkFlagRequired("file")
	return cmd
}

// fileLabel names the exchange of records read from path when they carry
// none: the file's base name without extension, or "stdin".
func fileLabel(path string) string {
	if path == "-" {
		return "stdin"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func stampExchange(positions []model.PositionRecord, name string) {
	for i := range positions {
		if positions[i].Exchange == "" {
			positions[i].Exchange = name
		}
	}
}
