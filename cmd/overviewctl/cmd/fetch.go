package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantdash/overview-engine/internal/collector"
	"github.com/quantdash/overview-engine/internal/exchange"
	"github.com/quantdash/overview-engine/internal/model"
	"github.com/quantdash/overview-engine/internal/series"
	"github.com/quantdash/overview-engine/internal/upstream"
)

func newFetchCmd() *cobra.Command {
	var (
		baseURL   string
		exchanges []string
		timeout   time.Duration
		retries   int
		out       outputOptions
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch positions from the trading service and build series",
		Long: `Fetch pulls position records for each exchange from the trading service
(GET <base-url>/positions?exchange=<name>) and prints the series. A single
exchange gives its own series; several are combined into the aggregate. An
exchange that cannot be fetched contributes nothing and is reported on stderr.

Example:
  overviewctl fetch --base-url http://localhost:8000/api --exchange binance,okx -f summary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := out.validate(); err != nil {
				return err
			}
			names, err := exchange.Dedupe(exchanges)
			if err != nil {
				return err
			}

			client, err := upstream.NewClient(upstream.Config{
				BaseURL:    baseURL,
				Timeout:    timeout,
				MaxRetries: retries,
				Breaker:    upstream.DefaultBreakerConfig(),
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout*time.Duration(retries+2))
			defer cancel()

			col := collector.New(client, 0, 0).Collect(ctx, names)
			report := model.SeriesReport{
				Exchanges:   col.Exchanges(),
				Failed:      col.Failures(),
				GeneratedAt: now(),
			}

			label := names[0]
			if len(names) == 1 {
				if f := report.Failed; len(f) == 1 {
					return fmt.Errorf("fetch %s: %s", f[0].Exchange, f[0].Error)
				}
				report.Series = series.Compute(col.Results[0].Positions)
			} else {
				report.Series = series.ComputeAggregate(col.ByExchange())
				label = exchange.Aggregate
			}

			for _, f := range report.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s contributed nothing: %s\n", f.Exchange, f.Error)
			}
			return out.write(cmd.OutOrStdout(), label, report)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "trading service base URL (required)")
	cmd.Flags().StringSliceVarP(&exchanges, "exchange", "e", exchange.Defaults(), "exchanges to fetch, comma separated")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
	cmd.Flags().IntVar(&retries, "retries", 2, "retries per exchange on transport errors, 429 and 5xx")
	out.register(cmd)
	cmd.MarkFlagRequired("base-url")
	return cmd
}
