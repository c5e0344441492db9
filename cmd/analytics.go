// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"os"

	"github.com/google/uuid"
	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	analyticsCmdLimit       int
	analyticsCmdPeriod      string
	analyticsCmdSeriesStart string
	analyticsCmdSeriesStep  int
	analyticsCmdTable       bool
)

func init() {
	analyticsCmd.Flags().IntVar(&analyticsCmdLimit, "limit", portfolio.DefaultPerformerLimit, "Number of top, worst and largest positions to report")
	analyticsCmd.Flags().StringVar(&analyticsCmdPeriod, "period", "", "Only report performance over this period (week, month, quarter, year, ytd)")
	analyticsCmd.Flags().StringVar(&analyticsCmdSeriesStart, "series-start", "", "Report the portfolio value from this date (YYYY-MM-dd) through today")
	analyticsCmd.Flags().IntVar(&analyticsCmdSeriesStep, "series-step", 7, "Days between points of the value series")
	analyticsCmd.Flags().BoolVar(&analyticsCmdTable, "table", false, "Print the summary as text tables instead of JSON")

	rootCmd.AddCommand(analyticsCmd)
}

var analyticsCmd = &cobra.Command{
	Use:   "analytics PORTFOLIO_ID",
	Short: "Print valuation, allocation and performance analytics for a portfolio",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		portfolioID, err := uuid.Parse(args[0])
		if err != nil {
			log.Fatal().Err(err).Str("InputStr", args[0]).Msg("portfolio must be a UUID")
		}
		subLog := log.With().Str("PortfolioID", portfolioID.String()).Logger()

		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		p, err := svc.store.GetPortfolio(ctx, portfolioID)
		if err != nil {
			subLog.Fatal().Err(err).Msg("could not load portfolio")
		}

		switch {
		case analyticsCmdPeriod != "":
			period, err := portfolio.ParsePeriod(analyticsCmdPeriod)
			if err != nil {
				subLog.Fatal().Err(err).Msg("invalid period")
			}
			valuation, err := svc.analyzer.Load(ctx, p)
			if err != nil {
				subLog.Fatal().Err(err).Msg("could not value portfolio")
			}
			perf, err := svc.analyzer.PeriodPerformance(ctx, valuation, period)
			if err != nil {
				subLog.Fatal().Err(err).Msg("could not compute performance")
			}
			printJSON(perf)

		case analyticsCmdSeriesStart != "":
			begin, err := common.ParseDate(analyticsCmdSeriesStart)
			if err != nil {
				subLog.Fatal().Err(err).Str("InputStr", analyticsCmdSeriesStart).Msg("could not parse date - expected format 2006-01-02")
			}
			valuation, err := svc.analyzer.Load(ctx, p)
			if err != nil {
				subLog.Fatal().Err(err).Msg("could not value portfolio")
			}
			series, err := svc.analyzer.ValueSeries(ctx, valuation, begin, common.Today(), analyticsCmdSeriesStep)
			if err != nil {
				subLog.Fatal().Err(err).Msg("could not compute value series")
			}
			printJSON(series)

		default:
			summary, err := svc.analyzer.Summary(ctx, p, analyticsCmdLimit)
			if err != nil {
				subLog.Fatal().Err(err).Msg("could not compute analytics")
			}
			if analyticsCmdTable {
				renderSummary(os.Stdout, summary)
				return
			}
			printJSON(summary)
		}
	},
}
