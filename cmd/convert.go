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
	"time"

	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var convertCmdDate string
var convertCmdNearest bool
var rateHistoryCmdDays int

func init() {
	convertCmd.Flags().StringVar(&convertCmdDate, "date", "", "Date specified as YYYY-MM-dd to convert on (default today)")
	convertCmd.Flags().BoolVar(&convertCmdNearest, "nearest", false, "Fall back to the most recent stored rate when the day has none")
	rateHistoryCmd.Flags().IntVar(&rateHistoryCmdDays, "days", 365, "Number of daily rates to fetch")

	rootCmd.AddCommand(convertCmd, rateHistoryCmd)
}

var convertCmd = &cobra.Command{
	Use:   "convert AMOUNT FROM TO",
	Short: "Convert an amount between currencies",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		amount, err := decimal.NewFromString(args[0])
		if err != nil {
			log.Fatal().Err(err).Str("InputStr", args[0]).Msg("amount is not a number")
		}

		var dt time.Time
		if convertCmdDate != "" {
			dt, err = common.ParseDate(convertCmdDate)
			if err != nil {
				log.Fatal().Err(err).Str("InputStr", convertCmdDate).Msg("could not parse date - expected format 2006-01-02")
			}
		}

		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		convert := svc.converter.Convert
		if convertCmdNearest {
			convert = svc.converter.ConvertNearest
		}

		res, err := convert(ctx, amount, args[1], args[2], dt)
		if err != nil {
			log.Fatal().Err(err).Str("From", args[1]).Str("To", args[2]).Msg("conversion failed")
		}

		to, _ := data.NormalizeCurrency(args[2])
		printJSON(map[string]interface{}{
			"amount":    amount,
			"from":      args[1],
			"to":        to,
			"converted": res,
			"display":   portfolio.FormatAmount(res, to),
		})
	},
}

var rateHistoryCmd = &cobra.Command{
	Use:   "rate-history PAIR",
	Short: "Fetch and store daily exchange rates for a BASE/QUOTE pair",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		from, to, err := data.SplitPair(args[0])
		if err != nil {
			log.Fatal().Err(err).Str("InputStr", args[0]).Msg("invalid currency pair")
		}

		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		rates, err := svc.converter.FetchHistoricalRates(ctx, from, to, rateHistoryCmdDays)
		if err != nil {
			log.Fatal().Err(err).Str("Pair", args[0]).Msg("could not fetch historical rates")
		}
		log.Info().Str("Pair", args[0]).Int("NumRates", len(rates)).Msg("stored historical rates")
		printJSON(rates)
	},
}
