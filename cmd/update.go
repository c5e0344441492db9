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
	"strings"

	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/marketdata"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var updateCmdExchange string
var updateCmdPairs []string

func init() {
	updatePricesCmd.Flags().StringVar(&updateCmdExchange, "exchange", "", "Only refresh assets listed on this exchange (e.g. NASDAQ, BIST)")
	updateForexCmd.Flags().StringSliceVar(&updateCmdPairs, "pairs", nil, "Forex pairs to refresh instead of forex.watchlist")
	updateRatesCmd.Flags().StringSliceVar(&updateCmdPairs, "pairs", nil, "Currency pairs to refresh instead of rates.pairs")

	updateCmd.AddCommand(updatePricesCmd, updateMetalsCmd, updateForexCmd, updateCryptoCmd, updateRatesCmd)
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh the latest prices or exchange rates of a group of assets",
}

var updatePricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Refresh the latest quote of every equity and ETF",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		var exchange *data.Exchange
		if updateCmdExchange != "" {
			ex := data.Exchange(strings.ToUpper(updateCmdExchange))
			exchange = &ex
		}

		summary, err := svc.updater.BatchUpdatePrices(ctx, exchange)
		report("prices", summary, err)
	},
}

var updateMetalsCmd = &cobra.Command{
	Use:   "metals",
	Short: "Refresh the latest quote of every precious metal",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		summary, err := svc.updater.BatchUpdateMetals(ctx)
		report("metals", summary, err)
	},
}

var updateCryptoCmd = &cobra.Command{
	Use:   "crypto",
	Short: "Refresh the latest quote of every cryptocurrency",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		summary, err := svc.updater.BatchUpdateCrypto(ctx)
		report("crypto", summary, err)
	},
}

var updateForexCmd = &cobra.Command{
	Use:   "forex",
	Short: "Refresh the forex watchlist, creating forex assets as needed",
	Run: func(cmd *cobra.Command, args []string) {
		watchlist := updateCmdPairs
		if len(watchlist) == 0 {
			watchlist = viper.GetStringSlice("forex.watchlist")
		}

		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		summary, err := svc.updater.BatchUpdateForex(ctx, watchlist)
		report("forex", summary, err)
	},
}

var updateRatesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Fetch today's exchange rate for each configured currency pair",
	Run: func(cmd *cobra.Command, args []string) {
		symbols := updateCmdPairs
		if len(symbols) == 0 {
			symbols = viper.GetStringSlice("rates.pairs")
		}
		pairs, err := marketdata.ParsePairs(symbols)
		if err != nil {
			log.Fatal().Err(err).Strs("Pairs", symbols).Msg("invalid currency pair")
		}

		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		summary, err := svc.updater.BatchUpdateRates(ctx, pairs)
		report("rates", summary, err)
	},
}
