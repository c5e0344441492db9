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

	"github.com/google/uuid"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	fetchCmdSymbol       string
	fetchCmdExchange     string
	fetchCmdClass        string
	fetchCmdPortfolio    string
	fetchCmdAll          bool
	fetchCmdExcludeBonds bool
	fetchCmdDays         int
)

func init() {
	fetchCmd.Flags().StringVar(&fetchCmdSymbol, "symbol", "", "Fetch history for a single asset")
	fetchCmd.Flags().StringVar(&fetchCmdExchange, "exchange", string(data.ExchangeNASDAQ), "Exchange of --symbol")
	fetchCmd.Flags().StringVar(&fetchCmdClass, "class", "", "Fetch history for every asset of this class")
	fetchCmd.Flags().StringVar(&fetchCmdPortfolio, "portfolio", "", "Fetch history for every asset held by this portfolio")
	fetchCmd.Flags().BoolVar(&fetchCmdAll, "all", false, "Fetch history for every asset")
	fetchCmd.Flags().BoolVar(&fetchCmdExcludeBonds, "exclude-bonds", true, "Skip bonds when fetching --all")
	fetchCmd.Flags().IntVar(&fetchCmdDays, "days", 30, "Number of days of history to fetch")

	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch price history for an asset, an asset class, a portfolio, or everything",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		subLog := log.With().Int("Days", fetchCmdDays).Logger()

		switch {
		case fetchCmdSymbol != "":
			asset, err := svc.store.FindAsset(ctx, strings.ToUpper(fetchCmdSymbol), data.Exchange(strings.ToUpper(fetchCmdExchange)))
			if err != nil {
				subLog.Fatal().Err(err).Str("Symbol", fetchCmdSymbol).Str("Exchange", fetchCmdExchange).Msg("could not find asset")
			}
			n, err := svc.router.FetchForAsset(ctx, asset, fetchCmdDays)
			if err != nil {
				subLog.Fatal().Err(err).Str("Symbol", asset.Symbol).Msg("fetch failed")
			}
			printJSON(map[string]interface{}{
				"symbol":   asset.Symbol,
				"exchange": asset.Exchange,
				"records":  n,
			})

		case fetchCmdClass != "":
			class := data.AssetClass(fetchCmdClass)
			if !class.Valid() {
				subLog.Fatal().Str("AssetClass", fetchCmdClass).Msg("unknown asset class")
			}
			summary, err := svc.router.FetchForAssetClass(ctx, class, fetchCmdDays)
			report("fetch", summary, err)

		case fetchCmdPortfolio != "":
			portfolioID, err := uuid.Parse(fetchCmdPortfolio)
			if err != nil {
				subLog.Fatal().Err(err).Str("InputStr", fetchCmdPortfolio).Msg("portfolio must be a UUID")
			}
			summary, err := svc.router.FetchForPortfolio(ctx, portfolioID, fetchCmdDays)
			report("fetch", summary, err)

		case fetchCmdAll:
			summary, err := svc.router.FetchAll(ctx, fetchCmdDays, fetchCmdExcludeBonds)
			report("fetch", summary, err)

		default:
			subLog.Fatal().Msg("one of --symbol, --class, --portfolio or --all is required")
		}
	},
}
