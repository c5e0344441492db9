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
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	assetCmdSymbol   string
	assetCmdName     string
	assetCmdClass    string
	assetCmdExchange string
	assetCmdCurrency string

	portfolioCmdName string
	portfolioCmdBase string

	positionCmdPortfolio string
	positionCmdQuantity  string
	positionCmdCost      string
	positionCmdCurrency  string
	positionCmdDate      string
	positionCmdNoSync    bool
)

func init() {
	addAssetCmd.Flags().StringVar(&assetCmdSymbol, "symbol", "", "Ticker or pair symbol")
	addAssetCmd.Flags().StringVar(&assetCmdName, "name", "", "Display name (defaults to the symbol)")
	addAssetCmd.Flags().StringVar(&assetCmdClass, "class", string(data.AssetClassEquity), "Asset class")
	addAssetCmd.Flags().StringVar(&assetCmdExchange, "exchange", string(data.ExchangeNASDAQ), "Exchange the asset is listed on")
	addAssetCmd.Flags().StringVar(&assetCmdCurrency, "currency", "USD", "Currency the asset is quoted in")

	addPortfolioCmd.Flags().StringVar(&portfolioCmdName, "name", "", "Portfolio name")
	addPortfolioCmd.Flags().StringVar(&portfolioCmdBase, "base", "USD", "Base currency analytics are reported in")

	addPositionCmd.Flags().StringVar(&positionCmdPortfolio, "portfolio", "", "Portfolio the position belongs to")
	addPositionCmd.Flags().StringVar(&assetCmdSymbol, "symbol", "", "Symbol of the asset held")
	addPositionCmd.Flags().StringVar(&assetCmdExchange, "exchange", string(data.ExchangeNASDAQ), "Exchange of the asset held")
	addPositionCmd.Flags().StringVar(&positionCmdQuantity, "quantity", "", "Number of units held")
	addPositionCmd.Flags().StringVar(&positionCmdCost, "cost", "", "Average cost per unit")
	addPositionCmd.Flags().StringVar(&positionCmdCurrency, "currency", "USD", "Currency the cost was paid in")
	addPositionCmd.Flags().StringVar(&positionCmdDate, "date", "", "Purchase date specified as YYYY-MM-dd (default today)")
	addPositionCmd.Flags().BoolVar(&positionCmdNoSync, "no-sync", false, "Do not fetch the latest price after recording the position")

	addCmd.AddCommand(addAssetCmd, addPortfolioCmd, addPositionCmd)
	rootCmd.AddCommand(addCmd)
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Record assets, portfolios and positions",
}

var addAssetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Register an asset so its prices are tracked",
	Run: func(cmd *cobra.Command, args []string) {
		name := assetCmdName
		if name == "" {
			name = assetCmdSymbol
		}
		asset := &data.Asset{
			Symbol:     strings.ToUpper(assetCmdSymbol),
			Name:       name,
			AssetClass: data.AssetClass(assetCmdClass),
			Exchange:   data.Exchange(strings.ToUpper(assetCmdExchange)),
			Currency:   strings.ToUpper(assetCmdCurrency),
		}

		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		if err := svc.store.SaveAsset(ctx, asset); err != nil {
			log.Fatal().Err(err).Str("Symbol", asset.Symbol).Msg("could not save asset")
		}
		printJSON(asset)
	},
}

var addPortfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Create an empty portfolio",
	Run: func(cmd *cobra.Command, args []string) {
		p := &data.Portfolio{
			Name:         portfolioCmdName,
			BaseCurrency: strings.ToUpper(portfolioCmdBase),
		}

		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		if err := svc.store.SavePortfolio(ctx, p); err != nil {
			log.Fatal().Err(err).Str("Name", p.Name).Msg("could not save portfolio")
		}
		printJSON(p)
	},
}

var addPositionCmd = &cobra.Command{
	Use:   "position",
	Short: "Record an open position and fetch the asset's latest price",
	Run: func(cmd *cobra.Command, args []string) {
		portfolioID, err := uuid.Parse(positionCmdPortfolio)
		if err != nil {
			log.Fatal().Err(err).Str("InputStr", positionCmdPortfolio).Msg("portfolio must be a UUID")
		}
		quantity, err := decimal.NewFromString(positionCmdQuantity)
		if err != nil {
			log.Fatal().Err(err).Str("InputStr", positionCmdQuantity).Msg("quantity is not a number")
		}
		cost, err := decimal.NewFromString(positionCmdCost)
		if err != nil {
			log.Fatal().Err(err).Str("InputStr", positionCmdCost).Msg("cost is not a number")
		}
		purchased := common.Today()
		if positionCmdDate != "" {
			if purchased, err = common.ParseDate(positionCmdDate); err != nil {
				log.Fatal().Err(err).Str("InputStr", positionCmdDate).Msg("could not parse date - expected format 2006-01-02")
			}
		}

		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		asset, err := svc.store.FindAsset(ctx, strings.ToUpper(assetCmdSymbol), data.Exchange(strings.ToUpper(assetCmdExchange)))
		if err != nil {
			log.Fatal().Err(err).Str("Symbol", assetCmdSymbol).Msg("could not find asset; add it first")
		}

		pos := &data.Position{
			PortfolioID:      portfolioID,
			Asset:            asset,
			Quantity:         quantity,
			AverageCost:      cost,
			PurchaseCurrency: strings.ToUpper(positionCmdCurrency),
			PurchaseDate:     purchased,
			Status:           data.PositionOpen,
		}
		if err := svc.store.SavePosition(ctx, pos); err != nil {
			log.Fatal().Err(err).Msg("could not save position")
		}

		// the position is already stored; a failed price sync only warns
		if !positionCmdNoSync {
			syncCtx, syncCancel := context.WithTimeout(ctx, time.Minute)
			defer syncCancel()
			if _, err := svc.router.SyncLatestPrice(syncCtx, asset); err != nil {
				log.Warn().Err(err).Str("Symbol", asset.Symbol).Msg("position saved but the latest price could not be fetched")
			}
		}
		printJSON(pos)
	},
}
