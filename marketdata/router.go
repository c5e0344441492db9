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

package marketdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/penny-vault/pv-tracker/batch"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/fx"
	"github.com/penny-vault/pv-tracker/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Router dispatches price fetches by asset class
type Router struct {
	store     data.Store
	converter *fx.Converter
	orch      *batch.Orchestrator
	fetchers  map[data.AssetClass]PriceFetcher
}

// NewRouter registers each fetcher for every asset class it supports
func NewRouter(store data.Store, converter *fx.Converter, orch *batch.Orchestrator, fetchers ...PriceFetcher) *Router {
	r := &Router{
		store:     store,
		converter: converter,
		orch:      orch,
		fetchers:  make(map[data.AssetClass]PriceFetcher),
	}
	for _, f := range fetchers {
		for _, class := range data.AssetClasses {
			if f.Supports(class) {
				r.fetchers[class] = f
			}
		}
	}
	return r
}

// NewDefaultRouter wires the four provider backed fetchers
func NewDefaultRouter(store data.Store, source QuoteSource, converter *fx.Converter, orch *batch.Orchestrator) *Router {
	return NewRouter(store, converter, orch,
		NewEquityFetcher(source, store),
		NewMetalFetcher(source, store),
		NewCryptoFetcher(source, store),
		NewForexFetcher(source, store),
	)
}

// Fetcher returns the fetcher registered for class
func (r *Router) Fetcher(class data.AssetClass) (PriceFetcher, bool) {
	f, ok := r.fetchers[class]
	return f, ok
}

func assetID(asset *data.Asset) string {
	return fmt.Sprintf("%s:%s", asset.Symbol, asset.Exchange)
}

// isHardError reports errors that indicate bad data or a programming mistake
func isHardError(err error) bool {
	return errors.Is(err, data.ErrInvalidAssetClass) || errors.Is(err, data.ErrValidation)
}

// FetchForAsset fetches days of history for asset and returns the number of price
// rows written. Provider and network failures are logged and reported as zero
// rows, as is a panic inside a fetcher. Invalid asset classes and validation
// failures are returned.
func (r *Router) FetchForAsset(ctx context.Context, asset *data.Asset, days int) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Stack().Err(fmt.Errorf("panic: %v", p)).Str("Symbol", asset.Symbol).
				Str("AssetClass", string(asset.AssetClass)).Msg("price fetch panicked")
			n, err = 0, nil
		}
	}()

	n, err = r.dispatch(ctx, asset, days)
	if err == nil || isHardError(err) {
		return n, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}

	log.Error().Err(err).Str("Symbol", asset.Symbol).Str("AssetClass", string(asset.AssetClass)).Msg("price fetch failed")
	return 0, nil
}

func (r *Router) dispatch(ctx context.Context, asset *data.Asset, days int) (int, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "router.FetchForAsset")
	defer span.End()
	span.SetAttributes(opentelemetry.AssetAttributes(asset.Symbol, string(asset.AssetClass), string(asset.Exchange))...)
	span.SetAttributes(attribute.Int("Days", days))

	subLog := log.With().Str("Symbol", asset.Symbol).Str("AssetClass", string(asset.AssetClass)).Logger()

	var n int
	var err error

	switch asset.AssetClass {
	case data.AssetClassForex:
		n, err = r.fetchForex(ctx, asset, days)
	case data.AssetClassBond:
		subLog.Warn().Msg("no historical feed exists for bonds; skipping")
		return 0, nil
	default:
		f, ok := r.fetchers[asset.AssetClass]
		if !ok {
			subLog.Error().Msg("no fetcher registered for asset class")
			return 0, nil
		}
		var prices []*data.PriceHistory
		prices, err = f.FetchHistory(ctx, asset, days)
		n = len(prices)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return 0, err
	}

	span.SetAttributes(attribute.Int("Records", n))
	return n, nil
}

// fetchForex stores the pair's historical rates and mirrors each one into price
// history as a flat bar
func (r *Router) fetchForex(ctx context.Context, asset *data.Asset, days int) (int, error) {
	base, quote, err := data.SplitPair(asset.Symbol)
	if err != nil {
		return 0, err
	}

	rates, err := r.converter.FetchHistoricalRates(ctx, base, quote, days)
	if err != nil {
		return 0, err
	}

	prices := make([]*data.PriceHistory, len(rates))
	for idx, rate := range rates {
		prices[idx] = &data.PriceHistory{
			AssetID:  asset.ID,
			Date:     rate.Date,
			Open:     rate.Rate,
			High:     rate.Rate,
			Low:      rate.Rate,
			Close:    rate.Rate,
			Currency: quote,
		}
	}

	if err := r.store.UpsertPrices(ctx, prices...); err != nil {
		return 0, err
	}

	log.Debug().Str("Pair", asset.Symbol).Int("NumRates", len(rates)).Msg("mirrored rates into price history")
	return len(prices), nil
}

// run dispatches every asset through the orchestrator; failures of any kind are
// recorded in the summary
func (r *Router) run(ctx context.Context, assets []*data.Asset, days int) batch.Summary {
	return batch.Run(ctx, r.orch, assets, assetID, func(ctx context.Context, asset *data.Asset) error {
		_, err := r.dispatch(ctx, asset, days)
		return err
	})
}

func (r *Router) FetchForAssetClass(ctx context.Context, class data.AssetClass, days int) (batch.Summary, error) {
	assets, err := r.store.ListAssetsByClass(ctx, class)
	if err != nil {
		log.Error().Err(err).Str("AssetClass", string(class)).Msg("could not list assets")
		return batch.Summary{}, err
	}
	return r.run(ctx, assets, days), nil
}

// FetchForPortfolio refreshes every asset held in an open position of the portfolio
func (r *Router) FetchForPortfolio(ctx context.Context, portfolioID uuid.UUID, days int) (batch.Summary, error) {
	positions, err := r.store.OpenPositions(ctx, portfolioID)
	if err != nil {
		log.Error().Err(err).Str("PortfolioID", portfolioID.String()).Msg("could not load positions")
		return batch.Summary{}, err
	}

	seen := make(map[uuid.UUID]bool, len(positions))
	assets := make([]*data.Asset, 0, len(positions))
	for _, pos := range positions {
		if seen[pos.Asset.ID] {
			continue
		}
		seen[pos.Asset.ID] = true
		assets = append(assets, pos.Asset)
	}
	return r.run(ctx, assets, days), nil
}

func (r *Router) FetchAll(ctx context.Context, days int, excludeBonds bool) (batch.Summary, error) {
	assets, err := r.store.ListAssets(ctx)
	if err != nil {
		log.Error().Err(err).Msg("could not list assets")
		return batch.Summary{}, err
	}

	if excludeBonds {
		filtered := assets[:0]
		for _, asset := range assets {
			if asset.AssetClass != data.AssetClassBond {
				filtered = append(filtered, asset)
			}
		}
		assets = filtered
	}
	return r.run(ctx, assets, days), nil
}

// FindAssetsMissingHistory returns assets with fewer than minDays price rows
func (r *Router) FindAssetsMissingHistory(ctx context.Context, minDays int) ([]*data.Asset, error) {
	assets, err := r.store.ListAssets(ctx)
	if err != nil {
		log.Error().Err(err).Msg("could not list assets")
		return nil, err
	}

	missing := make([]*data.Asset, 0)
	for _, asset := range assets {
		cnt, err := r.store.PriceCount(ctx, asset.ID)
		if err != nil {
			log.Error().Err(err).Str("Symbol", asset.Symbol).Msg("could not count price history")
			return nil, err
		}
		if cnt < minDays {
			missing = append(missing, asset)
		}
	}

	log.Info().Int("NumAssets", len(assets)).Int("NumMissing", len(missing)).Int("MinDays", minDays).Msg("scanned price history coverage")
	return missing, nil
}

// FillMissingHistory fetches fetchDays of history for every asset below minDays
func (r *Router) FillMissingHistory(ctx context.Context, minDays, fetchDays int) (batch.Summary, error) {
	missing, err := r.FindAssetsMissingHistory(ctx, minDays)
	if err != nil {
		return batch.Summary{}, err
	}
	return r.run(ctx, missing, fetchDays), nil
}

// SyncLatestPrice fetches and stores the current price of asset. Callers run it
// after recording a new position.
func (r *Router) SyncLatestPrice(ctx context.Context, asset *data.Asset) (*data.PriceHistory, error) {
	f, ok := r.fetchers[asset.AssetClass]
	if !ok {
		if asset.AssetClass == data.AssetClassBond {
			log.Warn().Str("Symbol", asset.Symbol).Msg("no price feed exists for bonds; skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %q", data.ErrInvalidAssetClass, asset.AssetClass)
	}
	return f.FetchLatest(ctx, asset)
}
