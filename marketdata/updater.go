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

	"github.com/penny-vault/pv-tracker/batch"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/fx"
	"github.com/rs/zerolog/log"
)

// Updater refreshes latest prices and rates in rate limited batches
type Updater struct {
	router    *Router
	store     data.Store
	converter *fx.Converter
	orch      *batch.Orchestrator
}

func NewUpdater(router *Router, store data.Store, converter *fx.Converter, orch *batch.Orchestrator) *Updater {
	return &Updater{
		router:    router,
		store:     store,
		converter: converter,
		orch:      orch,
	}
}

func (u *Updater) latest(ctx context.Context, assets []*data.Asset) batch.Summary {
	return batch.Run(ctx, u.orch, assets, assetID, func(ctx context.Context, asset *data.Asset) error {
		f, ok := u.router.Fetcher(asset.AssetClass)
		if !ok {
			return fmt.Errorf("%w: no fetcher for %q", data.ErrInvalidAssetClass, asset.AssetClass)
		}
		_, err := f.FetchLatest(ctx, asset)
		return err
	})
}

func (u *Updater) byClass(ctx context.Context, classes ...data.AssetClass) ([]*data.Asset, error) {
	assets, err := u.store.ListAssetsByClass(ctx, classes...)
	if err != nil {
		log.Error().Err(err).Msg("could not list assets")
		return nil, err
	}
	return assets, nil
}

// BatchUpdatePrices refreshes stocks and ETFs, limited to one venue when exchange
// is set
func (u *Updater) BatchUpdatePrices(ctx context.Context, exchange *data.Exchange) (batch.Summary, error) {
	assets, err := u.byClass(ctx, data.AssetClassEquity, data.AssetClassETF)
	if err != nil {
		return batch.Summary{}, err
	}

	if exchange != nil {
		filtered := assets[:0]
		for _, asset := range assets {
			if asset.Exchange == *exchange {
				filtered = append(filtered, asset)
			}
		}
		assets = filtered
	}

	return u.latest(ctx, assets), nil
}

func (u *Updater) BatchUpdateMetals(ctx context.Context) (batch.Summary, error) {
	assets, err := u.byClass(ctx, data.AssetClassPreciousMetal)
	if err != nil {
		return batch.Summary{}, err
	}
	return u.latest(ctx, assets), nil
}

func (u *Updater) BatchUpdateCrypto(ctx context.Context) (batch.Summary, error) {
	assets, err := u.byClass(ctx, data.AssetClassCryptocurrency)
	if err != nil {
		return batch.Summary{}, err
	}
	return u.latest(ctx, assets), nil
}

// BatchUpdateForex refreshes each BASE/QUOTE pair in watchlist, creating the forex
// asset on first reference
func (u *Updater) BatchUpdateForex(ctx context.Context, watchlist []string) (batch.Summary, error) {
	return batch.Run(ctx, u.orch, watchlist, func(pair string) string { return pair }, func(ctx context.Context, pair string) error {
		asset, err := u.forexAsset(ctx, pair)
		if err != nil {
			return err
		}
		f, ok := u.router.Fetcher(data.AssetClassForex)
		if !ok {
			return fmt.Errorf("%w: no forex fetcher registered", data.ErrInvalidAssetClass)
		}
		_, err = f.FetchLatest(ctx, asset)
		return err
	}), nil
}

func (u *Updater) forexAsset(ctx context.Context, pair string) (*data.Asset, error) {
	base, quote, err := data.SplitPair(pair)
	if err != nil {
		return nil, err
	}
	symbol := base + "/" + quote

	asset, err := u.store.FindAsset(ctx, symbol, data.ExchangeForex)
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return nil, err
	}

	asset = &data.Asset{
		Symbol:     symbol,
		Name:       symbol,
		AssetClass: data.AssetClassForex,
		Exchange:   data.ExchangeForex,
		Currency:   quote,
	}
	if err := u.store.SaveAsset(ctx, asset); err != nil {
		return nil, err
	}
	log.Info().Str("Pair", symbol).Msg("created forex asset")
	return asset, nil
}

// BatchUpdateRates fetches the live rate of every pair and stores it under today
func (u *Updater) BatchUpdateRates(ctx context.Context, pairs [][2]string) (batch.Summary, error) {
	return batch.Run(ctx, u.orch, pairs, func(p [2]string) string { return p[0] + "/" + p[1] }, func(ctx context.Context, p [2]string) error {
		_, err := u.converter.UpdateRate(ctx, p[0], p[1])
		return err
	}), nil
}

// ParsePairs turns BASE/QUOTE strings into currency pairs
func ParsePairs(symbols []string) ([][2]string, error) {
	pairs := make([][2]string, 0, len(symbols))
	for _, s := range symbols {
		base, quote, err := data.SplitPair(s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{base, quote})
	}
	return pairs, nil
}
