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
	"fmt"

	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/observability/opentelemetry"
	"github.com/penny-vault/pv-tracker/twelvedata"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// QuoteSource is the part of the market data provider the fetchers need
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*twelvedata.Quote, error)
	TimeSeries(ctx context.Context, symbol, interval string, outputSize int) (*twelvedata.TimeSeries, error)
}

// PriceFetcher loads prices for the asset classes it supports and upserts them
// into price history
type PriceFetcher interface {
	Supports(class data.AssetClass) bool
	FetchLatest(ctx context.Context, asset *data.Asset) (*data.PriceHistory, error)
	FetchHistory(ctx context.Context, asset *data.Asset, days int) ([]*data.PriceHistory, error)
}

// ohlcv is the provider independent shape of a quote or bar
type ohlcv struct {
	datetime string
	open     decimal.NullDecimal
	high     decimal.NullDecimal
	low      decimal.NullDecimal
	close    decimal.NullDecimal
	volume   decimal.NullDecimal
}

// fetcher holds everything the class specific fetchers share; they differ only
// in how the provider symbol and quote currency are derived
type fetcher struct {
	name     string
	classes  []data.AssetClass
	source   QuoteSource
	store    data.Store
	symbol   func(asset *data.Asset) string
	currency func(asset *data.Asset) string
	// flat stores every bar as O=H=L=C at the close with no volume
	flat bool
	// afterUpsert runs once prices are stored
	afterUpsert func(ctx context.Context, asset *data.Asset, prices []*data.PriceHistory) error
}

func (f *fetcher) Supports(class data.AssetClass) bool {
	for _, c := range f.classes {
		if c == class {
			return true
		}
	}
	return false
}

func (f *fetcher) check(asset *data.Asset) error {
	if asset == nil {
		return fmt.Errorf("%w: nil asset", data.ErrValidation)
	}
	if !f.Supports(asset.AssetClass) {
		return fmt.Errorf("%w: %s fetcher cannot price %s (%s)", data.ErrInvalidAssetClass, f.name, asset.Symbol, asset.AssetClass)
	}
	return nil
}

func (f *fetcher) FetchLatest(ctx context.Context, asset *data.Asset) (*data.PriceHistory, error) {
	if err := f.check(asset); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, f.name+".FetchLatest")
	defer span.End()
	span.SetAttributes(opentelemetry.AssetAttributes(asset.Symbol, string(asset.AssetClass), string(asset.Exchange))...)

	symbol := f.symbol(asset)
	subLog := log.With().Str("Symbol", symbol).Str("AssetClass", string(asset.AssetClass)).Logger()

	quote, err := f.source.Quote(ctx, symbol)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quote request failed")
		return nil, err
	}

	price, err := f.normalize(asset, &ohlcv{
		datetime: quote.Datetime,
		open:     quote.Open,
		high:     quote.High,
		low:      quote.Low,
		close:    quote.Close,
		volume:   quote.Volume,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quote could not be normalized")
		subLog.Warn().Err(err).Msg("could not normalize quote")
		return nil, err
	}

	if err := f.upsert(ctx, asset, []*data.PriceHistory{price}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not store quote")
		return nil, err
	}

	subLog.Debug().Str("Close", price.Close.String()).Time("Date", price.Date).Msg("stored latest price")
	return price, nil
}

func (f *fetcher) FetchHistory(ctx context.Context, asset *data.Asset, days int) ([]*data.PriceHistory, error) {
	if err := f.check(asset); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, f.name+".FetchHistory")
	defer span.End()
	span.SetAttributes(opentelemetry.AssetAttributes(asset.Symbol, string(asset.AssetClass), string(asset.Exchange))...)

	symbol := f.symbol(asset)
	subLog := log.With().Str("Symbol", symbol).Str("AssetClass", string(asset.AssetClass)).Int("Days", days).Logger()

	series, err := f.source.TimeSeries(ctx, symbol, twelvedata.IntervalDaily, days)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "time series request failed")
		return nil, err
	}

	prices := make([]*data.PriceHistory, 0, len(series.Values))
	for _, bar := range series.Values {
		price, err := f.normalize(asset, &ohlcv{
			datetime: bar.Datetime,
			open:     bar.Open,
			high:     bar.High,
			low:      bar.Low,
			close:    bar.Close,
			volume:   bar.Volume,
		})
		if err != nil {
			subLog.Warn().Err(err).Str("Datetime", bar.Datetime).Msg("skipping bar")
			continue
		}
		prices = append(prices, price)
	}

	if len(prices) == 0 {
		subLog.Warn().Msg("provider returned no usable bars")
		return prices, nil
	}

	if err := f.upsert(ctx, asset, prices); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not store history")
		return nil, err
	}

	subLog.Info().Int("NumPrices", len(prices)).Msg("stored price history")
	return prices, nil
}

func (f *fetcher) upsert(ctx context.Context, asset *data.Asset, prices []*data.PriceHistory) error {
	if err := f.store.UpsertPrices(ctx, prices...); err != nil {
		log.Error().Err(err).Str("Symbol", asset.Symbol).Msg("could not store prices")
		return err
	}
	if f.afterUpsert != nil {
		return f.afterUpsert(ctx, asset, prices)
	}
	return nil
}

// normalize maps a provider observation onto a price history row; missing open,
// high and low take the close while a missing volume stays empty
func (f *fetcher) normalize(asset *data.Asset, obs *ohlcv) (*data.PriceHistory, error) {
	if !obs.close.Valid {
		return nil, fmt.Errorf("%w: %s observation has no close", data.ErrAPI, asset.Symbol)
	}

	date := common.Today()
	if obs.datetime != "" {
		var err error
		if date, err = twelvedata.ParseDatetime(obs.datetime); err != nil {
			return nil, fmt.Errorf("%w: %s observation has invalid datetime %q", data.ErrAPI, asset.Symbol, obs.datetime)
		}
	}

	orClose := func(v decimal.NullDecimal) decimal.Decimal {
		if v.Valid {
			return v.Decimal
		}
		return obs.close.Decimal
	}

	price := &data.PriceHistory{
		AssetID:  asset.ID,
		Date:     date,
		Open:     orClose(obs.open),
		High:     orClose(obs.high),
		Low:      orClose(obs.low),
		Close:    obs.close.Decimal,
		Currency: f.currency(asset),
	}
	if f.flat {
		price.Open, price.High, price.Low = price.Close, price.Close, price.Close
		return price, nil
	}
	if obs.volume.Valid {
		v := obs.volume.Decimal.IntPart()
		price.Volume = &v
	}
	return price, nil
}

var venueCodes = map[data.Exchange]string{
	data.ExchangeBIST:  "BIST",
	data.ExchangeLSE:   "LSE",
	data.ExchangeXETRA: "XETR",
}

// EquitySymbol formats a stock or ETF symbol as SYMBOL:VENUE; US venues need no suffix
func EquitySymbol(asset *data.Asset) string {
	if venue, ok := venueCodes[asset.Exchange]; ok {
		return asset.Symbol + ":" + venue
	}
	return asset.Symbol
}

// USDSymbol formats metals and coins as SYMBOL/USD
func USDSymbol(asset *data.Asset) string {
	return asset.Symbol + "/USD"
}

func assetCurrency(asset *data.Asset) string {
	return asset.Currency
}

func usd(*data.Asset) string {
	return "USD"
}

type EquityFetcher struct {
	fetcher
}

func NewEquityFetcher(source QuoteSource, store data.Store) *EquityFetcher {
	return &EquityFetcher{fetcher{
		name:     "EquityFetcher",
		classes:  []data.AssetClass{data.AssetClassEquity, data.AssetClassETF},
		source:   source,
		store:    store,
		symbol:   EquitySymbol,
		currency: assetCurrency,
	}}
}

type MetalFetcher struct {
	fetcher
}

func NewMetalFetcher(source QuoteSource, store data.Store) *MetalFetcher {
	return &MetalFetcher{fetcher{
		name:     "MetalFetcher",
		classes:  []data.AssetClass{data.AssetClassPreciousMetal},
		source:   source,
		store:    store,
		symbol:   USDSymbol,
		currency: usd,
	}}
}

type CryptoFetcher struct {
	fetcher
}

func NewCryptoFetcher(source QuoteSource, store data.Store) *CryptoFetcher {
	return &CryptoFetcher{fetcher{
		name:     "CryptoFetcher",
		classes:  []data.AssetClass{data.AssetClassCryptocurrency},
		source:   source,
		store:    store,
		symbol:   USDSymbol,
		currency: usd,
	}}
}

// ForexFetcher prices BASE/QUOTE pairs as flat bars at the rate and records
// every observation as a currency rate as well
type ForexFetcher struct {
	fetcher
}

func NewForexFetcher(source QuoteSource, store data.Store) *ForexFetcher {
	f := &ForexFetcher{fetcher{
		name:    "ForexFetcher",
		classes: []data.AssetClass{data.AssetClassForex},
		source:  source,
		store:   store,
		flat:    true,
		symbol: func(asset *data.Asset) string {
			return asset.Symbol
		},
		currency: func(asset *data.Asset) string {
			if _, quote, err := data.SplitPair(asset.Symbol); err == nil {
				return quote
			}
			return asset.Currency
		},
	}}
	f.afterUpsert = f.storeRates
	return f
}

func (f *ForexFetcher) storeRates(ctx context.Context, asset *data.Asset, prices []*data.PriceHistory) error {
	base, quote, err := data.SplitPair(asset.Symbol)
	if err != nil {
		return err
	}
	rates := make([]*data.CurrencyRate, len(prices))
	for idx, p := range prices {
		rates[idx] = &data.CurrencyRate{
			From: base,
			To:   quote,
			Date: p.Date,
			Rate: p.Close,
		}
	}
	return f.store.UpsertRates(ctx, rates...)
}

func (f *ForexFetcher) FetchLatest(ctx context.Context, asset *data.Asset) (*data.PriceHistory, error) {
	if err := f.check(asset); err != nil {
		return nil, err
	}
	if _, _, err := data.SplitPair(asset.Symbol); err != nil {
		return nil, err
	}
	return f.fetcher.FetchLatest(ctx, asset)
}

func (f *ForexFetcher) FetchHistory(ctx context.Context, asset *data.Asset, days int) ([]*data.PriceHistory, error) {
	if err := f.check(asset); err != nil {
		return nil, err
	}
	if _, _, err := data.SplitPair(asset.Symbol); err != nil {
		return nil, err
	}
	return f.fetcher.FetchHistory(ctx, asset, days)
}
