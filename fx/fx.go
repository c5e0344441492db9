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

// Package fx keeps the currency rate table and converts amounts between currencies.
package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/observability/opentelemetry"
	"github.com/penny-vault/pv-tracker/twelvedata"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RateSource is the part of the market data provider the converter needs
type RateSource interface {
	ExchangeRate(ctx context.Context, symbol string) (*twelvedata.ExchangeRate, error)
	TimeSeries(ctx context.Context, symbol, interval string, outputSize int) (*twelvedata.TimeSeries, error)
}

type Converter struct {
	store  data.Store
	source RateSource
	now    func() time.Time
}

// Request is one entry of a BatchConvert call
type Request struct {
	Amount decimal.Decimal
	From   string
	To     string
	Date   time.Time
}

type Result struct {
	Request Request
	Amount  decimal.Decimal
	Err     error
}

func NewConverter(store data.Store, source RateSource) *Converter {
	return &Converter{
		store:  store,
		source: source,
		now:    time.Now,
	}
}

// SetClock overrides the source of "today"
func (c *Converter) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Converter) today() time.Time {
	return common.Date(c.now())
}

func pairSymbol(from, to string) string {
	return from + "/" + to
}

func normalizePair(from, to string) (string, string, error) {
	from, err := data.NormalizeCurrency(from)
	if err != nil {
		return "", "", err
	}
	to, err = data.NormalizeCurrency(to)
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

// Convert expresses amount in currency to on date. A zero date means today.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if from == to {
		return amount, nil
	}
	if amount.IsZero() {
		return decimal.Zero, nil
	}

	rate, err := c.GetRate(ctx, from, to, date)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

// GetRate returns the multiplier that converts one unit of from into to. Stored
// rates for the exact day are tried first, then the inverse pair. For today the
// previous day is accepted as well and, failing that, a live rate is fetched and
// stored.
func (c *Converter) GetRate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	today := c.today()
	if date.IsZero() {
		date = today
	}
	date = common.Date(date)
	isToday := date.Equal(today)

	days := []time.Time{date}
	if isToday {
		days = append(days, date.AddDate(0, 0, -1))
	}

	if rate, ok := c.lookup(ctx, from, to, days); ok {
		return rate, nil
	}

	if rate, ok := c.lookup(ctx, to, from, days); ok {
		return decimal.NewFromInt(1).Div(rate), nil
	}

	if !isToday {
		return decimal.Zero, fmt.Errorf("%w: %s/%s on %s", data.ErrNoRateAvailable, from, to, date.Format(common.DateFormat))
	}

	live, err := c.UpdateRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s/%s live fetch failed: %v", data.ErrNoRateAvailable, from, to, err)
	}
	return live.Rate, nil
}

// lookup returns the first stored rate found for the given days in order
func (c *Converter) lookup(ctx context.Context, from, to string, days []time.Time) (decimal.Decimal, bool) {
	for _, day := range days {
		r, err := c.store.GetRate(ctx, from, to, day)
		if err == nil {
			return r.Rate, true
		}
		if !errors.Is(err, data.ErrNotFound) {
			log.Warn().Err(err).Str("From", from).Str("To", to).Time("Date", day).Msg("rate lookup failed")
		}
	}
	return decimal.Zero, false
}

// ConvertNearest behaves like Convert but, when no rate exists for the day, uses
// the most recent direct or inverse rate stored on or before it
func (c *Converter) ConvertNearest(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	converted, err := c.Convert(ctx, amount, from, to, date)
	if err == nil || !errors.Is(err, data.ErrNoRateAvailable) {
		return converted, err
	}

	from, to, _ = normalizePair(from, to)
	if date.IsZero() {
		date = c.today()
	}
	date = common.Date(date)

	direct, directErr := c.store.RateOnOrBefore(ctx, from, to, date)
	inverse, inverseErr := c.store.RateOnOrBefore(ctx, to, from, date)

	switch {
	case directErr == nil && (inverseErr != nil || !inverse.Date.After(direct.Date)):
		return amount.Mul(direct.Rate), nil
	case inverseErr == nil:
		return amount.Div(inverse.Rate), nil
	}

	return decimal.Zero, err
}

// BatchConvert converts every request independently
func (c *Converter) BatchConvert(ctx context.Context, requests []Request) []Result {
	results := make([]Result, len(requests))
	for idx, req := range requests {
		amount, err := c.Convert(ctx, req.Amount, req.From, req.To, req.Date)
		results[idx] = Result{
			Request: req,
			Amount:  amount,
			Err:     err,
		}
	}
	return results
}

// UpdateRate fetches the live rate for the pair and stores it under today
func (c *Converter) UpdateRate(ctx context.Context, from, to string) (*data.CurrencyRate, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "fx.UpdateRate")
	defer span.End()

	from, to, err := normalizePair(from, to)
	if err != nil {
		return nil, err
	}

	symbol := pairSymbol(from, to)
	span.SetAttributes(attribute.String("Pair", symbol))
	subLog := log.With().Str("Pair", symbol).Logger()

	if c.source == nil {
		return nil, fmt.Errorf("%w: no rate source configured", data.ErrNoRateAvailable)
	}

	live, err := c.source.ExchangeRate(ctx, symbol)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange rate request failed")
		subLog.Warn().Err(err).Msg("could not fetch live exchange rate")
		return nil, err
	}

	rate := &data.CurrencyRate{
		From: from,
		To:   to,
		Date: c.today(),
		Rate: live.Rate,
	}
	if err := c.store.UpsertRates(ctx, rate); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not store rate")
		subLog.Error().Err(err).Msg("could not store live exchange rate")
		return nil, err
	}

	subLog.Debug().Str("Rate", rate.Rate.String()).Msg("stored live exchange rate")
	return rate, nil
}

// FetchHistoricalRates stores the daily closes of the pair for the last days days
// and returns the stored rows, newest first
func (c *Converter) FetchHistoricalRates(ctx context.Context, from, to string, days int) ([]*data.CurrencyRate, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "fx.FetchHistoricalRates")
	defer span.End()

	from, to, err := normalizePair(from, to)
	if err != nil {
		return nil, err
	}

	symbol := pairSymbol(from, to)
	span.SetAttributes(attribute.String("Pair", symbol), attribute.Int("Days", days))
	subLog := log.With().Str("Pair", symbol).Int("Days", days).Logger()

	if c.source == nil {
		return nil, fmt.Errorf("%w: no rate source configured", data.ErrNoRateAvailable)
	}

	series, err := c.source.TimeSeries(ctx, symbol, twelvedata.IntervalDaily, days)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "time series request failed")
		subLog.Warn().Err(err).Msg("could not fetch historical rates")
		return nil, err
	}

	rates := make([]*data.CurrencyRate, 0, len(series.Values))
	for _, bar := range series.Values {
		if !bar.Close.Valid || !bar.Close.Decimal.IsPositive() {
			subLog.Warn().Str("Datetime", bar.Datetime).Msg("skipping bar without a close")
			continue
		}
		dt, err := twelvedata.ParseDatetime(bar.Datetime)
		if err != nil {
			subLog.Warn().Err(err).Str("Datetime", bar.Datetime).Msg("skipping bar with unparseable date")
			continue
		}
		rates = append(rates, &data.CurrencyRate{
			From: from,
			To:   to,
			Date: dt,
			Rate: bar.Close.Decimal,
		})
	}

	if err := c.store.UpsertRates(ctx, rates...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not store rates")
		subLog.Error().Err(err).Msg("could not store historical rates")
		return nil, err
	}

	subLog.Info().Int("NumRates", len(rates)).Msg("stored historical rates")
	return rates, nil
}
