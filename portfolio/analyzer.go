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

// Package portfolio values portfolios in their base currency and derives
// allocation, performance and diversification analytics from the valuation.
package portfolio

import (
	"context"
	"errors"
	"time"

	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/fx"
	"github.com/penny-vault/pv-tracker/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var hundred = decimal.NewFromInt(100)

// Analyzer loads valuations and reconstructs historical values
type Analyzer struct {
	store     data.Store
	converter *fx.Converter
	now       func() time.Time
}

func NewAnalyzer(store data.Store, converter *fx.Converter) *Analyzer {
	return &Analyzer{
		store:     store,
		converter: converter,
		now:       time.Now,
	}
}

// SetClock overrides the source of "today"
func (a *Analyzer) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Analyzer) today() time.Time {
	return common.Date(a.now())
}

// PositionValue is one open position priced and converted into the base currency
type PositionValue struct {
	Position *data.Position `json:"position"`

	// Price is the latest close in PriceCurrency; Priced is false when the asset
	// has no price observation
	Price         decimal.Decimal `json:"price"`
	PriceCurrency string          `json:"priceCurrency"`
	PriceDate     time.Time       `json:"priceDate"`
	Priced        bool            `json:"priced"`

	Value                decimal.Decimal `json:"value"`
	Cost                 decimal.Decimal `json:"cost"`
	ProfitLoss           decimal.Decimal `json:"profitLoss"`
	ProfitLossPercentage float64         `json:"profitLossPercentage"`
}

// Valuation is a snapshot of a portfolio's open positions. Every aggregate is
// computed from the snapshot without further lookups.
type Valuation struct {
	Portfolio *data.Portfolio  `json:"portfolio"`
	AsOf      time.Time        `json:"asOf"`
	Positions []*PositionValue `json:"positions"`
}

// Load prices every open position of portfolio and converts value and cost into
// its base currency. Positions without a price or a usable rate contribute zero.
func (a *Analyzer) Load(ctx context.Context, portfolio *data.Portfolio) (*Valuation, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "portfolio.Load")
	defer span.End()
	span.SetAttributes(attribute.String("PortfolioID", portfolio.ID.String()))

	if err := portfolio.Validate(); err != nil {
		return nil, err
	}

	subLog := log.With().Str("PortfolioID", portfolio.ID.String()).Str("BaseCurrency", portfolio.BaseCurrency).Logger()

	positions, err := a.store.OpenPositions(ctx, portfolio.ID)
	if err != nil {
		subLog.Error().Err(err).Msg("could not load open positions")
		return nil, err
	}

	today := a.today()
	valuation := &Valuation{
		Portfolio: portfolio,
		AsOf:      today,
		Positions: make([]*PositionValue, 0, len(positions)),
	}

	for _, pos := range positions {
		if !pos.IsOpen() {
			continue
		}

		pv := &PositionValue{
			Position:      pos,
			PriceCurrency: pos.Asset.Currency,
			Value:         decimal.Zero,
			Cost:          decimal.Zero,
		}

		posLog := subLog.With().Str("Symbol", pos.Asset.Symbol).Logger()

		price, err := a.store.LatestPrice(ctx, pos.Asset.ID)
		switch {
		case err == nil:
			pv.Price = price.Close
			pv.PriceDate = price.Date
			pv.Priced = true
			if price.Currency != "" {
				pv.PriceCurrency = price.Currency
			}
		case errors.Is(err, data.ErrNotFound):
			posLog.Debug().Msg("asset has no price; contributes 0")
		default:
			posLog.Warn().Err(err).Msg("could not load latest price; contributes 0")
		}

		if pv.Priced {
			value, err := a.converter.Convert(ctx, pos.Quantity.Mul(pv.Price), pv.PriceCurrency, portfolio.BaseCurrency, today)
			if err != nil {
				posLog.Warn().Err(err).Msg("could not convert position value; contributes 0")
			} else {
				pv.Value = value
			}
		}

		cost, err := a.converter.Convert(ctx, pos.Quantity.Mul(pos.AverageCost), pos.PurchaseCurrency, portfolio.BaseCurrency, today)
		if err != nil {
			posLog.Warn().Err(err).Msg("could not convert position cost; contributes 0")
		} else {
			pv.Cost = cost
		}

		pv.ProfitLoss = pv.Value.Sub(pv.Cost)
		pv.ProfitLossPercentage = percentage(pv.ProfitLoss, pv.Cost)
		posLog.Debug().Object("Position", pv).Msg("valued position")

		valuation.Positions = append(valuation.Positions, pv)
	}

	span.SetAttributes(attribute.Int("NumPositions", len(valuation.Positions)))
	return valuation, nil
}

// percentage returns part / whole * 100, or 0 when whole is zero
func percentage(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Div(whole).Mul(hundred).InexactFloat64()
}
