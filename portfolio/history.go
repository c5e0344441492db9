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

package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
	PeriodYTD     Period = "ytd"
)

// Periods lists every supported performance window in display order
var Periods = []Period{PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear, PeriodYTD}

func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Periods {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", data.ErrInvalidPeriod, s)
}

// StartDate returns the first day of the window that ends on end
func (p Period) StartDate(end time.Time) (time.Time, error) {
	end = common.Date(end)
	switch p {
	case PeriodWeek:
		return end.AddDate(0, 0, -7), nil
	case PeriodMonth:
		return end.AddDate(0, -1, 0), nil
	case PeriodQuarter:
		return end.AddDate(0, -3, 0), nil
	case PeriodYear:
		return end.AddDate(-1, 0, 0), nil
	case PeriodYTD:
		return time.Date(end.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", data.ErrInvalidPeriod, string(p))
	}
}

type PeriodPerformance struct {
	Period           Period          `json:"period"`
	StartDate        time.Time       `json:"startDate"`
	EndDate          time.Time       `json:"endDate"`
	StartValue       decimal.Decimal `json:"startValue"`
	EndValue         decimal.Decimal `json:"endValue"`
	Change           decimal.Decimal `json:"change"`
	ChangePercentage float64         `json:"changePercentage"`
}

type ValuePoint struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

type priceKey struct {
	assetID uuid.UUID
	date    time.Time
}

type rateKey struct {
	from string
	to   string
	date time.Time
}

// asOf reconstructs historical values. Lookups are memoized so repeated
// valuations on overlapping dates hit the store once per asset and day.
type asOf struct {
	analyzer *Analyzer
	prices   map[priceKey]*data.PriceHistory
	rates    map[rateKey]*decimal.Decimal
}

func (a *Analyzer) newAsOf() *asOf {
	return &asOf{
		analyzer: a,
		prices:   make(map[priceKey]*data.PriceHistory),
		rates:    make(map[rateKey]*decimal.Decimal),
	}
}

// price returns the close on or before date, or nil when the asset had none
func (m *asOf) price(ctx context.Context, assetID uuid.UUID, date time.Time) *data.PriceHistory {
	key := priceKey{assetID: assetID, date: date}
	if p, ok := m.prices[key]; ok {
		return p
	}

	p, err := m.analyzer.store.PriceOnOrBefore(ctx, assetID, date)
	if err != nil {
		if !errors.Is(err, data.ErrNotFound) {
			log.Warn().Err(err).Str("AssetID", assetID.String()).Time("Date", date).Msg("historical price lookup failed")
		}
		p = nil
	}
	m.prices[key] = p
	return p
}

// rate returns the nearest conversion multiplier on date, or nil when none exists
func (m *asOf) rate(ctx context.Context, from, to string, date time.Time) *decimal.Decimal {
	key := rateKey{from: from, to: to, date: date}
	if r, ok := m.rates[key]; ok {
		return r
	}

	var res *decimal.Decimal
	r, err := m.analyzer.converter.ConvertNearest(ctx, decimal.NewFromInt(1), from, to, date)
	if err != nil {
		log.Debug().Err(err).Str("From", from).Str("To", to).Time("Date", date).Msg("no rate for historical valuation")
	} else {
		res = &r
	}
	m.rates[key] = res
	return res
}

func (m *asOf) value(ctx context.Context, v *Valuation, date time.Time) (decimal.Decimal, error) {
	date = common.Date(date)
	base := v.Portfolio.BaseCurrency
	total := decimal.Zero

	for _, pv := range v.Positions {
		if err := ctx.Err(); err != nil {
			return decimal.Zero, err
		}

		pos := pv.Position
		if common.Date(pos.PurchaseDate).After(date) {
			continue
		}

		// without a price on or before the date the cost basis stands in for it
		unit, currency := pos.AverageCost, pos.PurchaseCurrency
		if p := m.price(ctx, pos.Asset.ID, date); p != nil {
			unit = p.Close
			currency = p.Currency
			if currency == "" {
				currency = pos.Asset.Currency
			}
		}

		r := m.rate(ctx, currency, base, date)
		if r == nil {
			continue
		}
		total = total.Add(pos.Quantity.Mul(unit).Mul(*r))
	}

	return total, nil
}

// ValueAt reconstructs what the valuation's positions were worth on date,
// counting only positions purchased on or before it
func (a *Analyzer) ValueAt(ctx context.Context, v *Valuation, date time.Time) (decimal.Decimal, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "portfolio.ValueAt")
	defer span.End()
	span.SetAttributes(attribute.String("Date", date.Format(common.DateFormat)))

	return a.newAsOf().value(ctx, v, date)
}

// PeriodPerformance compares the value at the start of period with the value today
func (a *Analyzer) PeriodPerformance(ctx context.Context, v *Valuation, period Period) (*PeriodPerformance, error) {
	return a.periodPerformance(ctx, a.newAsOf(), v, period)
}

func (a *Analyzer) periodPerformance(ctx context.Context, memo *asOf, v *Valuation, period Period) (*PeriodPerformance, error) {
	end := a.today()
	start, err := period.StartDate(end)
	if err != nil {
		return nil, err
	}

	startValue, err := memo.value(ctx, v, start)
	if err != nil {
		return nil, err
	}
	endValue, err := memo.value(ctx, v, end)
	if err != nil {
		return nil, err
	}

	change := endValue.Sub(startValue)
	perf := &PeriodPerformance{
		Period:           period,
		StartDate:        start,
		EndDate:          end,
		StartValue:       startValue,
		EndValue:         endValue,
		Change:           change,
		ChangePercentage: percentage(change, startValue),
	}
	log.Debug().Object("Performance", perf).Msg("computed period performance")
	return perf, nil
}

// ValueSeries samples ValueAt from begin through end every stepDays days. The
// end date is always included.
func (a *Analyzer) ValueSeries(ctx context.Context, v *Valuation, begin, end time.Time, stepDays int) ([]*ValuePoint, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "portfolio.ValueSeries")
	defer span.End()

	begin = common.Date(begin)
	end = common.Date(end)
	if end.Before(begin) {
		return nil, data.ErrInvalidTimeRange
	}
	if stepDays <= 0 {
		stepDays = 1
	}

	memo := a.newAsOf()
	series := make([]*ValuePoint, 0)
	for dt := begin; !dt.After(end); dt = dt.AddDate(0, 0, stepDays) {
		val, err := memo.value(ctx, v, dt)
		if err != nil {
			return nil, err
		}
		series = append(series, &ValuePoint{Date: dt, Value: val})
	}

	if last := series[len(series)-1]; !last.Date.Equal(end) {
		val, err := memo.value(ctx, v, end)
		if err != nil {
			return nil, err
		}
		series = append(series, &ValuePoint{Date: end, Value: val})
	}

	span.SetAttributes(attribute.Int("NumPoints", len(series)))
	return series, nil
}
