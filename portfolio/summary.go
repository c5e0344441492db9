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
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultPerformerLimit = 5

type Overview struct {
	BaseCurrency          string          `json:"baseCurrency"`
	AsOf                  time.Time       `json:"asOf"`
	PositionCount         int             `json:"positionCount"`
	ClassCount            int             `json:"classCount"`
	TotalValue            decimal.Decimal `json:"totalValue"`
	TotalCost             decimal.Decimal `json:"totalCost"`
	TotalProfitLoss       decimal.Decimal `json:"totalProfitLoss"`
	TotalReturnPercentage float64         `json:"totalReturnPercentage"`
	DiversityScore        float64         `json:"diversityScore"`
	DisplayValue          string          `json:"displayValue"`
}

type Allocation struct {
	ByClass    []*AllocationEntry `json:"byClass"`
	ByCurrency []*AllocationEntry `json:"byCurrency"`
}

type Performance struct {
	TopPerformers    []*PositionValue `json:"topPerformers"`
	WorstPerformers  []*PositionValue `json:"worstPerformers"`
	LargestPositions []*PositionValue `json:"largestPositions"`
}

// AnalyticsSummary bundles every analytic for a single portfolio
type AnalyticsSummary struct {
	PortfolioID string               `json:"portfolioId"`
	Name        string               `json:"name"`
	Overview    *Overview            `json:"overview"`
	Allocation  *Allocation          `json:"allocation"`
	Performance *Performance         `json:"performance"`
	Periods     []*PeriodPerformance `json:"periods"`
}

// Summary loads portfolio once and derives every analytic from that snapshot.
// Historical lookups for the period windows share one memo.
func (a *Analyzer) Summary(ctx context.Context, portfolio *data.Portfolio, limit int) (*AnalyticsSummary, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "portfolio.Summary")
	defer span.End()
	span.SetAttributes(attribute.String("PortfolioID", portfolio.ID.String()))

	subLog := log.With().Str("PortfolioID", portfolio.ID.String()).Logger()

	if limit <= 0 {
		limit = DefaultPerformerLimit
	}

	valuation, err := a.Load(ctx, portfolio)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not load valuation")
		return nil, err
	}

	summary := &AnalyticsSummary{
		PortfolioID: portfolio.ID.String(),
		Name:        portfolio.Name,
		Overview: &Overview{
			BaseCurrency:          portfolio.BaseCurrency,
			AsOf:                  valuation.AsOf,
			PositionCount:         len(valuation.Positions),
			ClassCount:            valuation.ClassCount(),
			TotalValue:            valuation.TotalValue(),
			TotalCost:             valuation.TotalCost(),
			TotalProfitLoss:       valuation.TotalProfitLoss(),
			TotalReturnPercentage: valuation.TotalReturnPercentage(),
			DiversityScore:        valuation.DiversityScore(),
		},
		Allocation: &Allocation{
			ByClass:    valuation.AllocationByClass(),
			ByCurrency: valuation.AllocationByCurrency(),
		},
		Performance: &Performance{
			TopPerformers:    valuation.TopPerformers(limit),
			WorstPerformers:  valuation.WorstPerformers(limit),
			LargestPositions: valuation.LargestPositions(limit),
		},
		Periods: make([]*PeriodPerformance, 0, len(Periods)),
	}
	summary.Overview.DisplayValue = FormatAmount(summary.Overview.TotalValue, portfolio.BaseCurrency)

	memo := a.newAsOf()
	for _, period := range Periods {
		perf, err := a.periodPerformance(ctx, memo, valuation, period)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "period performance failed")
			subLog.Error().Err(err).Str("Period", string(period)).Msg("could not compute period performance")
			return nil, err
		}
		summary.Periods = append(summary.Periods, perf)
	}

	subLog.Debug().Object("Overview", summary.Overview).Msg("computed analytics summary")
	return summary, nil
}

// FormatAmount renders amount with the symbol and minor-unit precision of
// currency. Unknown currencies fall back to the plain decimal and the code.
func FormatAmount(amount decimal.Decimal, currency string) string {
	code := strings.ToUpper(currency)
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2) + " " + code
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, code).Display()
}
