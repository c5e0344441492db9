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
	"sort"

	"github.com/penny-vault/pv-tracker/data"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

// AllocationEntry is the share of total value held in one group
type AllocationEntry struct {
	Key           string          `json:"key"`
	Value         decimal.Decimal `json:"value"`
	Percentage    float64         `json:"percentage"`
	PositionCount int             `json:"positionCount"`
}

func (v *Valuation) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, pv := range v.Positions {
		total = total.Add(pv.Value)
	}
	return total
}

func (v *Valuation) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, pv := range v.Positions {
		total = total.Add(pv.Cost)
	}
	return total
}

func (v *Valuation) TotalProfitLoss() decimal.Decimal {
	return v.TotalValue().Sub(v.TotalCost())
}

// TotalReturnPercentage is 0 when the portfolio has no cost basis
func (v *Valuation) TotalReturnPercentage() float64 {
	return percentage(v.TotalProfitLoss(), v.TotalCost())
}

// AllocationByClass groups value by asset class. Empty when the portfolio is
// worth nothing.
func (v *Valuation) AllocationByClass() []*AllocationEntry {
	return v.allocate(func(pv *PositionValue) string {
		return string(pv.Position.Asset.AssetClass)
	})
}

// AllocationByCurrency groups value by the currency the asset is quoted in
func (v *Valuation) AllocationByCurrency() []*AllocationEntry {
	return v.allocate(func(pv *PositionValue) string {
		return pv.PriceCurrency
	})
}

func (v *Valuation) allocate(key func(*PositionValue) string) []*AllocationEntry {
	total := v.TotalValue()
	if total.IsZero() {
		return []*AllocationEntry{}
	}

	groups := make(map[string]*AllocationEntry)
	for _, pv := range v.Positions {
		k := key(pv)
		entry, ok := groups[k]
		if !ok {
			entry = &AllocationEntry{Key: k, Value: decimal.Zero}
			groups[k] = entry
		}
		entry.Value = entry.Value.Add(pv.Value)
		entry.PositionCount++
	}

	entries := make([]*AllocationEntry, 0, len(groups))
	for _, entry := range groups {
		entry.Percentage = percentage(entry.Value, total)
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value.Equal(entries[j].Value) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Value.GreaterThan(entries[j].Value)
	})

	return entries
}

// TopPerformers returns up to limit positions with a strictly positive P/L,
// best P/L percentage first
func (v *Valuation) TopPerformers(limit int) []*PositionValue {
	winners := v.filter(func(pv *PositionValue) bool { return pv.ProfitLoss.IsPositive() })
	sort.SliceStable(winners, func(i, j int) bool {
		return winners[i].ProfitLossPercentage > winners[j].ProfitLossPercentage
	})
	return truncate(winners, limit)
}

// WorstPerformers returns up to limit positions with a strictly negative P/L,
// worst P/L percentage first
func (v *Valuation) WorstPerformers(limit int) []*PositionValue {
	losers := v.filter(func(pv *PositionValue) bool { return pv.ProfitLoss.IsNegative() })
	sort.SliceStable(losers, func(i, j int) bool {
		return losers[i].ProfitLossPercentage < losers[j].ProfitLossPercentage
	})
	return truncate(losers, limit)
}

// LargestPositions returns up to limit positions ordered by value descending
func (v *Valuation) LargestPositions(limit int) []*PositionValue {
	all := v.filter(func(*PositionValue) bool { return true })
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Value.GreaterThan(all[j].Value)
	})
	return truncate(all, limit)
}

func (v *Valuation) filter(keep func(*PositionValue) bool) []*PositionValue {
	res := make([]*PositionValue, 0, len(v.Positions))
	for _, pv := range v.Positions {
		if keep(pv) {
			res = append(res, pv)
		}
	}
	return res
}

func truncate(positions []*PositionValue, limit int) []*PositionValue {
	if limit >= 0 && len(positions) > limit {
		return positions[:limit]
	}
	return positions
}

// DiversityScore measures how evenly value is spread across asset classes on a
// 0-100 scale using a normalized Herfindahl index. A portfolio holding a single
// class (or nothing) scores 0.
func (v *Valuation) DiversityScore() float64 {
	allocation := v.AllocationByClass()

	fractions := make([]float64, 0, len(allocation))
	for _, entry := range allocation {
		if entry.Value.IsPositive() {
			fractions = append(fractions, entry.Percentage/100)
		}
	}

	n := len(fractions)
	if n <= 1 {
		return 0
	}

	// renormalize so rounding in the percentages cannot push H outside [1/n, 1]
	floats.Scale(1/floats.Sum(fractions), fractions)
	h := floats.Dot(fractions, fractions)
	hMin := 1 / float64(n)

	score := (1 - h) / (1 - hMin) * 100
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// ClassCount is the number of distinct asset classes among open positions
func (v *Valuation) ClassCount() int {
	classes := make(map[data.AssetClass]struct{})
	for _, pv := range v.Positions {
		classes[pv.Position.Asset.AssetClass] = struct{}{}
	}
	return len(classes)
}
