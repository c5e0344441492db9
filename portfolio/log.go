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
	"github.com/rs/zerolog"
)

func (pv *PositionValue) MarshalZerologObject(e *zerolog.Event) {
	if pv.Position != nil && pv.Position.Asset != nil {
		e.Str("Symbol", pv.Position.Asset.Symbol).Str("AssetClass", string(pv.Position.Asset.AssetClass))
	}
	e.Bool("Priced", pv.Priced).Str("Value", pv.Value.String()).Str("Cost", pv.Cost.String()).Float64("ProfitLossPercentage", pv.ProfitLossPercentage)
}

func (o *Overview) MarshalZerologObject(e *zerolog.Event) {
	e.Str("BaseCurrency", o.BaseCurrency)
	e.Int("PositionCount", o.PositionCount)
	e.Str("TotalValue", o.TotalValue.String())
	e.Str("TotalCost", o.TotalCost.String())
	e.Float64("TotalReturnPercentage", o.TotalReturnPercentage)
	e.Float64("DiversityScore", o.DiversityScore)
}

func (p *PeriodPerformance) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Period", string(p.Period)).Time("StartDate", p.StartDate).Time("EndDate", p.EndDate).Str("StartValue", p.StartValue.String()).Str("EndValue", p.EndValue.String()).Float64("ChangePercentage", p.ChangePercentage)
}
