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
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/portfolio"
)

func pct(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}

// renderSummary writes the analytics summary as a set of text tables
func renderSummary(w io.Writer, summary *portfolio.AnalyticsSummary) {
	o := summary.Overview
	fmt.Fprintf(w, "%s (%s) as of %s\n\n", summary.Name, o.BaseCurrency, o.AsOf.Format(common.DateFormat))

	overview := tablewriter.NewWriter(w)
	overview.SetHeader([]string{"Value", "Cost", "P/L", "Return", "Positions", "Diversity"})
	overview.Append([]string{
		portfolio.FormatAmount(o.TotalValue, o.BaseCurrency),
		portfolio.FormatAmount(o.TotalCost, o.BaseCurrency),
		portfolio.FormatAmount(o.TotalProfitLoss, o.BaseCurrency),
		pct(o.TotalReturnPercentage),
		strconv.Itoa(o.PositionCount),
		strconv.FormatFloat(o.DiversityScore, 'f', 1, 64),
	})
	overview.Render()

	allocation := tablewriter.NewWriter(w)
	allocation.SetHeader([]string{"Asset Class", "Value", "Share", "Positions"})
	for _, entry := range summary.Allocation.ByClass {
		allocation.Append([]string{
			entry.Key,
			portfolio.FormatAmount(entry.Value, o.BaseCurrency),
			pct(entry.Percentage),
			strconv.Itoa(entry.PositionCount),
		})
	}
	allocation.Render()

	periods := tablewriter.NewWriter(w)
	periods.SetHeader([]string{"Period", "Start", "Start Value", "End Value", "Change"})
	for _, perf := range summary.Periods {
		periods.Append([]string{
			string(perf.Period),
			perf.StartDate.Format(common.DateFormat),
			portfolio.FormatAmount(perf.StartValue, o.BaseCurrency),
			portfolio.FormatAmount(perf.EndValue, o.BaseCurrency),
			pct(perf.ChangePercentage),
		})
	}
	periods.Render()

	positions := tablewriter.NewWriter(w)
	positions.SetHeader([]string{"Symbol", "Value", "P/L", "Return"})
	for _, pv := range summary.Performance.LargestPositions {
		positions.Append([]string{
			pv.Position.Asset.Symbol,
			portfolio.FormatAmount(pv.Value, o.BaseCurrency),
			portfolio.FormatAmount(pv.ProfitLoss, o.BaseCurrency),
			pct(pv.ProfitLossPercentage),
		})
	}
	positions.Render()
}
