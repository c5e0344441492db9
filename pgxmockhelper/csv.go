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

package pgxmockhelper

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type CSVRows struct {
	rows    [][]any
	header  []string
	dateCol int
}

// NewCSVRows loads a CSV fixture. typeMap converts named columns to date, decimal,
// uuid or int64 values; an empty cell in a converted column becomes nil.
func NewCSVRows(csvFn string, typeMap map[string]string) *CSVRows {
	subLog := log.With().Str("CsvFn", csvFn).Logger()

	rows := &CSVRows{
		dateCol: -1,
		rows:    make([][]any, 0),
	}
	rawData, err := os.ReadFile(csvFn)
	if err != nil {
		subLog.Panic().Err(err).Msg("could not read file")
	}

	lines := strings.Split(string(rawData), "\n")

	// need at least a header and the trailing newline
	if len(lines) < 2 {
		subLog.Panic().Int("NumLines", len(lines)).Msg("input file does not have enough lines, need at least 2 (header + trailing new line)")
	}
	if lines[len(lines)-1] != "" {
		subLog.Panic().Msg("input file is missing a trailing new line")
	}

	headerRaw := lines[0]
	lines = lines[1 : len(lines)-1]
	rows.header = strings.Split(headerRaw, ",")

	for _, ll := range lines {
		cols := make([]any, len(rows.header))
		parts := strings.Split(ll, ",")
		for idx, val := range parts {
			colName := rows.header[idx]
			typeConv, ok := typeMap[colName]
			if !ok {
				cols[idx] = val
				continue
			}
			if val == "" {
				cols[idx] = nil
				continue
			}
			switch typeConv {
			case "date":
				parsed, err := time.Parse("2006-01-02", val)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to datetime of format 2006-01-02")
				}
				cols[idx] = parsed
				rows.dateCol = idx
			case "decimal":
				parsed, err := decimal.NewFromString(val)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to decimal")
				}
				cols[idx] = parsed
			case "uuid":
				parsed, err := uuid.Parse(val)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to uuid")
				}
				cols[idx] = parsed
			case "int64":
				parsed, err := strconv.ParseInt(val, 10, 64)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to int64")
				}
				cols[idx] = parsed
			default:
				cols[idx] = val
			}
		}
		rows.rows = append(rows.rows, cols)
	}

	return rows
}

// Between keeps rows whose date column falls within [a, b]
func (csvRows *CSVRows) Between(a time.Time, b time.Time) *CSVRows {
	newRows := make([][]any, 0, len(csvRows.rows))
	if len(csvRows.rows) == 0 {
		return csvRows
	}
	if csvRows.dateCol == -1 {
		log.Panic().Time("a", a).Time("b", b).Msg("no date column found")
	}
	for _, row := range csvRows.rows {
		t := row[csvRows.dateCol].(time.Time)
		if (t.Before(b) || t.Equal(b)) && (t.After(a) || t.Equal(a)) {
			newRows = append(newRows, row)
		}
	}
	csvRows.rows = newRows
	return csvRows
}

// Latest keeps only the newest row dated on or before d
func (csvRows *CSVRows) Latest(d time.Time) *CSVRows {
	if csvRows.dateCol == -1 {
		log.Panic().Time("d", d).Msg("no date column found")
	}
	var best []any
	for _, row := range csvRows.rows {
		t := row[csvRows.dateCol].(time.Time)
		if t.After(d) {
			continue
		}
		if best == nil || t.After(best[csvRows.dateCol].(time.Time)) {
			best = row
		}
	}
	csvRows.rows = csvRows.rows[:0]
	if best != nil {
		csvRows.rows = append(csvRows.rows, best)
	}
	return csvRows
}

func (csvRows *CSVRows) Len() int {
	return len(csvRows.rows)
}

func (csvRows *CSVRows) Rows() *pgxmock.Rows {
	r := pgxmock.NewRows(csvRows.header)
	for _, row := range csvRows.rows {
		r.AddRow(row...)
	}
	return r
}

// PriceHistoryRows loads a price_history fixture with the column types PvDb scans
func PriceHistoryRows(fn string) *CSVRows {
	return NewCSVRows(fn, map[string]string{
		"asset_id":   "uuid",
		"event_date": "date",
		"open":       "decimal",
		"high":       "decimal",
		"low":        "decimal",
		"close":      "decimal",
		"volume":     "int64",
	})
}

// MockPriceOnOrBefore expects a single on-or-before price lookup answered from fn
func MockPriceOnOrBefore(db pgxmock.PgxConnIface, fn string, d time.Time) {
	db.ExpectBegin()
	db.ExpectQuery("SELECT asset_id, event_date, open, high, low, close, volume, currency FROM price_history").
		WillReturnRows(PriceHistoryRows(fn).Latest(d).Rows())
	db.ExpectCommit()
}

// MockRateQuery expects a currency_rates lookup answered from fn
func MockRateQuery(db pgxmock.PgxConnIface, fn string, d time.Time) {
	db.ExpectBegin()
	db.ExpectQuery("SELECT from_currency, to_currency, event_date, rate FROM currency_rates").
		WillReturnRows(NewCSVRows(fn, map[string]string{
			"event_date": "date",
			"rate":       "decimal",
		}).Latest(d).Rows())
	db.ExpectCommit()
}
