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

package data

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AssetClass selects the price feed used for an asset
type AssetClass string

const (
	AssetClassEquity         AssetClass = "equity"
	AssetClassETF            AssetClass = "etf"
	AssetClassPreciousMetal  AssetClass = "preciousMetal"
	AssetClassForex          AssetClass = "forex"
	AssetClassCryptocurrency AssetClass = "cryptocurrency"
	AssetClassBond           AssetClass = "bond"
)

// AssetClasses lists every class in display order
var AssetClasses = []AssetClass{
	AssetClassEquity,
	AssetClassETF,
	AssetClassPreciousMetal,
	AssetClassForex,
	AssetClassCryptocurrency,
	AssetClassBond,
}

// Valid reports whether c is one of the known asset classes
func (c AssetClass) Valid() bool {
	for _, known := range AssetClasses {
		if c == known {
			return true
		}
	}
	return false
}

// Exchange identifies the venue or data source an asset is quoted on
type Exchange string

const (
	ExchangeNASDAQ Exchange = "NASDAQ"
	ExchangeNYSE   Exchange = "NYSE"
	ExchangeBIST   Exchange = "BIST"
	ExchangeLSE    Exchange = "LSE"
	ExchangeXETRA  Exchange = "XETRA"
	ExchangeMetal  Exchange = "METAL"
	ExchangeForex  Exchange = "FOREX"
	ExchangeCrypto Exchange = "CRYPTO"
	ExchangeOther  Exchange = "OTHER"
)

// PositionStatus is the lifecycle state of a position
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Asset is a tradable instrument. Symbol and Exchange together identify it.
type Asset struct {
	ID         uuid.UUID  `json:"id"`
	Symbol     string     `json:"symbol"`
	Name       string     `json:"name"`
	AssetClass AssetClass `json:"assetClass"`
	Exchange   Exchange   `json:"exchange"`
	Currency   string     `json:"currency"`
}

// PriceHistory is one daily OHLCV observation for an asset
type PriceHistory struct {
	AssetID  uuid.UUID       `json:"assetId"`
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   *int64          `json:"volume,omitempty"`
	Currency string          `json:"currency"`
}

// CurrencyRate converts one unit of From into To on Date
type CurrencyRate struct {
	From string          `json:"fromCurrency"`
	To   string          `json:"toCurrency"`
	Date time.Time       `json:"date"`
	Rate decimal.Decimal `json:"rate"`
}

// Position is a holding of Quantity units of an asset bought at AverageCost per
// unit in PurchaseCurrency
type Position struct {
	ID               uuid.UUID       `json:"id"`
	PortfolioID      uuid.UUID       `json:"portfolioId"`
	Asset            *Asset          `json:"asset"`
	Quantity         decimal.Decimal `json:"quantity"`
	AverageCost      decimal.Decimal `json:"averageCost"`
	PurchaseCurrency string          `json:"purchaseCurrency"`
	PurchaseDate     time.Time       `json:"purchaseDate"`
	Status           PositionStatus  `json:"status"`
}

// Portfolio groups positions valued in BaseCurrency
type Portfolio struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	BaseCurrency string      `json:"baseCurrency"`
	Positions    []*Position `json:"positions,omitempty"`
}

// NormalizeCurrency upper-cases code and checks that it looks like an ISO-4217 code
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return code, nil
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validate checks the fields required before an asset is stored
func (a *Asset) Validate() error {
	if a.Symbol == "" {
		return validationError("asset symbol is empty")
	}
	if !a.AssetClass.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAssetClass, a.AssetClass)
	}
	if a.Exchange == "" {
		return validationError("asset %s has no exchange", a.Symbol)
	}
	if _, err := NormalizeCurrency(a.Currency); err != nil {
		return validationError("asset %s: %s", a.Symbol, err)
	}
	return nil
}

// Validate requires an asset, a date, positive prices with high >= low and a
// currency code
func (p *PriceHistory) Validate() error {
	if p.AssetID == uuid.Nil {
		return validationError("price history has no asset")
	}
	if p.Date.IsZero() {
		return validationError("price history for %s has no date", p.AssetID)
	}
	for name, val := range map[string]decimal.Decimal{
		"open":  p.Open,
		"high":  p.High,
		"low":   p.Low,
		"close": p.Close,
	} {
		if !val.IsPositive() {
			return validationError("%s must be positive, got %s", name, val)
		}
	}
	if p.High.LessThan(p.Low) {
		return validationError("high %s is below low %s", p.High, p.Low)
	}
	if p.Volume != nil && *p.Volume < 0 {
		return validationError("volume must not be negative")
	}
	if _, err := NormalizeCurrency(p.Currency); err != nil {
		return validationError("price currency: %s", err)
	}
	return nil
}

func (r *CurrencyRate) Validate() error {
	if _, err := NormalizeCurrency(r.From); err != nil {
		return validationError("rate from currency: %s", err)
	}
	if _, err := NormalizeCurrency(r.To); err != nil {
		return validationError("rate to currency: %s", err)
	}
	if r.Date.IsZero() {
		return validationError("rate %s/%s has no date", r.From, r.To)
	}
	if !r.Rate.IsPositive() {
		return validationError("rate %s/%s must be positive, got %s", r.From, r.To, r.Rate)
	}
	return nil
}

func (p *Position) Validate() error {
	if p.Asset == nil {
		return validationError("position has no asset")
	}
	if _, err := NormalizeCurrency(p.PurchaseCurrency); err != nil {
		return validationError("position purchase currency: %s", err)
	}
	switch p.Status {
	case PositionOpen:
		if !p.Quantity.IsPositive() {
			return validationError("open position quantity must be positive, got %s", p.Quantity)
		}
		if !p.AverageCost.IsPositive() {
			return validationError("open position average cost must be positive, got %s", p.AverageCost)
		}
	case PositionClosed:
		if p.Quantity.IsNegative() {
			return validationError("position quantity must not be negative, got %s", p.Quantity)
		}
	default:
		return validationError("unknown position status %q", p.Status)
	}
	return nil
}

func (p *Portfolio) Validate() error {
	if money.GetCurrency(p.BaseCurrency) == nil {
		return validationError("unsupported base currency %q", p.BaseCurrency)
	}
	return nil
}

// IsOpen reports whether the position still holds units
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// SplitPair splits a BASE/QUOTE forex symbol into its two currencies
func SplitPair(symbol string) (string, string, error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 {
		return "", "", validationError("forex symbol %q is not a BASE/QUOTE pair", symbol)
	}
	base, err := NormalizeCurrency(parts[0])
	if err != nil {
		return "", "", validationError("forex symbol %q: %s", symbol, err)
	}
	quote, err := NormalizeCurrency(parts[1])
	if err != nil {
		return "", "", validationError("forex symbol %q: %s", symbol, err)
	}
	return base, quote, nil
}
