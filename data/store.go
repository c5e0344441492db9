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
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists the asset, price, rate and portfolio records used for valuation.
// Every write is an upsert on the record's natural key.
type Store interface {
	SaveAsset(ctx context.Context, asset *Asset) error
	// UpdateAssetDetails overwrites the name and currency of an existing asset
	UpdateAssetDetails(ctx context.Context, assetID uuid.UUID, name, currency string) error
	GetAsset(ctx context.Context, assetID uuid.UUID) (*Asset, error)
	// FindAsset returns ErrNotFound when no asset has the symbol on exchange
	FindAsset(ctx context.Context, symbol string, exchange Exchange) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)
	ListAssetsByClass(ctx context.Context, classes ...AssetClass) ([]*Asset, error)

	UpsertPrices(ctx context.Context, prices ...*PriceHistory) error
	// LatestPrice returns the most recent row or ErrNotFound
	LatestPrice(ctx context.Context, assetID uuid.UUID) (*PriceHistory, error)
	// PriceOnOrBefore returns the latest row dated on or before date
	PriceOnOrBefore(ctx context.Context, assetID uuid.UUID, date time.Time) (*PriceHistory, error)
	PriceCount(ctx context.Context, assetID uuid.UUID) (int, error)

	UpsertRates(ctx context.Context, rates ...*CurrencyRate) error
	// GetRate only matches a rate stored for exactly date
	GetRate(ctx context.Context, from, to string, date time.Time) (*CurrencyRate, error)
	// RateOnOrBefore returns the latest rate dated on or before date
	RateOnOrBefore(ctx context.Context, from, to string, date time.Time) (*CurrencyRate, error)

	SavePortfolio(ctx context.Context, portfolio *Portfolio) error
	GetPortfolio(ctx context.Context, portfolioID uuid.UUID) (*Portfolio, error)
	SavePosition(ctx context.Context, position *Position) error
	// OpenPositions returns the open positions with their assets populated
	OpenPositions(ctx context.Context, portfolioID uuid.UUID) ([]*Position, error)
}
