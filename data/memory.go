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
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/penny-vault/pv-tracker/common"
)

type priceKey struct {
	assetID uuid.UUID
	date    time.Time
}

type rateKey struct {
	from string
	to   string
	date time.Time
}

type assetKey struct {
	symbol   string
	exchange Exchange
}

// MemoryStore is a mutex guarded Store kept entirely in process memory
type MemoryStore struct {
	mu         sync.RWMutex
	assets     map[uuid.UUID]*Asset
	assetIndex map[assetKey]uuid.UUID
	prices     map[priceKey]*PriceHistory
	rates      map[rateKey]*CurrencyRate
	portfolios map[uuid.UUID]*Portfolio
	positions  map[uuid.UUID]*Position
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:     make(map[uuid.UUID]*Asset),
		assetIndex: make(map[assetKey]uuid.UUID),
		prices:     make(map[priceKey]*PriceHistory),
		rates:      make(map[rateKey]*CurrencyRate),
		portfolios: make(map[uuid.UUID]*Portfolio),
		positions:  make(map[uuid.UUID]*Position),
	}
}

func copyAsset(a *Asset) *Asset {
	cp := *a
	return &cp
}

func (m *MemoryStore) SaveAsset(ctx context.Context, asset *Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := assetKey{symbol: asset.Symbol, exchange: asset.Exchange}
	if id, ok := m.assetIndex[key]; ok {
		asset.ID = id
	} else if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}

	m.assets[asset.ID] = copyAsset(asset)
	m.assetIndex[key] = asset.ID
	return nil
}

func (m *MemoryStore) UpdateAssetDetails(ctx context.Context, assetID uuid.UUID, name, currency string) error {
	currency, err := NormalizeCurrency(currency)
	if err != nil {
		return validationError("asset currency: %s", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	asset, ok := m.assets[assetID]
	if !ok {
		return ErrNotFound
	}
	asset.Name = name
	asset.Currency = currency
	return nil
}

func (m *MemoryStore) GetAsset(ctx context.Context, assetID uuid.UUID) (*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	asset, ok := m.assets[assetID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAsset(asset), nil
}

func (m *MemoryStore) FindAsset(ctx context.Context, symbol string, exchange Exchange) (*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.assetIndex[assetKey{symbol: symbol, exchange: exchange}]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAsset(m.assets[id]), nil
}

func (m *MemoryStore) ListAssets(ctx context.Context) ([]*Asset, error) {
	return m.ListAssetsByClass(ctx)
}

// ListAssetsByClass returns assets of the given classes ordered by symbol; with no
// classes every asset is returned
func (m *MemoryStore) ListAssetsByClass(ctx context.Context, classes ...AssetClass) ([]*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[AssetClass]bool, len(classes))
	for _, c := range classes {
		want[c] = true
	}

	res := make([]*Asset, 0, len(m.assets))
	for _, asset := range m.assets {
		if len(want) == 0 || want[asset.AssetClass] {
			res = append(res, copyAsset(asset))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Symbol == res[j].Symbol {
			return res[i].Exchange < res[j].Exchange
		}
		return res[i].Symbol < res[j].Symbol
	})
	return res, nil
}

func (m *MemoryStore) UpsertPrices(ctx context.Context, prices ...*PriceHistory) error {
	for _, p := range prices {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range prices {
		cp := *p
		cp.Date = common.Date(p.Date)
		m.prices[priceKey{assetID: p.AssetID, date: cp.Date}] = &cp
	}
	return nil
}

func (m *MemoryStore) LatestPrice(ctx context.Context, assetID uuid.UUID) (*PriceHistory, error) {
	return m.priceBefore(assetID, time.Time{})
}

func (m *MemoryStore) PriceOnOrBefore(ctx context.Context, assetID uuid.UUID, date time.Time) (*PriceHistory, error) {
	return m.priceBefore(assetID, common.Date(date))
}

// priceBefore returns the newest price dated on or before limit; a zero limit
// means no upper bound
func (m *MemoryStore) priceBefore(assetID uuid.UUID, limit time.Time) (*PriceHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *PriceHistory
	for k, p := range m.prices {
		if k.assetID != assetID {
			continue
		}
		if !limit.IsZero() && k.date.After(limit) {
			continue
		}
		if best == nil || k.date.After(best.Date) {
			best = p
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MemoryStore) PriceCount(ctx context.Context, assetID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cnt := 0
	for k := range m.prices {
		if k.assetID == assetID {
			cnt++
		}
	}
	return cnt, nil
}

func (m *MemoryStore) UpsertRates(ctx context.Context, rates ...*CurrencyRate) error {
	for _, r := range rates {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rates {
		cp := *r
		cp.Date = common.Date(r.Date)
		m.rates[rateKey{from: r.From, to: r.To, date: cp.Date}] = &cp
	}
	return nil
}

func (m *MemoryStore) GetRate(ctx context.Context, from, to string, date time.Time) (*CurrencyRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rates[rateKey{from: from, to: to, date: common.Date(date)}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) RateOnOrBefore(ctx context.Context, from, to string, date time.Time) (*CurrencyRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := common.Date(date)
	var best *CurrencyRate
	for k, r := range m.rates {
		if k.from != from || k.to != to || k.date.After(limit) {
			continue
		}
		if best == nil || k.date.After(best.Date) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// RateCount returns the number of stored rates for the directional pair
func (m *MemoryStore) RateCount(from, to string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cnt := 0
	for k := range m.rates {
		if k.from == from && k.to == to {
			cnt++
		}
	}
	return cnt
}

func (m *MemoryStore) SavePortfolio(ctx context.Context, portfolio *Portfolio) error {
	if err := portfolio.Validate(); err != nil {
		return err
	}
	if portfolio.ID == uuid.Nil {
		portfolio.ID = uuid.New()
	}

	m.mu.Lock()
	cp := *portfolio
	cp.Positions = nil
	m.portfolios[portfolio.ID] = &cp
	m.mu.Unlock()

	for _, pos := range portfolio.Positions {
		pos.PortfolioID = portfolio.ID
		if err := m.SavePosition(ctx, pos); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) GetPortfolio(ctx context.Context, portfolioID uuid.UUID) (*Portfolio, error) {
	m.mu.RLock()
	p, ok := m.portfolios[portfolioID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	cp := *p
	positions, err := m.OpenPositions(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	cp.Positions = positions
	return &cp, nil
}

func (m *MemoryStore) SavePosition(ctx context.Context, position *Position) error {
	if err := position.Validate(); err != nil {
		return err
	}
	if position.ID == uuid.Nil {
		position.ID = uuid.New()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *position
	cp.Asset = copyAsset(position.Asset)
	m.positions[position.ID] = &cp
	return nil
}

// OpenPositions returns the open positions of a portfolio ordered by purchase date
func (m *MemoryStore) OpenPositions(ctx context.Context, portfolioID uuid.UUID) ([]*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]*Position, 0)
	for _, pos := range m.positions {
		if pos.PortfolioID != portfolioID || !pos.IsOpen() {
			continue
		}
		cp := *pos
		if asset, ok := m.assets[pos.Asset.ID]; ok {
			cp.Asset = copyAsset(asset)
		} else {
			cp.Asset = copyAsset(pos.Asset)
		}
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].PurchaseDate.Equal(res[j].PurchaseDate) {
			return res[i].ID.String() < res[j].ID.String()
		}
		return res[i].PurchaseDate.Before(res[j].PurchaseDate)
	})
	return res, nil
}
