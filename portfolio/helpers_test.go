package portfolio_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/gomega"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/shopspring/decimal"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// countingStore records how often historical prices are read
type countingStore struct {
	data.Store

	mu       sync.Mutex
	asOfHits int
}

func (c *countingStore) PriceOnOrBefore(ctx context.Context, assetID uuid.UUID, date time.Time) (*data.PriceHistory, error) {
	c.mu.Lock()
	c.asOfHits++
	c.mu.Unlock()
	return c.Store.PriceOnOrBefore(ctx, assetID, date)
}

type fixture struct {
	ctx   context.Context
	store *data.MemoryStore
}

func (f *fixture) asset(symbol string, class data.AssetClass, currency string) *data.Asset {
	asset := &data.Asset{
		Symbol:     symbol,
		Name:       symbol,
		AssetClass: class,
		Exchange:   data.ExchangeOther,
		Currency:   currency,
	}
	Expect(f.store.SaveAsset(f.ctx, asset)).To(Succeed())
	return asset
}

func (f *fixture) price(asset *data.Asset, dt time.Time, close string) {
	c := decimal.RequireFromString(close)
	Expect(f.store.UpsertPrices(f.ctx, &data.PriceHistory{
		AssetID:  asset.ID,
		Date:     dt,
		Open:     c,
		High:     c,
		Low:      c,
		Close:    c,
		Currency: asset.Currency,
	})).To(Succeed())
}

func (f *fixture) rate(from, to string, dt time.Time, rate string) {
	Expect(f.store.UpsertRates(f.ctx, &data.CurrencyRate{
		From: from,
		To:   to,
		Date: dt,
		Rate: decimal.RequireFromString(rate),
	})).To(Succeed())
}

func (f *fixture) portfolio(base string) *data.Portfolio {
	p := &data.Portfolio{Name: "test", BaseCurrency: base}
	Expect(f.store.SavePortfolio(f.ctx, p)).To(Succeed())
	return p
}

func (f *fixture) position(p *data.Portfolio, asset *data.Asset, qty, cost, currency string, purchased time.Time) {
	Expect(f.store.SavePosition(f.ctx, &data.Position{
		PortfolioID:      p.ID,
		Asset:            asset,
		Quantity:         decimal.RequireFromString(qty),
		AverageCost:      decimal.RequireFromString(cost),
		PurchaseCurrency: currency,
		PurchaseDate:     purchased,
		Status:           data.PositionOpen,
	})).To(Succeed())
}
