package marketdata_test

import (
	"context"
	"errors"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/penny-vault/pv-tracker/batch"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/fx"
	"github.com/penny-vault/pv-tracker/marketdata"
	"github.com/penny-vault/pv-tracker/twelvedata"
	"github.com/shopspring/decimal"
)

const eurTrySeries = `{"meta":{"symbol":"EUR/TRY","interval":"1day"},"values":[
	{"datetime":"2024-01-05","open":"32.59","high":"32.71","low":"32.50","close":"32.64"},
	{"datetime":"2024-01-04","open":"32.61","high":"32.66","low":"32.48","close":"32.57"},
	{"datetime":"2024-01-03","open":"32.55","high":"32.70","low":"32.40","close":"32.60"}],"status":"ok"}`

var _ = Describe("Router", func() {
	var (
		store     *data.MemoryStore
		converter *fx.Converter
		router    *marketdata.Router
		updater   *marketdata.Updater
		ctx       context.Context
	)

	BeforeEach(func() {
		store = data.NewMemoryStore()
		client := twelvedata.New("TEST", "", time.Second, nil)
		converter = fx.NewConverter(store, client)
		converter.SetClock(func() time.Time { return day(2024, 1, 5).Add(15 * time.Hour) })
		orch := batch.New(0)
		router = marketdata.NewDefaultRouter(store, client, converter, orch)
		updater = marketdata.NewUpdater(router, store, converter, orch)
		ctx = context.Background()
	})

	Context("forex dispatch", func() {
		It("writes rates and mirrored prices without duplicating on a second run", func() {
			pair := newAsset(store, "EUR/TRY", data.AssetClassForex, data.ExchangeForex, "TRY")
			httpmock.RegisterResponder("GET", api+"/time_series?interval=1day&outputsize=3&symbol=EUR%2FTRY&apikey=TEST",
				httpmock.NewStringResponder(200, eurTrySeries))

			n, err := router.FetchForAsset(ctx, pair, 3)
			Expect(err).To(BeNil())
			Expect(n).To(Equal(3))

			n, err = router.FetchForAsset(ctx, pair, 3)
			Expect(err).To(BeNil())
			Expect(n).To(Equal(3))

			Expect(store.RateCount("EUR", "TRY")).To(Equal(3))
			cnt, err := store.PriceCount(ctx, pair.ID)
			Expect(err).To(BeNil())
			Expect(cnt).To(Equal(3))

			for _, dt := range []time.Time{day(2024, 1, 3), day(2024, 1, 4), day(2024, 1, 5)} {
				r, err := store.GetRate(ctx, "EUR", "TRY", dt)
				Expect(err).To(BeNil())
				p, err := store.PriceOnOrBefore(ctx, pair.ID, dt)
				Expect(err).To(BeNil())
				Expect(p.Date).To(Equal(dt))
				Expect(p.Open.Equal(r.Rate)).To(BeTrue())
				Expect(p.High.Equal(r.Rate)).To(BeTrue())
				Expect(p.Low.Equal(r.Rate)).To(BeTrue())
				Expect(p.Close.Equal(r.Rate)).To(BeTrue())
				Expect(p.Volume).To(BeNil())
			}
		})

		It("returns a validation error for malformed pairs", func() {
			pair := &data.Asset{Symbol: "EURTRY", AssetClass: data.AssetClassForex, Exchange: data.ExchangeForex, Currency: "TRY"}
			_, err := router.FetchForAsset(ctx, pair, 3)
			Expect(errors.Is(err, data.ErrValidation)).To(BeTrue())
		})
	})

	It("dispatches equities to the equity fetcher", func() {
		aapl := newAsset(store, "AAPL", data.AssetClassEquity, data.ExchangeNASDAQ, "USD")
		httpmock.RegisterResponder("GET", api+"/time_series?interval=1day&outputsize=2&symbol=AAPL&apikey=TEST",
			httpmock.NewStringResponder(200, `{"meta":{"symbol":"AAPL"},"values":[
				{"datetime":"2024-01-05","open":"181.99","high":"182.76","low":"180.17","close":"181.18","volume":"62196924"},
				{"datetime":"2024-01-04","open":"182.15","high":"183.09","low":"180.88","close":"181.91","volume":"71983600"}],"status":"ok"}`))

		n, err := router.FetchForAsset(ctx, aapl, 2)
		Expect(err).To(BeNil())
		Expect(n).To(Equal(2))
	})

	It("skips bonds", func() {
		bond := newAsset(store, "TR10Y", data.AssetClassBond, data.ExchangeOther, "TRY")
		n, err := router.FetchForAsset(ctx, bond, 30)
		Expect(err).To(BeNil())
		Expect(n).To(Equal(0))
		Expect(httpmock.GetTotalCallCount()).To(Equal(0))
	})

	It("returns zero for unknown classes", func() {
		n, err := router.FetchForAsset(ctx, &data.Asset{Symbol: "W", AssetClass: "warrant"}, 30)
		Expect(err).To(BeNil())
		Expect(n).To(Equal(0))
	})

	It("turns provider errors into zero records", func() {
		btc := newAsset(store, "BTC", data.AssetClassCryptocurrency, data.ExchangeCrypto, "USD")
		httpmock.RegisterResponder("GET", api+"/time_series?interval=1day&outputsize=5&symbol=BTC%2FUSD&apikey=TEST",
			httpmock.NewStringResponder(200, `{"code":429,"message":"out of credits","status":"error"}`))

		n, err := router.FetchForAsset(ctx, btc, 5)
		Expect(err).To(BeNil())
		Expect(n).To(Equal(0))
	})

	Context("batch wrappers", func() {
		BeforeEach(func() {
			newAsset(store, "BTC", data.AssetClassCryptocurrency, data.ExchangeCrypto, "USD")
			newAsset(store, "ETH", data.AssetClassCryptocurrency, data.ExchangeCrypto, "USD")
			newAsset(store, "TR10Y", data.AssetClassBond, data.ExchangeOther, "TRY")

			httpmock.RegisterResponder("GET", api+"/time_series?interval=1day&outputsize=1&symbol=BTC%2FUSD&apikey=TEST",
				httpmock.NewStringResponder(200, `{"values":[{"datetime":"2024-01-05","close":"44000"}],"status":"ok"}`))
			httpmock.RegisterResponder("GET", api+"/time_series?interval=1day&outputsize=1&symbol=ETH%2FUSD&apikey=TEST",
				httpmock.NewStringResponder(200, `{"code":404,"message":"symbol not found","status":"error"}`))
		})

		It("reports per asset failures in the summary", func() {
			summary, err := router.FetchForAssetClass(ctx, data.AssetClassCryptocurrency, 1)
			Expect(err).To(BeNil())
			Expect(summary.Total).To(Equal(2))
			Expect(summary.Success).To(Equal(1))
			Expect(summary.Failed).To(Equal(1))
			Expect(summary.Errors[0].Item).To(Equal("ETH:CRYPTO"))
			Expect(summary.Errors[0].Message).To(ContainSubstring("symbol not found"))
		})

		It("can exclude bonds", func() {
			summary, err := router.FetchAll(ctx, 1, true)
			Expect(err).To(BeNil())
			Expect(summary.Total).To(Equal(2))

			summary, err = router.FetchAll(ctx, 1, false)
			Expect(err).To(BeNil())
			Expect(summary.Total).To(Equal(3))
			Expect(summary.Total).To(Equal(summary.Success + summary.Failed))
		})

		It("only refetches assets missing history", func() {
			_, err := router.FetchAll(ctx, 1, true)
			Expect(err).To(BeNil())

			missing, err := router.FindAssetsMissingHistory(ctx, 1)
			Expect(err).To(BeNil())
			symbols := make([]string, 0, len(missing))
			for _, a := range missing {
				symbols = append(symbols, a.Symbol)
			}
			Expect(symbols).To(ConsistOf("ETH", "TR10Y"))

			httpmock.ZeroCallCounters()
			summary, err := router.FillMissingHistory(ctx, 1, 1)
			Expect(err).To(BeNil())
			Expect(summary.Total).To(Equal(2))
			// only ETH goes to the provider; bonds are skipped
			Expect(httpmock.GetTotalCallCount()).To(Equal(1))
		})

		It("refreshes the assets of a portfolio", func() {
			btc, err := store.FindAsset(ctx, "BTC", data.ExchangeCrypto)
			Expect(err).To(BeNil())
			portfolio := &data.Portfolio{
				Name:         "coins",
				BaseCurrency: "USD",
				Positions: []*data.Position{
					{Asset: btc, Quantity: decimal.RequireFromString("0.5"), AverageCost: decimal.NewFromInt(30000), PurchaseCurrency: "USD", PurchaseDate: day(2023, 1, 1), Status: data.PositionOpen},
					{Asset: btc, Quantity: decimal.RequireFromString("0.25"), AverageCost: decimal.NewFromInt(40000), PurchaseCurrency: "USD", PurchaseDate: day(2023, 6, 1), Status: data.PositionOpen},
				},
			}
			Expect(store.SavePortfolio(ctx, portfolio)).To(Succeed())

			summary, err := router.FetchForPortfolio(ctx, portfolio.ID, 1)
			Expect(err).To(BeNil())
			Expect(summary.Total).To(Equal(1))
			Expect(summary.Success).To(Equal(1))
		})
	})

	It("recovers from a fetcher that panics", func() {
		stock := newAsset(store, "AAPL", data.AssetClassEquity, data.ExchangeNASDAQ, "USD")
		r := marketdata.NewRouter(store, converter, batch.New(0), panickingFetcher{})

		var n int
		var err error
		Expect(func() { n, err = r.FetchForAsset(ctx, stock, 5) }).NotTo(Panic())
		Expect(err).To(BeNil())
		Expect(n).To(Equal(0))
	})

	Context("latest price sync", func() {
		It("stores the latest quote for a newly held asset", func() {
			aapl := newAsset(store, "AAPL", data.AssetClassEquity, data.ExchangeNASDAQ, "USD")
			httpmock.RegisterResponder("GET", api+"/quote?symbol=AAPL&apikey=TEST",
				httpmock.NewStringResponder(200, `{"symbol":"AAPL","currency":"USD","datetime":"2024-01-05","open":"181.99","high":"182.76","low":"180.17","close":"181.18","volume":"62196924"}`))

			p, err := router.SyncLatestPrice(ctx, aapl)
			Expect(err).To(BeNil())
			Expect(p.Close.Equal(decimal.RequireFromString("181.18"))).To(BeTrue())
		})
	})

	Context("updater", func() {
		It("refreshes one venue", func() {
			newAsset(store, "AAPL", data.AssetClassEquity, data.ExchangeNASDAQ, "USD")
			newAsset(store, "THYAO", data.AssetClassEquity, data.ExchangeBIST, "TRY")
			httpmock.RegisterResponder("GET", api+"/quote?symbol=THYAO%3ABIST&apikey=TEST",
				httpmock.NewStringResponder(200, `{"symbol":"THYAO","datetime":"2024-01-05","close":"254.5"}`))

			bist := data.ExchangeBIST
			summary, err := updater.BatchUpdatePrices(ctx, &bist)
			Expect(err).To(BeNil())
			Expect(summary.Total).To(Equal(1))
			Expect(summary.Success).To(Equal(1))
			Expect(httpmock.GetTotalCallCount()).To(Equal(1))
		})

		It("creates forex assets for the watch list", func() {
			httpmock.RegisterResponder("GET", api+"/quote?symbol=USD%2FTRY&apikey=TEST",
				httpmock.NewStringResponder(200, `{"symbol":"USD/TRY","datetime":"2024-01-05","close":"30.0"}`))

			summary, err := updater.BatchUpdateForex(ctx, []string{"USD/TRY", "BAD"})
			Expect(err).To(BeNil())
			Expect(summary.Success).To(Equal(1))
			Expect(summary.Failed).To(Equal(1))
			Expect(summary.Errors[0].Item).To(Equal("BAD"))

			asset, err := store.FindAsset(ctx, "USD/TRY", data.ExchangeForex)
			Expect(err).To(BeNil())
			Expect(asset.AssetClass).To(Equal(data.AssetClassForex))
		})

		It("refreshes rates", func() {
			httpmock.RegisterResponder("GET", api+"/exchange_rate?symbol=USD%2FTRY&apikey=TEST",
				httpmock.NewStringResponder(200, `{"symbol":"USD/TRY","rate":30.0,"timestamp":1704412800}`))
			httpmock.RegisterResponder("GET", api+"/exchange_rate?symbol=GBP%2FTRY&apikey=TEST",
				httpmock.NewStringResponder(200, `{"code":400,"message":"bad pair","status":"error"}`))

			pairs, err := marketdata.ParsePairs([]string{"USD/TRY", "gbp/try"})
			Expect(err).To(BeNil())

			summary, err := updater.BatchUpdateRates(ctx, pairs)
			Expect(err).To(BeNil())
			Expect(summary.Success).To(Equal(1))
			Expect(summary.Failed).To(Equal(1))
			Expect(summary.Errors[0].Item).To(Equal("GBP/TRY"))

			r, err := store.GetRate(ctx, "USD", "TRY", day(2024, 1, 5))
			Expect(err).To(BeNil())
			Expect(r.Rate.Equal(decimal.NewFromInt(30))).To(BeTrue())
		})
	})
})

type panickingFetcher struct{}

func (panickingFetcher) Supports(class data.AssetClass) bool {
	return class == data.AssetClassEquity
}

func (panickingFetcher) FetchLatest(context.Context, *data.Asset) (*data.PriceHistory, error) {
	panic("boom")
}

func (panickingFetcher) FetchHistory(context.Context, *data.Asset, int) ([]*data.PriceHistory, error) {
	panic("boom")
}
