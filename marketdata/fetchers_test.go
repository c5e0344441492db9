package marketdata_test

import (
	"context"
	"errors"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/marketdata"
	"github.com/penny-vault/pv-tracker/twelvedata"
	"github.com/shopspring/decimal"
)

const api = "https://api.twelvedata.com"

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newAsset(store *data.MemoryStore, symbol string, class data.AssetClass, exchange data.Exchange, currency string) *data.Asset {
	asset := &data.Asset{Symbol: symbol, Name: symbol, AssetClass: class, Exchange: exchange, Currency: currency}
	Expect(store.SaveAsset(context.Background(), asset)).To(Succeed())
	return asset
}

var _ = Describe("Fetchers", func() {
	var (
		store  *data.MemoryStore
		client *twelvedata.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		store = data.NewMemoryStore()
		client = twelvedata.New("TEST", "", time.Second, nil)
		ctx = context.Background()
	})

	DescribeTable("equity symbols",
		func(exchange data.Exchange, expected string) {
			Expect(marketdata.EquitySymbol(&data.Asset{Symbol: "THYAO", Exchange: exchange})).To(Equal(expected))
		},
		Entry("NASDAQ has no suffix", data.ExchangeNASDAQ, "THYAO"),
		Entry("NYSE has no suffix", data.ExchangeNYSE, "THYAO"),
		Entry("OTHER has no suffix", data.ExchangeOther, "THYAO"),
		Entry("BIST", data.ExchangeBIST, "THYAO:BIST"),
		Entry("LSE", data.ExchangeLSE, "THYAO:LSE"),
		Entry("XETRA", data.ExchangeXETRA, "THYAO:XETR"),
	)

	It("quotes metals against USD", func() {
		Expect(marketdata.USDSymbol(&data.Asset{Symbol: "XAU"})).To(Equal("XAU/USD"))
	})

	DescribeTable("rejects other asset classes before calling the provider",
		func(f marketdata.PriceFetcher, class data.AssetClass) {
			asset := &data.Asset{Symbol: "X", AssetClass: class, Exchange: data.ExchangeOther, Currency: "USD"}
			_, err := f.FetchLatest(ctx, asset)
			Expect(errors.Is(err, data.ErrInvalidAssetClass)).To(BeTrue())
			_, err = f.FetchHistory(ctx, asset, 5)
			Expect(errors.Is(err, data.ErrInvalidAssetClass)).To(BeTrue())
			Expect(httpmock.GetTotalCallCount()).To(Equal(0))
		},
		Entry("metal fetcher with equity", marketdata.NewMetalFetcher(nil, nil), data.AssetClassEquity),
		Entry("equity fetcher with crypto", marketdata.NewEquityFetcher(nil, nil), data.AssetClassCryptocurrency),
		Entry("crypto fetcher with forex", marketdata.NewCryptoFetcher(nil, nil), data.AssetClassForex),
		Entry("forex fetcher with bond", marketdata.NewForexFetcher(nil, nil), data.AssetClassBond),
	)

	It("defaults missing open, high and low to the close", func() {
		gold := newAsset(store, "XAU", data.AssetClassPreciousMetal, data.ExchangeMetal, "USD")
		httpmock.RegisterResponder("GET", api+"/quote?symbol=XAU%2FUSD&apikey=TEST",
			httpmock.NewStringResponder(200, `{"symbol":"XAU/USD","datetime":"2024-01-05","close":"2045.10"}`))

		p, err := marketdata.NewMetalFetcher(client, store).FetchLatest(ctx, gold)
		Expect(err).To(BeNil())
		Expect(p.Open.Equal(p.Close)).To(BeTrue())
		Expect(p.High.Equal(p.Close)).To(BeTrue())
		Expect(p.Low.Equal(p.Close)).To(BeTrue())
		Expect(p.Volume).To(BeNil())
		Expect(p.Currency).To(Equal("USD"))
		Expect(p.Date).To(Equal(day(2024, 1, 5)))

		stored, err := store.LatestPrice(ctx, gold.ID)
		Expect(err).To(BeNil())
		Expect(stored.Close.Equal(decimal.RequireFromString("2045.10"))).To(BeTrue())
	})

	It("surfaces provider errors", func() {
		btc := newAsset(store, "BTC", data.AssetClassCryptocurrency, data.ExchangeCrypto, "USD")
		httpmock.RegisterResponder("GET", api+"/quote?symbol=BTC%2FUSD&apikey=TEST",
			httpmock.NewStringResponder(200, `{"code":400,"message":"invalid symbol","status":"error"}`))

		_, err := marketdata.NewCryptoFetcher(client, store).FetchLatest(ctx, btc)
		Expect(errors.Is(err, data.ErrAPI)).To(BeTrue())
	})

	It("upserts history idempotently", func() {
		thy := newAsset(store, "THYAO", data.AssetClassEquity, data.ExchangeBIST, "TRY")
		httpmock.RegisterResponder("GET", api+"/time_series?interval=1day&outputsize=2&symbol=THYAO%3ABIST&apikey=TEST",
			httpmock.NewStringResponder(200, `{"meta":{"symbol":"THYAO","currency":"TRY"},"values":[
				{"datetime":"2024-01-05","open":"250.1","high":"255.0","low":"249.0","close":"254.5","volume":"1200300"},
				{"datetime":"2024-01-04","open":"248.0","high":"251.0","low":"247.5","close":"250.0","volume":"1100000"}],"status":"ok"}`))

		f := marketdata.NewEquityFetcher(client, store)
		first, err := f.FetchHistory(ctx, thy, 2)
		Expect(err).To(BeNil())
		Expect(first).To(HaveLen(2))

		_, err = f.FetchHistory(ctx, thy, 2)
		Expect(err).To(BeNil())

		cnt, err := store.PriceCount(ctx, thy.ID)
		Expect(err).To(BeNil())
		Expect(cnt).To(Equal(2))

		p, err := store.PriceOnOrBefore(ctx, thy.ID, day(2024, 1, 5))
		Expect(err).To(BeNil())
		Expect(p.Close.Equal(decimal.RequireFromString("254.5"))).To(BeTrue())
		Expect(*p.Volume).To(Equal(int64(1200300)))
		Expect(p.Currency).To(Equal("TRY"))
	})

	It("records forex quotes as currency rates", func() {
		pair := newAsset(store, "USD/TRY", data.AssetClassForex, data.ExchangeForex, "TRY")
		httpmock.RegisterResponder("GET", api+"/quote?symbol=USD%2FTRY&apikey=TEST",
			httpmock.NewStringResponder(200, `{"symbol":"USD/TRY","datetime":"2024-01-05","open":"29.9","high":"30.1","low":"29.8","close":"30.0"}`))

		p, err := marketdata.NewForexFetcher(client, store).FetchLatest(ctx, pair)
		Expect(err).To(BeNil())
		Expect(p.Currency).To(Equal("TRY"))

		r, err := store.GetRate(ctx, "USD", "TRY", day(2024, 1, 5))
		Expect(err).To(BeNil())
		Expect(r.Rate.Equal(decimal.NewFromInt(30))).To(BeTrue())
	})

	It("stores forex bars flat at the rate", func() {
		pair := newAsset(store, "USD/TRY", data.AssetClassForex, data.ExchangeForex, "TRY")
		httpmock.RegisterResponder("GET", api+"/quote?symbol=USD%2FTRY&apikey=TEST",
			httpmock.NewStringResponder(200, `{"symbol":"USD/TRY","datetime":"2024-01-05","open":"29.9","high":"30.1","low":"29.8","close":"30.0","volume":"1200"}`))

		p, err := marketdata.NewForexFetcher(client, store).FetchLatest(ctx, pair)
		Expect(err).To(BeNil())
		Expect(p.Close.Equal(decimal.NewFromInt(30))).To(BeTrue())
		Expect(p.Open.Equal(p.Close)).To(BeTrue())
		Expect(p.High.Equal(p.Close)).To(BeTrue())
		Expect(p.Low.Equal(p.Close)).To(BeTrue())
		Expect(p.Volume).To(BeNil())

		stored, err := store.LatestPrice(ctx, pair.ID)
		Expect(err).To(BeNil())
		Expect(stored.Open.Equal(stored.Close)).To(BeTrue())
	})
})
