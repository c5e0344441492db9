package fx_test

import (
	"context"
	"errors"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/fx"
	"github.com/penny-vault/pv-tracker/twelvedata"
	"github.com/shopspring/decimal"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var _ = Describe("Converter", func() {
	var (
		store     *data.MemoryStore
		converter *fx.Converter
		ctx       context.Context
		today     time.Time
	)

	BeforeEach(func() {
		store = data.NewMemoryStore()
		client := twelvedata.New("TEST", "", time.Second, nil)
		converter = fx.NewConverter(store, client)
		today = day(2024, 1, 10)
		converter.SetClock(func() time.Time { return today.Add(14 * time.Hour) })
		ctx = context.Background()
	})

	storeRate := func(from, to string, dt time.Time, rate string) {
		Expect(store.UpsertRates(ctx, &data.CurrencyRate{From: from, To: to, Date: dt, Rate: decimal.RequireFromString(rate)})).To(Succeed())
	}

	Context("currency identity", func() {
		DescribeTable("returns the amount unchanged without any external call",
			func(amount string, date time.Time) {
				x := decimal.RequireFromString(amount)
				res, err := converter.Convert(ctx, x, "TRY", "try", date)
				Expect(err).To(BeNil())
				Expect(res.Equal(x)).To(BeTrue())
				Expect(httpmock.GetTotalCallCount()).To(Equal(0))
			},
			Entry("today", "123.45", time.Time{}),
			Entry("historical", "0.00000001", day(2001, 5, 5)),
			Entry("negative amounts", "-15", day(2023, 5, 5)),
		)
	})

	It("returns zero for a zero amount", func() {
		res, err := converter.Convert(ctx, decimal.Zero, "USD", "TRY", day(2020, 1, 1))
		Expect(err).To(BeNil())
		Expect(res.IsZero()).To(BeTrue())
		Expect(httpmock.GetTotalCallCount()).To(Equal(0))
	})

	It("rejects malformed currency codes", func() {
		_, err := converter.Convert(ctx, decimal.NewFromInt(1), "US", "TRY", today)
		Expect(errors.Is(err, data.ErrInvalidCurrency)).To(BeTrue())
	})

	It("uses a stored rate for the exact date", func() {
		storeRate("USD", "TRY", day(2024, 1, 3), "30")
		res, err := converter.Convert(ctx, decimal.NewFromInt(100), "USD", "TRY", day(2024, 1, 3))
		Expect(err).To(BeNil())
		Expect(res.Equal(decimal.NewFromInt(3000))).To(BeTrue())
	})

	It("infers the rate from the reverse pair", func() {
		storeRate("USD", "TRY", day(2024, 1, 3), "30")
		res, err := converter.Convert(ctx, decimal.NewFromInt(1), "TRY", "USD", day(2024, 1, 3))
		Expect(err).To(BeNil())
		Expect(res.Equal(decimal.NewFromInt(1).Div(decimal.NewFromInt(30)))).To(BeTrue())
	})

	It("does not fall back to other days for historical lookups", func() {
		storeRate("USD", "TRY", day(2024, 1, 3), "30")
		_, err := converter.Convert(ctx, decimal.NewFromInt(1), "USD", "TRY", day(2024, 1, 4))
		Expect(errors.Is(err, data.ErrNoRateAvailable)).To(BeTrue())
		Expect(httpmock.GetTotalCallCount()).To(Equal(0))
	})

	It("accepts yesterday's rate for today", func() {
		storeRate("USD", "TRY", today.AddDate(0, 0, -1), "31")
		res, err := converter.Convert(ctx, decimal.NewFromInt(2), "USD", "TRY", time.Time{})
		Expect(err).To(BeNil())
		Expect(res.Equal(decimal.NewFromInt(62))).To(BeTrue())
		Expect(httpmock.GetTotalCallCount()).To(Equal(0))
	})

	It("fetches and stores a live rate when nothing is cached for today", func() {
		httpmock.RegisterResponder("GET", "https://api.twelvedata.com/exchange_rate?symbol=USD%2FTRY&apikey=TEST",
			httpmock.NewStringResponder(200, `{"symbol":"USD/TRY","rate":30.5,"timestamp":1704844800}`))

		res, err := converter.Convert(ctx, decimal.NewFromInt(10), "USD", "TRY", today)
		Expect(err).To(BeNil())
		Expect(res.Equal(decimal.NewFromInt(305))).To(BeTrue())

		stored, err := store.GetRate(ctx, "USD", "TRY", today)
		Expect(err).To(BeNil())
		Expect(stored.Rate.Equal(decimal.RequireFromString("30.5"))).To(BeTrue())

		// served from the store the second time
		_, err = converter.Convert(ctx, decimal.NewFromInt(10), "USD", "TRY", today)
		Expect(err).To(BeNil())
		Expect(httpmock.GetTotalCallCount()).To(Equal(1))
	})

	It("fails with ErrNoRateAvailable when the live fetch fails", func() {
		httpmock.RegisterResponder("GET", "https://api.twelvedata.com/exchange_rate?symbol=EUR%2FTRY&apikey=TEST",
			httpmock.NewStringResponder(200, `{"code":500,"message":"internal error","status":"error"}`))

		_, err := converter.Convert(ctx, decimal.NewFromInt(100), "EUR", "TRY", today)
		Expect(errors.Is(err, data.ErrNoRateAvailable)).To(BeTrue())
	})

	It("returns the rate itself", func() {
		storeRate("EUR", "USD", day(2024, 1, 3), "1.1")
		rate, err := converter.GetRate(ctx, "EUR", "USD", day(2024, 1, 3))
		Expect(err).To(BeNil())
		Expect(rate.Equal(decimal.RequireFromString("1.1"))).To(BeTrue())

		rate, err = converter.GetRate(ctx, "EUR", "EUR", day(2024, 1, 3))
		Expect(err).To(BeNil())
		Expect(rate.Equal(decimal.NewFromInt(1))).To(BeTrue())
	})

	It("converts batches independently", func() {
		storeRate("USD", "TRY", day(2024, 1, 3), "30")
		results := converter.BatchConvert(ctx, []fx.Request{
			{Amount: decimal.NewFromInt(1), From: "USD", To: "TRY", Date: day(2024, 1, 3)},
			{Amount: decimal.NewFromInt(1), From: "GBP", To: "TRY", Date: day(2024, 1, 3)},
			{Amount: decimal.NewFromInt(5), From: "TRY", To: "TRY", Date: day(2024, 1, 3)},
		})
		Expect(results).To(HaveLen(3))
		Expect(results[0].Err).To(BeNil())
		Expect(results[0].Amount.Equal(decimal.NewFromInt(30))).To(BeTrue())
		Expect(errors.Is(results[1].Err, data.ErrNoRateAvailable)).To(BeTrue())
		Expect(results[2].Amount.Equal(decimal.NewFromInt(5))).To(BeTrue())
	})

	It("refreshes today's rate even when one is stored", func() {
		storeRate("USD", "TRY", today, "30")
		httpmock.RegisterResponder("GET", "https://api.twelvedata.com/exchange_rate?symbol=USD%2FTRY&apikey=TEST",
			httpmock.NewStringResponder(200, `{"symbol":"USD/TRY","rate":32.25,"timestamp":1704844800}`))

		rate, err := converter.UpdateRate(ctx, "usd", "try")
		Expect(err).To(BeNil())
		Expect(rate.From).To(Equal("USD"))
		Expect(rate.Date).To(Equal(today))

		stored, err := store.GetRate(ctx, "USD", "TRY", today)
		Expect(err).To(BeNil())
		Expect(stored.Rate.Equal(decimal.RequireFromString("32.25"))).To(BeTrue())
		Expect(httpmock.GetTotalCallCount()).To(Equal(1))
	})

	Context("nearest conversion", func() {
		It("uses the latest rate on or before the date", func() {
			storeRate("USD", "TRY", day(2024, 1, 2), "29")
			storeRate("USD", "TRY", day(2024, 1, 5), "31")

			res, err := converter.ConvertNearest(ctx, decimal.NewFromInt(10), "USD", "TRY", day(2024, 1, 4))
			Expect(err).To(BeNil())
			Expect(res.Equal(decimal.NewFromInt(290))).To(BeTrue())
		})

		It("inverts the reverse pair", func() {
			storeRate("TRY", "USD", day(2024, 1, 2), "0.04")

			res, err := converter.ConvertNearest(ctx, decimal.NewFromInt(2), "USD", "TRY", day(2024, 1, 4))
			Expect(err).To(BeNil())
			Expect(res.Equal(decimal.NewFromInt(50))).To(BeTrue())
		})

		It("still fails when no earlier rate exists", func() {
			storeRate("USD", "TRY", day(2024, 1, 5), "31")
			_, err := converter.ConvertNearest(ctx, decimal.NewFromInt(10), "USD", "TRY", day(2024, 1, 4))
			Expect(errors.Is(err, data.ErrNoRateAvailable)).To(BeTrue())
		})
	})

	Context("historical rates", func() {
		It("stores every daily close", func() {
			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/time_series?interval=1day&outputsize=3&symbol=EUR%2FTRY&apikey=TEST",
				httpmock.NewStringResponder(200, `{"meta":{"symbol":"EUR/TRY","interval":"1day"},"values":[
					{"datetime":"2024-01-05","open":"32.59","high":"32.71","low":"32.50","close":"32.64"},
					{"datetime":"2024-01-04","open":"32.61","high":"32.66","low":"32.48","close":"32.57"},
					{"datetime":"2024-01-03","open":"32.55","high":"32.70","low":"32.40","close":"32.60"}],"status":"ok"}`))

			rates, err := converter.FetchHistoricalRates(ctx, "EUR", "TRY", 3)
			Expect(err).To(BeNil())
			Expect(rates).To(HaveLen(3))
			Expect(store.RateCount("EUR", "TRY")).To(Equal(3))

			r, err := store.GetRate(ctx, "EUR", "TRY", day(2024, 1, 4))
			Expect(err).To(BeNil())
			Expect(r.Rate.Equal(decimal.RequireFromString("32.57"))).To(BeTrue())
		})

		It("returns the provider error", func() {
			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/time_series?interval=1day&outputsize=3&symbol=EUR%2FTRY&apikey=TEST",
				httpmock.NewStringResponder(200, `{"code":429,"message":"out of credits","status":"error"}`))

			_, err := converter.FetchHistoricalRates(ctx, "EUR", "TRY", 3)
			Expect(errors.Is(err, data.ErrAPI)).To(BeTrue())
		})
	})
})
