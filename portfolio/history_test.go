package portfolio_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/fx"
	"github.com/penny-vault/pv-tracker/portfolio"
	"github.com/shopspring/decimal"
)

var _ = Describe("Point-in-time valuation", func() {
	var (
		f         *fixture
		counting  *countingStore
		analyzer  *portfolio.Analyzer
		today     time.Time
		p         *data.Portfolio
		aapl      *data.Asset
		valuation *portfolio.Valuation
	)

	BeforeEach(func() {
		f = &fixture{ctx: context.Background(), store: data.NewMemoryStore()}
		counting = &countingStore{Store: f.store}
		today = day(2024, 3, 15)
		clock := func() time.Time { return today.Add(18 * time.Hour) }

		converter := fx.NewConverter(f.store, nil)
		converter.SetClock(clock)
		analyzer = portfolio.NewAnalyzer(counting, converter)
		analyzer.SetClock(clock)

		p = f.portfolio("TRY")
		aapl = f.asset("AAPL", data.AssetClassEquity, "USD")
		f.position(p, aapl, "10", "100", "USD", day(2024, 1, 2))
		f.rate("USD", "TRY", day(2024, 1, 1), "30")
		f.rate("USD", "TRY", today, "30")
	})

	load := func() {
		var err error
		valuation, err = analyzer.Load(f.ctx, p)
		Expect(err).To(BeNil())
	}

	It("falls back to the average cost before the first price", func() {
		f.price(aapl, day(2024, 3, 5), "120")
		load()

		val, err := analyzer.ValueAt(f.ctx, valuation, day(2024, 2, 24))
		Expect(err).To(BeNil())
		Expect(val.Equal(decimal.NewFromInt(30000))).To(BeTrue())

		val, err = analyzer.ValueAt(f.ctx, valuation, day(2024, 3, 10))
		Expect(err).To(BeNil())
		Expect(val.Equal(decimal.NewFromInt(36000))).To(BeTrue())
	})

	Context("with a price history", func() {
		BeforeEach(func() {
			f.price(aapl, day(2024, 1, 2), "100")
			f.price(aapl, day(2024, 3, 8), "105")
			f.price(aapl, day(2024, 3, 14), "110")
			load()
		})

		DescribeTable("values the position as of a date",
			func(dt time.Time, expected int64) {
				val, err := analyzer.ValueAt(f.ctx, valuation, dt)
				Expect(err).To(BeNil())
				Expect(val.Equal(decimal.NewFromInt(expected))).To(BeTrue(), val.String())
			},
			Entry("before the purchase", day(2024, 1, 1), int64(0)),
			Entry("on the purchase date", day(2024, 1, 2), int64(30000)),
			Entry("between observations", day(2024, 3, 10), int64(31500)),
			Entry("today", day(2024, 3, 15), int64(33000)),
		)

		It("computes the weekly change", func() {
			perf, err := analyzer.PeriodPerformance(f.ctx, valuation, portfolio.PeriodWeek)
			Expect(err).To(BeNil())
			Expect(perf.StartDate).To(Equal(day(2024, 3, 8)))
			Expect(perf.EndDate).To(Equal(today))
			Expect(perf.StartValue.Equal(decimal.NewFromInt(31500))).To(BeTrue())
			Expect(perf.EndValue.Equal(decimal.NewFromInt(33000))).To(BeTrue())
			Expect(perf.Change.Equal(decimal.NewFromInt(1500))).To(BeTrue())
			Expect(perf.ChangePercentage).To(BeNumerically("~", 4.7619047619, 1e-6))
		})

		It("reports 0% when the window starts before any holdings", func() {
			perf, err := analyzer.PeriodPerformance(f.ctx, valuation, portfolio.PeriodYTD)
			Expect(err).To(BeNil())
			Expect(perf.StartDate).To(Equal(day(2024, 1, 1)))
			Expect(perf.StartValue.IsZero()).To(BeTrue())
			Expect(perf.Change.Equal(decimal.NewFromInt(33000))).To(BeTrue())
			Expect(perf.ChangePercentage).To(Equal(0.0))
		})

		It("rejects an unknown period", func() {
			_, err := analyzer.PeriodPerformance(f.ctx, valuation, portfolio.Period("decade"))
			Expect(errors.Is(err, data.ErrInvalidPeriod)).To(BeTrue())
		})

		It("samples a value series including the end date", func() {
			series, err := analyzer.ValueSeries(f.ctx, valuation, day(2024, 1, 1), day(2024, 1, 10), 4)
			Expect(err).To(BeNil())
			Expect(series).To(HaveLen(4))
			Expect(series[0].Value.IsZero()).To(BeTrue())
			Expect(series[1].Date).To(Equal(day(2024, 1, 5)))
			Expect(series[1].Value.Equal(decimal.NewFromInt(30000))).To(BeTrue())
			Expect(series[3].Date).To(Equal(day(2024, 1, 10)))
		})

		It("rejects an inverted range", func() {
			_, err := analyzer.ValueSeries(f.ctx, valuation, day(2024, 2, 1), day(2024, 1, 1), 1)
			Expect(errors.Is(err, data.ErrInvalidTimeRange)).To(BeTrue())
		})

		It("builds a summary with memoized historical lookups", func() {
			summary, err := analyzer.Summary(f.ctx, p, 0)
			Expect(err).To(BeNil())

			Expect(summary.Overview.PositionCount).To(Equal(1))
			Expect(summary.Overview.TotalValue.Equal(decimal.NewFromInt(33000))).To(BeTrue())
			Expect(summary.Overview.TotalCost.Equal(decimal.NewFromInt(30000))).To(BeTrue())
			Expect(summary.Overview.TotalReturnPercentage).To(BeNumerically("~", 10.0, 1e-9))
			Expect(summary.Overview.DisplayValue).ToNot(BeEmpty())
			Expect(summary.Allocation.ByClass).To(HaveLen(1))
			Expect(summary.Performance.TopPerformers).To(HaveLen(1))

			Expect(summary.Periods).To(HaveLen(len(portfolio.Periods)))
			for idx, period := range portfolio.Periods {
				Expect(summary.Periods[idx].Period).To(Equal(period))
				Expect(summary.Periods[idx].EndValue.Equal(decimal.NewFromInt(33000))).To(BeTrue())
			}

			// week start, month start and today; the other windows open before the purchase
			Expect(counting.asOfHits).To(Equal(3))
		})
	})
})

var _ = Describe("Periods", func() {
	DescribeTable("start dates",
		func(name string, expected time.Time) {
			period, err := portfolio.ParsePeriod(name)
			Expect(err).To(BeNil())
			start, err := period.StartDate(day(2024, 3, 15))
			Expect(err).To(BeNil())
			Expect(start).To(Equal(expected))
		},
		Entry("week", "week", day(2024, 3, 8)),
		Entry("month", "Month", day(2024, 2, 15)),
		Entry("quarter", "quarter", day(2023, 12, 15)),
		Entry("year", "year", day(2023, 3, 15)),
		Entry("year to date", " YTD ", day(2024, 1, 1)),
	)

	It("rejects unknown names", func() {
		_, err := portfolio.ParsePeriod("fortnight")
		Expect(errors.Is(err, data.ErrInvalidPeriod)).To(BeTrue())
	})
})

var _ = Describe("FormatAmount", func() {
	DescribeTable("uses the currency's symbol and precision",
		func(amount, currency, expected string) {
			Expect(portfolio.FormatAmount(decimal.RequireFromString(amount), currency)).To(Equal(expected))
		},
		Entry("dollars", "1234.5", "USD", "$1,234.50"),
		Entry("yen has no minor unit", "1234.5", "jpy", "¥1,235"),
	)
})
