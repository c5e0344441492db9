package data_test

import (
	"context"
	"errors"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/data/database"
	"github.com/penny-vault/pv-tracker/pgxmockhelper"
	"github.com/shopspring/decimal"
)

var _ = Describe("PVDB tests", func() {
	var (
		dbPool  pgxmock.PgxConnIface
		pvdb    *data.PvDb
		ctx     context.Context
		assetID uuid.UUID
	)

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
		pvdb = data.NewPvDb()
		ctx = context.Background()
		assetID = uuid.MustParse("5a0e7f8c-1b2d-4c3e-9f40-6a7b8c9d0e1f")
	})

	AfterEach(func() {
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		Expect(database.OpenTransactionCount()).To(Equal(0))
	})

	Context("when reading price history", func() {
		It("returns the most recent row on or before the date", func() {
			pgxmockhelper.MockPriceOnOrBefore(dbPool, "../testdata/aapl.csv", day(2024, 1, 4))

			p, err := pvdb.PriceOnOrBefore(ctx, assetID, day(2024, 1, 4))
			Expect(err).To(BeNil())
			Expect(p.Date).To(Equal(day(2024, 1, 3)))
			Expect(p.Close.Equal(decimal.RequireFromString("184.25"))).To(BeTrue())
			Expect(p.Currency).To(Equal("USD"))
		})

		It("leaves volume empty when the column is null", func() {
			pgxmockhelper.MockPriceOnOrBefore(dbPool, "../testdata/aapl.csv", day(2024, 1, 8))

			p, err := pvdb.PriceOnOrBefore(ctx, assetID, day(2024, 1, 8))
			Expect(err).To(BeNil())
			Expect(p.Date).To(Equal(day(2024, 1, 5)))
			Expect(p.Volume).To(BeNil())
		})

		It("returns ErrNotFound before the first observation", func() {
			pgxmockhelper.MockPriceOnOrBefore(dbPool, "../testdata/aapl.csv", day(2023, 12, 29))

			_, err := pvdb.PriceOnOrBefore(ctx, assetID, day(2023, 12, 29))
			Expect(errors.Is(err, data.ErrNotFound)).To(BeTrue())
		})

		It("counts rows per asset", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT count").WithArgs(assetID).
				WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
			dbPool.ExpectCommit()

			cnt, err := pvdb.PriceCount(ctx, assetID)
			Expect(err).To(BeNil())
			Expect(cnt).To(Equal(3))
		})
	})

	Context("when writing price history", func() {
		It("upserts every row in one transaction", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("INSERT INTO price_history .* ON CONFLICT").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO price_history .* ON CONFLICT").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			err := pvdb.UpsertPrices(ctx,
				price(assetID, day(2024, 1, 2), 185.64),
				price(assetID, day(2024, 1, 3), 184.25),
			)
			Expect(err).To(BeNil())
		})

		It("rolls back when a write fails", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("INSERT INTO price_history").WillReturnError(errors.New("connection reset"))
			dbPool.ExpectRollback()

			err := pvdb.UpsertPrices(ctx, price(assetID, day(2024, 1, 2), 185.64))
			Expect(err).ToNot(BeNil())
		})

		It("validates before touching the database", func() {
			err := pvdb.UpsertPrices(ctx, price(assetID, day(2024, 1, 2), -1))
			Expect(errors.Is(err, data.ErrValidation)).To(BeTrue())
		})
	})

	Context("when reading currency rates", func() {
		It("finds an exact rate", func() {
			pgxmockhelper.MockRateQuery(dbPool, "../testdata/usdtry.csv", day(2024, 1, 3))

			r, err := pvdb.GetRate(ctx, "USD", "TRY", day(2024, 1, 3))
			Expect(err).To(BeNil())
			Expect(r.Rate.Equal(decimal.RequireFromString("29.8450"))).To(BeTrue())
		})

		It("upserts rates", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("INSERT INTO currency_rates .* ON CONFLICT").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			err := pvdb.UpsertRates(ctx, &data.CurrencyRate{From: "EUR", To: "TRY", Date: day(2024, 1, 3), Rate: decimal.NewFromFloat(32.5)})
			Expect(err).To(BeNil())
		})
	})

	Context("when reading assets", func() {
		It("filters by asset class", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT id, symbol, name, asset_class, exchange, currency FROM assets WHERE asset_class").
				WillReturnRows(pgxmock.NewRows([]string{"id", "symbol", "name", "asset_class", "exchange", "currency"}).
					AddRow(assetID, "XAU", "Gold", "preciousMetal", "METAL", "USD"))
			dbPool.ExpectCommit()

			assets, err := pvdb.ListAssetsByClass(ctx, data.AssetClassPreciousMetal)
			Expect(err).To(BeNil())
			Expect(assets).To(HaveLen(1))
			Expect(assets[0].AssetClass).To(Equal(data.AssetClassPreciousMetal))
			Expect(assets[0].Exchange).To(Equal(data.ExchangeMetal))
		})
	})
})
