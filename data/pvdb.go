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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/data/database"
	"github.com/penny-vault/pv-tracker/observability/opentelemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	assetColumns    = "id, symbol, name, asset_class, exchange, currency"
	priceColumns    = "asset_id, event_date, open, high, low, close, volume, currency"
	rateColumns     = "from_currency, to_currency, event_date, rate"
	positionColumns = "p.id, p.portfolio_id, p.quantity, p.average_cost, p.purchase_currency, p.purchase_date, p.status, " +
		"a.id, a.symbol, a.name, a.asset_class, a.exchange, a.currency"
)

// PvDb is a Store backed by PostgreSQL
type PvDb struct {
}

// NewPvDb creates a PostgreSQL backed store using the pool configured in the database package
func NewPvDb() *PvDb {
	return &PvDb{}
}

func rollback(ctx context.Context, trx pgx.Tx, subLog zerolog.Logger) {
	if err := trx.Rollback(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
	}
}

func fail(span trace.Span, subLog zerolog.Logger, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	subLog.Error().Stack().Err(err).Msg(msg)
}

// exec runs each statement inside a single transaction
func (p *PvDb) exec(ctx context.Context, spanName string, subLog zerolog.Logger, stmts func(trx pgx.Tx) error) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, spanName)
	defer span.End()

	trx, err := database.Trx(ctx)
	if err != nil {
		fail(span, subLog, err, "could not get a database transaction")
		return err
	}

	if err := stmts(trx); err != nil {
		fail(span, subLog, err, "database write failed")
		rollback(ctx, trx, subLog)
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		fail(span, subLog, err, "could not commit transaction")
		return err
	}
	return nil
}

// query runs a read inside its own transaction; scan is called once per row
func (p *PvDb) query(ctx context.Context, spanName string, subLog zerolog.Logger, scan func(rows pgx.Rows) error, sql string, args ...interface{}) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, spanName)
	defer span.End()

	trx, err := database.Trx(ctx)
	if err != nil {
		fail(span, subLog, err, "could not get a database transaction")
		return err
	}

	rows, err := trx.Query(ctx, sql, args...)
	if err != nil {
		fail(span, subLog, err, "db query failed")
		rollback(ctx, trx, subLog)
		return err
	}

	for rows.Next() {
		if err := scan(rows); err != nil {
			rows.Close()
			fail(span, subLog, err, "db scan failed")
			rollback(ctx, trx, subLog)
			return err
		}
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		fail(span, subLog, err, "db rows failed")
		rollback(ctx, trx, subLog)
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}
	return nil
}

// Assets

func scanAsset(row pgx.Rows) (*Asset, error) {
	asset := &Asset{}
	var class, exchange string
	if err := row.Scan(&asset.ID, &asset.Symbol, &asset.Name, &class, &exchange, &asset.Currency); err != nil {
		return nil, err
	}
	asset.AssetClass = AssetClass(class)
	asset.Exchange = Exchange(exchange)
	return asset, nil
}

func (p *PvDb) SaveAsset(ctx context.Context, asset *Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}

	subLog := log.With().Str("Symbol", asset.Symbol).Str("Exchange", string(asset.Exchange)).Logger()
	return p.exec(ctx, "pvdb.SaveAsset", subLog, func(trx pgx.Tx) error {
		sql := `INSERT INTO assets (` + assetColumns + `) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT ON CONSTRAINT assets_symbol_exchange_key DO UPDATE SET name=EXCLUDED.name, currency=EXCLUDED.currency
RETURNING id`
		rows, err := trx.Query(ctx, sql, asset.ID, asset.Symbol, asset.Name, string(asset.AssetClass), string(asset.Exchange), asset.Currency)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := rows.Scan(&asset.ID); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

func (p *PvDb) UpdateAssetDetails(ctx context.Context, assetID uuid.UUID, name, currency string) error {
	currency, err := NormalizeCurrency(currency)
	if err != nil {
		return validationError("asset currency: %s", err)
	}

	subLog := log.With().Str("AssetID", assetID.String()).Logger()
	return p.exec(ctx, "pvdb.UpdateAssetDetails", subLog, func(trx pgx.Tx) error {
		tag, err := trx.Exec(ctx, "UPDATE assets SET name=$2, currency=$3 WHERE id=$1", assetID, name, currency)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *PvDb) GetAsset(ctx context.Context, assetID uuid.UUID) (*Asset, error) {
	subLog := log.With().Str("AssetID", assetID.String()).Logger()
	var asset *Asset
	err := p.query(ctx, "pvdb.GetAsset", subLog, func(rows pgx.Rows) (err error) {
		asset, err = scanAsset(rows)
		return
	}, "SELECT "+assetColumns+" FROM assets WHERE id=$1", assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, ErrNotFound
	}
	return asset, nil
}

func (p *PvDb) FindAsset(ctx context.Context, symbol string, exchange Exchange) (*Asset, error) {
	subLog := log.With().Str("Symbol", symbol).Str("Exchange", string(exchange)).Logger()
	var asset *Asset
	err := p.query(ctx, "pvdb.FindAsset", subLog, func(rows pgx.Rows) (err error) {
		asset, err = scanAsset(rows)
		return
	}, "SELECT "+assetColumns+" FROM assets WHERE symbol=$1 AND exchange=$2", symbol, string(exchange))
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, ErrNotFound
	}
	return asset, nil
}

func (p *PvDb) ListAssets(ctx context.Context) ([]*Asset, error) {
	return p.ListAssetsByClass(ctx)
}

func (p *PvDb) ListAssetsByClass(ctx context.Context, classes ...AssetClass) ([]*Asset, error) {
	sql := "SELECT " + assetColumns + " FROM assets"
	args := make([]interface{}, 0, 1)
	if len(classes) > 0 {
		names := make([]string, len(classes))
		for idx, c := range classes {
			names[idx] = string(c)
		}
		sql += " WHERE asset_class = ANY($1)"
		args = append(args, names)
	}
	sql += " ORDER BY symbol, exchange"

	res := make([]*Asset, 0, 64)
	err := p.query(ctx, "pvdb.ListAssets", log.With().Logger(), func(rows pgx.Rows) error {
		asset, err := scanAsset(rows)
		if err != nil {
			return err
		}
		res = append(res, asset)
		return nil
	}, sql, args...)
	return res, err
}

// Prices

func (p *PvDb) UpsertPrices(ctx context.Context, prices ...*PriceHistory) error {
	if len(prices) == 0 {
		return nil
	}
	for _, price := range prices {
		if err := price.Validate(); err != nil {
			return err
		}
	}

	subLog := log.With().Str("AssetID", prices[0].AssetID.String()).Int("NumPrices", len(prices)).Logger()
	return p.exec(ctx, "pvdb.UpsertPrices", subLog, func(trx pgx.Tx) error {
		sql := `INSERT INTO price_history (` + priceColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT ON CONSTRAINT price_history_pkey DO UPDATE SET open=EXCLUDED.open, high=EXCLUDED.high,
low=EXCLUDED.low, close=EXCLUDED.close, volume=EXCLUDED.volume, currency=EXCLUDED.currency`
		for _, price := range prices {
			volume := pgtype.Int8{Status: pgtype.Null}
			if price.Volume != nil {
				volume = pgtype.Int8{Int: *price.Volume, Status: pgtype.Present}
			}
			if _, err := trx.Exec(ctx, sql, price.AssetID, common.Date(price.Date), price.Open, price.High,
				price.Low, price.Close, volume, price.Currency); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanPrice(rows pgx.Rows) (*PriceHistory, error) {
	price := &PriceHistory{}
	var volume pgtype.Int8
	if err := rows.Scan(&price.AssetID, &price.Date, &price.Open, &price.High, &price.Low, &price.Close, &volume, &price.Currency); err != nil {
		return nil, err
	}
	if volume.Status == pgtype.Present {
		v := volume.Int
		price.Volume = &v
	}
	price.Date = common.Date(price.Date)
	return price, nil
}

func (p *PvDb) LatestPrice(ctx context.Context, assetID uuid.UUID) (*PriceHistory, error) {
	subLog := log.With().Str("AssetID", assetID.String()).Logger()
	var price *PriceHistory
	err := p.query(ctx, "pvdb.LatestPrice", subLog, func(rows pgx.Rows) (err error) {
		price, err = scanPrice(rows)
		return
	}, "SELECT "+priceColumns+" FROM price_history WHERE asset_id=$1 ORDER BY event_date DESC LIMIT 1", assetID)
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, ErrNotFound
	}
	return price, nil
}

func (p *PvDb) PriceOnOrBefore(ctx context.Context, assetID uuid.UUID, date time.Time) (*PriceHistory, error) {
	date = common.Date(date)
	subLog := log.With().Str("AssetID", assetID.String()).Time("Date", date).Logger()
	var price *PriceHistory
	err := p.query(ctx, "pvdb.PriceOnOrBefore", subLog, func(rows pgx.Rows) (err error) {
		price, err = scanPrice(rows)
		return
	}, "SELECT "+priceColumns+" FROM price_history WHERE asset_id=$1 AND event_date <= $2 ORDER BY event_date DESC LIMIT 1", assetID, date)
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, ErrNotFound
	}
	return price, nil
}

func (p *PvDb) PriceCount(ctx context.Context, assetID uuid.UUID) (int, error) {
	subLog := log.With().Str("AssetID", assetID.String()).Logger()
	var cnt int64
	err := p.query(ctx, "pvdb.PriceCount", subLog, func(rows pgx.Rows) error {
		return rows.Scan(&cnt)
	}, "SELECT count(*) FROM price_history WHERE asset_id=$1", assetID)
	return int(cnt), err
}

// Rates

func (p *PvDb) UpsertRates(ctx context.Context, rates ...*CurrencyRate) error {
	if len(rates) == 0 {
		return nil
	}
	for _, r := range rates {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	subLog := log.With().Str("From", rates[0].From).Str("To", rates[0].To).Int("NumRates", len(rates)).Logger()
	return p.exec(ctx, "pvdb.UpsertRates", subLog, func(trx pgx.Tx) error {
		sql := `INSERT INTO currency_rates (` + rateColumns + `) VALUES ($1, $2, $3, $4)
ON CONFLICT ON CONSTRAINT currency_rates_pkey DO UPDATE SET rate=EXCLUDED.rate`
		for _, r := range rates {
			if _, err := trx.Exec(ctx, sql, r.From, r.To, common.Date(r.Date), r.Rate); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanRate(rows pgx.Rows) (*CurrencyRate, error) {
	r := &CurrencyRate{}
	if err := rows.Scan(&r.From, &r.To, &r.Date, &r.Rate); err != nil {
		return nil, err
	}
	r.Date = common.Date(r.Date)
	return r, nil
}

func (p *PvDb) rateQuery(ctx context.Context, spanName, cmp, from, to string, date time.Time) (*CurrencyRate, error) {
	date = common.Date(date)
	subLog := log.With().Str("From", from).Str("To", to).Time("Date", date).Logger()
	var rate *CurrencyRate
	sql := fmt.Sprintf("SELECT %s FROM currency_rates WHERE from_currency=$1 AND to_currency=$2 AND event_date %s $3 ORDER BY event_date DESC LIMIT 1", rateColumns, cmp)
	err := p.query(ctx, spanName, subLog, func(rows pgx.Rows) (err error) {
		rate, err = scanRate(rows)
		return
	}, sql, from, to, date)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, ErrNotFound
	}
	return rate, nil
}

func (p *PvDb) GetRate(ctx context.Context, from, to string, date time.Time) (*CurrencyRate, error) {
	return p.rateQuery(ctx, "pvdb.GetRate", "=", from, to, date)
}

func (p *PvDb) RateOnOrBefore(ctx context.Context, from, to string, date time.Time) (*CurrencyRate, error) {
	return p.rateQuery(ctx, "pvdb.RateOnOrBefore", "<=", from, to, date)
}

// Portfolios

func (p *PvDb) SavePortfolio(ctx context.Context, portfolio *Portfolio) error {
	if err := portfolio.Validate(); err != nil {
		return err
	}
	if portfolio.ID == uuid.Nil {
		portfolio.ID = uuid.New()
	}

	subLog := log.With().Str("PortfolioID", portfolio.ID.String()).Logger()
	err := p.exec(ctx, "pvdb.SavePortfolio", subLog, func(trx pgx.Tx) error {
		_, err := trx.Exec(ctx, `INSERT INTO portfolios (id, name, base_currency) VALUES ($1, $2, $3)
ON CONFLICT ON CONSTRAINT portfolios_pkey DO UPDATE SET name=EXCLUDED.name, base_currency=EXCLUDED.base_currency`,
			portfolio.ID, portfolio.Name, portfolio.BaseCurrency)
		return err
	})
	if err != nil {
		return err
	}

	for _, pos := range portfolio.Positions {
		pos.PortfolioID = portfolio.ID
		if err := p.SavePosition(ctx, pos); err != nil {
			return err
		}
	}
	return nil
}

func (p *PvDb) GetPortfolio(ctx context.Context, portfolioID uuid.UUID) (*Portfolio, error) {
	subLog := log.With().Str("PortfolioID", portfolioID.String()).Logger()
	var portfolio *Portfolio
	err := p.query(ctx, "pvdb.GetPortfolio", subLog, func(rows pgx.Rows) error {
		portfolio = &Portfolio{}
		return rows.Scan(&portfolio.ID, &portfolio.Name, &portfolio.BaseCurrency)
	}, "SELECT id, name, base_currency FROM portfolios WHERE id=$1", portfolioID)
	if err != nil {
		return nil, err
	}
	if portfolio == nil {
		return nil, ErrNotFound
	}

	portfolio.Positions, err = p.OpenPositions(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	return portfolio, nil
}

func (p *PvDb) SavePosition(ctx context.Context, position *Position) error {
	if err := position.Validate(); err != nil {
		return err
	}
	if position.ID == uuid.Nil {
		position.ID = uuid.New()
	}

	subLog := log.With().Str("PositionID", position.ID.String()).Str("Symbol", position.Asset.Symbol).Logger()
	return p.exec(ctx, "pvdb.SavePosition", subLog, func(trx pgx.Tx) error {
		_, err := trx.Exec(ctx, `INSERT INTO positions (id, portfolio_id, asset_id, quantity, average_cost, purchase_currency, purchase_date, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT ON CONSTRAINT positions_pkey DO UPDATE SET quantity=EXCLUDED.quantity, average_cost=EXCLUDED.average_cost,
purchase_currency=EXCLUDED.purchase_currency, purchase_date=EXCLUDED.purchase_date, status=EXCLUDED.status`,
			position.ID, position.PortfolioID, position.Asset.ID, position.Quantity, position.AverageCost,
			position.PurchaseCurrency, common.Date(position.PurchaseDate), string(position.Status))
		return err
	})
}

func (p *PvDb) OpenPositions(ctx context.Context, portfolioID uuid.UUID) ([]*Position, error) {
	subLog := log.With().Str("PortfolioID", portfolioID.String()).Logger()
	sql := strings.Join([]string{
		"SELECT", positionColumns,
		"FROM positions p JOIN assets a ON a.id = p.asset_id",
		"WHERE p.portfolio_id=$1 AND p.status='open'",
		"ORDER BY p.purchase_date, p.id",
	}, " ")

	res := make([]*Position, 0, 16)
	err := p.query(ctx, "pvdb.OpenPositions", subLog, func(rows pgx.Rows) error {
		pos := &Position{Asset: &Asset{}}
		var status, class, exchange string
		var quantity, averageCost decimal.Decimal
		if err := rows.Scan(&pos.ID, &pos.PortfolioID, &quantity, &averageCost, &pos.PurchaseCurrency, &pos.PurchaseDate, &status,
			&pos.Asset.ID, &pos.Asset.Symbol, &pos.Asset.Name, &class, &exchange, &pos.Asset.Currency); err != nil {
			return err
		}
		pos.Quantity = quantity
		pos.AverageCost = averageCost
		pos.Status = PositionStatus(status)
		pos.PurchaseDate = common.Date(pos.PurchaseDate)
		pos.Asset.AssetClass = AssetClass(class)
		pos.Asset.Exchange = Exchange(exchange)
		res = append(res, pos)
		return nil
	}, sql, portfolioID)
	return res, err
}
