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

package database

import (
	"context"
	"fmt"
	"runtime"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	shopspring "github.com/jackc/pgtype/ext/shopspring-numeric"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// types

type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
}

// Private

var pool PgxIface
var openTransactions = haxmap.New[string, string]()

func trackTransaction(id, caller string) {
	openTransactions.Set(id, caller)
}

func untrackTransaction(id string) {
	openTransactions.Del(id)
}

// registerDecimal maps postgres numeric columns onto shopspring decimals
func registerDecimal(ctx context.Context, conn *pgx.Conn) error {
	conn.ConnInfo().RegisterDataType(pgtype.DataType{
		Value: &shopspring.Numeric{},
		Name:  "numeric",
		OID:   pgtype.NumericOID,
	})
	return nil
}

// Public

func SetPool(myPool PgxIface) {
	openTransactions = haxmap.New[string, string]()
	pool = myPool
}

func Connect(ctx context.Context) error {
	config, err := pgxpool.ParseConfig(viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not parse database url")
		return err
	}
	config.AfterConnect = registerDecimal

	myPool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to pool")
		return err
	}
	if err = myPool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		return err
	}
	SetPool(myPool)
	return nil
}

// LogOpenTransactions writes an INFO log for each open transaction
func LogOpenTransactions() {
	openTransactions.ForEach(func(k, v string) bool {
		log.Info().Str("TrxId", k).Str("Caller", v).Msg("open transaction")
		return true
	})
}

// OpenTransactionCount returns the number of transactions begun but not yet
// committed or rolled back
func OpenTransactionCount() int {
	return int(openTransactions.Len())
}

// Trx begins a transaction and records its caller until it is finished
func Trx(ctx context.Context) (pgx.Tx, error) {
	if pool == nil {
		log.Error().Stack().Msg("database pool has not been configured")
		return nil, ErrNoPool
	}

	trx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	_, file, lineno, ok := runtime.Caller(1)
	caller := fmt.Sprintf("[%v] %s:%d", ok, file, lineno)
	trxID := uuid.New().String()
	trackTransaction(trxID, caller)

	return &PvDbTx{
		id: trxID,
		Tx: trx,
	}, nil
}
