// Copyright 2021-2023
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
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupported = errors.New("unsupported function")
	ErrNoPool      = errors.New("database pool not configured")
)

// PvDbTx wraps a pgx.Tx so that open transactions can be reported by
// LogOpenTransactions. Nested transactions are rejected.
type PvDbTx struct {
	pgx.Tx
	id string
}

func (t *PvDbTx) Begin(ctx context.Context) (pgx.Tx, error) {
	log.Error().Stack().Str("TrxId", t.id).Msg("nested transactions are not supported")
	return nil, ErrUnsupported
}

func (t *PvDbTx) BeginFunc(ctx context.Context, f func(pgx.Tx) error) error {
	log.Error().Stack().Str("TrxId", t.id).Msg("nested transactions are not supported")
	return ErrUnsupported
}

// Commit stops tracking the transaction and commits it.
func (t *PvDbTx) Commit(ctx context.Context) error {
	untrackTransaction(t.id)
	return t.Tx.Commit(ctx)
}

// Rollback stops tracking the transaction and rolls it back. Safe to defer
// after Commit.
func (t *PvDbTx) Rollback(ctx context.Context) error {
	untrackTransaction(t.id)
	return t.Tx.Rollback(ctx)
}
