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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/goccy/go-json"
	"github.com/penny-vault/pv-tracker/batch"
	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/data/database"
	"github.com/penny-vault/pv-tracker/fx"
	"github.com/penny-vault/pv-tracker/marketdata"
	"github.com/penny-vault/pv-tracker/messenger"
	"github.com/penny-vault/pv-tracker/observability/opentelemetry"
	"github.com/penny-vault/pv-tracker/portfolio"
	"github.com/penny-vault/pv-tracker/twelvedata"
	"github.com/rs/zerolog/log"
)

// services holds everything a command needs, wired from viper configuration
type services struct {
	store     data.Store
	client    *twelvedata.Client
	converter *fx.Converter
	orch      *batch.Orchestrator
	router    *marketdata.Router
	updater   *marketdata.Updater
	analyzer  *portfolio.Analyzer

	shutdownTracing func(context.Context) error
}

// interruptContext is cancelled on SIGINT so batches stop between items
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// setup connects to the database and the optional tracing and NATS backends.
// Any failure is fatal.
func setup(ctx context.Context) *services {
	shutdown, err := opentelemetry.Setup(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("could not setup tracing")
	}

	if err := database.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}

	cache, err := common.NewCacheFromConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("could not create provider cache")
	}

	if messenger.Enabled() {
		if err := messenger.Initialize(); err != nil {
			log.Fatal().Err(err).Msg("could not connect to NATS")
		}
	}

	store := data.NewPvDb()
	client := twelvedata.NewFromConfig(cache)
	converter := fx.NewConverter(store, client)
	orch := batch.NewFromConfig()
	router := marketdata.NewDefaultRouter(store, client, converter, orch)

	log.Info().Str("ProviderURL", client.BaseURL()).Dur("BatchDelay", orch.Delay()).Msg("initialized services")

	return &services{
		store:           store,
		client:          client,
		converter:       converter,
		orch:            orch,
		router:          router,
		updater:         marketdata.NewUpdater(router, store, converter, orch),
		analyzer:        portfolio.NewAnalyzer(store, converter),
		shutdownTracing: shutdown,
	}
}

func (s *services) Close(ctx context.Context) {
	database.LogOpenTransactions()
	messenger.Close()
	if err := s.shutdownTracing(ctx); err != nil {
		log.Warn().Err(err).Msg("could not flush traces")
	}
}

// printJSON writes v to stdout as indented JSON
func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("could not serialize output to JSON")
	}
	fmt.Println(string(out))
}

// report prints the summary of a refresh and publishes it when NATS is configured
func report(kind string, summary batch.Summary, err error) {
	if err != nil {
		log.Fatal().Err(err).Str("Kind", kind).Msg("refresh failed")
	}

	log.Info().Str("Kind", kind).Int("Total", summary.Total).Int("Success", summary.Success).Int("Failed", summary.Failed).Msg("refresh complete")
	printJSON(summary)

	if messenger.Enabled() {
		if err := messenger.PublishSummary(kind, summary); err != nil {
			log.Error().Err(err).Str("Kind", kind).Msg("could not publish refresh summary")
		}
	}
}
