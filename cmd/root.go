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
	"fmt"
	"os"
	"time"

	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/twelvedata"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Database
	viper.BindEnv("database.url", "DATABASE_URL")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))

	// Market data provider
	viper.BindEnv("provider.api_key", "TWELVEDATA_API_KEY")
	rootCmd.PersistentFlags().String("provider-api-key", "", "Market data provider API key")
	viper.BindPFlag("provider.api_key", rootCmd.PersistentFlags().Lookup("provider-api-key"))

	viper.BindEnv("provider.base_url", "PVTRACKER_PROVIDER_URL")
	rootCmd.PersistentFlags().String("provider-base-url", twelvedata.DefaultBaseURL, "Market data provider API root")
	viper.BindPFlag("provider.base_url", rootCmd.PersistentFlags().Lookup("provider-base-url"))

	viper.BindEnv("provider.timeout", "PVTRACKER_PROVIDER_TIMEOUT")
	rootCmd.PersistentFlags().Duration("provider-timeout", 30*time.Second, "Timeout for a single provider request")
	viper.BindPFlag("provider.timeout", rootCmd.PersistentFlags().Lookup("provider-timeout"))

	// Batch processing
	viper.BindEnv("batch.delay", "PVTRACKER_BATCH_DELAY")
	rootCmd.PersistentFlags().Duration("batch-delay", time.Second, "Delay between items of a batch refresh")
	viper.BindPFlag("batch.delay", rootCmd.PersistentFlags().Lookup("batch-delay"))

	viper.BindEnv("forex.watchlist", "PVTRACKER_FOREX_WATCHLIST")
	rootCmd.PersistentFlags().StringSlice("forex-watchlist", []string{"USD/TRY", "EUR/TRY", "EUR/USD", "GBP/USD"}, "Forex pairs refreshed by the forex update")
	viper.BindPFlag("forex.watchlist", rootCmd.PersistentFlags().Lookup("forex-watchlist"))

	viper.BindEnv("rates.pairs", "PVTRACKER_RATE_PAIRS")
	rootCmd.PersistentFlags().StringSlice("rate-pairs", []string{"USD/TRY", "EUR/TRY", "EUR/USD"}, "Currency pairs refreshed by the rates update")
	viper.BindPFlag("rates.pairs", rootCmd.PersistentFlags().Lookup("rate-pairs"))

	// Cache
	viper.BindEnv("cache.local_size", "PVTRACKER_CACHE_SIZE")
	rootCmd.PersistentFlags().Int("cache-local-size", 1024, "Number of provider responses kept in memory")
	viper.BindPFlag("cache.local_size", rootCmd.PersistentFlags().Lookup("cache-local-size"))

	viper.BindEnv("cache.ttl", "PVTRACKER_CACHE_TTL")
	rootCmd.PersistentFlags().Duration("cache-ttl", 15*time.Minute, "How long provider responses are reused")
	viper.BindPFlag("cache.ttl", rootCmd.PersistentFlags().Lookup("cache-ttl"))

	viper.BindEnv("cache.redis", "PVTRACKER_CACHE_REDIS")
	rootCmd.PersistentFlags().Bool("cache-redis", false, "Share cached provider responses through redis")
	viper.BindPFlag("cache.redis", rootCmd.PersistentFlags().Lookup("cache-redis"))

	viper.BindEnv("cache.redis_url", "REDIS_URL")
	rootCmd.PersistentFlags().String("cache-redis-url", "redis://localhost:6379/0", "Redis connection string")
	viper.BindPFlag("cache.redis_url", rootCmd.PersistentFlags().Lookup("cache-redis-url"))

	// NATS
	viper.BindEnv("nats.server", "NATS_SERVER")
	rootCmd.PersistentFlags().String("nats-server", "", "NATS server refresh summaries are published to, if blank don't publish")
	viper.BindPFlag("nats.server", rootCmd.PersistentFlags().Lookup("nats-server"))

	viper.BindEnv("nats.credentials", "NATS_CREDENTIALS")
	rootCmd.PersistentFlags().String("nats-credentials", "", "NATS user credentials file")
	viper.BindPFlag("nats.credentials", rootCmd.PersistentFlags().Lookup("nats-credentials"))

	// Tracing
	viper.BindEnv("otlp.endpoint", "OTLP_ENDPOINT")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OTLP collector to send traces to, if blank tracing is disabled")
	viper.BindPFlag("otlp.endpoint", rootCmd.PersistentFlags().Lookup("otlp-endpoint"))

	viper.BindEnv("otlp.http", "OTLP_HTTP")
	rootCmd.PersistentFlags().Bool("otlp-http", false, "Use HTTP instead of gRPC for OTLP")
	viper.BindPFlag("otlp.http", rootCmd.PersistentFlags().Lookup("otlp-http"))

	// Logging configuration
	viper.BindEnv("log.level", "PV_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.BindEnv("log.report_caller", "PV_LOG_REPORT_CALLER")
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller"))

	viper.BindEnv("log.output", "PV_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stderr", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output"))

	viper.BindEnv("log.pretty", "PV_LOG_PRETTY")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "Write human readable logs instead of JSON")
	viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

var rootCmd = &cobra.Command{
	Use:     "pvtracker",
	Version: common.CurrentVersion.String(),
	Short:   "Penny Vault tracker values multi-currency portfolios",
	Long: `Track prices, exchange rates and the value of portfolios that hold equities,
ETFs, precious metals, forex and crypto across currencies.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
