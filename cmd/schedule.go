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
	"time"

	"github.com/go-co-op/gocron"
	"github.com/penny-vault/pv-tracker/marketdata"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scheduleCmdDays int

func init() {
	viper.BindEnv("schedule.prices", "PVTRACKER_SCHEDULE_PRICES")
	scheduleCmd.Flags().String("prices", "30 22 * * 1-5", "Cron expression (UTC) for refreshing the price history of every asset")
	viper.BindPFlag("schedule.prices", scheduleCmd.Flags().Lookup("prices"))

	viper.BindEnv("schedule.rates", "PVTRACKER_SCHEDULE_RATES")
	scheduleCmd.Flags().String("rates", "0 * * * *", "Cron expression (UTC) for refreshing exchange rates")
	viper.BindPFlag("schedule.rates", scheduleCmd.Flags().Lookup("rates"))

	scheduleCmd.Flags().IntVar(&scheduleCmdDays, "days", 5, "Days of history fetched on each price refresh")

	rootCmd.AddCommand(scheduleCmd)
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run price and exchange rate refreshes on a schedule",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(context.Background())

		pairs, err := marketdata.ParsePairs(viper.GetStringSlice("rates.pairs"))
		if err != nil {
			log.Fatal().Err(err).Msg("invalid currency pair in rates.pairs")
		}

		scheduler := gocron.NewScheduler(time.UTC)

		if _, err := scheduler.Cron(viper.GetString("schedule.prices")).Tag("prices").Do(func() {
			summary, err := svc.router.FetchAll(ctx, scheduleCmdDays, true)
			if err != nil {
				log.Error().Err(err).Msg("scheduled price refresh failed")
				return
			}
			report("prices", summary, nil)
		}); err != nil {
			log.Fatal().Err(err).Str("Expression", viper.GetString("schedule.prices")).Msg("invalid price schedule")
		}

		if _, err := scheduler.Cron(viper.GetString("schedule.rates")).Tag("rates").Do(func() {
			summary, err := svc.updater.BatchUpdateRates(ctx, pairs)
			if err != nil {
				log.Error().Err(err).Msg("scheduled rate refresh failed")
				return
			}
			report("rates", summary, nil)
		}); err != nil {
			log.Fatal().Err(err).Str("Expression", viper.GetString("schedule.rates")).Msg("invalid rate schedule")
		}

		scheduler.StartAsync()
		log.Info().Str("Prices", viper.GetString("schedule.prices")).Str("Rates", viper.GetString("schedule.rates")).Msg("scheduler started")

		<-ctx.Done()
		log.Info().Msg("received interrupt; stopping scheduler")
		scheduler.Stop()
	},
}
