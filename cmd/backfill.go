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
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var backfillCmdMinDays int
var backfillCmdDays int
var backfillCmdDryRun bool

func init() {
	backfillCmd.Flags().IntVar(&backfillCmdMinDays, "min-days", 30, "Assets with fewer price rows than this are backfilled")
	backfillCmd.Flags().IntVar(&backfillCmdDays, "days", 365, "Number of days of history to fetch for each asset")
	backfillCmd.Flags().BoolVar(&backfillCmdDryRun, "dry-run", false, "List the assets that would be backfilled without fetching")

	rootCmd.AddCommand(backfillCmd)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fetch history for assets whose price history is incomplete",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := interruptContext()
		defer cancel()

		svc := setup(ctx)
		defer svc.Close(ctx)

		if backfillCmdDryRun {
			missing, err := svc.router.FindAssetsMissingHistory(ctx, backfillCmdMinDays)
			if err != nil {
				log.Fatal().Err(err).Msg("could not scan price history")
			}
			printJSON(missing)
			return
		}

		summary, err := svc.router.FillMissingHistory(ctx, backfillCmdMinDays, backfillCmdDays)
		report("backfill", summary, err)
	},
}
