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

package messenger

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/penny-vault/pv-tracker/batch"
	"github.com/rs/zerolog/log"
)

const SubjectPrefix = "pvtracker.refresh"

// RefreshEvent announces the outcome of a batch refresh
type RefreshEvent struct {
	Kind        string        `json:"kind"`
	CompletedAt time.Time     `json:"completed_at"`
	Summary     batch.Summary `json:"summary"`
}

func Subject(kind string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, kind)
}

// EncodeRefreshEvent serializes the event published for a refresh of kind
func EncodeRefreshEvent(kind string, summary batch.Summary, completedAt time.Time) ([]byte, error) {
	return json.Marshal(RefreshEvent{
		Kind:        kind,
		CompletedAt: completedAt.UTC(),
		Summary:     summary,
	})
}

// PublishSummary publishes the summary of a refresh to pvtracker.refresh.<kind>
func PublishSummary(kind string, summary batch.Summary) error {
	if jetStream == nil {
		return ErrNotConnected
	}

	subLog := log.With().Str("Subject", Subject(kind)).Logger()

	payload, err := EncodeRefreshEvent(kind, summary, time.Now())
	if err != nil {
		subLog.Error().Err(err).Msg("could not serialize refresh summary to JSON")
		return err
	}

	if _, err := jetStream.Publish(Subject(kind), payload); err != nil {
		subLog.Error().Err(err).Msg("could not publish refresh summary")
		return err
	}

	subLog.Debug().Int("Total", summary.Total).Int("Failed", summary.Failed).Msg("published refresh summary")
	return nil
}
