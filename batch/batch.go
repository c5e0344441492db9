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

// Package batch runs a per-item operation over many items with a fixed delay
// between calls, recording failures without stopping the run.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

const DefaultDelay = time.Second

// ItemError records why a single item failed
type ItemError struct {
	Item    string `json:"item"`
	Message string `json:"message"`
}

// Summary is the outcome of a run. Total == Success + Failed and len(Errors) ==
// Failed always hold.
type Summary struct {
	Total   int         `json:"total"`
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Errors  []ItemError `json:"errors"`
}

func (s *Summary) succeed() {
	s.Total++
	s.Success++
}

func (s *Summary) fail(item, message string) {
	s.Total++
	s.Failed++
	s.Errors = append(s.Errors, ItemError{Item: item, Message: message})
}

// Merge folds other into s
func (s *Summary) Merge(other Summary) {
	s.Total += other.Total
	s.Success += other.Success
	s.Failed += other.Failed
	s.Errors = append(s.Errors, other.Errors...)
}

// Orchestrator spaces calls delay apart
type Orchestrator struct {
	delay time.Duration
}

func New(delay time.Duration) *Orchestrator {
	if delay < 0 {
		delay = 0
	}
	return &Orchestrator{delay: delay}
}

// NewFromConfig reads batch.delay, defaulting to one second
func NewFromConfig() *Orchestrator {
	if !viper.IsSet("batch.delay") {
		return New(DefaultDelay)
	}
	return New(viper.GetDuration("batch.delay"))
}

func (o *Orchestrator) Delay() time.Duration {
	return o.delay
}

func (o *Orchestrator) limiter() *rate.Limiter {
	if o.delay == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(o.delay), 1)
}

// Run calls fn for every item in order. The first item starts immediately and
// each following item waits for the delay. An error or panic from fn marks that
// item failed; cancelling ctx marks every remaining item failed.
func Run[T any](ctx context.Context, o *Orchestrator, items []T, id func(T) string, fn func(context.Context, T) error) Summary {
	summary := Summary{Errors: make([]ItemError, 0)}
	limiter := o.limiter()

	subLog := log.With().Int("NumItems", len(items)).Dur("Delay", o.delay).Logger()
	subLog.Info().Msg("starting batch run")
	start := time.Now()

	for idx, item := range items {
		if err := limiter.Wait(ctx); err != nil {
			cause := err
			if ctxErr := ctx.Err(); ctxErr != nil {
				cause = ctxErr
			}
			for _, rest := range items[idx:] {
				summary.fail(id(rest), cause.Error())
			}
			subLog.Warn().Err(cause).Int("Remaining", len(items)-idx).Msg("batch run cancelled")
			break
		}

		name := id(item)
		if err := call(ctx, item, fn); err != nil {
			log.Warn().Str("Item", name).Err(err).Msg("batch item failed")
			summary.fail(name, err.Error())
			continue
		}
		summary.succeed()
	}

	subLog.Info().Int("Success", summary.Success).Int("Failed", summary.Failed).
		Dur("Elapsed", time.Since(start)).Msg("batch run finished")
	return summary
}

func call[T any](ctx context.Context, item T, fn func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, item)
}
