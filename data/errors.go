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

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidAssetClass = errors.New("invalid asset class")
	ErrNoRateAvailable   = errors.New("no exchange rate available")
	ErrAPI               = errors.New("market data provider returned an error")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidCurrency   = errors.New("invalid currency code")
	ErrInvalidPeriod     = errors.New("invalid performance period")
	ErrInvalidTimeRange  = errors.New("start must be before end")
)
