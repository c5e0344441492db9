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

// Package twelvedata is a client for the quote, time series and exchange rate
// endpoints of the Twelve Data market data API.
package twelvedata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/penny-vault/pv-tracker/common"
	"github.com/penny-vault/pv-tracker/data"
	"github.com/penny-vault/pv-tracker/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultBaseURL = "https://api.twelvedata.com"
	IntervalDaily  = "1day"
)

// APIError is returned when the provider answers with an error payload or a
// non-success status code
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twelvedata: %d %s", e.Code, e.Message)
}

// Is lets errors.Is(err, data.ErrAPI) match any provider error
func (e *APIError) Is(target error) bool {
	return target == data.ErrAPI
}

type Quote struct {
	Symbol   string              `json:"symbol"`
	Name     string              `json:"name"`
	Exchange string              `json:"exchange"`
	Currency string              `json:"currency"`
	Datetime string              `json:"datetime"`
	Open     decimal.NullDecimal `json:"open"`
	High     decimal.NullDecimal `json:"high"`
	Low      decimal.NullDecimal `json:"low"`
	Close    decimal.NullDecimal `json:"close"`
	Volume   decimal.NullDecimal `json:"volume"`
}

type Bar struct {
	Datetime string              `json:"datetime"`
	Open     decimal.NullDecimal `json:"open"`
	High     decimal.NullDecimal `json:"high"`
	Low      decimal.NullDecimal `json:"low"`
	Close    decimal.NullDecimal `json:"close"`
	Volume   decimal.NullDecimal `json:"volume"`
}

type SeriesMeta struct {
	Symbol        string `json:"symbol"`
	Interval      string `json:"interval"`
	Currency      string `json:"currency"`
	CurrencyBase  string `json:"currency_base"`
	CurrencyQuote string `json:"currency_quote"`
	Exchange      string `json:"exchange"`
	Type          string `json:"type"`
}

type TimeSeries struct {
	Meta   SeriesMeta `json:"meta"`
	Values []*Bar     `json:"values"`
	Status string     `json:"status"`
}

type ExchangeRate struct {
	Symbol    string          `json:"symbol"`
	Rate      decimal.Decimal `json:"rate"`
	Timestamp int64           `json:"timestamp"`
}

// Client talks to the provider. Successful responses are kept in the optional
// cache so repeated lookups within the TTL do not spend API credits.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	cache   common.Cache
}

func New(apiKey, baseURL string, timeout time.Duration, cache common.Cache) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
	}
}

// NewFromConfig builds a client from the provider.* viper keys
func NewFromConfig(cache common.Cache) *Client {
	return New(viper.GetString("provider.api_key"), viper.GetString("provider.base_url"),
		viper.GetDuration("provider.timeout"), cache)
}

// BaseURL returns the API root requests are sent to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Quote fetches the latest quote for symbol
func (c *Client) Quote(ctx context.Context, symbol string) (*Quote, error) {
	quote := &Quote{}
	if err := c.get(ctx, "twelvedata.Quote", "/quote", url.Values{"symbol": {symbol}}, quote); err != nil {
		return nil, err
	}
	return quote, nil
}

// TimeSeries fetches the outputSize most recent bars for symbol at interval
func (c *Client) TimeSeries(ctx context.Context, symbol, interval string, outputSize int) (*TimeSeries, error) {
	if interval == "" {
		interval = IntervalDaily
	}
	params := url.Values{
		"symbol":     {symbol},
		"interval":   {interval},
		"outputsize": {strconv.Itoa(outputSize)},
	}
	series := &TimeSeries{}
	if err := c.get(ctx, "twelvedata.TimeSeries", "/time_series", params, series); err != nil {
		return nil, err
	}
	return series, nil
}

// ExchangeRate fetches the real-time rate for a BASE/QUOTE pair
func (c *Client) ExchangeRate(ctx context.Context, symbol string) (*ExchangeRate, error) {
	rate := &ExchangeRate{}
	if err := c.get(ctx, "twelvedata.ExchangeRate", "/exchange_rate", url.Values{"symbol": {symbol}}, rate); err != nil {
		return nil, err
	}
	return rate, nil
}

// requestURL encodes params in sorted order; the api key is appended last so the
// prefix can be used as a cache key
func (c *Client) requestURL(path string, params url.Values) (string, string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params.Get(k)))
	}

	public := fmt.Sprintf("%s%s?%s", c.baseURL, path, strings.Join(parts, "&"))
	return public, public + "&apikey=" + url.QueryEscape(c.apiKey)
}

func (c *Client) get(ctx context.Context, spanName, path string, params url.Values, target interface{}) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, spanName)
	defer span.End()

	public, full := c.requestURL(path, params)
	span.SetAttributes(attribute.String("Url", public))

	subLog := log.With().Str("Url", public).Logger()

	var cacheKey string
	if c.cache != nil {
		cacheKey = common.CacheKey(public)
		if body, ok := c.cache.Get(ctx, cacheKey); ok {
			subLog.Debug().Msg("using cached response")
			span.SetAttributes(attribute.Bool("CacheHit", true))
			return json.Unmarshal(body, target)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not build request")
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		msg := "twelvedata http request failed"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Msg(msg)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		msg := "could not read twelvedata body"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Msg(msg)
		return err
	}

	span.SetAttributes(attribute.Int("StatusCode", resp.StatusCode))

	if apiErr := checkError(resp.StatusCode, body); apiErr != nil {
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Message)
		subLog.Warn().Int("Code", apiErr.Code).Str("Message", apiErr.Message).Msg("twelvedata returned an error")
		return apiErr
	}

	if err := json.Unmarshal(body, target); err != nil {
		span.RecordError(err)
		msg := "could not unmarshal json"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Bytes("Body", body).Msg(msg)
		return err
	}

	if c.cache != nil {
		c.cache.Set(ctx, cacheKey, body)
	}

	return nil
}

// checkError inspects the body for an error payload regardless of status code
func checkError(statusCode int, body []byte) *APIError {
	status := &APIError{}
	if err := json.Unmarshal(body, status); err == nil && strings.EqualFold(status.Status, "error") {
		if status.Code == 0 {
			status.Code = statusCode
		}
		return status
	}

	if statusCode < 200 || statusCode >= 300 {
		return &APIError{
			Code:    statusCode,
			Message: http.StatusText(statusCode),
			Status:  "error",
		}
	}
	return nil
}

// ParseDatetime reads the calendar day from a provider datetime, which is either
// a date or a date followed by a time of day
func ParseDatetime(s string) (time.Time, error) {
	if len(s) > len(common.DateFormat) {
		s = s[:len(common.DateFormat)]
	}
	return common.ParseDate(s)
}
