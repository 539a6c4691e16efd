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

package handler

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"

	"github.com/penny-vault/pv-optimize/backtest"
	"github.com/penny-vault/pv-optimize/common"
	"github.com/penny-vault/pv-optimize/panel"
	"github.com/penny-vault/pv-optimize/portfolio"
)

type backtestRequest struct {
	Panel struct {
		Dates  []string `json:"dates"`
		Assets []string `json:"assets"`

		// Returns is row major: one row of asset returns per period
		Returns [][]float64 `json:"returns"`
	} `json:"panel"`
	Window         int     `json:"window"`
	PeriodsPerYear float64 `json:"periodsPerYear"`
	OnError        string  `json:"onError"`
	Strategies     []struct {
		Kind string                     `json:"kind"`
		Args map[string]json.RawMessage `json:"args"`
	} `json:"strategies"`
}

type strategyResult struct {
	Performance *portfolio.Performance `json:"performance"`
	Summary     *portfolio.Summary     `json:"summary"`
}

type backtestResponse struct {
	Strategies map[portfolio.Kind]*strategyResult `json:"strategies"`
}

// RunBacktest executes a rolling backtest for the panel and strategy
// configurations in the request body. Responses are cached by a content
// hash of the body, so identical requests are served without recomputing.
func RunBacktest(c *fiber.Ctx) error {
	body := c.Body()

	digest := blake3.Sum256(body)
	cacheKey := "backtest:" + hex.EncodeToString(digest[:])
	if cached, err := common.CacheGet(cacheKey); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(cached)
	}

	var req backtestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	p, err := panelFromRequest(&req)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if len(req.Strategies) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, backtest.ErrNoStrategies.Error())
	}

	strategies := make([]*portfolio.Strategy, 0, len(req.Strategies))
	for _, stratReq := range req.Strategies {
		strat, err := portfolio.NewStrategy(portfolio.Kind(stratReq.Kind), stratReq.Args)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		strategies = append(strategies, strat)
	}

	bt, err := backtest.New(p, req.Window, strategies, backtest.ErrorPolicy(req.OnError))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := bt.Run(c.Context()); err != nil {
		log.Error().Stack().Err(err).Msg("backtest run failed")
		return fiber.ErrInternalServerError
	}

	periodsPerYear := req.PeriodsPerYear
	if periodsPerYear <= 0 {
		periodsPerYear = 12
	}

	resp := &backtestResponse{
		Strategies: make(map[portfolio.Kind]*strategyResult, len(bt.Results)),
	}
	for kind, perf := range bt.Results {
		resp.Strategies[kind] = &strategyResult{
			Performance: perf,
			Summary:     perf.Summarize(periodsPerYear),
		}
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not serialize backtest response")
		return fiber.ErrInternalServerError
	}

	if err := common.CacheSet(cacheKey, encoded); err != nil {
		log.Warn().Err(err).Msg("could not cache backtest response")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(encoded)
}

func panelFromRequest(req *backtestRequest) (*panel.ReturnPanel, error) {
	if len(req.Panel.Dates) != len(req.Panel.Returns) {
		return nil, errors.New("panel dates and returns must have the same length")
	}

	nAssets := len(req.Panel.Assets)
	p := &panel.ReturnPanel{
		Dates:  make([]time.Time, len(req.Panel.Dates)),
		Assets: req.Panel.Assets,
		Vals:   make([][]float64, nAssets),
	}
	for colIdx := range p.Vals {
		p.Vals[colIdx] = make([]float64, len(req.Panel.Dates))
	}

	for rowIdx, dateStr := range req.Panel.Dates {
		dt, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, err
		}
		p.Dates[rowIdx] = dt

		row := req.Panel.Returns[rowIdx]
		if len(row) != nAssets {
			return nil, panel.ErrShapeMismatch
		}
		for colIdx, val := range row {
			p.Vals[colIdx][rowIdx] = val
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}
