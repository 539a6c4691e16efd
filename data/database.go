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

package data

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-optimize/panel"
)

// PgxIface is the subset of the pgx pool used by this package; it exists so
// tests can substitute pgxmock
type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
}

var pool PgxIface

// Connect establishes the database connection pool from the configured URL
func Connect(ctx context.Context) error {
	dbPool, err := pgxpool.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to database")
		return err
	}
	pool = dbPool
	return nil
}

// SetPool replaces the connection pool; used by tests
func SetPool(p PgxIface) {
	pool = p
}

// LoadPanel reads monthly returns between begin and end from the
// monthly_returns table and pivots the long-format rows into a return
// panel. Every period must cover the same asset set; ragged coverage is a
// shape error surfaced here, before any backtest sees the panel.
func LoadPanel(ctx context.Context, begin, end time.Time) (*panel.ReturnPanel, error) {
	subLog := log.With().Time("Begin", begin).Time("End", end).Logger()

	trx, err := pool.Begin(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	rows, err := trx.Query(ctx,
		"SELECT event_date, ticker, ret FROM monthly_returns WHERE event_date BETWEEN $1 AND $2 ORDER BY event_date, ticker",
		begin, end)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not query monthly returns")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	byDate := make(map[time.Time]map[string]float64)
	dates := make([]time.Time, 0, 360)
	assetSet := make(map[string]bool)

	for rows.Next() {
		var eventDate time.Time
		var ticker string
		var ret float64
		if err := rows.Scan(&eventDate, &ticker, &ret); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not scan row")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}

		if _, ok := byDate[eventDate]; !ok {
			byDate[eventDate] = make(map[string]float64)
			dates = append(dates, eventDate)
		}
		byDate[eventDate][ticker] = ret
		assetSet[ticker] = true
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit transaction")
		return nil, err
	}

	assets := make([]string, 0, len(assetSet))
	for ticker := range assetSet {
		assets = append(assets, ticker)
	}
	sort.Strings(assets)

	p := &panel.ReturnPanel{
		Dates:  dates,
		Assets: assets,
		Vals:   make([][]float64, len(assets)),
	}
	for colIdx := range p.Vals {
		p.Vals[colIdx] = make([]float64, len(dates))
	}

	for rowIdx, dt := range dates {
		period := byDate[dt]
		if len(period) != len(assets) {
			subLog.Error().Time("Period", dt).Int("Have", len(period)).Int("Want", len(assets)).Msg("ragged asset coverage")
			return nil, fmt.Errorf("%w: period %s covers %d of %d assets", panel.ErrShapeMismatch, dt.Format("2006-01-02"), len(period), len(assets))
		}
		for colIdx, ticker := range assets {
			val, ok := period[ticker]
			if !ok {
				return nil, fmt.Errorf("%w: period %s is missing %s", panel.ErrShapeMismatch, dt.Format("2006-01-02"), ticker)
			}
			p.Vals[colIdx][rowIdx] = val
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}
