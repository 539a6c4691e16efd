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

package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-optimize/panel"
	"github.com/penny-vault/pv-optimize/portfolio"
)

var (
	ErrNoStrategies      = errors.New("at least one strategy is required")
	ErrDuplicateStrategy = errors.New("duplicate strategy kind")
	ErrWindowTooLong     = errors.New("window must be shorter than the panel")
)

// ErrorPolicy controls what happens to a strategy lane when a period's
// solve fails
type ErrorPolicy string

const (
	// SkipPeriod flags the failure and carries the lane's holdings forward
	// un-traded
	SkipPeriod ErrorPolicy = "skip"

	// HaltStrategy flags the failure and stops the lane for the remainder
	// of the backtest
	HaltStrategy ErrorPolicy = "halt"
)

// lane is the per-strategy state threaded through the rolling loop. Each
// lane exclusively owns its drifted weights and performance record;
// strategies never share drifted weights.
type lane struct {
	strat  *portfolio.Strategy
	prev   []float64
	perf   *portfolio.Performance
	halted bool
}

// Backtest runs one or more strategies through a rolling out-of-sample
// evaluation of a return panel. At step i the trailing window [i, i+W) is
// used to estimate moments, each strategy solves for weights, the realized
// return at period i+W scores the period, and the chosen weights are
// drifted to become the next period's pre-rebalance weights. Window i never
// sees data at or after period i+W.
type Backtest struct {
	Panel      *panel.ReturnPanel
	Window     int
	Strategies []*portfolio.Strategy
	OnError    ErrorPolicy

	// Results maps strategy kind to its performance record after Run
	Results map[portfolio.Kind]*portfolio.Performance
}

// New validates the inputs and prepares a backtest. Shape problems are
// fatal here, before the rolling loop starts.
func New(p *panel.ReturnPanel, window int, strategies []*portfolio.Strategy, onError ErrorPolicy) (*Backtest, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if window <= 0 || window >= p.Len() {
		return nil, fmt.Errorf("%w: window %d, panel length %d", ErrWindowTooLong, window, p.Len())
	}

	if len(strategies) == 0 {
		return nil, ErrNoStrategies
	}

	seen := make(map[portfolio.Kind]bool, len(strategies))
	for _, strat := range strategies {
		if seen[strat.Kind] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStrategy, strat.Kind)
		}
		seen[strat.Kind] = true
	}

	switch onError {
	case SkipPeriod, HaltStrategy:
	case "":
		onError = SkipPeriod
	default:
		return nil, fmt.Errorf("unrecognized error policy: %s", onError)
	}

	return &Backtest{
		Panel:      p,
		Window:     window,
		Strategies: strategies,
		OnError:    onError,
	}, nil
}

// Run executes the rolling loop. Period steps are strictly sequential
// because each period's pre-rebalance weights depend on the previous
// period's outcome; within a period the strategy lanes run concurrently and
// are barriered before the loop advances.
func (b *Backtest) Run(ctx context.Context) error {
	start := time.Now()

	nAssets := b.Panel.AssetCount()
	lanes := make([]*lane, 0, len(b.Strategies))
	for _, strat := range b.Strategies {
		prev := make([]float64, nAssets)
		for i := range prev {
			prev[i] = 1 / float64(nAssets)
		}
		lanes = append(lanes, &lane{
			strat: strat,
			prev:  prev,
			perf:  portfolio.NewPerformance(strat.Kind),
		})
	}

	nSteps := b.Panel.Len() - b.Window
	for step := 0; step < nSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		window, err := b.Panel.Window(step, b.Window)
		if err != nil {
			return err
		}
		moments := portfolio.EstimateMoments(window)

		realized := b.Panel.Row(step + b.Window)
		date := b.Panel.Dates[step+b.Window]

		var wg sync.WaitGroup
		for _, l := range lanes {
			wg.Add(1)
			go func(l *lane) {
				defer wg.Done()
				b.stepLane(l, moments, realized, date)
			}(l)
		}
		wg.Wait()
	}

	b.Results = make(map[portfolio.Kind]*portfolio.Performance, len(lanes))
	for _, l := range lanes {
		b.Results[l.strat.Kind] = l.perf
	}

	log.Info().
		Int("Periods", nSteps).
		Int("Strategies", len(lanes)).
		Dur("RunDur", time.Since(start).Round(time.Millisecond)).
		Msg("backtest complete")

	return nil
}

func (b *Backtest) stepLane(l *lane, moments *portfolio.Moments, realized []float64, date time.Time) {
	if l.halted {
		return
	}

	subLog := log.With().Str("Strategy", string(l.strat.Kind)).Time("Period", date).Logger()

	w, err := l.strat.Solve(moments, l.prev)
	if err != nil {
		subLog.Warn().Err(err).Msg("solve failed for period")
		l.perf.AppendFailure(date, err)

		if b.OnError == HaltStrategy {
			l.halted = true
			return
		}

		// skip: holdings stay in place and drift with the market
		drifted, derr := portfolio.Drift(l.prev, realized)
		if derr != nil {
			subLog.Error().Stack().Err(derr).Msg("could not drift held weights")
			l.perf.AppendFailure(date, derr)
			l.halted = true
			return
		}
		l.prev = drifted
		return
	}

	raw, turnover, net := portfolio.Evaluate(w, l.prev, realized, l.strat.CostRate())
	l.perf.Append(date, raw, turnover, net)

	// drift uses the same (w, realized) pair that scored the period
	drifted, err := portfolio.Drift(w, realized)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not drift chosen weights")
		l.perf.AppendFailure(date, err)
		l.halted = true
		return
	}
	l.prev = drifted
}

// Summaries computes summary statistics for every strategy's record
func (b *Backtest) Summaries(periodsPerYear float64) map[portfolio.Kind]*portfolio.Summary {
	summaries := make(map[portfolio.Kind]*portfolio.Summary, len(b.Results))
	for kind, perf := range b.Results {
		summaries[kind] = perf.Summarize(periodsPerYear)
	}
	return summaries
}
