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

package portfolio

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrDegenerateDrift = errors.New("drifted portfolio value is not positive")
)

// Measurement records one out-of-sample period for one strategy. Once
// appended to a Performance it is never mutated.
type Measurement struct {
	Time time.Time `json:"time"`

	// RawReturn is the realized portfolio return before trading costs
	RawReturn float64 `json:"rawReturn"`

	// Turnover is the L1 distance between the chosen weights and the
	// pre-rebalance weights
	Turnover float64 `json:"turnover"`

	// NetReturn is RawReturn less the cost of the period's turnover
	NetReturn float64 `json:"netReturn"`
}

// Failure records a (period, strategy) pair whose solve failed; failed
// periods are flagged rather than silently omitted.
type Failure struct {
	Time  time.Time `json:"time"`
	Error string    `json:"error"`
}

// Performance accumulates a strategy's out-of-sample record
type Performance struct {
	RunID        uuid.UUID      `json:"runId"`
	Strategy     Kind           `json:"strategy"`
	ComputedOn   time.Time      `json:"computedOn"`
	Measurements []*Measurement `json:"measurements"`
	Failures     []*Failure     `json:"failures"`
}

// Summary holds derived statistics over a performance record. Returns are
// net of trading costs. SharpeRatio is NaN when the mean net return is not
// positive.
type Summary struct {
	Periods          int     `json:"periods"`
	FailedPeriods    int     `json:"failedPeriods"`
	AnnualizedReturn float64 `json:"annualizedReturn"`
	AnnualizedStdDev float64 `json:"annualizedStdDev"`
	SharpeRatio      float64 `json:"sharpeRatio"`
	MeanTurnover     float64 `json:"meanTurnover"`
}

// NewPerformance creates an empty performance record for a strategy
func NewPerformance(kind Kind) *Performance {
	return &Performance{
		RunID:        uuid.New(),
		Strategy:     kind,
		ComputedOn:   time.Now(),
		Measurements: make([]*Measurement, 0, 360),
		Failures:     make([]*Failure, 0),
	}
}

// Drift applies one period of price movement to the weight vector:
//
//	w+ = (w o (1+r)) / (1' (w o (1+r)))
//
// It is pure and must be applied exactly once per period with the same
// (w, r) pair that scored the period.
func Drift(w, r []float64) ([]float64, error) {
	drifted := make([]float64, len(w))
	total := 0.0
	for i := range w {
		drifted[i] = w[i] * (1 + r[i])
		total += drifted[i]
	}

	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, ErrDegenerateDrift
	}

	for i := range drifted {
		drifted[i] /= total
	}
	return drifted, nil
}

// Evaluate scores one period: the raw return of the chosen weights, the
// turnover against the pre-rebalance weights, and the net return after
// charging costRate (a fraction) per unit of turnover. Net return never
// exceeds raw return when costRate >= 0.
func Evaluate(w, prev, r []float64, costRate float64) (raw, turnover, net float64) {
	raw = floats.Dot(r, w)
	turnover = floats.Distance(w, prev, 1)
	net = raw - costRate*turnover
	return
}

// Append records one successfully scored period
func (perf *Performance) Append(t time.Time, raw, turnover, net float64) {
	perf.Measurements = append(perf.Measurements, &Measurement{
		Time:      t,
		RawReturn: raw,
		Turnover:  turnover,
		NetReturn: net,
	})
}

// AppendFailure flags a period whose solve failed
func (perf *Performance) AppendFailure(t time.Time, err error) {
	perf.Failures = append(perf.Failures, &Failure{
		Time:  t,
		Error: err.Error(),
	})
}

// Summarize computes summary statistics over the record. periodsPerYear is
// the annualization factor (12 for monthly panels).
func (perf *Performance) Summarize(periodsPerYear float64) *Summary {
	summary := &Summary{
		Periods:          len(perf.Measurements),
		FailedPeriods:    len(perf.Failures),
		AnnualizedReturn: math.NaN(),
		AnnualizedStdDev: math.NaN(),
		SharpeRatio:      math.NaN(),
		MeanTurnover:     math.NaN(),
	}

	if len(perf.Measurements) == 0 {
		return summary
	}

	net := make([]float64, len(perf.Measurements))
	turnover := make([]float64, len(perf.Measurements))
	for idx, meas := range perf.Measurements {
		net[idx] = meas.NetReturn
		turnover[idx] = meas.Turnover
	}

	mean, stdev := stat.MeanStdDev(net, nil)
	summary.AnnualizedReturn = mean * periodsPerYear
	summary.AnnualizedStdDev = stdev * math.Sqrt(periodsPerYear)
	summary.MeanTurnover = stat.Mean(turnover, nil)

	// Sharpe is undefined for non-positive mean returns
	if mean > 0 && summary.AnnualizedStdDev > 0 {
		summary.SharpeRatio = summary.AnnualizedReturn / summary.AnnualizedStdDev
	}

	return summary
}
