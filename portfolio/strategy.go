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
	"fmt"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrUnknownStrategy = errors.New("strategy not found")
	ErrInvalidArgument = errors.New("invalid strategy argument")
)

// Kind identifies one of the named strategy configurations. The set is
// closed: each kind maps to a solver with a fixed constraint set instead of
// threading booleans through a generic optimizer call.
type Kind string

const (
	Analytic          Kind = "mv"
	AnalyticWithCosts Kind = "mv-tc"
	NoShortSale       Kind = "mv-long"
	LeverageCapped    Kind = "mv-lev"
	L1Cost            Kind = "mv-l1"
	EqualWeight       Kind = "naive"
)

// Solver computes portfolio weights from return moments and the
// pre-rebalance weight vector
type Solver interface {
	Solve(mu []float64, cov *mat.SymDense, prev []float64) ([]float64, error)
}

// Strategy is a named, fully configured weight policy
type Strategy struct {
	Kind        Kind
	Name        string
	Gamma       float64
	CostBps     float64
	LeverageCap float64

	// ZeroMean replaces the estimated mean with the zero vector, which
	// isolates variance minimization
	ZeroMean bool

	costRate float64
	solver   Solver
}

// Argument describes one strategy parameter
type Argument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Typecode    string `json:"typecode"`
	Default     string `json:"default"`
}

// Info describes a strategy kind for discovery APIs
type Info struct {
	Name        string              `json:"name"`
	Shortcode   string              `json:"shortcode"`
	Description string              `json:"description"`
	Arguments   map[string]Argument `json:"arguments"`
}

var commonArguments = map[string]Argument{
	"gamma": {
		Name:        "Risk aversion",
		Description: "Penalty applied to portfolio variance; higher values produce more conservative portfolios",
		Typecode:    "number",
		Default:     "4",
	},
	"cost_bps": {
		Name:        "Transaction cost",
		Description: "Cost per unit of turnover in basis points",
		Typecode:    "number",
		Default:     "0",
	},
	"zero_mean": {
		Name:        "Zero expected returns",
		Description: "Ignore the estimated mean and target the minimum-variance portfolio",
		Typecode:    "boolean",
		Default:     "false",
	},
}

// InfoMap describes all registered strategy kinds
var InfoMap = map[Kind]Info{
	Analytic: {
		Name:        "Mean-Variance Efficient",
		Shortcode:   string(Analytic),
		Description: "Closed-form mean-variance efficient portfolio, short sales allowed",
		Arguments:   commonArguments,
	},
	AnalyticWithCosts: {
		Name:        "Mean-Variance with Trading Costs",
		Shortcode:   string(AnalyticWithCosts),
		Description: "Closed-form efficient portfolio with a quadratic penalty on trading away from current holdings",
		Arguments:   commonArguments,
	},
	NoShortSale: {
		Name:        "Long-Only Mean-Variance",
		Shortcode:   string(NoShortSale),
		Description: "Numerically optimized efficient portfolio with the no-short-sale constraint",
		Arguments:   commonArguments,
	},
	LeverageCapped: {
		Name:        "Leverage-Capped Mean-Variance",
		Shortcode:   string(LeverageCapped),
		Description: "Numerically optimized efficient portfolio with gross exposure capped",
		Arguments: mergeArguments(commonArguments, map[string]Argument{
			"leverage_cap": {
				Name:        "Leverage cap",
				Description: "Maximum allowed sum of absolute weights",
				Typecode:    "number",
				Default:     "2",
			},
		}),
	},
	L1Cost: {
		Name:        "Mean-Variance with L1 Trading Costs",
		Shortcode:   string(L1Cost),
		Description: "Numerically optimized efficient portfolio with proportional (L1) trading costs in the objective",
		Arguments:   commonArguments,
	},
	EqualWeight: {
		Name:        "Equal Weight",
		Shortcode:   string(EqualWeight),
		Description: "Naive 1/N benchmark, rebalanced every period",
		Arguments: map[string]Argument{
			"cost_bps": commonArguments["cost_bps"],
		},
	},
}

// InfoList enumerates strategy descriptors in a stable order
func InfoList() []Info {
	kinds := []Kind{Analytic, AnalyticWithCosts, NoShortSale, LeverageCapped, L1Cost, EqualWeight}
	list := make([]Info, 0, len(kinds))
	for _, k := range kinds {
		list = append(list, InfoMap[k])
	}
	return list
}

func mergeArguments(base, extra map[string]Argument) map[string]Argument {
	merged := make(map[string]Argument, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// NewStrategy builds a strategy of the given kind from JSON arguments. The
// transaction-cost parameter is taken in basis points and converted to a
// fraction exactly once, here; the same rate feeds the solver objective and
// the performance evaluator.
func NewStrategy(kind Kind, args map[string]json.RawMessage) (*Strategy, error) {
	info, ok := InfoMap[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, kind)
	}

	gamma, err := floatArg(args, "gamma", 4)
	if err != nil {
		return nil, err
	}
	if gamma <= 0 {
		return nil, fmt.Errorf("%w: gamma must be > 0, got %f", ErrInvalidArgument, gamma)
	}

	costBps, err := floatArg(args, "cost_bps", 0)
	if err != nil {
		return nil, err
	}
	if costBps < 0 {
		return nil, fmt.Errorf("%w: cost_bps must be >= 0, got %f", ErrInvalidArgument, costBps)
	}

	leverageCap, err := floatArg(args, "leverage_cap", 2)
	if err != nil {
		return nil, err
	}
	if kind == LeverageCapped && leverageCap < 1 {
		return nil, fmt.Errorf("%w: leverage_cap must be >= 1, got %f", ErrInvalidArgument, leverageCap)
	}

	zeroMean, err := boolArg(args, "zero_mean", false)
	if err != nil {
		return nil, err
	}

	strat := &Strategy{
		Kind:        kind,
		Name:        info.Name,
		Gamma:       gamma,
		CostBps:     costBps,
		LeverageCap: leverageCap,
		ZeroMean:    zeroMean,
		costRate:    costBps / 10_000,
	}

	switch kind {
	case Analytic:
		strat.solver = &AnalyticSolver{Gamma: gamma}
	case AnalyticWithCosts:
		strat.solver = &AnalyticSolver{Gamma: gamma, Beta: strat.costRate}
	case NoShortSale:
		strat.solver = &NumericalSolver{Gamma: gamma, LongOnly: true}
	case LeverageCapped:
		strat.solver = &NumericalSolver{Gamma: gamma, LeverageCap: leverageCap}
	case L1Cost:
		strat.solver = &NumericalSolver{Gamma: gamma, Beta: strat.costRate, L1Cost: true}
	case EqualWeight:
		strat.solver = &equalWeightSolver{}
	}

	return strat, nil
}

// Solve computes the strategy's weights for the current window
func (strat *Strategy) Solve(moments *Moments, prev []float64) ([]float64, error) {
	mu := moments.Mean
	if strat.ZeroMean {
		mu = make([]float64, len(moments.Mean))
	}
	return strat.solver.Solve(mu, moments.Cov, prev)
}

// CostRate returns the per-unit-turnover cost as a fraction
func (strat *Strategy) CostRate() float64 {
	return strat.costRate
}

type equalWeightSolver struct{}

func (s *equalWeightSolver) Solve(_ []float64, _ *mat.SymDense, prev []float64) ([]float64, error) {
	n := len(prev)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w, nil
}

func floatArg(args map[string]json.RawMessage, name string, def float64) (float64, error) {
	raw, ok := args[name]
	if !ok {
		return def, nil
	}
	var val float64
	if err := json.Unmarshal(raw, &val); err != nil {
		return 0, fmt.Errorf("%w: %s: %s", ErrInvalidArgument, name, err)
	}
	return val, nil
}

func boolArg(args map[string]json.RawMessage, name string, def bool) (bool, error) {
	raw, ok := args[name]
	if !ok {
		return def, nil
	}
	var val bool
	if err := json.Unmarshal(raw, &val); err != nil {
		return false, fmt.Errorf("%w: %s: %s", ErrInvalidArgument, name, err)
	}
	return val, nil
}
