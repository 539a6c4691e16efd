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

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

var (
	ErrDidNotConverge = errors.New("did not converge")
)

// NumericalSolver minimizes the mean-variance objective
//
//	f(w) = -w'mu + (gamma/2) w'Sigma w [+ (beta/2) |w - w0|_1]
//
// subject to 1'w = 1 and the configured inequality constraints. Constraints
// are enforced with a quadratic-penalty outer loop around L-BFGS; absolute
// values are smoothed so the objective stays differentiable. The result is
// a local optimum from the given start, feasible to solver tolerance.
type NumericalSolver struct {
	// Gamma is the risk-aversion coefficient; must be > 0
	Gamma float64

	// Beta scales the L1 transaction-cost penalty when L1Cost is set.
	// Expressed as a fraction, not basis points.
	Beta float64

	// LongOnly adds the no-short-sale constraint w >= 0
	LongOnly bool

	// LeverageCap caps the gross exposure |w|_1; 0 disables the cap
	LeverageCap float64

	// L1Cost replaces the quadratic trading penalty with an L1 penalty on
	// the distance to the pre-rebalance weights
	L1Cost bool
}

const (
	maxMajorIterations = 1000
	penaltyRounds      = 4
	initialPenalty     = 1e4
	penaltyGrowth      = 100.0
	smoothingEps       = 1e-10
	equalityTol        = 1e-6
	inequalityTol      = 1e-6
)

// smoothAbs approximates |x| with a differentiable function
func smoothAbs(x float64) float64 {
	return math.Sqrt(x*x + smoothingEps)
}

func smoothAbsGrad(x float64) float64 {
	return x / smoothAbs(x)
}

// Solve starts from the pre-rebalance weights and returns weights feasible
// to solver tolerance. When the penalty loop cannot reach feasibility the
// error is ErrDidNotConverge; a non-converged iterate is never returned as
// if it were a solution.
func (s *NumericalSolver) Solve(mu []float64, cov *mat.SymDense, prev []float64) ([]float64, error) {
	n := len(prev)

	x := make([]float64, n)
	copy(x, prev)

	covTimes := func(w []float64) []float64 {
		var dst mat.VecDense
		dst.MulVec(cov, mat.NewVecDense(n, w))
		return dst.RawVector().Data
	}

	rho := initialPenalty
	for round := 0; round < penaltyRounds; round++ {
		problem := optimize.Problem{
			Func: func(w []float64) float64 {
				sw := covTimes(w)
				f := -floats.Dot(w, mu) + 0.5*s.Gamma*floats.Dot(w, sw)

				if s.L1Cost {
					for i := range w {
						f += 0.5 * s.Beta * smoothAbs(w[i]-prev[i])
					}
				}

				g := floats.Sum(w) - 1
				f += rho * g * g

				if s.LongOnly {
					for _, wi := range w {
						if wi < 0 {
							f += rho * wi * wi
						}
					}
				}

				if s.LeverageCap > 0 {
					lev := -s.LeverageCap
					for _, wi := range w {
						lev += smoothAbs(wi)
					}
					if lev > 0 {
						f += rho * lev * lev
					}
				}

				return f
			},
			Grad: func(grad, w []float64) {
				sw := covTimes(w)
				for i := range grad {
					grad[i] = -mu[i] + s.Gamma*sw[i]
				}

				if s.L1Cost {
					for i := range grad {
						grad[i] += 0.5 * s.Beta * smoothAbsGrad(w[i]-prev[i])
					}
				}

				g := floats.Sum(w) - 1
				for i := range grad {
					grad[i] += 2 * rho * g
				}

				if s.LongOnly {
					for i, wi := range w {
						if wi < 0 {
							grad[i] += 2 * rho * wi
						}
					}
				}

				if s.LeverageCap > 0 {
					lev := -s.LeverageCap
					for _, wi := range w {
						lev += smoothAbs(wi)
					}
					if lev > 0 {
						for i, wi := range w {
							grad[i] += 2 * rho * lev * smoothAbsGrad(wi)
						}
					}
				}
			},
		}

		settings := &optimize.Settings{
			MajorIterations: maxMajorIterations,
		}

		result, _ := optimize.Minimize(problem, x, settings, &optimize.LBFGS{})
		if result == nil {
			return nil, ErrDidNotConverge
		}
		copy(x, result.X)

		if s.feasible(x) {
			break
		}

		rho *= penaltyGrowth
	}

	if !s.feasible(x) {
		return nil, ErrDidNotConverge
	}

	// the budget constraint held to tolerance; scale out the residual so
	// downstream bookkeeping sees weights that sum to one exactly
	total := floats.Sum(x)
	for i := range x {
		x[i] /= total
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) {
			return nil, ErrNonFinite
		}
	}

	return x, nil
}

func (s *NumericalSolver) feasible(w []float64) bool {
	if math.Abs(floats.Sum(w)-1) > equalityTol {
		return false
	}

	if s.LongOnly {
		for _, wi := range w {
			if wi < -inequalityTol {
				return false
			}
		}
	}

	if s.LeverageCap > 0 {
		gross := 0.0
		for _, wi := range w {
			gross += math.Abs(wi)
		}
		if gross > s.LeverageCap+inequalityTol {
			return false
		}
	}

	return true
}
