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

	"gonum.org/v1/gonum/mat"
)

var (
	ErrSingularMatrix = errors.New("covariance matrix is singular")
	ErrNonFinite      = errors.New("solver produced a non-finite weight vector")
)

// AnalyticSolver computes the mean-variance efficient portfolio in closed
// form. When Beta > 0 the covariance matrix is ridged by beta/gamma and the
// expected returns shifted by beta*w0, which penalizes trading away from
// the pre-rebalance weights. With Beta = 0 this is the textbook efficient
// portfolio; with Beta = 0 and a zero mean vector it reduces to the global
// minimum-variance portfolio.
type AnalyticSolver struct {
	// Gamma is the risk-aversion coefficient; must be > 0
	Gamma float64

	// Beta scales the quadratic transaction-cost penalty; must be >= 0.
	// Expressed as a fraction, not basis points.
	Beta float64
}

// Solve returns weights that sum to one by construction. prev is the
// pre-rebalance weight vector. Fails with ErrSingularMatrix when the ridged
// covariance matrix cannot be factorized; the caller must never proceed
// with weights from a failed solve.
func (s *AnalyticSolver) Solve(mu []float64, cov *mat.SymDense, prev []float64) ([]float64, error) {
	n := len(prev)

	sigmaStar := mat.NewSymDense(n, nil)
	sigmaStar.CopySym(cov)
	if s.Beta > 0 {
		ridge := s.Beta / s.Gamma
		for i := 0; i < n; i++ {
			sigmaStar.SetSym(i, i, sigmaStar.At(i, i)+ridge)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sigmaStar); !ok {
		return nil, ErrSingularMatrix
	}

	onesData := make([]float64, n)
	for i := range onesData {
		onesData[i] = 1
	}
	ones := mat.NewVecDense(n, onesData)

	// a = SigmaStar^-1 * 1; c = 1' * a
	var a mat.VecDense
	if err := chol.SolveVecTo(&a, ones); err != nil {
		return nil, ErrSingularMatrix
	}
	c := mat.Dot(ones, &a)
	if c == 0 || math.IsNaN(c) || math.IsInf(c, 0) {
		return nil, ErrSingularMatrix
	}

	// muStar = mu + beta * w0
	muStarData := make([]float64, n)
	for i := range muStarData {
		muStarData[i] = mu[i] + s.Beta*prev[i]
	}
	muStar := mat.NewVecDense(n, muStarData)

	// b = SigmaStar^-1 * muStar
	var b mat.VecDense
	if err := chol.SolveVecTo(&b, muStar); err != nil {
		return nil, ErrSingularMatrix
	}
	bSum := mat.Dot(ones, &b)

	// w = a/c + (1/gamma) * (b - a * (1'b)/c)
	// the second term has zero net exposure, so w sums to one regardless
	// of muStar, gamma, and beta
	w := make([]float64, n)
	for i := range w {
		w[i] = a.AtVec(i)/c + (b.AtVec(i)-a.AtVec(i)*bSum/c)/s.Gamma
		if math.IsNaN(w[i]) || math.IsInf(w[i], 0) {
			return nil, ErrNonFinite
		}
	}

	return w, nil
}
