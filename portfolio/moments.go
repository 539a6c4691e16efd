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
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/penny-vault/pv-optimize/panel"
)

// Moments holds the sample estimates for a trailing window of returns.
// No shrinkage or outlier handling is applied; when the window is shorter
// than the asset count the covariance matrix is rank deficient and solvers
// that factorize it fail with ErrSingularMatrix.
type Moments struct {
	Assets []string
	Mean   []float64
	Cov    *mat.SymDense
}

// EstimateMoments computes the sample mean vector and sample covariance
// matrix from a trailing window of the return panel.
func EstimateMoments(window *panel.ReturnPanel) *Moments {
	nPeriods := window.Len()
	nAssets := window.AssetCount()

	x := mat.NewDense(nPeriods, nAssets, nil)
	mean := make([]float64, nAssets)
	for colIdx, col := range window.Vals {
		mean[colIdx] = stat.Mean(col, nil)
		for rowIdx, v := range col {
			x.Set(rowIdx, colIdx, v)
		}
	}

	cov := mat.NewSymDense(nAssets, nil)
	stat.CovarianceMatrix(cov, x, nil)

	return &Moments{
		Assets: window.Assets,
		Mean:   mean,
		Cov:    cov,
	}
}
