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

package portfolio_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-optimize/panel"
	"github.com/penny-vault/pv-optimize/portfolio"
)

var _ = Describe("EstimateMoments", func() {
	Context("with a small window of known values", func() {
		var window *panel.ReturnPanel

		BeforeEach(func() {
			dates := make([]time.Time, 3)
			dt := time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)
			for idx := range dates {
				dates[idx] = dt
				dt = dt.AddDate(0, 1, 0)
			}

			window = &panel.ReturnPanel{
				Dates:  dates,
				Assets: []string{"A", "B"},
				Vals: [][]float64{
					{0.01, 0.02, 0.03},
					{0.02, 0.00, 0.04},
				},
			}
		})

		It("computes the sample mean", func() {
			moments := portfolio.EstimateMoments(window)
			Expect(moments.Mean[0]).To(BeNumerically("~", 0.02, 1e-12))
			Expect(moments.Mean[1]).To(BeNumerically("~", 0.02, 1e-12))
		})

		It("computes the sample covariance", func() {
			moments := portfolio.EstimateMoments(window)
			Expect(moments.Cov.At(0, 0)).To(BeNumerically("~", 1e-4, 1e-12))
			Expect(moments.Cov.At(1, 1)).To(BeNumerically("~", 4e-4, 1e-12))
			Expect(moments.Cov.At(0, 1)).To(BeNumerically("~", 1e-4, 1e-12))
		})

		It("produces a symmetric covariance matrix", func() {
			moments := portfolio.EstimateMoments(window)
			Expect(moments.Cov.At(0, 1)).To(Equal(moments.Cov.At(1, 0)))
		})
	})

	Context("when the window is shorter than the asset count", func() {
		It("produces a covariance matrix that analytic solvers reject", func() {
			dates := []time.Time{
				time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC),
				time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC),
			}
			window := &panel.ReturnPanel{
				Dates:  dates,
				Assets: []string{"A", "B", "C"},
				Vals: [][]float64{
					{0.01, 0.02},
					{0.02, 0.00},
					{0.00, 0.03},
				},
			}

			moments := portfolio.EstimateMoments(window)
			solver := &portfolio.AnalyticSolver{Gamma: 2}
			_, err := solver.Solve(moments.Mean, moments.Cov, equalWeights(3))
			Expect(err).To(MatchError(portfolio.ErrSingularMatrix))
		})
	})
})
