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
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-optimize/portfolio"
)

var _ = Describe("Drift", func() {
	Context("with zero returns", func() {
		It("returns the weights unchanged", func() {
			w := []float64{0.5, 0.3, 0.2}
			drifted, err := portfolio.Drift(w, []float64{0, 0, 0})
			Expect(err).To(BeNil())
			for i := range w {
				Expect(drifted[i]).To(BeNumerically("~", w[i], 1e-12))
			}
		})
	})

	Context("with differential returns", func() {
		It("renormalizes by the portfolio's gross growth", func() {
			w := []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
			r := []float64{0.01, 0.02, -0.01}

			drifted, err := portfolio.Drift(w, r)
			Expect(err).To(BeNil())
			// (1.01, 1.02, 0.99) / 3.02
			Expect(drifted[0]).To(BeNumerically("~", 0.3344, 1e-4))
			Expect(drifted[1]).To(BeNumerically("~", 0.3377, 1e-4))
			Expect(drifted[2]).To(BeNumerically("~", 0.3278, 1e-4))
		})

		It("always sums to one", func() {
			w := []float64{0.8, -0.3, 0.5}
			r := []float64{0.05, -0.10, 0.02}

			drifted, err := portfolio.Drift(w, r)
			Expect(err).To(BeNil())
			total := 0.0
			for _, wi := range drifted {
				total += wi
			}
			Expect(total).To(BeNumerically("~", 1.0, 1e-12))
		})
	})

	Context("when the portfolio is wiped out", func() {
		It("fails with ErrDegenerateDrift", func() {
			_, err := portfolio.Drift([]float64{1.0}, []float64{-1.0})
			Expect(err).To(MatchError(portfolio.ErrDegenerateDrift))
		})
	})
})

var _ = Describe("Evaluate", func() {
	It("computes the raw return as the weighted realized return", func() {
		raw, _, _ := portfolio.Evaluate([]float64{0.6, 0.4}, []float64{0.5, 0.5}, []float64{0.10, -0.05}, 0)
		Expect(raw).To(BeNumerically("~", 0.04, 1e-12))
	})

	It("computes turnover as the L1 distance to the pre-rebalance weights", func() {
		_, turnover, _ := portfolio.Evaluate([]float64{0.6, 0.4}, []float64{0.5, 0.5}, []float64{0, 0}, 0)
		Expect(turnover).To(BeNumerically("~", 0.2, 1e-12))
	})

	It("is symmetric in turnover", func() {
		w := []float64{0.7, 0.3}
		prev := []float64{0.2, 0.8}
		_, t1, _ := portfolio.Evaluate(w, prev, []float64{0, 0}, 0)
		_, t2, _ := portfolio.Evaluate(prev, w, []float64{0, 0}, 0)
		Expect(t1).To(BeNumerically("~", t2, 1e-12))
	})

	It("never reports a net return above the raw return for non-negative costs", func() {
		for _, costRate := range []float64{0, 0.0005, 0.0025, 0.01} {
			raw, turnover, net := portfolio.Evaluate([]float64{0.6, 0.4}, []float64{0.5, 0.5}, []float64{0.10, -0.05}, costRate)
			Expect(net).To(BeNumerically("<=", raw))
			if costRate == 0 || turnover == 0 {
				Expect(net).To(Equal(raw))
			} else {
				Expect(net).To(BeNumerically("<", raw))
			}
		}
	})

	It("charges nothing when there is no trading", func() {
		w := []float64{0.5, 0.5}
		raw, turnover, net := portfolio.Evaluate(w, w, []float64{0.02, 0.03}, 0.0025)
		Expect(turnover).To(Equal(0.0))
		Expect(net).To(Equal(raw))
	})
})

var _ = Describe("Performance", func() {
	var perf *portfolio.Performance

	BeforeEach(func() {
		perf = portfolio.NewPerformance(portfolio.Analytic)
	})

	Context("with a positive mean return", func() {
		BeforeEach(func() {
			dt := time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)
			for _, net := range []float64{0.01, 0.02, -0.005, 0.015} {
				perf.Append(dt, net, 0.1, net)
				dt = dt.AddDate(0, 1, 0)
			}
		})

		It("annualizes the mean and standard deviation", func() {
			summary := perf.Summarize(12)
			Expect(summary.Periods).To(Equal(4))
			Expect(summary.AnnualizedReturn).To(BeNumerically("~", 0.01*12, 1e-9))
			Expect(summary.MeanTurnover).To(BeNumerically("~", 0.1, 1e-12))
			Expect(summary.AnnualizedStdDev).To(BeNumerically(">", 0))
		})

		It("reports a finite Sharpe ratio", func() {
			summary := perf.Summarize(12)
			Expect(math.IsNaN(summary.SharpeRatio)).To(BeFalse())
			Expect(summary.SharpeRatio).To(BeNumerically("~", summary.AnnualizedReturn/summary.AnnualizedStdDev, 1e-12))
		})
	})

	Context("with a negative mean return", func() {
		It("reports the Sharpe ratio as undefined", func() {
			dt := time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)
			for _, net := range []float64{-0.01, -0.02, 0.005} {
				perf.Append(dt, net, 0.1, net)
				dt = dt.AddDate(0, 1, 0)
			}

			summary := perf.Summarize(12)
			Expect(math.IsNaN(summary.SharpeRatio)).To(BeTrue())
		})
	})

	Context("with no measurements", func() {
		It("reports NaN statistics and zero periods", func() {
			summary := perf.Summarize(12)
			Expect(summary.Periods).To(Equal(0))
			Expect(math.IsNaN(summary.AnnualizedReturn)).To(BeTrue())
			Expect(math.IsNaN(summary.SharpeRatio)).To(BeTrue())
		})
	})

	Context("with failures", func() {
		It("counts the failed periods", func() {
			perf.AppendFailure(time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC), portfolio.ErrSingularMatrix)
			summary := perf.Summarize(12)
			Expect(summary.FailedPeriods).To(Equal(1))
		})
	})
})
