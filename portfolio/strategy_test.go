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
	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/penny-vault/pv-optimize/portfolio"
)

var _ = Describe("NewStrategy", func() {
	Context("with defaults", func() {
		It("builds every registered kind", func() {
			for _, info := range portfolio.InfoList() {
				strat, err := portfolio.NewStrategy(portfolio.Kind(info.Shortcode), nil)
				Expect(err).To(BeNil())
				Expect(strat.Kind).To(Equal(portfolio.Kind(info.Shortcode)))
			}
		})

		It("uses a zero cost rate", func() {
			strat, err := portfolio.NewStrategy(portfolio.Analytic, nil)
			Expect(err).To(BeNil())
			Expect(strat.CostRate()).To(Equal(0.0))
		})
	})

	Context("with arguments", func() {
		It("converts basis points to a fraction exactly once", func() {
			strat, err := portfolio.NewStrategy(portfolio.AnalyticWithCosts, map[string]json.RawMessage{
				"cost_bps": json.RawMessage("25"),
			})
			Expect(err).To(BeNil())
			Expect(strat.CostRate()).To(BeNumerically("~", 0.0025, 1e-15))
		})

		It("honors zero_mean", func() {
			strat, err := portfolio.NewStrategy(portfolio.Analytic, map[string]json.RawMessage{
				"zero_mean": json.RawMessage("true"),
			})
			Expect(err).To(BeNil())

			cov := mat.NewSymDense(2, []float64{
				0.04, 0,
				0, 0.09,
			})
			moments := &portfolio.Moments{
				Assets: []string{"A", "B"},
				Mean:   []float64{0.5, -0.5}, // ignored
				Cov:    cov,
			}

			w, err := strat.Solve(moments, equalWeights(2))
			Expect(err).To(BeNil())
			Expect(w[0]).To(BeNumerically("~", 0.6923, 1e-4))
			Expect(w[1]).To(BeNumerically("~", 0.3077, 1e-4))
		})
	})

	Context("with invalid input", func() {
		It("rejects an unknown kind", func() {
			_, err := portfolio.NewStrategy("momentum", nil)
			Expect(err).To(MatchError(portfolio.ErrUnknownStrategy))
		})

		It("rejects a non-positive gamma", func() {
			_, err := portfolio.NewStrategy(portfolio.Analytic, map[string]json.RawMessage{
				"gamma": json.RawMessage("0"),
			})
			Expect(err).To(MatchError(portfolio.ErrInvalidArgument))
		})

		It("rejects a negative cost", func() {
			_, err := portfolio.NewStrategy(portfolio.Analytic, map[string]json.RawMessage{
				"cost_bps": json.RawMessage("-5"),
			})
			Expect(err).To(MatchError(portfolio.ErrInvalidArgument))
		})

		It("rejects a leverage cap below one", func() {
			_, err := portfolio.NewStrategy(portfolio.LeverageCapped, map[string]json.RawMessage{
				"leverage_cap": json.RawMessage("0.5"),
			})
			Expect(err).To(MatchError(portfolio.ErrInvalidArgument))
		})

		It("rejects malformed argument values", func() {
			_, err := portfolio.NewStrategy(portfolio.Analytic, map[string]json.RawMessage{
				"gamma": json.RawMessage(`"high"`),
			})
			Expect(err).To(MatchError(portfolio.ErrInvalidArgument))
		})
	})

	Context("equal weight", func() {
		It("always returns 1/N", func() {
			strat, err := portfolio.NewStrategy(portfolio.EqualWeight, nil)
			Expect(err).To(BeNil())

			cov := mat.NewSymDense(2, []float64{
				0.04, 0,
				0, 0.09,
			})
			moments := &portfolio.Moments{Assets: []string{"A", "B"}, Mean: []float64{0.3, -0.3}, Cov: cov}

			w, err := strat.Solve(moments, []float64{0.9, 0.1})
			Expect(err).To(BeNil())
			Expect(w).To(Equal([]float64{0.5, 0.5}))
		})
	})
})
