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

package backtest_test

import (
	"context"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-optimize/backtest"
	"github.com/penny-vault/pv-optimize/panel"
	"github.com/penny-vault/pv-optimize/portfolio"
)

// testPanel builds a deterministic return panel of nAssets assets over
// nPeriods monthly periods
func testPanel(nAssets, nPeriods int, seed int64) *panel.ReturnPanel {
	rng := rand.New(rand.NewSource(seed))

	dates := make([]time.Time, nPeriods)
	dt := time.Date(2010, 1, 31, 0, 0, 0, 0, time.UTC)
	for idx := range dates {
		dates[idx] = dt
		dt = dt.AddDate(0, 1, 0)
	}

	assets := make([]string, nAssets)
	vals := make([][]float64, nAssets)
	for col := range vals {
		assets[col] = string(rune('A' + col))
		vals[col] = make([]float64, nPeriods)
		for row := range vals[col] {
			vals[col][row] = 0.005 + 0.02*rng.NormFloat64()
		}
	}

	return &panel.ReturnPanel{Dates: dates, Assets: assets, Vals: vals}
}

func mustStrategy(kind portfolio.Kind) *portfolio.Strategy {
	strat, err := portfolio.NewStrategy(kind, nil)
	Expect(err).To(BeNil())
	return strat
}

var _ = Describe("New", func() {
	var p *panel.ReturnPanel

	BeforeEach(func() {
		p = testPanel(3, 48, 42)
	})

	It("rejects an empty strategy list", func() {
		_, err := backtest.New(p, 24, nil, backtest.SkipPeriod)
		Expect(err).To(MatchError(backtest.ErrNoStrategies))
	})

	It("rejects duplicate strategy kinds", func() {
		strategies := []*portfolio.Strategy{
			mustStrategy(portfolio.Analytic),
			mustStrategy(portfolio.Analytic),
		}
		_, err := backtest.New(p, 24, strategies, backtest.SkipPeriod)
		Expect(err).To(MatchError(backtest.ErrDuplicateStrategy))
	})

	It("rejects a window as long as the panel", func() {
		strategies := []*portfolio.Strategy{mustStrategy(portfolio.Analytic)}
		_, err := backtest.New(p, 48, strategies, backtest.SkipPeriod)
		Expect(err).To(MatchError(backtest.ErrWindowTooLong))
	})

	It("rejects an invalid panel", func() {
		bad := p.Copy()
		bad.Vals[0] = bad.Vals[0][:10]
		strategies := []*portfolio.Strategy{mustStrategy(portfolio.Analytic)}
		_, err := backtest.New(bad, 24, strategies, backtest.SkipPeriod)
		Expect(err).To(MatchError(panel.ErrShapeMismatch))
	})

	It("rejects an unrecognized error policy", func() {
		strategies := []*portfolio.Strategy{mustStrategy(portfolio.Analytic)}
		_, err := backtest.New(p, 24, strategies, backtest.ErrorPolicy("retry"))
		Expect(err).ToNot(BeNil())
	})

	It("defaults the error policy to skip", func() {
		strategies := []*portfolio.Strategy{mustStrategy(portfolio.Analytic)}
		bt, err := backtest.New(p, 24, strategies, "")
		Expect(err).To(BeNil())
		Expect(bt.OnError).To(Equal(backtest.SkipPeriod))
	})
})

var _ = Describe("Run", func() {
	Context("with a healthy panel", func() {
		var (
			p  *panel.ReturnPanel
			bt *backtest.Backtest
		)

		BeforeEach(func() {
			p = testPanel(3, 60, 42)
			strategies := []*portfolio.Strategy{
				mustStrategy(portfolio.Analytic),
				mustStrategy(portfolio.EqualWeight),
			}

			var err error
			bt, err = backtest.New(p, 36, strategies, backtest.SkipPeriod)
			Expect(err).To(BeNil())
			Expect(bt.Run(context.Background())).To(Succeed())
		})

		It("scores exactly len - window periods per strategy", func() {
			for _, perf := range bt.Results {
				Expect(len(perf.Measurements) + len(perf.Failures)).To(Equal(60 - 36))
			}
		})

		It("starts every lane from equal weights", func() {
			// the naive strategy re-chooses 1/N, so its first period
			// requires no trading
			naive := bt.Results[portfolio.EqualWeight]
			Expect(naive.Measurements[0].Turnover).To(BeNumerically("~", 0, 1e-12))
		})

		It("computes summaries for every strategy", func() {
			summaries := bt.Summaries(12)
			Expect(summaries).To(HaveLen(2))
			for _, summary := range summaries {
				Expect(summary.Periods).To(Equal(24))
			}
		})
	})

	Context("lane independence", func() {
		It("gives each strategy the same record alone or together", func() {
			p := testPanel(3, 60, 7)

			alone, err := backtest.New(p, 36, []*portfolio.Strategy{mustStrategy(portfolio.EqualWeight)}, backtest.SkipPeriod)
			Expect(err).To(BeNil())
			Expect(alone.Run(context.Background())).To(Succeed())

			together, err := backtest.New(p, 36, []*portfolio.Strategy{
				mustStrategy(portfolio.EqualWeight),
				mustStrategy(portfolio.Analytic),
				mustStrategy(portfolio.NoShortSale),
			}, backtest.SkipPeriod)
			Expect(err).To(BeNil())
			Expect(together.Run(context.Background())).To(Succeed())

			a := alone.Results[portfolio.EqualWeight].Measurements
			b := together.Results[portfolio.EqualWeight].Measurements
			Expect(len(a)).To(Equal(len(b)))
			for idx := range a {
				Expect(a[idx].NetReturn).To(Equal(b[idx].NetReturn))
				Expect(a[idx].Turnover).To(Equal(b[idx].Turnover))
			}
		})
	})

	Context("no look-ahead", func() {
		It("leaves all but the final period unchanged when only the last row differs", func() {
			p1 := testPanel(3, 48, 11)
			p2 := p1.Copy()
			for col := range p2.Vals {
				p2.Vals[col][47] = -0.25
			}

			run := func(p *panel.ReturnPanel) []*portfolio.Measurement {
				bt, err := backtest.New(p, 24, []*portfolio.Strategy{mustStrategy(portfolio.Analytic)}, backtest.SkipPeriod)
				Expect(err).To(BeNil())
				Expect(bt.Run(context.Background())).To(Succeed())
				return bt.Results[portfolio.Analytic].Measurements
			}

			m1 := run(p1)
			m2 := run(p2)
			Expect(len(m1)).To(Equal(len(m2)))
			for idx := 0; idx < len(m1)-1; idx++ {
				Expect(m1[idx].RawReturn).To(Equal(m2[idx].RawReturn))
				Expect(m1[idx].NetReturn).To(Equal(m2[idx].NetReturn))
			}
			Expect(m1[len(m1)-1].RawReturn).ToNot(Equal(m2[len(m2)-1].RawReturn))
		})
	})

	Context("when the window is shorter than the universe", func() {
		var p *panel.ReturnPanel

		BeforeEach(func() {
			// 2 observations can never identify a 3x3 covariance matrix
			p = testPanel(3, 10, 99)
		})

		It("flags every period and returns no weights with the skip policy", func() {
			bt, err := backtest.New(p, 2, []*portfolio.Strategy{mustStrategy(portfolio.Analytic)}, backtest.SkipPeriod)
			Expect(err).To(BeNil())
			Expect(bt.Run(context.Background())).To(Succeed())

			perf := bt.Results[portfolio.Analytic]
			Expect(perf.Measurements).To(BeEmpty())
			Expect(perf.Failures).To(HaveLen(8))
			for _, failure := range perf.Failures {
				Expect(failure.Error).To(ContainSubstring("singular"))
			}
		})

		It("stops the lane after the first failure with the halt policy", func() {
			bt, err := backtest.New(p, 2, []*portfolio.Strategy{mustStrategy(portfolio.Analytic)}, backtest.HaltStrategy)
			Expect(err).To(BeNil())
			Expect(bt.Run(context.Background())).To(Succeed())

			perf := bt.Results[portfolio.Analytic]
			Expect(perf.Measurements).To(BeEmpty())
			Expect(perf.Failures).To(HaveLen(1))
		})

		It("does not stop other lanes", func() {
			bt, err := backtest.New(p, 2, []*portfolio.Strategy{
				mustStrategy(portfolio.Analytic),
				mustStrategy(portfolio.EqualWeight),
			}, backtest.HaltStrategy)
			Expect(err).To(BeNil())
			Expect(bt.Run(context.Background())).To(Succeed())

			naive := bt.Results[portfolio.EqualWeight]
			Expect(naive.Measurements).To(HaveLen(8))
			Expect(naive.Failures).To(BeEmpty())
		})
	})

	Context("with a cancelled context", func() {
		It("stops before scoring any period", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			p := testPanel(3, 48, 42)
			bt, err := backtest.New(p, 24, []*portfolio.Strategy{mustStrategy(portfolio.EqualWeight)}, backtest.SkipPeriod)
			Expect(err).To(BeNil())
			Expect(bt.Run(ctx)).To(MatchError(context.Canceled))
		})
	})
})
