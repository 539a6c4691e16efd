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

package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-optimize/backtest"
	"github.com/penny-vault/pv-optimize/common"
	"github.com/penny-vault/pv-optimize/panel"
	"github.com/penny-vault/pv-optimize/portfolio"
)

func init() {
	sweepCmd.Flags().StringVar(&sweepKind, "kind", string(portfolio.AnalyticWithCosts), "Strategy kind to sweep")
	sweepCmd.Flags().StringVar(&sweepGammas, "gammas", "1,2,4,8", "Comma-separated risk-aversion values")
	sweepCmd.Flags().StringVar(&sweepCostBps, "cost-bps", "0,10,25,50", "Comma-separated transaction costs in basis points")
	sweepCmd.Flags().BoolVar(&sweepZeroMean, "zero-mean", false, "Target the minimum-variance portfolio instead of the efficient one")

	sweepCmd.Flags().IntP("window", "w", 60, "Trailing estimation window in periods")
	viper.BindPFlag("sweep.window", sweepCmd.Flags().Lookup("window"))

	sweepCmd.Flags().Float64("periods-per-year", 12, "Annualization factor for summary statistics")
	viper.BindPFlag("sweep.periods_per_year", sweepCmd.Flags().Lookup("periods-per-year"))

	rootCmd.AddCommand(sweepCmd)
}

var (
	sweepKind     string
	sweepGammas   string
	sweepCostBps  string
	sweepZeroMean bool
)

type sweepResult struct {
	gamma   float64
	costBps float64
	summary *portfolio.Summary
	err     error
}

var sweepCmd = &cobra.Command{
	Use:   "sweep [flags] Panel.csv",
	Short: "Backtest a strategy across a grid of parameter combinations",
	Long: `Run one independent rolling backtest per (gamma, cost) combination and
rank the results by Sharpe ratio. Combinations share no state and run
concurrently.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		ctx := context.Background()

		pnl, err := panel.FromCSVFile(args[0])
		if err != nil {
			log.Fatal().Err(err).Msg("could not load panel")
		}

		gammas, err := parseFloatList(sweepGammas)
		if err != nil {
			log.Fatal().Err(err).Str("Gammas", sweepGammas).Msg("could not parse gamma list")
		}
		costs, err := parseFloatList(sweepCostBps)
		if err != nil {
			log.Fatal().Err(err).Str("CostBps", sweepCostBps).Msg("could not parse cost list")
		}

		window := viper.GetInt("sweep.window")
		periodsPerYear := viper.GetFloat64("sweep.periods_per_year")

		results := make([]*sweepResult, 0, len(gammas)*len(costs))
		for _, gamma := range gammas {
			for _, cost := range costs {
				results = append(results, &sweepResult{gamma: gamma, costBps: cost})
			}
		}

		var wg sync.WaitGroup
		for _, res := range results {
			wg.Add(1)
			go func(res *sweepResult) {
				defer wg.Done()
				res.summary, res.err = runSweepCell(ctx, pnl, window, periodsPerYear, res.gamma, res.costBps)
			}(res)
		}
		wg.Wait()

		// rank by Sharpe, undefined values last
		sort.SliceStable(results, func(i, j int) bool {
			si, sj := math.Inf(-1), math.Inf(-1)
			if results[i].summary != nil && !math.IsNaN(results[i].summary.SharpeRatio) {
				si = results[i].summary.SharpeRatio
			}
			if results[j].summary != nil && !math.IsNaN(results[j].summary.SharpeRatio) {
				sj = results[j].summary.SharpeRatio
			}
			return si > sj
		})

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Gamma", "Cost (bps)", "Ann. Return", "Ann. StdDev", "Sharpe", "Mean Turnover"})
		for _, res := range results {
			if res.err != nil {
				table.Append([]string{
					fmt.Sprintf("%g", res.gamma),
					fmt.Sprintf("%g", res.costBps),
					"error", "error", "error", "error",
				})
				log.Error().Err(res.err).Float64("Gamma", res.gamma).Float64("CostBps", res.costBps).Msg("sweep cell failed")
				continue
			}
			table.Append([]string{
				fmt.Sprintf("%g", res.gamma),
				fmt.Sprintf("%g", res.costBps),
				formatPct(res.summary.AnnualizedReturn),
				formatPct(res.summary.AnnualizedStdDev),
				formatRatio(res.summary.SharpeRatio),
				formatPct(res.summary.MeanTurnover),
			})
		}
		table.Render()
	},
}

func runSweepCell(ctx context.Context, pnl *panel.ReturnPanel, window int, periodsPerYear, gamma, costBps float64) (*portfolio.Summary, error) {
	args := map[string]json.RawMessage{
		"gamma":    json.RawMessage(strconv.FormatFloat(gamma, 'g', -1, 64)),
		"cost_bps": json.RawMessage(strconv.FormatFloat(costBps, 'g', -1, 64)),
	}
	if sweepZeroMean {
		args["zero_mean"] = json.RawMessage("true")
	}

	strat, err := portfolio.NewStrategy(portfolio.Kind(sweepKind), args)
	if err != nil {
		return nil, err
	}

	bt, err := backtest.New(pnl, window, []*portfolio.Strategy{strat}, backtest.SkipPeriod)
	if err != nil {
		return nil, err
	}

	if err := bt.Run(ctx); err != nil {
		return nil, err
	}

	return bt.Results[strat.Kind].Summarize(periodsPerYear), nil
}

func parseFloatList(arg string) ([]float64, error) {
	parts := strings.Split(arg, ",")
	vals := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}
