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
	"time"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-optimize/backtest"
	"github.com/penny-vault/pv-optimize/common"
	"github.com/penny-vault/pv-optimize/data"
	"github.com/penny-vault/pv-optimize/panel"
	"github.com/penny-vault/pv-optimize/portfolio"
)

func init() {
	backtestCmd.Flags().IntP("window", "w", 60, "Trailing estimation window in periods")
	viper.BindPFlag("backtest.window", backtestCmd.Flags().Lookup("window"))

	backtestCmd.Flags().String("on-error", "skip", "What to do when a period's solve fails: skip or halt")
	viper.BindPFlag("backtest.on_error", backtestCmd.Flags().Lookup("on-error"))

	backtestCmd.Flags().Float64("periods-per-year", 12, "Annualization factor for summary statistics")
	viper.BindPFlag("backtest.periods_per_year", backtestCmd.Flags().Lookup("periods-per-year"))

	backtestCmd.Flags().StringVar(&outputFn, "output", "", "Write full performance records as JSON to the given file")
	backtestCmd.Flags().BoolVar(&fromDatabase, "database", false, "Load the panel from the configured database instead of a CSV file")
	backtestCmd.Flags().StringVar(&beginStr, "begin", "1990-01-31", "First period to load when reading from the database")
	backtestCmd.Flags().StringVar(&endStr, "end", "now", "Last period to load when reading from the database")

	rootCmd.AddCommand(backtestCmd)
}

var (
	outputFn     string
	fromDatabase bool
	beginStr     string
	endStr       string
)

var backtestCmd = &cobra.Command{
	Use:        "backtest [flags] Panel.csv StrategyArguments",
	Short:      "Run a rolling backtest of one or more strategies",
	Long: `Run a rolling out-of-sample backtest. StrategyArguments is a JSON array of
strategy configurations, e.g.:

  '[{"kind": "mv", "args": {"gamma": 4}}, {"kind": "naive"}]'

With --database the panel is loaded from the monthly_returns table and the
only positional argument is StrategyArguments.`,
	Args:       cobra.MinimumNArgs(1),
	ArgAliases: []string{"Panel", "StrategyArguments"},
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		ctx := context.Background()

		var pnl *panel.ReturnPanel
		var stratArg string
		var err error

		if fromDatabase {
			stratArg = args[0]

			if err := data.Connect(ctx); err != nil {
				log.Fatal().Err(err).Msg("could not connect to database")
			}

			begin, end, err := parseDateRange(beginStr, endStr)
			if err != nil {
				log.Fatal().Err(err).Msg("could not parse date range")
			}

			manager := data.NewManager(viper.GetInt("cache.local_size"))
			pnl, err = manager.Panel(ctx, begin, end)
			if err != nil {
				log.Fatal().Err(err).Msg("could not load panel from database")
			}
		} else {
			if len(args) < 2 {
				log.Fatal().Msg("expected a panel CSV file and strategy arguments")
			}
			stratArg = args[1]

			pnl, err = panel.FromCSVFile(args[0])
			if err != nil {
				log.Fatal().Err(err).Msg("could not load panel")
			}
		}

		strategies, err := parseStrategies(stratArg)
		if err != nil {
			log.Fatal().Err(err).Msg("could not parse strategy arguments")
		}

		bt, err := backtest.New(pnl, viper.GetInt("backtest.window"), strategies,
			backtest.ErrorPolicy(viper.GetString("backtest.on_error")))
		if err != nil {
			log.Fatal().Err(err).Msg("could not construct backtest")
		}

		if err := bt.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("backtest failed")
		}

		printSummaryTable(bt, viper.GetFloat64("backtest.periods_per_year"))

		if outputFn != "" {
			encoded, err := json.MarshalIndent(bt.Results, "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("could not serialize performance records")
			}
			if err := os.WriteFile(outputFn, encoded, 0600); err != nil {
				log.Fatal().Err(err).Str("FileName", outputFn).Msg("could not write output file")
			}
		}
	},
}

func parseStrategies(arg string) ([]*portfolio.Strategy, error) {
	var specs []struct {
		Kind string                     `json:"kind"`
		Args map[string]json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal([]byte(arg), &specs); err != nil {
		return nil, err
	}

	strategies := make([]*portfolio.Strategy, 0, len(specs))
	for _, spec := range specs {
		strat, err := portfolio.NewStrategy(portfolio.Kind(spec.Kind), spec.Args)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, strat)
	}
	return strategies, nil
}

func parseDateRange(beginStr, endStr string) (time.Time, time.Time, error) {
	begin, err := time.Parse("2006-01-02", beginStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	end := time.Now()
	if endStr != "now" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	return begin, end, nil
}

func printSummaryTable(bt *backtest.Backtest, periodsPerYear float64) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Strategy", "Ann. Return", "Ann. StdDev", "Sharpe", "Mean Turnover", "Periods", "Failures"})

	for _, strat := range bt.Strategies {
		summary := bt.Results[strat.Kind].Summarize(periodsPerYear)
		table.Append([]string{
			string(strat.Kind),
			formatPct(summary.AnnualizedReturn),
			formatPct(summary.AnnualizedStdDev),
			formatRatio(summary.SharpeRatio),
			formatPct(summary.MeanTurnover),
			fmt.Sprintf("%d", summary.Periods),
			fmt.Sprintf("%d", summary.FailedPeriods),
		})
	}

	table.Render()
}

func formatPct(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func formatRatio(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}
