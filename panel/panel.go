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

package panel

import (
	"errors"
	"math"
	"time"
)

var (
	ErrShapeMismatch = errors.New("return panel shape mismatch")
	ErrUnordered     = errors.New("return panel dates are not in ascending order")
	ErrNonFinite     = errors.New("return panel contains non-finite values")
	ErrOutOfRange    = errors.New("requested window is out of range")
)

// ReturnPanel stores per-period excess returns organized by date.
// The vals array is column major - e.g.,
//
//	       VFINX  PRIDX
//	Jan-20 .01    .04
//	Feb-20 .02    .05
//
//	Vals[0][0] = .01
//	Vals[0][1] = .02
type ReturnPanel struct {
	Dates  []time.Time
	Assets []string
	Vals   [][]float64
}

// Len returns the number of periods in the panel
func (p *ReturnPanel) Len() int {
	return len(p.Dates)
}

// AssetCount returns the number of assets in the panel
func (p *ReturnPanel) AssetCount() int {
	return len(p.Assets)
}

// Validate checks the panel invariants: every asset column covers every
// period, dates are strictly ascending, and all values are finite. A
// violation is fatal for the caller; it must be surfaced before any
// backtest loop starts.
func (p *ReturnPanel) Validate() error {
	if len(p.Vals) != len(p.Assets) {
		return ErrShapeMismatch
	}

	for _, col := range p.Vals {
		if len(col) != len(p.Dates) {
			return ErrShapeMismatch
		}
		for _, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ErrNonFinite
			}
		}
	}

	for idx := 1; idx < len(p.Dates); idx++ {
		if !p.Dates[idx-1].Before(p.Dates[idx]) {
			return ErrUnordered
		}
	}

	return nil
}

// Window returns a view of length periods starting at row start. The view
// shares storage with the parent panel and must be treated as read-only.
func (p *ReturnPanel) Window(start, length int) (*ReturnPanel, error) {
	if start < 0 || length <= 0 || start+length > p.Len() {
		return nil, ErrOutOfRange
	}

	vals := make([][]float64, len(p.Vals))
	for idx, col := range p.Vals {
		vals[idx] = col[start : start+length]
	}

	return &ReturnPanel{
		Dates:  p.Dates[start : start+length],
		Assets: p.Assets,
		Vals:   vals,
	}, nil
}

// Row returns the cross-section of asset returns for period idx as a new
// slice ordered like Assets.
func (p *ReturnPanel) Row(idx int) []float64 {
	row := make([]float64, len(p.Assets))
	for colIdx := range p.Vals {
		row[colIdx] = p.Vals[colIdx][idx]
	}
	return row
}

// Copy creates a deep copy of the panel
func (p *ReturnPanel) Copy() *ReturnPanel {
	p2 := &ReturnPanel{
		Dates:  make([]time.Time, len(p.Dates)),
		Assets: make([]string, len(p.Assets)),
		Vals:   make([][]float64, len(p.Vals)),
	}
	copy(p2.Dates, p.Dates)
	copy(p2.Assets, p.Assets)
	for idx, col := range p.Vals {
		p2.Vals[idx] = make([]float64, len(col))
		copy(p2.Vals[idx], col)
	}
	return p2
}
