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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// FromCSV reads a return panel from CSV data. The first column must be a
// date formatted as 2006-01-02; remaining columns are asset returns with
// the asset identifier in the header row.
func FromCSV(r io.Reader) (*ReturnPanel, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("%w: need a header row and at least one period", ErrShapeMismatch)
	}

	header := records[0]
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: need a date column and at least one asset column", ErrShapeMismatch)
	}

	assets := make([]string, len(header)-1)
	copy(assets, header[1:])

	p := &ReturnPanel{
		Dates:  make([]time.Time, 0, len(records)-1),
		Assets: assets,
		Vals:   make([][]float64, len(assets)),
	}
	for idx := range p.Vals {
		p.Vals[idx] = make([]float64, 0, len(records)-1)
	}

	for rowIdx, record := range records[1:] {
		if len(record) != len(header) {
			return nil, fmt.Errorf("%w: row %d has %d fields, expected %d", ErrShapeMismatch, rowIdx+1, len(record), len(header))
		}

		dt, err := time.Parse("2006-01-02", record[0])
		if err != nil {
			return nil, fmt.Errorf("could not parse date on row %d: %w", rowIdx+1, err)
		}
		p.Dates = append(p.Dates, dt)

		for colIdx, field := range record[1:] {
			val, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("could not parse value %q on row %d: %w", field, rowIdx+1, err)
			}
			p.Vals[colIdx] = append(p.Vals[colIdx], val)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// FromCSVFile reads a return panel from the named CSV file
func FromCSVFile(fn string) (*ReturnPanel, error) {
	fh, err := os.Open(fn)
	if err != nil {
		log.Error().Stack().Err(err).Str("FileName", fn).Msg("could not open panel file")
		return nil, err
	}
	defer fh.Close()

	return FromCSV(fh)
}
