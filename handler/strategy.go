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

package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/penny-vault/pv-optimize/portfolio"
)

// ListStrategies get a list of all strategy configurations
func ListStrategies(c *fiber.Ctx) error {
	return c.JSON(portfolio.InfoList())
}

// GetStrategy get configuration for a specific strategy
func GetStrategy(c *fiber.Ctx) error {
	shortcode := c.Params("shortcode")
	if info, ok := portfolio.InfoMap[portfolio.Kind(shortcode)]; ok {
		return c.JSON(info)
	}
	return fiber.ErrNotFound
}
