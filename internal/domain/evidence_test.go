/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortEvidence_OrdersByStrengthDescendingThenCategoryAscending(t *testing.T) {
	items := []EvidenceItem{
		{Category: CategoryAmountOutlier, Strength: 0.4},
		{Category: CategoryVelocityBurst, Strength: 0.8},
		{Category: CategoryCrossMerchantSpread, Strength: 0.8},
		{Category: CategoryHighDeclineRatio, Strength: -0.2},
	}

	SortEvidence(items)

	assert.Equal(t, []string{
		CategoryCrossMerchantSpread,
		CategoryVelocityBurst,
		CategoryAmountOutlier,
		CategoryHighDeclineRatio,
	}, categoriesOf(items))
}

func categoriesOf(items []EvidenceItem) []string {
	out := make([]string, len(items))
	for i, e := range items {
		out[i] = e.Category
	}
	return out
}

func TestSortEvidence_EmptyAndSingleAreNoOps(t *testing.T) {
	var empty []EvidenceItem
	SortEvidence(empty)
	assert.Empty(t, empty)

	single := []EvidenceItem{{Category: CategoryAmountOutlier, Strength: 0.1}}
	SortEvidence(single)
	assert.Len(t, single, 1)
}

func TestEvidenceItem_EffectiveStrength(t *testing.T) {
	e := EvidenceItem{Strength: 0.8, FreshnessWeight: 0.5}

	assert.Equal(t, 0.8, e.EffectiveStrength(false))
	assert.Equal(t, 0.4, e.EffectiveStrength(true))
}
