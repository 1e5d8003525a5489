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

package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/upstream"
)

// PatternTool is the rule-based anomaly-scoring tool (spec §4.5). It takes
// its own copy of recent declined authorizations (via the shared upstream
// client) purely to evaluate the card-testing ladder rule, which needs
// chronologically ordered per-transaction amounts that aggregate window
// stats don't carry.
type PatternTool struct {
	upstream upstream.Client
}

func NewPatternTool(client upstream.Client) *PatternTool {
	return &PatternTool{upstream: client}
}

func (t *PatternTool) Name() string { return NamePattern }
func (t *PatternTool) Description() string {
	return "Rule-based anomaly scoring over the feature pack: velocity, decline, cross-merchant, amount ladder."
}

func (t *PatternTool) PrerequisitesMet(state *domain.State) bool {
	return state.Features != nil
}

func (t *PatternTool) Run(ctx context.Context, state *domain.State) Result {
	f := state.Features
	var items []domain.EvidenceItem
	now := f.Timestamp

	// Velocity burst.
	if c := f.CardTxnCount(domain.Window1h); c > 10 {
		items = append(items, evidence(domain.CategoryVelocityBurst, 0.9, now,
			fmt.Sprintf("card has %d transactions in the trailing 1h window", c)))
	} else if c > 5 {
		items = append(items, evidence(domain.CategoryVelocityBurst, 0.7, now,
			fmt.Sprintf("card has %d transactions in the trailing 1h window", c)))
	}

	// Cross-merchant spread.
	if dm := f.CardWindows[domain.Window24h].DistinctMerchants; dm > 10 {
		items = append(items, evidence(domain.CategoryCrossMerchantSpread, 0.8, now,
			fmt.Sprintf("card used at %d distinct merchants in 24h", dm)))
	} else if dm > 5 {
		items = append(items, evidence(domain.CategoryCrossMerchantSpread, 0.5, now,
			fmt.Sprintf("card used at %d distinct merchants in 24h", dm)))
	}

	// High decline ratio.
	if dr := f.CardWindows[domain.Window1h].DeclineRate; dr > 0.5 {
		items = append(items, evidence(domain.CategoryHighDeclineRatio, 0.9, now,
			fmt.Sprintf("card decline rate %.2f over trailing 1h", dr)))
	} else if dr > 0.3 {
		items = append(items, evidence(domain.CategoryHighDeclineRatio, 0.6, now,
			fmt.Sprintf("card decline rate %.2f over trailing 1h", dr)))
	}

	// Card-testing ladder: requires the raw, chronologically ordered
	// declined authorizations in the trailing 1h — never pre-sorted.
	if ladder, ok := t.cardTestingLadder(ctx, f); ok {
		items = append(items, ladder)
	}

	// Amount outlier.
	if z := f.CardWindows[domain.Window30d].AmountZScore; math.Abs(z) > 3 {
		items = append(items, evidence(domain.CategoryAmountOutlier, 0.7, now,
			fmt.Sprintf("amount z-score %.2f exceeds 3 sigma over trailing 30d", z)))
	}

	domain.SortEvidence(items)

	return Result{
		Status:  domain.ExecutionOK,
		Summary: fmt.Sprintf("pattern tool emitted %d evidence items", len(items)),
		Apply: func(s *domain.State) {
			s.AppendEvidence(items...)
		},
	}
}

// cardTestingLadder implements spec §4.5: ≥3 declined authorizations on
// the same card in 1h with amounts sorted chronologically (never
// pre-sorted) and monotonically non-decreasing, smallest ≤ 5 currency
// units.
func (t *PatternTool) cardTestingLadder(ctx context.Context, f *domain.Features) (domain.EvidenceItem, bool) {
	hist, err := t.upstream.QueryTransactions(ctx, f.CardID, "", "", "", upstream.QueryWindow{
		Since: f.Timestamp.Add(-time.Hour),
		Until: f.Timestamp,
	})
	if err != nil {
		return domain.EvidenceItem{}, false
	}

	var declined []upstream.HistoricalTransaction
	for _, h := range hist {
		if h.Timestamp.After(f.Timestamp) {
			continue
		}
		if h.Decision == "declined" || h.Decision == "decline" {
			declined = append(declined, h)
		}
	}
	if len(declined) < 3 {
		return domain.EvidenceItem{}, false
	}

	// Sort chronologically — explicitly, never assume input order.
	sort.Slice(declined, func(i, j int) bool { return declined[i].Timestamp.Before(declined[j].Timestamp) })

	nonDecreasing := true
	for i := 1; i < len(declined); i++ {
		if declined[i].Amount < declined[i-1].Amount {
			nonDecreasing = false
			break
		}
	}
	if !nonDecreasing || declined[0].Amount > 5 {
		return domain.EvidenceItem{}, false
	}

	related := make([]string, 0, len(declined))
	for _, d := range declined {
		related = append(related, d.TransactionID)
	}
	item := evidence(domain.CategoryCardTestingLadder, 0.9, f.Timestamp,
		fmt.Sprintf("%d declined authorizations on card with non-decreasing amounts starting at %.2f", len(declined), declined[0].Amount))
	item.RelatedTransactionIDs = related
	return item, true
}

func evidence(category string, strength float64, ts time.Time, description string) domain.EvidenceItem {
	return domain.EvidenceItem{
		ID:              uuid.NewString(),
		Kind:            domain.EvidenceKindPattern,
		Category:        category,
		Strength:        strength,
		Description:     description,
		FreshnessWeight: 1.0,
		Timestamp:       ts,
	}
}
