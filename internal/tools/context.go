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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/apierrors"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/upstream"
)

// defaultHistoryWindow is the 72h lookback the context tool requests for
// card/merchant history (spec §4.4).
const defaultHistoryWindow = 72 * time.Hour

// ContextTool is the context-assembly tool (spec §4.4).
type ContextTool struct {
	upstream upstream.Client
	logger   *zap.Logger
}

func NewContextTool(client upstream.Client, logger *zap.Logger) *ContextTool {
	return &ContextTool{upstream: client, logger: logger}
}

func (t *ContextTool) Name() string { return NameContext }

func (t *ContextTool) Description() string {
	return "Fetches transaction and card/merchant histories and computes anchored window statistics."
}

func (t *ContextTool) PrerequisitesMet(state *domain.State) bool { return true }

type subFetchResult struct {
	name string
	err  error
}

func (t *ContextTool) Run(ctx context.Context, state *domain.State) Result {
	overview, err := t.upstream.GetTransactionOverview(ctx, state.TransactionID)
	if err != nil {
		return Result{Status: domain.ExecutionFailed, Err: apierrors.Wrapf(apierrors.KindDependencyFailure, err, "transaction overview fetch failed")}
	}

	anchor := overview.Timestamp
	window := upstream.QueryWindow{Since: anchor.Add(-defaultHistoryWindow), Until: anchor}

	var (
		mu              sync.Mutex
		partialFailures []string
		cardHistory     []upstream.HistoricalTransaction
		merchantHistory []upstream.HistoricalTransaction
	)

	// Independent sub-fetches run in parallel; failures are collected, not
	// propagated, unless the transaction overview itself failed (already
	// handled above) — spec §4.4 / §5.
	var wg sync.WaitGroup
	fetch := func(name string, fn func() error) {
		defer wg.Done()
		if err := fn(); err != nil {
			mu.Lock()
			partialFailures = append(partialFailures, fmt.Sprintf("%s: %v", name, err))
			mu.Unlock()
		}
	}

	wg.Add(5)
	go fetch("card_history", func() error {
		hist, err := t.upstream.QueryTransactions(ctx, overview.CardID, "", "", "", window)
		if err != nil {
			return err
		}
		mu.Lock()
		cardHistory = hist
		mu.Unlock()
		return nil
	})
	go fetch("merchant_history", func() error {
		hist, err := t.upstream.QueryTransactions(ctx, "", overview.MerchantID, "", "", window)
		if err != nil {
			return err
		}
		mu.Lock()
		merchantHistory = hist
		mu.Unlock()
		return nil
	})
	go fetch("rule_matches", func() error {
		_, err := t.upstream.GetRuleMatches(ctx, state.TransactionID)
		return err
	})
	go fetch("reviews", func() error {
		_, err := t.upstream.GetReviews(ctx, state.TransactionID)
		return err
	})
	go fetch("notes_and_case", func() error {
		if _, err := t.upstream.GetNotes(ctx, state.TransactionID); err != nil {
			return err
		}
		_, err := t.upstream.GetCase(ctx, state.TransactionID)
		return err
	})
	wg.Wait()

	features := &domain.Features{
		TransactionID:         overview.TransactionID,
		Amount:                overview.Amount,
		Currency:              overview.Currency,
		Decision:              overview.Decision,
		MCC:                   overview.MCC,
		Timestamp:             anchor,
		CardID:                overview.CardID,
		MerchantID:            overview.MerchantID,
		IPAddress:             overview.IPAddress,
		IPCountryAlpha3:       overview.IPCountryAlpha3,
		DeviceID:              overview.DeviceID,
		DeviceFingerprintHash: overview.DeviceFingerprintHash,
		CardWindows:           computeWindows(cardHistory, anchor, overview.Amount),
		MerchantWindows:       computeWindows(merchantHistory, anchor, overview.Amount),
		PartialFailures:       partialFailures,
	}

	return Result{
		Status:  domain.ExecutionOK,
		Summary: fmt.Sprintf("assembled features for txn=%s (partial_failures=%d)", state.TransactionID, len(partialFailures)),
		Apply: func(s *domain.State) {
			s.Features = features
		},
	}
}

// computeWindows computes anchored window statistics, excluding history
// entries strictly after the anchor timestamp (spec §4.4).
func computeWindows(history []upstream.HistoricalTransaction, anchor time.Time, selfAmount float64) map[domain.WindowKey]domain.WindowStats {
	out := map[domain.WindowKey]domain.WindowStats{}
	for _, w := range domain.AllWindows {
		start := anchor.Add(-w.Duration())
		var (
			count      int
			declines   int
			sum        float64
			amounts30d []float64
			merchants  = map[string]bool{}
			cards      = map[string]bool{}
		)
		for _, h := range history {
			if h.Timestamp.After(anchor) || h.Timestamp.Before(start) {
				continue
			}
			count++
			sum += h.Amount
			if h.Decision == "declined" || h.Decision == "decline" {
				declines++
			}
			if h.MerchantID != "" {
				merchants[h.MerchantID] = true
			}
			if h.CardID != "" {
				cards[h.CardID] = true
			}
			if w == domain.Window30d {
				amounts30d = append(amounts30d, h.Amount)
			}
		}

		stats := domain.WindowStats{
			TxnCount:          count,
			DistinctMerchants: len(merchants),
			DistinctCards:     len(cards),
		}
		if count > 0 {
			stats.DeclineRate = float64(declines) / float64(count)
			stats.AvgAmount = sum / float64(count)
		}
		if w == domain.Window30d {
			stats.AmountZScore = zscore(selfAmount, amounts30d)
		}
		out[w] = stats
	}
	return out
}

// zscore computes (amount − µ)/σ over the provided sample; returns 0 when
// σ is zero or n < 3 (spec §4.4).
func zscore(amount float64, sample []float64) float64 {
	n := len(sample)
	if n < 3 {
		return 0
	}
	var sum float64
	for _, v := range sample {
		sum += v
	}
	mean := sum / float64(n)

	var sqDiff float64
	for _, v := range sample {
		d := v - mean
		sqDiff += d * d
	}
	stddev := math.Sqrt(sqDiff / float64(n))
	if stddev == 0 {
		return 0
	}
	return (amount - mean) / stddev
}
