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

package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
)

// maxCanonicalChars bounds the rendered text handed to the embedding
// provider (spec §4.6 item 1: "bounded, redacted").
const maxCanonicalChars = 2000

// CanonicalText renders a redacted, bounded textual description of a
// transaction for embedding. It never includes raw personal data — only
// pseudonymous identifiers and the numeric/categorical feature pack, the
// same redaction discipline the reasoning tool applies to its prompt
// (spec §4.7).
func CanonicalText(f *domain.Features) string {
	var b strings.Builder
	fmt.Fprintf(&b, "transaction amount=%.2f currency=%s mcc=%s decision=%s\n", f.Amount, f.Currency, f.MCC, f.Decision)
	fmt.Fprintf(&b, "card=%s merchant=%s\n", hashID(f.CardID), hashID(f.MerchantID))
	for _, w := range domain.AllWindows {
		cs := f.CardWindows[w]
		ms := f.MerchantWindows[w]
		fmt.Fprintf(&b, "window=%s card_txn_count=%d card_decline_rate=%.2f merchant_txn_count=%d merchant_decline_rate=%.2f\n",
			w, cs.TxnCount, cs.DeclineRate, ms.TxnCount, ms.DeclineRate)
	}
	if f.DeviceFingerprintHash != "" {
		fmt.Fprintf(&b, "device_fingerprint=%s\n", f.DeviceFingerprintHash)
	}
	if f.IPCountryAlpha3 != "" {
		fmt.Fprintf(&b, "ip_country=%s\n", f.IPCountryAlpha3)
	}

	text := b.String()

	// Use langchaingo's recursive-character splitter purely to enforce the
	// bound deterministically on word boundaries rather than truncating
	// mid-token.
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(maxCanonicalChars),
		textsplitter.WithChunkOverlap(0),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		if len(text) > maxCanonicalChars {
			return text[:maxCanonicalChars]
		}
		return text
	}
	return chunks[0]
}

// hashID never emits the raw identifier; callers of Features are expected
// to have already stringified/stabilized ids at the boundary (spec §4.4).
// The id is hashed with SHA-256 and cut to 12 hex characters, which keeps
// the canonical text compact while remaining stable for the same id.
func hashID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:12]
}
