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

// Package upstream defines the read-only Transaction-Management source
// client contract (spec §6 Consumed) and its structured record types.
// Besides the interface it holds HTTPClient, a plain JSON-over-HTTP
// implementation of it (httpclient.go).
package upstream

import (
	"context"
	"time"
)

// ErrKind classifies upstream failures, surfaced to apierrors.
type ErrKind string

const (
	ErrNotFound          ErrKind = "NotFound"
	ErrDependencyFailure ErrKind = "DependencyFailure"
	ErrTimeout           ErrKind = "Timeout"
)

// Error is the structured error shape returned by the upstream client.
type Error struct {
	Kind    ErrKind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// TransactionOverview is the minimum record every other fetch enriches
// (spec §6: "Returns structured records with at minimum: amount, currency,
// decision, timestamp, mcc, card_id, merchant_id, plus optional ip/device
// fields").
type TransactionOverview struct {
	TransactionID string
	Amount        float64
	Currency      string
	Decision      string
	Timestamp     time.Time
	MCC           string
	CardID        string
	MerchantID    string

	IPAddress             string
	IPCountryAlpha3       string
	DeviceID              string
	DeviceFingerprintHash string
}

// RuleMatch is one historical rule-engine hit (get_rule_matches).
type RuleMatch struct {
	RuleID    string
	RuleName  string
	Timestamp time.Time
}

// Review is one analyst review record (get_reviews).
type Review struct {
	ReviewID  string
	Outcome   string // e.g. "confirmed_fraud", "reviewed_legitimate"
	Timestamp time.Time
}

// Note is one analyst note (get_notes).
type Note struct {
	NoteID    string
	Body      string
	Author    string
	Timestamp time.Time
}

// Case links a transaction to an existing case (get_case).
type Case struct {
	CaseID string
	Status string
}

// QueryWindow bounds a query_transactions call.
type QueryWindow struct {
	Since time.Time
	Until time.Time
}

// OutcomeSignals carries historical dispositional signals used by the
// similarity tool's counter-evidence extraction (3DS success, trusted
// device) and by the SQL heuristic fallback.
type OutcomeSignals struct {
	ConfirmedFraud     bool
	ReviewedLegitimate bool
	ThreeDSSuccess     bool
	TrustedDevice      bool
}

// HistoricalTransaction is a query_transactions row, enriched with
// OutcomeSignals where known.
type HistoricalTransaction struct {
	TransactionOverview
	Outcome OutcomeSignals
}

// HealthStatus is the get_health response.
type HealthStatus struct {
	Healthy bool
	Detail  string
}

// Client is the read-only Transaction-Management source contract (spec
// §6).
type Client interface {
	GetTransactionOverview(ctx context.Context, transactionID string) (*TransactionOverview, error)
	QueryTransactions(ctx context.Context, cardID, merchantID, ip, deviceID string, window QueryWindow) ([]HistoricalTransaction, error)
	GetRuleMatches(ctx context.Context, transactionID string) ([]RuleMatch, error)
	GetReviews(ctx context.Context, transactionID string) ([]Review, error)
	GetNotes(ctx context.Context, transactionID string) ([]Note, error)
	GetCase(ctx context.Context, transactionID string) (*Case, error)
	GetHealth(ctx context.Context) (*HealthStatus, error)
}
