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

// Package audit writes the append-only audit trail on every mutating
// lifecycle transition (spec §3, §9). Writes are best-effort: a failure is
// logged but never fails the caller's operation.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/store"
)

// Writer emits domain.AuditEvent records through a store.StateStore.
type Writer struct {
	store  store.StateStore
	logger *zap.Logger
}

func New(st store.StateStore, logger *zap.Logger) *Writer {
	return &Writer{store: st, logger: logger}
}

// Record writes one audit event. Call sites pass nil for oldValue/newValue
// when not applicable (e.g. a pure status transition only needs newValue).
func (w *Writer) Record(ctx context.Context, entityType, entityID, action, performedBy string, oldValue, newValue any) {
	event := domain.AuditEvent{
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		PerformedBy: performedBy,
		OldValue:    oldValue,
		NewValue:    newValue,
		Timestamp:   time.Now().UTC(),
	}
	if err := w.store.AppendAudit(ctx, event); err != nil {
		w.logger.Warn("audit write failed",
			zap.Error(err),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.String("action", action),
		)
	}
}

// Entity/action name constants used across the lifecycle manager.
const (
	EntityInvestigation = "investigation"
	EntityRecommendation = "recommendation"
	EntityRuleDraft      = "rule_draft"

	ActionStarted   = "started"
	ActionResumed   = "resumed"
	ActionCompleted = "completed"
	ActionFailed    = "failed"
	ActionTransitioned = "transitioned"

	PerformedBySystem = "system"
)
