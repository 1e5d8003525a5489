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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/store"
)

func TestPostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "postgres store suite")
}

var _ = Describe("Store", func() {
	var (
		ctx  context.Context
		st   *Store
		db   *sqlx.DB
		mock sqlmock.Sqlmock
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		st = NewWithDB(db)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("CreateInvestigation", func() {
		It("inserts the investigation row with its feature-flag snapshot", func() {
			inv := domain.NewInvestigation("inv-1", "txn-1", domain.ModeDeep, domain.FeatureFlags{VectorEnabled: true}, domain.RuntimeSafeguards{MaxSteps: 20}, "case-1")

			mock.ExpectExec(`INSERT INTO investigations`).
				WithArgs(inv.ID, inv.TransactionID, inv.Mode, inv.Status, inv.MaxSteps, inv.StartedAt,
					inv.TriggerRef, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(st.CreateInvestigation(ctx, inv)).To(Succeed())
		})
	})

	Describe("SaveState", func() {
		It("treats zero rows affected as a version conflict", func() {
			state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
			state.Version = 3

			mock.ExpectExec(`INSERT INTO investigation_state`).
				WithArgs(state.InvestigationID, state.Version, sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := st.SaveState(ctx, state)
			Expect(err).To(MatchError(store.ErrVersionConflict))
		})

		It("succeeds when the upsert affects a row", func() {
			state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
			state.Version = 3

			mock.ExpectExec(`INSERT INTO investigation_state`).
				WithArgs(state.InvestigationID, state.Version, sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(st.SaveState(ctx, state)).To(Succeed())
		})
	})

	Describe("PersistCompletion", func() {
		It("writes the investigation row, insight, recommendations, and tool log in one transaction", func() {
			inv := domain.NewInvestigation("inv-1", "txn-1", domain.ModeDeep, domain.FeatureFlags{}, domain.RuntimeSafeguards{}, "")
			inv.Status = domain.StatusCompleted
			inv.FinalSeverity = domain.SeverityHigh
			state := domain.NewState(inv.ID, inv.TransactionID, domain.FeatureFlags{})
			state.ToolExecutions = []domain.ToolExecution{
				{InvestigationID: inv.ID, ToolName: "context", StepNumber: 1, Status: domain.ExecutionOK},
			}
			insight := &domain.Insight{
				ID: "insight-1", TransactionID: inv.TransactionID,
				EvaluationType: domain.EvaluationTypeFraudInvestigation, InsightType: domain.InsightTypeTransactionRisk,
				IdempotencyKey: "key-1",
				Recommendations: []domain.Recommendation{
					{ID: "rec-1", InsightID: "insight-1", IdempotencyKey: "insight-1:content-key", Status: domain.RecommendationOpen},
				},
			}

			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE investigations SET`).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`INSERT INTO insights`).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`INSERT INTO recommendations`).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`INSERT INTO tool_execution_log`).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			Expect(st.PersistCompletion(ctx, inv, state, insight)).To(Succeed())
		})

		It("rolls back when the insight insert fails", func() {
			inv := domain.NewInvestigation("inv-1", "txn-1", domain.ModeDeep, domain.FeatureFlags{}, domain.RuntimeSafeguards{}, "")
			state := domain.NewState(inv.ID, inv.TransactionID, domain.FeatureFlags{})
			insight := &domain.Insight{ID: "insight-1", IdempotencyKey: "key-1"}

			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE investigations SET`).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`INSERT INTO insights`).WillReturnError(errors.New("constraint violation"))
			mock.ExpectRollback()

			err := st.PersistCompletion(ctx, inv, state, insight)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("FindActiveInvestigationByTransaction", func() {
		It("returns ErrNotFound when no non-terminal row exists", func() {
			mock.ExpectQuery(`SELECT \* FROM investigations`).
				WithArgs("txn-1").
				WillReturnError(sql.ErrNoRows)

			_, err := st.FindActiveInvestigationByTransaction(ctx, "txn-1")
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("LoadRecommendation", func() {
		It("returns ErrNotFound when no row exists", func() {
			mock.ExpectQuery(`SELECT \* FROM recommendations`).
				WithArgs("rec-1").
				WillReturnError(sql.ErrNoRows)

			_, err := st.LoadRecommendation(ctx, "rec-1")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("scans the row into a domain.Recommendation", func() {
			cols := []string{"id", "insight_id", "type", "priority", "title", "impact", "payload",
				"signature_hash", "status", "acknowledged_by", "acknowledged_at", "idempotency_key"}
			rows := sqlmock.NewRows(cols).AddRow(
				"rec-1", "insight-1", "rule_candidate", 2, "block merchant", nil, nil,
				"sig-1", "OPEN", nil, nil, "idem-1",
			)
			mock.ExpectQuery(`SELECT \* FROM recommendations`).WithArgs("rec-1").WillReturnRows(rows)

			rec, err := st.LoadRecommendation(ctx, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(rec.Status).To(Equal(domain.RecommendationOpen))
			Expect(rec.Candidate.Title).To(Equal("block merchant"))
		})
	})

	Describe("UpdateRecommendationStatus", func() {
		It("returns ErrNotFound when zero rows are affected", func() {
			mock.ExpectExec(`UPDATE recommendations SET`).
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := st.UpdateRecommendationStatus(ctx, "rec-1", domain.RecommendationAcknowledged, "analyst-1", timeNowUTC())
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("succeeds when the update affects a row", func() {
			mock.ExpectExec(`UPDATE recommendations SET`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := st.UpdateRecommendationStatus(ctx, "rec-1", domain.RecommendationAcknowledged, "analyst-1", timeNowUTC())
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("LoadRuleDraft", func() {
		It("returns ErrNotFound when no row exists", func() {
			mock.ExpectQuery(`SELECT \* FROM rule_drafts`).
				WithArgs("draft-1").
				WillReturnError(sql.ErrNoRows)

			_, err := st.LoadRuleDraft(ctx, "draft-1")
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("MarkRuleDraftExported", func() {
		It("returns ErrNotFound when zero rows are affected", func() {
			mock.ExpectExec(`UPDATE rule_drafts SET`).
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := st.MarkRuleDraftExported(ctx, "draft-1", "ref-1")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("succeeds when the update affects a row", func() {
			mock.ExpectExec(`UPDATE rule_drafts SET`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := st.MarkRuleDraftExported(ctx, "draft-1", "ref-1")
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("LoadInvestigationView", func() {
		It("returns a state-only view when the investigation has not completed yet", func() {
			invCols := []string{"id", "transaction_id", "mode", "status", "priority", "final_severity",
				"final_confidence", "step_count", "max_steps", "planner_model", "started_at", "completed_at",
				"duration_ms", "error_summary", "partial", "trigger_ref", "runtime_feature_flags",
				"runtime_safeguards", "model_mode", "llm_status", "llm_error", "llm_model", "stage_durations_ms"}
			invRows := sqlmock.NewRows(invCols).AddRow(
				"inv-1", "txn-1", "deep", "IN_PROGRESS", 3, nil,
				nil, 0, 20, nil, timeNowUTC(), nil,
				nil, nil, false, nil, []byte(`{}`),
				[]byte(`{}`), nil, nil, nil, nil, nil,
			)
			mock.ExpectQuery(`SELECT \* FROM investigations WHERE id = \$1`).WithArgs("inv-1").WillReturnRows(invRows)

			mock.ExpectQuery(`SELECT version, payload FROM investigation_state WHERE investigation_id = \$1`).
				WithArgs("inv-1").WillReturnError(sql.ErrNoRows)

			mock.ExpectQuery(`SELECT id, evidence FROM insights WHERE investigation_id = \$1`).
				WithArgs("inv-1").WillReturnError(sql.ErrNoRows)

			view, err := st.LoadInvestigationView(ctx, "inv-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(view.Investigation.ID).To(Equal("inv-1"))
			Expect(view.Recommendations).To(BeEmpty())
		})
	})
})

// timeNowUTC gives tests a stable, non-zero time.Time without depending on
// wall-clock ordering across assertions.
func timeNowUTC() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
