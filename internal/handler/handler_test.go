package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/campus-ledger/internal/auth"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/repository/memory"
	"github.com/josh-kwaku/campus-ledger/internal/service/ledger"
	"github.com/josh-kwaku/campus-ledger/internal/whitelist"
)

var fixedNow = time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func asCaller(r *http.Request, subject string, role auth.Role) *http.Request {
	return r.WithContext(auth.ContextWithClaims(r.Context(), &auth.Claims{Subject: subject, Role: role}))
}

func jsonRequest(method, path, body string) *http.Request {
	r := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func setupAccountRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := ledger.NewService(store.Accounts(), store.Ledger(), store.Idempotency(), nil, nil, ledger.Config{
		MaxAttempts:      5,
		RetryInitial:     time.Millisecond,
		RetryMax:         5 * time.Millisecond,
		MutationTimeout:  5 * time.Second,
		ReservationLease: 30 * time.Second,
		Now:              func() time.Time { return fixedNow },
	})
	h := NewAccountHandler(svc)

	r := chi.NewRouter()
	r.Get("/accounts", h.List)
	r.Post("/accounts", h.Open)
	r.Get("/accounts/{id}/balance", h.Balance)
	r.Get("/accounts/{id}/transactions", h.Transactions)
	r.Post("/accounts/{id}/status", h.SetStatus)
	r.Post("/accounts/{id}/debit", h.Mutate(domain.KindDebit))
	r.Post("/accounts/{id}/credit", h.Mutate(domain.KindCredit))
	r.Post("/accounts/{id}/adjust", h.Mutate(domain.KindAdjustment))
	return r, store
}

func openAccount(t *testing.T, router http.Handler) accountDTO {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonRequest(http.MethodPost, "/accounts", `{"holder_ref":"student-4471"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var dto accountDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &dto))
	return dto
}

func TestAccountHandler_MutationFlow(t *testing.T) {
	router, _ := setupAccountRouter(t)
	acct := openAccount(t, router)
	assert.Equal(t, "0.00", acct.Available)
	assert.Equal(t, "ACTIVE", acct.Status)
	assert.Equal(t, int64(1), acct.Version)

	path := "/accounts/" + acct.ID.String()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonRequest(http.MethodPost, path+"/credit", `{"txn_id":"topup-1","amount":"100.00"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get(replayedHeader))

	var first mutationDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &first))
	assert.Equal(t, "100.00", first.Account.Available)
	assert.Equal(t, "CREDIT", first.Transaction.Kind)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, jsonRequest(http.MethodPost, path+"/credit", `{"txn_id":"topup-1","amount":"100.00"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(replayedHeader))

	var replay mutationDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &replay))
	assert.True(t, replay.Replayed)
	assert.Equal(t, "100.00", replay.Account.Available)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, jsonRequest(http.MethodPost, path+"/debit", `{"txn_id":"lunch-1","amount":"150.00"}`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "INSUFFICIENT_BALANCE", env.Error.Code)
	assert.Equal(t, map[string]any{"available": "100.00", "requested": "150.00"}, env.Error.Details)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, jsonRequest(http.MethodPost, path+"/adjust", `{"txn_id":"fix-1","amount":"-0.50"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path+"/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var bal accountDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &bal))
	assert.Equal(t, "99.50", bal.Available)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path+"/transactions?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var hist historyDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &hist))
	assert.Equal(t, 2, hist.Total)
	require.Len(t, hist.Transactions, 1)
}

func TestAccountHandler_List(t *testing.T) {
	router, _ := setupAccountRouter(t)
	openAccount(t, router)
	second := openAccount(t, router)
	third := openAccount(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts?limit=2&offset=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page accountPageDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 1, page.Offset)
	require.Len(t, page.Accounts, 2)
	assert.Equal(t, second.ID, page.Accounts[0].ID)
	assert.Equal(t, third.ID, page.Accounts[1].ID)
	assert.Equal(t, "0.00", page.Accounts[0].Available)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts?offset=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &page))
	assert.Equal(t, 3, page.Total)
	assert.Empty(t, page.Accounts)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeEnvelope(t, rec).Error.Code)
}

func TestAccountHandler_Validation(t *testing.T) {
	router, _ := setupAccountRouter(t)
	acct := openAccount(t, router)
	path := "/accounts/" + acct.ID.String()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"sub-cent amount", http.MethodPost, path + "/debit", `{"txn_id":"a","amount":"1.234"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"negative amount", http.MethodPost, path + "/credit", `{"txn_id":"a","amount":"-5.00"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"zero adjustment", http.MethodPost, path + "/adjust", `{"txn_id":"a","amount":"0"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"missing txn id", http.MethodPost, path + "/debit", `{"amount":"1.00"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown field", http.MethodPost, path + "/debit", `{"txn_id":"a","amount":"1.00","currency":"USD"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed json", http.MethodPost, path + "/debit", `{`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad status", http.MethodPost, path + "/status", `{"status":"DELETED"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad account id", http.MethodGet, "/accounts/not-a-uuid/balance", "", http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"unknown account", http.MethodGet, "/accounts/" + uuid.NewString() + "/balance", "", http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"limit too large", http.MethodGet, path + "/transactions?limit=1000", "", http.StatusBadRequest, "VALIDATION_FAILED"},
		{"empty holder", http.MethodPost, "/accounts", `{"holder_ref":""}`, http.StatusBadRequest, "VALIDATION_FAILED"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := asCaller(jsonRequest(tc.method, tc.path, tc.body), "ops", auth.RoleOperator)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.wantCode, env.Error.Code)
		})
	}
}

func TestAccountHandler_SetStatus(t *testing.T) {
	router, _ := setupAccountRouter(t)
	acct := openAccount(t, router)
	path := "/accounts/" + acct.ID.String()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonRequest(http.MethodPost, path+"/status", `{"status":"CLOSED"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "status changes need an authenticated caller")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asCaller(jsonRequest(http.MethodPost, path+"/status", `{"status":"CLOSED"}`), "ops", auth.RoleOperator))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, jsonRequest(http.MethodPost, path+"/credit", `{"txn_id":"late","amount":"1.00"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "ACCOUNT_NOT_USABLE", decodeEnvelope(t, rec).Error.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asCaller(jsonRequest(http.MethodPost, path+"/status", `{"status":"ACTIVE"}`), "ops", auth.RoleOperator))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_STATUS_TRANSITION", decodeEnvelope(t, rec).Error.Code)
}

type mockConflicts struct {
	mock.Mock
}

func (m *mockConflicts) Get(ctx context.Context, txnID string) (*domain.Conflict, error) {
	args := m.Called(ctx, txnID)
	c, _ := args.Get(0).(*domain.Conflict)
	return c, args.Error(1)
}

func (m *mockConflicts) List(ctx context.Context, status domain.ConflictStatus, limit, offset int) ([]domain.Conflict, int, error) {
	args := m.Called(ctx, status, limit, offset)
	cs, _ := args.Get(0).([]domain.Conflict)
	return cs, args.Int(1), args.Error(2)
}

func (m *mockConflicts) Resolve(ctx context.Context, txnID string, strategy domain.ResolutionStrategy, resolvedBy, note string) (*domain.Resolution, error) {
	args := m.Called(ctx, txnID, strategy, resolvedBy, note)
	res, _ := args.Get(0).(*domain.Resolution)
	return res, args.Error(1)
}

func conflictRouter(svc conflictService) http.Handler {
	h := NewConflictHandler(svc)
	r := chi.NewRouter()
	r.Get("/conflicts", h.List)
	r.Get("/conflicts/{txnId}", h.Get)
	r.Post("/conflicts/{txnId}/resolve", h.Resolve)
	return r
}

func TestConflictHandler_Resolve(t *testing.T) {
	shortfall := "canteen-01:7#shortfall"

	tests := []struct {
		name       string
		body       string
		setup      func(m *mockConflicts)
		wantStatus int
		wantCode   string
	}{
		{
			name: "partial apply",
			body: `{"strategy":"PARTIAL_APPLY","note":"parent agreed to top up"}`,
			setup: func(m *mockConflicts) {
				m.On("Resolve", mock.Anything, "canteen-01:7", domain.StrategyPartialApply, "ops-alice", "parent agreed to top up").
					Return(&domain.Resolution{
						TxnID:          "canteen-01:7",
						Strategy:       domain.StrategyPartialApply,
						AppliedAmount:  mustDecimal("2"),
						Shortfall:      mustDecimal("4"),
						ShortfallTxnID: &shortfall,
						ResolvedBy:     "ops-alice",
						ResolvedAt:     fixedNow,
					}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "already resolved",
			body: `{"strategy":"REJECT"}`,
			setup: func(m *mockConflicts) {
				m.On("Resolve", mock.Anything, "canteen-01:7", domain.StrategyReject, "ops-alice", "").
					Return(nil, domain.ErrConflictAlreadyResolved)
			},
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT_ALREADY_RESOLVED",
		},
		{
			name:       "unknown strategy",
			body:       `{"strategy":"IGNORE"}`,
			setup:      func(m *mockConflicts) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name: "not found",
			body: `{"strategy":"MANUAL"}`,
			setup: func(m *mockConflicts) {
				m.On("Resolve", mock.Anything, "canteen-01:7", domain.StrategyManual, "ops-alice", "").
					Return(nil, domain.ErrNotFound)
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "RESOURCE_NOT_FOUND",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockConflicts{}
			tc.setup(svc)

			req := asCaller(jsonRequest(http.MethodPost, "/conflicts/canteen-01:7/resolve", tc.body), "ops-alice", auth.RoleOperator)
			rec := httptest.NewRecorder()
			conflictRouter(svc).ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec)
			if tc.wantCode != "" {
				require.NotNil(t, env.Error)
				assert.Equal(t, tc.wantCode, env.Error.Code)
			} else {
				var res resolutionDTO
				require.NoError(t, json.Unmarshal(env.Data, &res))
				assert.Equal(t, "2.00", res.AppliedAmount)
				assert.Equal(t, "4.00", res.Shortfall)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestConflictHandler_List(t *testing.T) {
	svc := &mockConflicts{}
	svc.On("List", mock.Anything, domain.ConflictOpen, 10, 20).Return([]domain.Conflict{{
		TxnID:     "gym-01:3",
		AccountID: uuid.New(),
		DeviceID:  "gym-01",
		Amount:    mustDecimal("6"),
		Reason:    domain.ConflictReason("INSUFFICIENT_BALANCE"),
		Status:    domain.ConflictOpen,
	}}, 21, nil)

	rec := httptest.NewRecorder()
	conflictRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conflicts?status=OPEN&limit=10&offset=20", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page conflictPageDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &page))
	assert.Equal(t, 21, page.Total)
	require.Len(t, page.Conflicts, 1)
	assert.Equal(t, "6.00", page.Conflicts[0].Amount)
	assert.Nil(t, page.Conflicts[0].Strategy)

	rec = httptest.NewRecorder()
	conflictRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conflicts?status=PENDING", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertExpectations(t)
}

type fakeIngest struct {
	batch []domain.PendingRecord
	err   error
}

func (f *fakeIngest) Ingest(_ context.Context, batch []domain.PendingRecord) (*domain.SyncReport, error) {
	f.batch = batch
	if f.err != nil {
		return nil, f.err
	}
	items := make([]domain.SyncItem, len(batch))
	for i, r := range batch {
		items[i] = domain.SyncItem{TxnID: r.TxnID, Outcome: domain.OutcomeApplied}
	}
	return domain.NewSyncReport(items), nil
}

func TestSyncHandler_Batch(t *testing.T) {
	accountID := uuid.New()
	body := `{"records":[
		{"txn_id":"canteen-01:1","account_id":"` + accountID.String() + `","device_id":"canteen-01","sequence":1,"amount":"15.00","occurred_at":"2026-10-05T08:15:00Z","whitelist_version":2,"signature":"ab"},
		{"txn_id":"canteen-01:2","account_id":"garbage","device_id":"canteen-01","sequence":2,"amount":"lots","occurred_at":"yesterday","whitelist_version":2,"signature":"cd"}
	]}`

	t.Run("parses records leniently", func(t *testing.T) {
		svc := &fakeIngest{}
		rec := httptest.NewRecorder()
		NewSyncHandler(svc).Batch(rec, asCaller(jsonRequest(http.MethodPost, "/sync/batch", body), "canteen-01", auth.RoleTerminal))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, svc.batch, 2)
		assert.Equal(t, accountID, svc.batch[0].AccountID)
		assert.True(t, mustDecimal("15").Equal(svc.batch[0].Amount))
		assert.True(t, time.Date(2026, 10, 5, 8, 15, 0, 0, time.UTC).Equal(svc.batch[0].OccurredAt))
		assert.Equal(t, uuid.Nil, svc.batch[1].AccountID)
		assert.True(t, svc.batch[1].Amount.IsZero())
		assert.True(t, svc.batch[1].OccurredAt.IsZero())

		var report syncReportDTO
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &report))
		assert.Equal(t, 2, report.Applied)
		assert.Equal(t, "APPLIED", report.Items[1].Outcome)
	})

	t.Run("foreign device", func(t *testing.T) {
		svc := &fakeIngest{}
		rec := httptest.NewRecorder()
		NewSyncHandler(svc).Batch(rec, asCaller(jsonRequest(http.MethodPost, "/sync/batch", body), "library-02", auth.RoleTerminal))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Nil(t, svc.batch)
	})

	t.Run("batch too large", func(t *testing.T) {
		svc := &fakeIngest{err: domain.ErrBatchTooLarge}
		rec := httptest.NewRecorder()
		NewSyncHandler(svc).Batch(rec, asCaller(jsonRequest(http.MethodPost, "/sync/batch", body), "canteen-01", auth.RoleTerminal))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "BATCH_TOO_LARGE", decodeEnvelope(t, rec).Error.Code)
	})
}

func TestWhitelistHandler(t *testing.T) {
	store := memory.New()
	accountID := uuid.New()
	require.NoError(t, store.Accounts().Create(context.Background(), &domain.Account{
		ID: accountID, HolderRef: "h", Status: domain.AccountStatusActive, Version: 1, CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}))
	h := NewWhitelistHandler(whitelist.NewService(store.Whitelist(), store.Accounts(), nil, func() time.Time { return fixedNow }))

	r := chi.NewRouter()
	r.Get("/devices/{deviceId}/whitelist", h.Snapshot)
	r.Put("/devices/{deviceId}/whitelist/{accountId}", h.Upsert)

	body := `{"max_per_transaction":"20.00","valid_from":"2026-10-01T00:00:00Z","valid_until":"2026-12-01T00:00:00Z"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, asCaller(jsonRequest(http.MethodPut, "/devices/canteen-01/whitelist/"+accountID.String(), body), "ops", auth.RoleOperator))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, asCaller(jsonRequest(http.MethodPut, "/devices/canteen-01/whitelist/"+accountID.String(),
		`{"max_per_transaction":"20.00","valid_from":"2026-12-01T00:00:00Z","valid_until":"2026-10-01T00:00:00Z"}`), "ops", auth.RoleOperator))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, asCaller(httptest.NewRequest(http.MethodGet, "/devices/canteen-01/whitelist", nil), "canteen-01", auth.RoleTerminal))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap snapshotDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &snap))
	assert.Equal(t, "canteen-01", snap.DeviceID)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "20.00", snap.Entries[0].MaxPerTransaction)
	assert.NotEmpty(t, snap.Checksum)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, asCaller(httptest.NewRequest(http.MethodGet, "/devices/canteen-01/whitelist", nil), "gym-01", auth.RoleTerminal))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthHandler_Readiness(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return assert.AnError },
	})

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "down", body["status"])
	assert.Equal(t, map[string]any{"database": "ok", "redis": "down"}, body["checks"])
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, accountID uuid.UUID) (*domain.ReconciliationResult, error) {
	args := m.Called(ctx, accountID)
	res, _ := args.Get(0).(*domain.ReconciliationResult)
	return res, args.Error(1)
}

func (m *mockReconciler) ReconcileAll(ctx context.Context, runDate time.Time) (*domain.ReconciliationRun, error) {
	args := m.Called(ctx, runDate)
	run, _ := args.Get(0).(*domain.ReconciliationRun)
	return run, args.Error(1)
}

func (m *mockReconciler) Results(ctx context.Context, accountID uuid.UUID, runDate *time.Time, limit int) ([]domain.ReconciliationResult, error) {
	args := m.Called(ctx, accountID, runDate, limit)
	rs, _ := args.Get(0).([]domain.ReconciliationResult)
	return rs, args.Error(1)
}

func (m *mockReconciler) Realign(ctx context.Context, accountID uuid.UUID, expectedDelta decimal.Decimal, operator, note string) (*domain.ReconciliationResult, error) {
	args := m.Called(ctx, accountID, expectedDelta.StringFixed(domain.MinorUnitPlaces), operator, note)
	res, _ := args.Get(0).(*domain.ReconciliationResult)
	return res, args.Error(1)
}

func TestReconciliationHandler_Realign(t *testing.T) {
	accountID := uuid.New()
	adjTxn := "realign:01JRUN:" + accountID.String()

	tests := []struct {
		name       string
		body       string
		setup      func(m *mockReconciler)
		wantStatus int
		wantCode   string
	}{
		{
			name: "reviewed drift corrected",
			body: `{"expected_delta":"25.00","note":"till recount"}`,
			setup: func(m *mockReconciler) {
				m.On("Realign", mock.Anything, accountID, "25.00", "ops-alice", "till recount").
					Return(&domain.ReconciliationResult{
						ID:              "01JRES",
						RunID:           "01JRUN",
						RunDate:         fixedNow,
						AccountID:       accountID,
						Computed:        mustDecimal("45"),
						Stored:          mustDecimal("70"),
						Delta:           mustDecimal("25"),
						Action:          domain.ActionRealigned,
						AdjustmentTxnID: &adjTxn,
						CreatedAt:       fixedNow,
					}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "drift moved",
			body: `{"expected_delta":"-3.10"}`,
			setup: func(m *mockReconciler) {
				m.On("Realign", mock.Anything, accountID, "-3.10", "ops-alice", "").
					Return(nil, domain.ErrDriftChanged)
			},
			wantStatus: http.StatusConflict,
			wantCode:   "DRIFT_CHANGED",
		},
		{
			name: "nothing to realign",
			body: `{"expected_delta":"1.00"}`,
			setup: func(m *mockReconciler) {
				m.On("Realign", mock.Anything, accountID, "1.00", "ops-alice", "").
					Return(nil, domain.ErrNoDrift)
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "NO_DRIFT",
		},
		{
			name:       "missing expected delta",
			body:       `{"note":"just fix it"}`,
			setup:      func(m *mockReconciler) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockReconciler{}
			tc.setup(svc)
			h := NewReconciliationHandler(svc, func() time.Time { return fixedNow })
			r := chi.NewRouter()
			r.Post("/reconciliation/{accountId}/realign", h.Realign)

			req := asCaller(jsonRequest(http.MethodPost, "/reconciliation/"+accountID.String()+"/realign", tc.body), "ops-alice", auth.RoleOperator)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec)
			if tc.wantCode != "" {
				require.NotNil(t, env.Error)
				assert.Equal(t, tc.wantCode, env.Error.Code)
			} else {
				var res reconciliationResultDTO
				require.NoError(t, json.Unmarshal(env.Data, &res))
				assert.Equal(t, "REALIGNED", res.Action)
				assert.Equal(t, "25.00", res.Delta)
				require.NotNil(t, res.AdjustmentTxnID)
				assert.Equal(t, adjTxn, *res.AdjustmentTxnID)
			}
			svc.AssertExpectations(t)
		})
	}
}
