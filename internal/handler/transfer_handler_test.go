package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/internal/model"
	"github.com/proofmint/intermezzo/internal/orchestrator"
	"github.com/proofmint/intermezzo/internal/store"
	"github.com/proofmint/intermezzo/internal/submission"
	"github.com/proofmint/intermezzo/internal/txn"
	"github.com/proofmint/intermezzo/pkg/errno"
	"github.com/proofmint/intermezzo/pkg/validator"
)

type fakeTransfers struct {
	value   orchestrator.ValueTransfer
	asset   orchestrator.AssetTransfer
	claw    orchestrator.Clawback
	create  orchestrator.AssetCreate
	group   orchestrator.Group
	receipt orchestrator.Receipt
	err     error
}

func (f *fakeTransfers) TransferValue(_ context.Context, req orchestrator.ValueTransfer) (orchestrator.Receipt, error) {
	f.value = req
	return f.receipt, f.err
}

func (f *fakeTransfers) TransferAsset(_ context.Context, req orchestrator.AssetTransfer) (orchestrator.Receipt, error) {
	f.asset = req
	return f.receipt, f.err
}

func (f *fakeTransfers) ClawbackAsset(_ context.Context, req orchestrator.Clawback) (orchestrator.Receipt, error) {
	f.claw = req
	return f.receipt, f.err
}

func (f *fakeTransfers) CreateAsset(_ context.Context, req orchestrator.AssetCreate) (orchestrator.Receipt, error) {
	f.create = req
	return f.receipt, f.err
}

func (f *fakeTransfers) SubmitGroup(_ context.Context, req orchestrator.Group) (orchestrator.Receipt, error) {
	f.group = req
	return f.receipt, f.err
}

type fakeStatus struct {
	res submission.Result
	err error
}

func (f *fakeStatus) Status(_ context.Context, txID string) (submission.Result, error) {
	f.res.TxID = txID
	return f.res, f.err
}

type fakeFinder struct {
	rows    map[string]*model.Transfer
	updated []string
}

func (f *fakeFinder) Find(_ context.Context, txID string) (*model.Transfer, error) {
	row, ok := f.rows[txID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return row, nil
}

func (f *fakeFinder) UpdateStatus(_ context.Context, row *model.Transfer, status string, round uint64) error {
	row.Status = status
	row.ConfirmedRound = round
	f.updated = append(f.updated, row.TxID)
	return nil
}

type body struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(h *TransferHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	validator.Init()
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, payload any, header map[string]string) body {
	t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var out body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func testAddress(b byte) types.Address {
	var a types.Address
	a[0] = b
	a[31] = b
	return a
}

func TestTransferValueBindsRequest(t *testing.T) {
	f := &fakeTransfers{receipt: orchestrator.Receipt{WorkflowID: "wf-1", TxID: "TX1", ConfirmedRound: 1001, BundleSize: 1}}
	r := setupRouter(NewTransferHandler(f, &fakeStatus{}, nil, nil))
	to := testAddress(7)

	out := do(t, r, http.MethodPost, "/api/v1/transfers/value", map[string]any{
		"from":   map[string]any{"id": "alice", "role": "user"},
		"to":     to.String(),
		"amount": "2500000",
		"note":   "hi",
	}, map[string]string{IdempotencyHeader: "key-1"})

	assert.Equal(t, errno.OK.Code, out.Code)
	assert.Contains(t, string(out.Data), `"tx_id":"TX1"`)
	assert.Equal(t, txn.Identity{ID: "alice", Role: txn.RoleUser}, f.value.From)
	assert.Equal(t, to, f.value.To)
	assert.Equal(t, uint64(2500000), f.value.Amount)
	assert.Equal(t, []byte("hi"), f.value.Note)
	assert.Equal(t, "key-1", f.value.IdempotencyKey)
}

func TestTransferValueValidation(t *testing.T) {
	f := &fakeTransfers{}
	r := setupRouter(NewTransferHandler(f, &fakeStatus{}, nil, nil))

	out := do(t, r, http.MethodPost, "/api/v1/transfers/value", map[string]any{
		"from":   map[string]any{"id": "alice", "role": "admin"},
		"to":     "not-an-address",
		"amount": 1,
	}, nil)
	assert.Equal(t, errno.ErrBind.Code, out.Code)
	assert.Contains(t, out.Msg, "不是合法地址")

	out = do(t, r, http.MethodPost, "/api/v1/transfers/value", map[string]any{
		"from":   map[string]any{"id": "alice", "role": "user"},
		"to":     testAddress(1).String(),
		"amount": "1.5",
	}, nil)
	assert.Equal(t, errno.ErrInvalidField.Code, out.Code)
	assert.Contains(t, out.Msg, "amount")
	assert.Contains(t, string(out.Data), `"safe_to_retry":true`)
}

func TestTransferAssetDefaultsToManager(t *testing.T) {
	f := &fakeTransfers{}
	r := setupRouter(NewTransferHandler(f, &fakeStatus{}, nil, nil))

	out := do(t, r, http.MethodPost, "/api/v1/transfers/asset", map[string]any{
		"asset_id": 42,
		"to":       map[string]any{"id": "bob", "role": "user"},
		"amount":   10,
	}, nil)
	require.Equal(t, errno.OK.Code, out.Code)
	assert.Equal(t, txn.RoleManager, f.asset.From.Role)
	assert.Equal(t, uint64(42), f.asset.AssetID)
	assert.Equal(t, "bob", f.asset.To.ID)
}

func TestSubmitGroupPrefixesMemberErrors(t *testing.T) {
	f := &fakeTransfers{}
	r := setupRouter(NewTransferHandler(f, &fakeStatus{}, nil, nil))

	out := do(t, r, http.MethodPost, "/api/v1/transfers/group", map[string]any{
		"members": []map[string]any{
			{"kind": "payment", "sender": map[string]any{"role": "manager"}, "receiver": testAddress(2).String(), "amount": 1},
			{"kind": "payment", "sender": map[string]any{"role": "manager"}, "receiver": testAddress(2).String(), "amount": "0.1"},
		},
	}, nil)
	assert.Equal(t, errno.ErrInvalidField.Code, out.Code)
	assert.Contains(t, out.Msg, "members[1].amount")

	out = do(t, r, http.MethodPost, "/api/v1/transfers/group", map[string]any{"members": []any{}}, nil)
	assert.Equal(t, errno.ErrBind.Code, out.Code)
}

func TestCreateAssetMapsParams(t *testing.T) {
	f := &fakeTransfers{receipt: orchestrator.Receipt{TxID: "TX9", AssetID: 77}}
	r := setupRouter(NewTransferHandler(f, &fakeStatus{}, nil, nil))
	reserve := testAddress(3)

	out := do(t, r, http.MethodPost, "/api/v1/assets", map[string]any{
		"total":      1000,
		"unit_name":  "GOLD",
		"asset_name": "Gold",
		"reserve":    reserve.String(),
	}, nil)
	require.Equal(t, errno.OK.Code, out.Code)
	assert.Contains(t, string(out.Data), `"asset_id":77`)
	require.NotNil(t, f.create.Params.Total)
	assert.Equal(t, uint64(1000), *f.create.Params.Total)
	assert.Equal(t, reserve, f.create.Params.Reserve)
	assert.True(t, f.create.Params.Manager.IsZero())
}

func TestAmountsUseFullUint64Range(t *testing.T) {
	f := &fakeTransfers{}
	r := setupRouter(NewTransferHandler(f, &fakeStatus{}, nil, nil))
	maxUint := json.Number("18446744073709551615")

	out := do(t, r, http.MethodPost, "/api/v1/assets", map[string]any{"total": maxUint, "unit_name": "MAX"}, nil)
	require.Equal(t, errno.OK.Code, out.Code, out.Msg)
	require.NotNil(t, f.create.Params.Total)
	assert.Equal(t, uint64(math.MaxUint64), *f.create.Params.Total)

	out = do(t, r, http.MethodPost, "/api/v1/transfers/clawback", map[string]any{
		"asset_id": 9,
		"from":     map[string]any{"id": "bob", "role": "user"},
		"amount":   "9223372036854775808",
	}, nil)
	require.Equal(t, errno.OK.Code, out.Code, out.Msg)
	assert.Equal(t, uint64(1)<<63, f.claw.Amount)

	out = do(t, r, http.MethodPost, "/api/v1/transfers/value", map[string]any{
		"from":   map[string]any{"id": "alice", "role": "user"},
		"to":     testAddress(1).String(),
		"amount": maxUint,
	}, nil)
	require.Equal(t, errno.OK.Code, out.Code, out.Msg)
	assert.Equal(t, uint64(math.MaxUint64), f.value.Amount)
}

func TestAmountBoundaryRejections(t *testing.T) {
	f := &fakeTransfers{}
	r := setupRouter(NewTransferHandler(f, &fakeStatus{}, nil, nil))

	cases := []struct {
		name  string
		path  string
		body  map[string]any
		field string
	}{
		{"negative amount", "/api/v1/transfers/value", map[string]any{
			"from": map[string]any{"role": "manager"}, "to": testAddress(1).String(), "amount": -5,
		}, "amount"},
		{"amount above 2^64-1", "/api/v1/transfers/value", map[string]any{
			"from": map[string]any{"role": "manager"}, "to": testAddress(1).String(), "amount": json.Number("18446744073709551616"),
		}, "amount"},
		{"negative total", "/api/v1/assets", map[string]any{"total": -1}, "total"},
		{"fractional total", "/api/v1/assets", map[string]any{"total": "10.5"}, "total"},
		{"negative member amount", "/api/v1/transfers/group", map[string]any{"members": []map[string]any{
			{"kind": "payment", "sender": map[string]any{"role": "manager"}, "receiver": testAddress(2).String(), "amount": "-1"},
		}}, "members[0].amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := do(t, r, http.MethodPost, tc.path, tc.body, nil)
			assert.Equal(t, errno.ErrInvalidField.Code, out.Code)
			assert.Contains(t, out.Msg, tc.field)
		})
	}
}

func TestErrorOutcomeFlags(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		code    int
		unknown bool
	}{
		{"rejected", &apperr.RejectedError{TxID: "TX", Reason: "overspend"}, errno.ErrRejected.Code, false},
		{"timed out", apperr.AfterSubmit("TX", &apperr.TimedOutError{TxID: "TX", Rounds: 20}), errno.ErrTimedOut.Code, true},
		{"submit transport", apperr.AfterSubmit("TX", &apperr.LedgerUnavailableError{Op: "submit", Status: 502}), errno.ErrOutcomeUnknown.Code, true},
		{"custody", &apperr.CustodyUnavailableError{Op: "sign", Status: 503}, errno.ErrCustodyUnavailable.Code, false},
		{"mismatch", &apperr.AddressMismatchError{Identity: "user:alice"}, errno.ErrAddressMismatch.Code, false},
		{"duplicate", &apperr.DuplicateRequestError{Key: "k"}, errno.ErrDuplicateRequest.Code, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeTransfers{err: tc.err}
			r := setupRouter(NewTransferHandler(f, &fakeStatus{}, nil, nil))

			out := do(t, r, http.MethodPost, "/api/v1/transfers/clawback", map[string]any{
				"asset_id": 5,
				"from":     map[string]any{"id": "alice", "role": "user"},
				"amount":   1,
			}, nil)
			assert.Equal(t, tc.code, out.Code)

			var data struct {
				OutcomeUnknown bool   `json:"outcome_unknown"`
				SafeToRetry    bool   `json:"safe_to_retry"`
				TxID           string `json:"tx_id"`
			}
			require.NoError(t, json.Unmarshal(out.Data, &data))
			assert.Equal(t, tc.unknown, data.OutcomeUnknown)
			assert.Equal(t, !tc.unknown, data.SafeToRetry)
		})
	}
}

func TestGetTransferRefreshesUnknownRecord(t *testing.T) {
	finder := &fakeFinder{rows: map[string]*model.Transfer{
		"TXA": {TxID: "TXA", Status: orchestrator.StatusTimedOut},
		"TXB": {TxID: "TXB", Status: orchestrator.StatusConfirmed, ConfirmedRound: 9},
	}}
	status := &fakeStatus{res: submission.Result{ConfirmedRound: 1200}}
	r := setupRouter(NewTransferHandler(&fakeTransfers{}, status, finder, nil))

	out := do(t, r, http.MethodGet, "/api/v1/transfers/TXA", nil, nil)
	require.Equal(t, errno.OK.Code, out.Code)
	assert.Contains(t, string(out.Data), `"status":"confirmed"`)
	assert.Equal(t, []string{"TXA"}, finder.updated)

	out = do(t, r, http.MethodGet, "/api/v1/transfers/TXB", nil, nil)
	require.Equal(t, errno.OK.Code, out.Code)
	assert.Contains(t, string(out.Data), `"confirmed_round":9`)
	assert.Len(t, finder.updated, 1)
}

func TestGetTransferWithoutRecord(t *testing.T) {
	status := &fakeStatus{err: &apperr.LedgerUnavailableError{Op: "pending", Status: http.StatusNotFound}}
	r := setupRouter(NewTransferHandler(&fakeTransfers{}, status, nil, nil))

	out := do(t, r, http.MethodGet, "/api/v1/transfers/NOPE", nil, nil)
	assert.Equal(t, errno.ErrNotFound.Code, out.Code)

	status.err = nil
	status.res = submission.Result{Reason: "overspend", Rejected: true}
	out = do(t, r, http.MethodGet, "/api/v1/transfers/TXR", nil, nil)
	require.Equal(t, errno.OK.Code, out.Code)
	assert.Contains(t, string(out.Data), `"status":"rejected"`)
}
