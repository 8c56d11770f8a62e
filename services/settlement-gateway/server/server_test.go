package server

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"superswap/core/types"
	"superswap/gateway/auth"
	"superswap/native/settlement"
	"superswap/router"
)

const (
	testAPIKey    = "collector-1"
	testAPISecret = "collector-secret"
	adminSecret   = "admin-jwt-secret"
)

func testIdentity(fill byte) types.Identity {
	var id types.Identity
	for i := range id {
		id[i] = fill
	}
	return id
}

type mockEngine struct {
	settleOrder   *settlement.Order
	settleErr     error
	settleCalls   int
	lastCaller    types.Identity
	lastMessage   settlement.OrderMessage
	lastHandles   []router.AccountHandle
	storedOrder   *settlement.Order
	pauseCalls    int
	pauseCaller   types.Identity
	updatedConfig *settlement.Config
	updateErr     error
	lastPatch     settlement.ConfigPatch
}

func (m *mockEngine) SettleOrder(caller types.Identity, msg settlement.OrderMessage, handles []router.AccountHandle) (*settlement.Order, error) {
	m.settleCalls++
	m.lastCaller = caller
	m.lastMessage = msg
	m.lastHandles = handles
	if m.settleErr != nil {
		return nil, m.settleErr
	}
	return m.settleOrder, nil
}

func (m *mockEngine) Order(orderID uint64) (*settlement.Order, bool, error) {
	if m.storedOrder != nil && m.storedOrder.OrderID == orderID {
		return m.storedOrder, true, nil
	}
	return nil, false, nil
}

func (m *mockEngine) Orders(cursor uint64, limit int) ([]*settlement.Order, uint64, error) {
	if m.storedOrder == nil {
		return nil, 0, nil
	}
	return []*settlement.Order{m.storedOrder}, 0, nil
}

func (m *mockEngine) Config() (*settlement.Config, bool, error) {
	return nil, false, nil
}

func (m *mockEngine) Pause(caller types.Identity) error {
	m.pauseCalls++
	m.pauseCaller = caller
	return nil
}

func (m *mockEngine) Unpause(caller types.Identity) error {
	m.pauseCaller = caller
	return nil
}

func (m *mockEngine) UpdateConfig(caller types.Identity, patch settlement.ConfigPatch) (*settlement.Config, error) {
	m.lastPatch = patch
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return m.updatedConfig, nil
}

func newTestServer(t *testing.T, engine SettlementEngine, withStore bool) *Server {
	t.Helper()
	var store *SQLiteStore
	if withStore {
		var err error
		store, err = NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
	}
	cfg := Config{
		AllowedTimestampSkew: time.Minute,
		NonceTTL:             5 * time.Minute,
		AdminJWTSecret:       adminSecret,
		APIKeySecrets:        map[string]string{testAPIKey: testAPISecret},
		CallerIdentities:     map[string]types.Identity{testAPIKey: testIdentity(0x02)},
	}
	return NewServer(cfg, engine, nil, store, nil)
}

func signRequest(t *testing.T, req *http.Request, nonce string, body []byte) {
	t.Helper()
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	sig := auth.ComputeSignature(testAPISecret, timestamp, nonce, req.Method, auth.CanonicalRequestPath(req), body)
	req.Header.Set(auth.HeaderAPIKey, testAPIKey)
	req.Header.Set(auth.HeaderTimestamp, timestamp)
	req.Header.Set(auth.HeaderNonce, nonce)
	req.Header.Set(auth.HeaderSignature, hex.EncodeToString(sig))
}

func submissionBody(t *testing.T) []byte {
	t.Helper()
	payload := base64.StdEncoding.EncodeToString([]byte{0xDE, 0xAD})
	body, err := json.Marshal(orderSubmission{
		OrderID:          42,
		Recipient:        testIdentity(0x03).String(),
		SourceAmount:     1_000_000,
		MinOutputAmount:  950_000,
		DestinationAsset: testIdentity(0xA2).String(),
		Deadline:         time.Now().Add(time.Hour).Unix(),
		RoutingProgram:   testIdentity(0x05).String(),
		RoutingPayload:   payload,
		ResourceHandles: []resourceHandle{
			{ID: testIdentity(0x10).String(), Writable: true},
		},
	})
	require.NoError(t, err)
	return body
}

func completedOrder() *settlement.Order {
	return &settlement.Order{
		OrderID:          42,
		Recipient:        testIdentity(0x03),
		ReceivedAmount:   1_000_000,
		MinOutput:        950_000,
		DestinationAsset: testIdentity(0xA2),
		Status:           settlement.OrderCompleted,
		FeePaid:          3_000,
		OutputAmount:     950_500,
		CreatedAt:        1_700_000_000,
		SettledAt:        1_700_000_000,
	}
}

func TestOrderSubmit(t *testing.T) {
	engine := &mockEngine{settleOrder: completedOrder()}
	srv := newTestServer(t, engine, false)

	body := submissionBody(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body))
	signRequest(t, req, "nonce-1", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, engine.settleCalls)
	require.Equal(t, testIdentity(0x02), engine.lastCaller)
	require.Equal(t, uint64(42), engine.lastMessage.OrderID)
	require.Equal(t, []byte{0xDE, 0xAD}, engine.lastMessage.RoutingPayload)
	require.Len(t, engine.lastHandles, 1)
	require.True(t, engine.lastHandles[0].Writable)

	var view orderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "completed", view.Status)
	require.Equal(t, uint64(3_000), view.FeePaid)
	require.Equal(t, uint64(950_500), view.OutputAmount)
}

type mockUnits struct {
	commitCalls int
	commitErr   error
	revertCalls int
}

func (m *mockUnits) Commit() error        { m.commitCalls++; return m.commitErr }
func (m *mockUnits) RevertToSnapshot(int) { m.revertCalls++ }

func newTestServerWithUnits(t *testing.T, engine SettlementEngine, units UnitState) *Server {
	t.Helper()
	cfg := Config{
		AllowedTimestampSkew: time.Minute,
		NonceTTL:             5 * time.Minute,
		AdminJWTSecret:       adminSecret,
		APIKeySecrets:        map[string]string{testAPIKey: testAPISecret},
		CallerIdentities:     map[string]types.Identity{testAPIKey: testIdentity(0x02)},
	}
	return NewServer(cfg, engine, units, nil, nil)
}

func TestOrderSubmitCommitsUnit(t *testing.T) {
	engine := &mockEngine{settleOrder: completedOrder()}
	units := &mockUnits{}
	srv := newTestServerWithUnits(t, engine, units)

	body := submissionBody(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body))
	signRequest(t, req, "nonce-1", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, units.commitCalls)
	require.Zero(t, units.revertCalls)

	// A failed flush surfaces as a server error and unwinds the stage.
	units.commitErr = errors.New("disk full")
	req = httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body))
	signRequest(t, req, "nonce-2", body)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, units.revertCalls)
}

func TestOrderSubmitFailureSkipsCommit(t *testing.T) {
	engine := &mockEngine{settleErr: settlement.ErrDuplicateOrder}
	units := &mockUnits{}
	srv := newTestServerWithUnits(t, engine, units)

	body := submissionBody(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body))
	signRequest(t, req, "nonce-1", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Zero(t, units.commitCalls)
}

func TestOrderSubmitRequiresAuth(t *testing.T) {
	srv := newTestServer(t, &mockEngine{}, false)
	body := submissionBody(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOrderSubmitMapsEngineErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{settlement.ErrDuplicateOrder, http.StatusConflict},
		{settlement.ErrUnauthorizedCollector, http.StatusForbidden},
		{settlement.ErrDeadlineExceeded, http.StatusBadRequest},
		{settlement.ErrNotInitialized, http.StatusServiceUnavailable},
		{settlement.ErrRefundFailed, http.StatusBadGateway},
	}
	for i, tc := range cases {
		engine := &mockEngine{settleErr: tc.err}
		srv := newTestServer(t, engine, false)
		body := submissionBody(t)
		req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body))
		signRequest(t, req, fmt.Sprintf("nonce-%d", i), body)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		require.Equal(t, tc.status, rec.Code, "case %d: %v", i, tc.err)
	}
}

func TestOrderSubmitIdempotencyReplay(t *testing.T) {
	engine := &mockEngine{settleOrder: completedOrder()}
	srv := newTestServer(t, engine, true)

	body := submissionBody(t)
	first := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body))
	first.Header.Set("Idempotency-Key", "key-1")
	signRequest(t, first, "nonce-1", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, engine.settleCalls)

	second := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(body))
	second.Header.Set("Idempotency-Key", "key-1")
	signRequest(t, second, "nonce-2", body)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, second)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, engine.settleCalls, "replay must not reach the engine")

	altered := bytes.Replace(body, []byte(`"orderId":42`), []byte(`"orderId":43`), 1)
	third := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(altered))
	third.Header.Set("Idempotency-Key", "key-1")
	signRequest(t, third, "nonce-3", altered)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, third)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestOrderGet(t *testing.T) {
	engine := &mockEngine{storedOrder: completedOrder()}
	srv := newTestServer(t, engine, false)

	req := httptest.NewRequest(http.MethodGet, "/v1/orders/42", nil)
	signRequest(t, req, "nonce-1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	missing := httptest.NewRequest(http.MethodGet, "/v1/orders/99", nil)
	signRequest(t, missing, "nonce-2", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, missing)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func adminToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(adminSecret))
	require.NoError(t, err)
	return signed
}

func TestAdminPause(t *testing.T) {
	engine := &mockEngine{}
	srv := newTestServer(t, engine, false)

	unauth := httptest.NewRequest(http.MethodPost, "/v1/admin/pause", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, unauth)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, engine.pauseCalls)

	admin := testIdentity(0x01)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/pause", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, admin.String()))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, engine.pauseCalls)
	require.Equal(t, admin, engine.pauseCaller)
}

func TestAdminConfigPatch(t *testing.T) {
	newCollector := testIdentity(0x09)
	engine := &mockEngine{updatedConfig: &settlement.Config{
		Admin:     testIdentity(0x01),
		Collector: newCollector,
		FeeBps:    25,
		Version:   2,
	}}
	srv := newTestServer(t, engine, false)

	fee := uint32(25)
	body, err := json.Marshal(configPatchRequest{
		Collector: strPtr(newCollector.String()),
		FeeBps:    &fee,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/v1/admin/config", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken(t, testIdentity(0x01).String()))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, engine.lastPatch.Collector)
	require.Equal(t, newCollector, *engine.lastPatch.Collector)
	require.NotNil(t, engine.lastPatch.FeeBps)
	require.Equal(t, uint32(25), *engine.lastPatch.FeeBps)

	var view configView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, uint64(2), view.Version)
}

func strPtr(s string) *string { return &s }
