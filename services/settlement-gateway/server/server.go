package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"superswap/core/types"
	"superswap/gateway/auth"
	"superswap/native/common"
	"superswap/native/settlement"
	"superswap/observability/metrics"
	"superswap/router"
)

const maxRequestBody = 1 << 20

// SettlementEngine is the engine surface the gateway depends on.
type SettlementEngine interface {
	SettleOrder(caller types.Identity, msg settlement.OrderMessage, handles []router.AccountHandle) (*settlement.Order, error)
	Order(orderID uint64) (*settlement.Order, bool, error)
	Orders(cursor uint64, limit int) ([]*settlement.Order, uint64, error)
	Config() (*settlement.Config, bool, error)
	Pause(caller types.Identity) error
	Unpause(caller types.Identity) error
	UpdateConfig(caller types.Identity, patch settlement.ConfigPatch) (*settlement.Config, error)
}

// UnitState lets the server flush the staged unit to durable storage once a
// request settles. Nothing persists until Commit succeeds.
type UnitState interface {
	Commit() error
	RevertToSnapshot(int)
}

// Server exposes the settlement engine over HTTP.
type Server struct {
	engine      SettlementEngine
	units       UnitState
	auth        *auth.Authenticator
	store       *SQLiteStore
	callers     map[string]types.Identity
	adminSecret []byte
	logger      *slog.Logger
	metrics     *metrics.SettlementMetrics
	handler     http.Handler

	// The engine processes one unit at a time.
	mu sync.Mutex
}

// NewServer wires the HTTP surface around the engine. store may be nil, in
// which case idempotency replay and audit logging are disabled.
func NewServer(cfg Config, engine SettlementEngine, units UnitState, store *SQLiteStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:      engine,
		units:       units,
		auth:        auth.NewAuthenticator(cfg.APIKeySecrets, cfg.AllowedTimestampSkew, cfg.NonceTTL, nil),
		store:       store,
		callers:     cfg.CallerIdentities,
		adminSecret: []byte(strings.TrimSpace(cfg.AdminJWTSecret)),
		logger:      logger,
		metrics:     metrics.Settlement(),
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/v1/orders", s.handleOrderSubmit)
	r.Get("/v1/orders", s.handleOrderList)
	r.Get("/v1/orders/{orderID}", s.handleOrderGet)
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/pause", s.handlePause)
		r.Post("/unpause", s.handleUnpause)
		r.Patch("/config", s.handleConfigPatch)
	})
	s.handler = otelhttp.NewHandler(r, "settlement-gateway")
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type ctxKey string

const ctxKeyRequestID ctxKey = "gateway.requestID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// resourceHandle mirrors the opaque account list forwarded to the routing
// program. Identities are hex encoded.
type resourceHandle struct {
	ID       string `json:"id"`
	Signer   bool   `json:"signer,omitempty"`
	Writable bool   `json:"writable,omitempty"`
}

// orderSubmission is the bridge delivery frame posted by the collector.
type orderSubmission struct {
	OrderID          uint64           `json:"orderId"`
	Recipient        string           `json:"recipient"`
	SourceAmount     uint64           `json:"sourceAmount"`
	MinOutputAmount  uint64           `json:"minOutputAmount"`
	DestinationAsset string           `json:"destinationAsset"`
	Deadline         int64            `json:"deadline"`
	RoutingProgram   string           `json:"routingProgram"`
	RoutingPayload   string           `json:"routingPayload,omitempty"`
	ResourceHandles  []resourceHandle `json:"resourceHandles,omitempty"`
}

type orderView struct {
	OrderID          uint64 `json:"orderId"`
	Recipient        string `json:"recipient"`
	ReceivedAmount   uint64 `json:"receivedAmount"`
	MinOutput        uint64 `json:"minOutput"`
	DestinationAsset string `json:"destinationAsset"`
	Deadline         int64  `json:"deadline"`
	Status           string `json:"status"`
	CreatedAt        int64  `json:"createdAt"`
	SettledAt        int64  `json:"settledAt,omitempty"`
	FeePaid          uint64 `json:"feePaid"`
	OutputAmount     uint64 `json:"outputAmount,omitempty"`
	RefundAmount     uint64 `json:"refundAmount,omitempty"`
	RefundReason     string `json:"refundReason,omitempty"`
}

func newOrderView(order *settlement.Order) orderView {
	return orderView{
		OrderID:          order.OrderID,
		Recipient:        order.Recipient.String(),
		ReceivedAmount:   order.ReceivedAmount,
		MinOutput:        order.MinOutput,
		DestinationAsset: order.DestinationAsset.String(),
		Deadline:         order.Deadline,
		Status:           order.Status.String(),
		CreatedAt:        order.CreatedAt,
		SettledAt:        order.SettledAt,
		FeePaid:          order.FeePaid,
		OutputAmount:     order.OutputAmount,
		RefundAmount:     order.RefundAmount,
		RefundReason:     string(order.RefundReason),
	}
}

type configView struct {
	Admin            string `json:"admin"`
	Collector        string `json:"collector"`
	RoutingAuthority string `json:"routingAuthority"`
	SourceAsset      string `json:"sourceAsset"`
	FeeRecipient     string `json:"feeRecipient"`
	FeeBps           uint32 `json:"feeBps"`
	Paused           bool   `json:"paused"`
	Version          uint64 `json:"version"`
}

func newConfigView(cfg *settlement.Config) configView {
	return configView{
		Admin:            cfg.Admin.String(),
		Collector:        cfg.Collector.String(),
		RoutingAuthority: cfg.RoutingAuthority.String(),
		SourceAsset:      cfg.SourceAsset.String(),
		FeeRecipient:     cfg.FeeRecipient.String(),
		FeeBps:           cfg.FeeBps,
		Paused:           cfg.Paused,
		Version:          cfg.Version,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleOrderSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	principal, err := s.auth.Authenticate(r, body)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	caller, ok := s.callers[principal.APIKey]
	if !ok {
		s.writeError(w, http.StatusForbidden, fmt.Errorf("api key has no ledger identity"))
		return
	}

	requestHash := hashBody(body)
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if s.store != nil && idemKey != "" {
		stored, err := s.store.LookupIdempotency(r.Context(), principal.APIKey, idemKey, requestHash)
		if errors.Is(err, ErrIdempotencyMismatch) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if stored != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}
	}

	var submission orderSubmission
	if err := json.Unmarshal(body, &submission); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	msg, handles, err := submission.toMessage()
	if err != nil {
		s.metrics.ObserveRejection("malformed")
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	order, err := s.engine.SettleOrder(caller, msg, handles)
	if err == nil {
		err = s.commitUnit()
	}
	s.mu.Unlock()

	status := http.StatusOK
	var responseBody []byte
	if err != nil {
		status = statusForError(err)
		s.metrics.ObserveRejection(rejectionReason(err))
		responseBody = errorBody(err)
		s.logger.Warn("order rejected",
			"orderId", submission.OrderID,
			"status", status,
			"error", err.Error(),
			"requestId", r.Context().Value(ctxKeyRequestID),
		)
	} else {
		s.metrics.ObserveOrder(order.Status.String(), order.FeePaid, order.OutputAmount, order.RefundAmount)
		responseBody = mustJSON(newOrderView(order))
		s.logger.Info("order settled",
			"orderId", order.OrderID,
			"outcome", order.Status.String(),
			"requestId", r.Context().Value(ctxKeyRequestID),
		)
	}

	if s.store != nil && idemKey != "" {
		if err := s.store.SaveIdempotency(r.Context(), principal.APIKey, idemKey, requestHash, status, responseBody); err != nil {
			s.logger.Error("save idempotency record", "error", err.Error())
		}
	}
	s.audit(r.Context(), principal.APIKey, r, body, status, responseBody)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(responseBody)
}

func (s *Server) handleOrderGet(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Authenticate(r, nil); err != nil {
		s.writeAuthError(w, err)
		return
	}
	orderID, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}
	order, ok, err := s.engine.Order(orderID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, settlement.ErrOrderNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, newOrderView(order))
}

func (s *Server) handleOrderList(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Authenticate(r, nil); err != nil {
		s.writeAuthError(w, err)
		return
	}
	cursor := uint64(0)
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid cursor"))
			return
		}
		cursor = parsed
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit"))
			return
		}
		limit = parsed
	}
	orders, next, err := s.engine.Orders(cursor, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, newOrderView(order))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"orders":     views,
		"nextCursor": next,
	})
}

// commitUnit flushes the staged state mutation. A failed flush unwinds the
// stage so the next request starts from the last durable state. Callers hold
// s.mu.
func (s *Server) commitUnit() error {
	if s.units == nil {
		return nil
	}
	if err := s.units.Commit(); err != nil {
		s.units.RevertToSnapshot(0)
		return err
	}
	return nil
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller := adminIdentity(r.Context())
	s.mu.Lock()
	err := s.engine.Pause(caller)
	if err == nil {
		err = s.commitUnit()
	}
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.metrics.SetPaused(true)
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	caller := adminIdentity(r.Context())
	s.mu.Lock()
	err := s.engine.Unpause(caller)
	if err == nil {
		err = s.commitUnit()
	}
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.metrics.SetPaused(false)
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

type configPatchRequest struct {
	Admin            *string `json:"admin,omitempty"`
	Collector        *string `json:"collector,omitempty"`
	RoutingAuthority *string `json:"routingAuthority,omitempty"`
	FeeRecipient     *string `json:"feeRecipient,omitempty"`
	FeeBps           *uint32 `json:"feeBps,omitempty"`
}

func (s *Server) handleConfigPatch(w http.ResponseWriter, r *http.Request) {
	caller := adminIdentity(r.Context())
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	var req configPatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mu.Lock()
	cfg, err := s.engine.UpdateConfig(caller, patch)
	if err == nil {
		err = s.commitUnit()
	}
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, newConfigView(cfg))
}

func (req configPatchRequest) toPatch() (settlement.ConfigPatch, error) {
	var patch settlement.ConfigPatch
	assign := func(name string, raw *string, target **types.Identity) error {
		if raw == nil {
			return nil
		}
		id, err := types.ParseIdentity(*raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*target = &id
		return nil
	}
	if err := assign("admin", req.Admin, &patch.Admin); err != nil {
		return settlement.ConfigPatch{}, err
	}
	if err := assign("collector", req.Collector, &patch.Collector); err != nil {
		return settlement.ConfigPatch{}, err
	}
	if err := assign("routingAuthority", req.RoutingAuthority, &patch.RoutingAuthority); err != nil {
		return settlement.ConfigPatch{}, err
	}
	if err := assign("feeRecipient", req.FeeRecipient, &patch.FeeRecipient); err != nil {
		return settlement.ConfigPatch{}, err
	}
	patch.FeeBps = req.FeeBps
	return patch, nil
}

func (sub orderSubmission) toMessage() (settlement.OrderMessage, []router.AccountHandle, error) {
	recipient, err := types.ParseIdentity(sub.Recipient)
	if err != nil {
		return settlement.OrderMessage{}, nil, fmt.Errorf("recipient: %w", err)
	}
	destination, err := types.ParseIdentity(sub.DestinationAsset)
	if err != nil {
		return settlement.OrderMessage{}, nil, fmt.Errorf("destinationAsset: %w", err)
	}
	program, err := types.ParseIdentity(sub.RoutingProgram)
	if err != nil {
		return settlement.OrderMessage{}, nil, fmt.Errorf("routingProgram: %w", err)
	}
	var payload []byte
	if sub.RoutingPayload != "" {
		payload, err = base64.StdEncoding.DecodeString(sub.RoutingPayload)
		if err != nil {
			return settlement.OrderMessage{}, nil, fmt.Errorf("routingPayload: %w", err)
		}
	}
	handles := make([]router.AccountHandle, 0, len(sub.ResourceHandles))
	for i, handle := range sub.ResourceHandles {
		id, err := types.ParseIdentity(handle.ID)
		if err != nil {
			return settlement.OrderMessage{}, nil, fmt.Errorf("resourceHandles[%d]: %w", i, err)
		}
		handles = append(handles, router.AccountHandle{ID: id, Signer: handle.Signer, Writable: handle.Writable})
	}
	msg := settlement.OrderMessage{
		OrderID:          sub.OrderID,
		Recipient:        recipient,
		SourceAmount:     sub.SourceAmount,
		MinOutputAmount:  sub.MinOutputAmount,
		DestinationAsset: destination,
		Deadline:         sub.Deadline,
		RoutingProgram:   program,
		RoutingPayload:   payload,
	}
	return msg, handles, nil
}

const ctxKeyAdmin ctxKey = "gateway.admin"

// requireAdmin authenticates admin endpoints with a bearer token whose subject
// is the admin's hex identity.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.adminSecret) == 0 {
			s.writeError(w, http.StatusForbidden, fmt.Errorf("admin endpoints disabled"))
			return
		}
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(raw, prefix) {
			s.writeError(w, http.StatusUnauthorized, fmt.Errorf("missing bearer token"))
			return
		}
		token, err := jwt.Parse(strings.TrimSpace(raw[len(prefix):]), func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.adminSecret, nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			s.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid token"))
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid token claims"))
			return
		}
		subject, _ := claims["sub"].(string)
		identity, err := types.ParseIdentity(subject)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid token subject"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyAdmin, identity)))
	})
}

func adminIdentity(ctx context.Context) types.Identity {
	identity, _ := ctx.Value(ctxKeyAdmin).(types.Identity)
	return identity
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return body, nil
}

func (s *Server) audit(ctx context.Context, apiKey string, r *http.Request, requestBody []byte, status int, responseBody []byte) {
	if s.store == nil {
		return
	}
	entry := AuditEntry{
		APIKey:         apiKey,
		Method:         r.Method,
		Path:           r.URL.Path,
		RequestBody:    requestBody,
		ResponseStatus: status,
		ResponseBody:   responseBody,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.store.InsertAuditLog(ctx, entry); err != nil {
		s.logger.Error("insert audit log", "error", err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(mustJSON(payload))
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(errorBody(err))
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, auth.ErrReplay) {
		status = http.StatusConflict
	}
	s.writeError(w, status, auth.ErrUnauthorized)
}

func errorBody(err error) []byte {
	return mustJSON(map[string]string{"error": err.Error()})
}

func mustJSON(payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		return []byte(`{"error":"encode response"}`)
	}
	return raw
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, settlement.ErrDuplicateOrder):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrUnauthorizedCollector),
		errors.Is(err, settlement.ErrUnauthorizedAdmin):
		return http.StatusForbidden
	case errors.Is(err, settlement.ErrDeadlineExceeded),
		errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, settlement.ErrInvalidRecipient),
		errors.Is(err, settlement.ErrFeeRateOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, settlement.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrNotInitialized),
		errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, settlement.ErrRefundFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, settlement.ErrDuplicateOrder):
		return "duplicate"
	case errors.Is(err, settlement.ErrUnauthorizedCollector):
		return "unauthorized"
	case errors.Is(err, settlement.ErrDeadlineExceeded):
		return "deadline"
	case errors.Is(err, settlement.ErrInvalidAmount):
		return "amount"
	case errors.Is(err, settlement.ErrInvalidRecipient):
		return "recipient"
	case errors.Is(err, settlement.ErrRefundFailed):
		return "refund_failed"
	case errors.Is(err, settlement.ErrNotInitialized):
		return "uninitialized"
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	default:
		return "other"
	}
}
