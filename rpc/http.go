package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zusd/audit"
	"zusd/core/events"
	nativecommon "zusd/native/common"
	"zusd/native/oracle"
	"zusd/native/token"
	"zusd/native/vault"
	"zusd/observability"
	"zusd/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	defaultRequestsPerMinute = 600
	rateLimiterStaleAfter    = 10 * time.Minute
	rateLimiterMaxEntries    = 4096
	maxForwardedForAddrs     = 10
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig carries the transport hardening knobs. A TLS keypair is
// mandatory unless AllowInsecure is set, and plaintext listeners are
// restricted to loopback addresses even then.
type ServerConfig struct {
	AllowInsecure     bool
	TLSCertFile       string
	TLSKeyFile        string
	TrustedProxies    []string
	TrustProxyHeaders bool
	RequestsPerMinute uint32
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// rateLimiter tracks one client's quota counters plus the last time the
// client was seen, for stale eviction.
type rateLimiter struct {
	usage    nativecommon.QuotaNow
	lastSeen time.Time
}

// Server is the JSON-RPC front end for the vault. All methods ride a single
// POST endpoint; the event stream is exposed separately over websocket.
type Server struct {
	engine *vault.Engine
	bus    *events.Bus
	logger *slog.Logger

	mu             sync.Mutex
	rateLimiters   map[string]*rateLimiter
	authToken      string
	quota          nativecommon.Quota
	trustedProxies map[string]struct{}
	cfg            ServerConfig

	serverMu   sync.Mutex
	httpServer *http.Server

	vault *modules.VaultModule
	audit *modules.AuditModule
}

// NewServer wires the engine and ledger bank behind the RPC surface. The
// bearer token for mutating methods is read from ZUSD_RPC_TOKEN.
func NewServer(engine *vault.Engine, bank *token.Bank, cfg ServerConfig) *Server {
	authToken := strings.TrimSpace(os.Getenv("ZUSD_RPC_TOKEN"))
	perMinute := cfg.RequestsPerMinute
	if perMinute == 0 {
		perMinute = defaultRequestsPerMinute
	}
	trusted := make(map[string]struct{}, len(cfg.TrustedProxies))
	for _, proxy := range cfg.TrustedProxies {
		if trimmed := strings.TrimSpace(proxy); trimmed != "" {
			trusted[trimmed] = struct{}{}
		}
	}
	return &Server{
		engine:         engine,
		logger:         slog.Default().With("component", "rpc"),
		rateLimiters:   make(map[string]*rateLimiter),
		authToken:      authToken,
		quota:          nativecommon.Quota{MaxRequestsPerEpoch: perMinute, EpochSeconds: 60},
		trustedProxies: trusted,
		cfg:            cfg,
		vault:          modules.NewVaultModule(engine, bank),
	}
}

// SetLogger replaces the default component logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if s == nil || logger == nil {
		return
	}
	s.logger = logger
}

// SetEventBus attaches the stream served on /ws/events.
func (s *Server) SetEventBus(bus *events.Bus) {
	if s == nil {
		return
	}
	s.bus = bus
}

// SetAuditStore enables the audit_* query methods.
func (s *Server) SetAuditStore(store *audit.Store) {
	if s == nil || store == nil {
		return
	}
	s.audit = modules.NewAuditModule(store)
}

// BindManualFeed registers an operator feed for vault_setPrice.
func (s *Server) BindManualFeed(id string, feed *oracle.ManualFeed) {
	if s == nil || s.vault == nil {
		return
	}
	s.vault.BindManualFeed(id, feed)
}

// Handler builds the route table: JSON-RPC on /, the event stream on
// /ws/events, Prometheus on /metrics and a liveness probe on /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Start listens on addr and serves until shutdown.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve runs the HTTP server on the supplied listener. Without a TLS
// keypair the listener must both be explicitly allowed to run insecure and
// bind a loopback address.
func (s *Server) Serve(listener net.Listener) error {
	if s == nil {
		return errors.New("rpc: server not initialised")
	}
	if listener == nil {
		return errors.New("rpc: listener required")
	}
	useTLS := strings.TrimSpace(s.cfg.TLSCertFile) != "" && strings.TrimSpace(s.cfg.TLSKeyFile) != ""
	if !useTLS {
		if !s.cfg.AllowInsecure {
			return errors.New("rpc: TLS is required; provide a certificate pair or enable AllowInsecure for local use")
		}
		if !loopbackListener(listener) {
			return fmt.Errorf("rpc: plaintext listener %s must bind a loopback address", listener.Addr())
		}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: durationOr(s.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       durationOr(s.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      durationOr(s.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       durationOr(s.cfg.IdleTimeout, 60*time.Second),
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()

	s.logger.Info("rpc server listening", "address", listener.Addr().String(), "tls", useTLS)
	if useTLS {
		return srv.ServeTLS(listener, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	return srv.Serve(listener)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func loopbackListener(listener net.Listener) bool {
	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return false
	}
	return addr.IP.IsLoopback()
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeModuleError(w http.ResponseWriter, id interface{}, modErr *modules.ModuleError) {
	if modErr == nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "module error", nil)
		return
	}
	writeError(w, modErr.HTTPStatus, id, modErr.Code, modErr.Message, modErr.Data)
}

// statusRecorder captures the response status for the request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// handle is the single JSON-RPC entry point.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(recorder, r, req)
	observability.ModuleMetrics().Observe(methodModule(req.Method), req.Method, recorder.status, time.Since(started))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "vault_depositCollateral":
		s.guarded(w, r, req, s.handleVaultDeposit)
	case "vault_mintZusd":
		s.guarded(w, r, req, s.handleVaultMint)
	case "vault_depositAndMint":
		s.guarded(w, r, req, s.handleVaultDepositAndMint)
	case "vault_redeemCollateral":
		s.guarded(w, r, req, s.handleVaultRedeem)
	case "vault_burnZusd":
		s.guarded(w, r, req, s.handleVaultBurn)
	case "vault_redeemForZusd":
		s.guarded(w, r, req, s.handleVaultRedeemForZusd)
	case "vault_liquidate":
		s.guarded(w, r, req, s.handleVaultLiquidate)
	case "vault_setPrice":
		s.guarded(w, r, req, s.handleVaultSetPrice)
	case "vault_getAccount":
		s.handleVaultGetAccount(w, r, req)
	case "vault_getPosition":
		s.handleVaultGetPosition(w, r, req)
	case "vault_healthFactor":
		s.handleVaultHealthFactor(w, r, req)
	case "vault_usdValue":
		s.handleVaultUSDValue(w, r, req)
	case "vault_assetAmount":
		s.handleVaultAssetAmount(w, r, req)
	case "vault_listAssets":
		s.handleVaultListAssets(w, r, req)
	case "vault_tokenBalance":
		s.handleVaultTokenBalance(w, r, req)
	case "audit_recentActivity":
		s.handleAuditRecentActivity(w, r, req)
	case "audit_liquidations":
		s.handleAuditLiquidations(w, r, req)
	case "audit_verifyLiquidation":
		s.handleAuditVerifyLiquidation(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// guarded enforces bearer auth and the per-client quota before a mutating
// handler runs.
func (s *Server) guarded(w http.ResponseWriter, r *http.Request, req *RPCRequest, handler func(http.ResponseWriter, *http.Request, *RPCRequest)) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	source := s.clientSource(r)
	if !s.allowSource(source, time.Now()) {
		observability.ModuleMetrics().RecordThrottle(methodModule(req.Method), "quota")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "request quota exceeded", source)
		return
	}
	handler(w, r, req)
}

// methodModule extracts the namespace prefix used as the metrics label.
func methodModule(method string) string {
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		return strings.ToLower(method[:idx])
	}
	return "rpc"
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// allowSource charges one request against the client's epoch quota.
func (s *Server) allowSource(source string, now time.Time) bool {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		trimmed = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictStaleLocked(now)
	limiter, ok := s.rateLimiters[trimmed]
	if !ok {
		if len(s.rateLimiters) >= rateLimiterMaxEntries {
			s.evictOldestLocked()
		}
		limiter = &rateLimiter{}
		s.rateLimiters[trimmed] = limiter
	}
	limiter.lastSeen = now

	usage, err := nativecommon.CheckQuota(s.quota, s.quota.Epoch(now.Unix()), limiter.usage, 1)
	if err != nil {
		return false
	}
	limiter.usage = usage
	return true
}

func (s *Server) evictStaleLocked(now time.Time) {
	for source, limiter := range s.rateLimiters {
		if now.Sub(limiter.lastSeen) > rateLimiterStaleAfter {
			delete(s.rateLimiters, source)
		}
	}
}

func (s *Server) evictOldestLocked() {
	var oldestSource string
	var oldestSeen time.Time
	for source, limiter := range s.rateLimiters {
		if oldestSource == "" || limiter.lastSeen.Before(oldestSeen) {
			oldestSource = source
			oldestSeen = limiter.lastSeen
		}
	}
	if oldestSource != "" {
		delete(s.rateLimiters, oldestSource)
	}
}

// clientSource resolves the address a request is charged against.
// X-Forwarded-For is only honoured when the direct peer is a trusted proxy,
// so spoofed headers cannot dodge the quota.
func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if !s.trustForwardedFor(host) {
		return host
	}
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return host
	}
	parts := strings.Split(forwarded, ",")
	if len(parts) > maxForwardedForAddrs {
		return host
	}
	for _, part := range parts {
		candidate := strings.TrimSpace(part)
		if candidate == "" {
			continue
		}
		if h, _, err := net.SplitHostPort(candidate); err == nil {
			candidate = h
		}
		return candidate
	}
	return host
}

func (s *Server) trustForwardedFor(peer string) bool {
	if s.cfg.TrustProxyHeaders {
		return true
	}
	_, ok := s.trustedProxies[peer]
	return ok
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
