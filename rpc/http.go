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
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"marketvault/crypto"
	"marketvault/native/market"
	"marketvault/native/registry"
	"marketvault/native/token"
	"marketvault/observability"
	"marketvault/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	mutationRate  = rate.Limit(5.0 / 60.0) // 5 mutations per source per minute
	mutationBurst = 5
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
	codeCapacity       = -32030
	codeInvalidState   = -32031
	codeArithmetic     = -32032
)

// stateCommitter flushes or abandons buffered writes made outside the market
// engine, which commits its own operations.
type stateCommitter interface {
	Commit() error
	Discard()
}

type Server struct {
	engine    *market.Engine
	registry  *registry.Registry
	ledger    *token.Ledger
	committer stateCommitter

	// opMu serialises store-mutating handlers. The store buffers every
	// component's writes in one shared overlay, so a concurrent handler's
	// Commit or Discard would flush or drop another operation's records.
	opMu sync.Mutex

	mu           sync.Mutex
	rateLimiters map[string]*rate.Limiter
	httpServer   *http.Server
	authToken    string
	logger       *slog.Logger
	metrics      interface {
		Observe(module, method string, status int, duration time.Duration)
		RecordThrottle(module, reason string)
	}
}

func NewServer(engine *market.Engine, reg *registry.Registry, ledger *token.Ledger, logger *slog.Logger) *Server {
	authToken := strings.TrimSpace(os.Getenv("VAULT_RPC_TOKEN"))
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:       engine,
		registry:     reg,
		ledger:       ledger,
		rateLimiters: make(map[string]*rate.Limiter),
		authToken:    authToken,
		logger:       logger,
		metrics:      observability.ModuleMetrics(),
	}
}

// SetAuthToken overrides the bearer token required for mutating methods.
func (s *Server) SetAuthToken(token string) {
	s.authToken = strings.TrimSpace(token)
}

// SetCommitter wires the store used to persist registry and token mutations.
func (s *Server) SetCommitter(committer stateCommitter) {
	s.committer = committer
}

// finalizeWrite commits buffered registry or token writes when the operation
// succeeded and discards them when it failed.
func (s *Server) finalizeWrite(err error) error {
	if s.committer == nil {
		return err
	}
	if err != nil {
		s.committer.Discard()
		return err
	}
	return s.committer.Commit()
}

// Start serves JSON-RPC on addr until Shutdown is called or the listener
// fails. A Shutdown-initiated stop returns nil.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
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

// moduleError translates an engine or registry failure into the HTTP status
// and JSON-RPC code for its error class.
func moduleError(err error) (int, int) {
	switch {
	case market.IsAuthorizationError(err) || registry.IsAuthorizationError(err):
		return http.StatusForbidden, codeUnauthorized
	case market.IsCapacityError(err) || errors.Is(err, token.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, codeCapacity
	case market.IsStateError(err) || registry.IsStateError(err),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusConflict, codeInvalidState
	case market.IsArithmeticError(err):
		return http.StatusUnprocessableEntity, codeArithmetic
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func (s *Server) writeModuleError(w http.ResponseWriter, id interface{}, method string, err error) int {
	status, code := moduleError(err)
	writeError(w, status, id, code, err.Error(), nil)
	return status
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	requestID := uuid.NewString()

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestID)

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

	status := s.dispatch(w, r, req)

	module := "market"
	if idx := strings.Index(req.Method, "_"); idx > 0 {
		module = req.Method[:idx]
	}
	s.metrics.Observe(module, req.Method, status, time.Since(started))
	if status >= 400 {
		s.logger.Warn("rpc request failed",
			"method", req.Method,
			"requestId", requestID,
			"status", status,
			logging.MaskField("source", clientSource(r)),
		)
	}
}

// dispatch routes the request and returns the HTTP status written.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	switch req.Method {
	// market reads
	case "market_state":
		return s.handleMarketState(w, req)
	case "market_totalSupply":
		return s.handleMarketTotalSupply(w, req)
	case "market_maximumDeposit":
		return s.handleMarketMaximumDeposit(w, req)
	case "market_balanceOf":
		return s.handleMarketBalanceOf(w, req)
	case "market_getWithdrawalBatch":
		return s.handleMarketGetWithdrawalBatch(w, req)
	case "market_getAccountWithdrawalStatus":
		return s.handleMarketGetAccountWithdrawalStatus(w, req)
	case "market_getAvailableWithdrawalAmount":
		return s.handleMarketGetAvailableWithdrawalAmount(w, req)
	case "market_getUnpaidBatchExpiries":
		return s.handleMarketGetUnpaidBatchExpiries(w, req)

	// market mutations
	case "market_deposit":
		return s.mutation(w, r, req, s.handleMarketDeposit)
	case "market_depositUpTo":
		return s.mutation(w, r, req, s.handleMarketDepositUpTo)
	case "market_queueWithdrawal":
		return s.mutation(w, r, req, s.handleMarketQueueWithdrawal)
	case "market_executeWithdrawal":
		return s.mutation(w, r, req, s.handleMarketExecuteWithdrawal)
	case "market_processUnpaidWithdrawalBatch":
		return s.mutation(w, r, req, s.handleMarketProcessUnpaidWithdrawalBatch)
	case "market_borrow":
		return s.mutation(w, r, req, s.handleMarketBorrow)
	case "market_repay":
		return s.mutation(w, r, req, s.handleMarketRepay)
	case "market_collectFees":
		return s.mutation(w, r, req, s.handleMarketCollectFees)
	case "market_setMaxTotalSupply":
		return s.mutation(w, r, req, s.handleMarketSetMaxTotalSupply)
	case "market_setAnnualInterestBips":
		return s.mutation(w, r, req, s.handleMarketSetAnnualInterestBips)
	case "market_setLiquidityCoverageRatio":
		return s.mutation(w, r, req, s.handleMarketSetLiquidityCoverageRatio)

	// registry
	case "registry_roleOf":
		return s.handleRegistryRoleOf(w, req)
	case "registry_grantRole":
		return s.mutation(w, r, req, s.handleRegistryGrant)
	case "registry_revokeRole":
		return s.mutation(w, r, req, s.handleRegistryRevoke)
	case "registry_blockAccount":
		return s.mutation(w, r, req, s.handleRegistryBlock)
	case "registry_unblockAccount":
		return s.mutation(w, r, req, s.handleRegistryUnblock)

	// token
	case "token_balanceOf":
		return s.handleTokenBalanceOf(w, req)
	case "token_allowance":
		return s.handleTokenAllowance(w, req)
	case "token_mint":
		return s.mutation(w, r, req, s.handleTokenMint)
	case "token_approve":
		return s.mutation(w, r, req, s.handleTokenApprove)
	case "token_transfer":
		return s.mutation(w, r, req, s.handleTokenTransfer)

	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return http.StatusNotFound
	}
}

// mutation gates a state-changing handler behind bearer auth and the
// per-source rate limiter, then runs it under the operation lock so exactly
// one mutation touches the store overlay at a time.
func (s *Server) mutation(w http.ResponseWriter, r *http.Request, req *RPCRequest, handler func(http.ResponseWriter, *RPCRequest) int) int {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return http.StatusUnauthorized
	}
	source := clientSource(r)
	if !s.allowSource(source) {
		s.metrics.RecordThrottle("market", "rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return http.StatusTooManyRequests
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return handler(w, req)
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

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = rate.NewLimiter(mutationRate, mutationBurst)
		s.rateLimiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- param helpers ---

func parseAddress(raw string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("address required")
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address: %w", err)
	}
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid parameter object: %w", err)
	}
	return nil
}
