package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketvault/core/state"
	"marketvault/core/types"
	"marketvault/crypto"
	"marketvault/native/market"
	"marketvault/native/registry"
	"marketvault/native/token"
	"marketvault/storage"
)

const testAuthToken = "test-token"

type testEnv struct {
	server *Server
	engine *market.Engine
	ledger *token.Ledger
	store  *state.Store

	vault      crypto.Address
	borrower   crypto.Address
	controller crypto.Address
	lender     crypto.Address
}

func addrWithByte(fill byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.MustNewAddress(crypto.MarketPrefix, raw)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		vault:      addrWithByte(0xAA),
		borrower:   addrWithByte(0xBB),
		controller: addrWithByte(0xCC),
		lender:     addrWithByte(0x11),
	}

	store := state.NewStore(storage.NewMemDB())
	params := market.Parameters{
		MaxTotalSupply:          big.NewInt(1_000_000),
		AnnualInterestBips:      1000,
		ProtocolFeeBips:         0,
		DelinquencyFeeBips:      0,
		DelinquencyGracePeriod:  0,
		LiquidityCoverageBips:   2000,
		WithdrawalBatchDuration: 86_400,
	}
	require.NoError(t, store.PutMarketState(market.NewState(params, 0)))
	require.NoError(t, store.Commit())

	ledger := token.NewLedger()
	ledger.SetState(store)

	reg := registry.NewRegistry(env.controller)
	reg.SetState(store)

	engine := market.NewEngine(env.vault, env.borrower, env.controller, params.WithdrawalBatchDuration)
	engine.SetState(store)
	engine.SetAssetLedger(ledger)
	engine.SetRoles(reg)
	engine.SetNowFunc(func() int64 { return 0 })

	server := NewServer(engine, reg, ledger, slog.Default())
	server.SetAuthToken(testAuthToken)
	server.SetCommitter(store)

	env.server = server
	env.engine = engine
	env.ledger = ledger
	env.store = store
	return env
}

func (env *testEnv) call(t *testing.T, method string, authorized bool, params ...interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(t, err)
		rawParams = append(rawParams, encoded)
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  rawParams,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testAuthToken)
	}
	recorder := httptest.NewRecorder()
	env.server.handle(recorder, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return recorder, resp
}

func (env *testEnv) fundLender(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, env.ledger.Mint(env.lender, big.NewInt(amount)))
	require.NoError(t, env.ledger.Approve(env.lender, env.vault, big.NewInt(amount)))
	require.NoError(t, env.store.Commit())
}

func (env *testEnv) grantLender(t *testing.T) {
	t.Helper()
	reg := registry.NewRegistry(env.controller)
	reg.SetState(env.store)
	require.NoError(t, reg.Grant(env.controller, env.lender, types.RoleDepositAndWithdraw))
	require.NoError(t, env.store.Commit())
}

func TestHandleRejectsUnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	recorder, resp := env.call(t, "market_unknown", false)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestHandleRejectsInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	recorder := httptest.NewRecorder()
	env.server.handle(recorder, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeParseError, resp.Error.Code)
}

func TestMutationRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	recorder, resp := env.call(t, "market_deposit", false, marketAmountParams{
		Caller: env.lender.String(),
		Amount: "100",
	})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestDepositRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.fundLender(t, 10_000)
	env.grantLender(t)

	recorder, resp := env.call(t, "market_deposit", true, marketAmountParams{
		Caller: env.lender.String(),
		Amount: "10000",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	_, balanceResp := env.call(t, "market_balanceOf", false, marketAccountParams{
		Address: env.lender.String(),
	})
	require.Nil(t, balanceResp.Error)
	encoded, err := json.Marshal(balanceResp.Result)
	require.NoError(t, err)
	var result marketAmountResult
	require.NoError(t, json.Unmarshal(encoded, &result))
	require.Equal(t, "10000", result.Amount)
}

func TestDepositWithoutRoleMapsToAuthorizationCode(t *testing.T) {
	env := newTestEnv(t)
	env.fundLender(t, 100)

	recorder, resp := env.call(t, "market_deposit", true, marketAmountParams{
		Caller: env.lender.String(),
		Amount: "100",
	})
	require.Equal(t, http.StatusForbidden, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestMissingBatchMapsToStateCode(t *testing.T) {
	env := newTestEnv(t)
	recorder, resp := env.call(t, "market_getWithdrawalBatch", false, marketBatchParams{Expiry: 12345})
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidState, resp.Error.Code)
}

func TestMutationRateLimit(t *testing.T) {
	env := newTestEnv(t)
	target := addrWithByte(0x22)

	var lastCode int
	var lastResp RPCResponse
	for i := 0; i < mutationBurst+1; i++ {
		recorder, resp := env.call(t, "token_mint", true, tokenMintParams{
			Address: target.String(),
			Amount:  fmt.Sprintf("%d", i+1),
		})
		lastCode = recorder.Code
		lastResp = resp
	}
	require.Equal(t, http.StatusTooManyRequests, lastCode)
	require.NotNil(t, lastResp.Error)
	require.Equal(t, codeRateLimited, lastResp.Error.Code)
}

// rawBody marshals a single-param request envelope for direct dispatch.
func rawBody(t *testing.T, method string, param interface{}) []byte {
	t.Helper()
	encoded, err := json.Marshal(param)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []json.RawMessage{encoded},
	})
	require.NoError(t, err)
	return body
}

func TestConcurrentMutationsCommitIndependently(t *testing.T) {
	env := newTestEnv(t)
	const holders = 8
	noRole := addrWithByte(0x7F)

	// Pre-build the request bodies so the goroutines only serve. Each caller
	// uses a distinct forwarded source to get its own rate limiter.
	mintBodies := make([][]byte, holders)
	depositBody := rawBody(t, "market_deposit", marketAmountParams{
		Caller: noRole.String(),
		Amount: "5",
	})
	for i := 0; i < holders; i++ {
		mintBodies[i] = rawBody(t, "token_mint", tokenMintParams{
			Address: addrWithByte(byte(0x30 + i)).String(),
			Amount:  "1",
		})
	}

	serve := func(body []byte, source string) int {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testAuthToken)
		req.Header.Set("X-Forwarded-For", source)
		recorder := httptest.NewRecorder()
		env.server.handle(recorder, req)
		return recorder.Code
	}

	// Interleave acknowledged mints with deposits that fail authorization
	// inside the engine and discard their buffered writes. Every mint that
	// returned 200 must survive the neighbouring discards.
	var wg sync.WaitGroup
	mintCodes := make([]int, holders)
	for i := 0; i < holders; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			mintCodes[i] = serve(mintBodies[i], fmt.Sprintf("10.0.0.%d", i+1))
		}()
		go func() {
			defer wg.Done()
			serve(depositBody, fmt.Sprintf("10.0.1.%d", i+1))
		}()
	}
	wg.Wait()

	for i := 0; i < holders; i++ {
		require.Equal(t, http.StatusOK, mintCodes[i], "mint %d not acknowledged", i)
		balance, err := env.ledger.BalanceOf(addrWithByte(byte(0x30 + i)))
		require.NoError(t, err)
		require.Equal(t, "1", balance.String(), "acknowledged mint %d was lost", i)
	}
}

func TestServerShutdownStopsListener(t *testing.T) {
	env := newTestEnv(t)

	done := make(chan error, 1)
	go func() {
		done <- env.server.Start("127.0.0.1:0")
	}()

	require.Eventually(t, func() bool {
		env.server.mu.Lock()
		defer env.server.mu.Unlock()
		return env.server.httpServer != nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, env.server.Shutdown(context.Background()))
	require.NoError(t, <-done)
}

func TestMarketStateQuery(t *testing.T) {
	env := newTestEnv(t)
	recorder, resp := env.call(t, "market_state", false)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result marketStateResult
	require.NoError(t, json.Unmarshal(encoded, &result))
	require.Equal(t, "1000000", result.MaxTotalSupply)
	require.Equal(t, "0", result.TotalSupply)
	require.Equal(t, uint64(1000), result.AnnualInterestBips)
	require.False(t, result.IsDelinquent)
}
