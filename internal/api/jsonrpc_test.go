package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/leafsii/eusd-engine/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *JSONRPCError   `json:"error"`
}

type rpcCall struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcStep struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

func (e *testEnv) rpc(method string, params interface{}) rpcReply {
	e.t.Helper()
	return e.rpcRaw(rpcCall{JSONRPC: "2.0", ID: "test-1", Method: method, Params: params})
}

func (e *testEnv) atomic(steps ...rpcStep) rpcReply {
	e.t.Helper()
	return e.rpc("atomic", map[string]interface{}{"steps": steps})
}

func (e *testEnv) rpcRaw(body interface{}) rpcReply {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/v1/jsonrpc", body)
	require.Equal(e.t, http.StatusOK, rr.Code, "JSON-RPC errors are sent with HTTP 200")

	var reply rpcReply
	decodeBody(e.t, rr, &reply)
	assert.Equal(e.t, "2.0", reply.JSONRPC)
	return reply
}

func requireResult(t *testing.T, reply rpcReply, dst interface{}) {
	t.Helper()
	require.Nil(t, reply.Error, "unexpected error: %+v", reply.Error)
	require.NoError(t, json.Unmarshal(reply.Result, dst))
}

func operationError(t *testing.T, reply rpcReply) OperationErrorData {
	t.Helper()
	require.NotNil(t, reply.Error)
	require.Equal(t, JSONRPCOperationFailed, reply.Error.Code, "error: %+v", reply.Error)

	raw, err := json.Marshal(reply.Error.Data)
	require.NoError(t, err)
	var data OperationErrorData
	require.NoError(t, json.Unmarshal(raw, &data))
	return data
}

func bucket(asset engine.Asset, amount string) engine.Bucket {
	return engine.NewBucket(asset, decimal.RequireFromString(amount))
}

func num(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestJSONRPC_PositionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var boot TokenResult
	requireResult(t, env.rpc("bootstrap", BootstrapParams{Deposit: bucket(engine.AssetBase, "100000")}), &boot)
	require.NotNil(t, boot.Minted)
	assert.Equal(t, engine.AssetStable, boot.Minted.Asset)
	assertDecimal(t, "777", boot.Minted.Amount)

	var opened TokenResult
	requireResult(t, env.rpc("open", OpenParams{Fee: bucket(engine.AssetBase, "0")}), &opened)
	assert.Nil(t, opened.Minted)
	tok := opened.Token

	var coll CollateralizeResult
	requireResult(t, env.rpc("collateralize", CollateralizeParams{Token: tok, Deposit: bucket(engine.AssetBase, "300")}), &coll)
	assertDecimal(t, "300", coll.CollateralShares)

	var minted MintResult
	requireResult(t, env.rpc("mint", MintParams{Token: tok, DebtShares: num("100")}), &minted)
	assert.Equal(t, engine.AssetStable, minted.Minted.Asset)
	assertDecimal(t, "100", minted.Minted.Amount)

	var burned BurnResult
	requireResult(t, env.rpc("burn", BurnParams{Token: tok, Payment: bucket(engine.AssetStable, "40")}), &burned)
	assertDecimal(t, "40", burned.DebtShares)

	var payout UncollateralizeResult
	requireResult(t, env.rpc("uncollateralize", UncollateralizeParams{Token: tok, Shares: num("50")}), &payout)
	require.NotEmpty(t, payout.Payout)

	pos, err := env.eng.Position(tok.ID)
	require.NoError(t, err)
	assertDecimal(t, "60", pos.DebtShares)
	assertDecimal(t, "250", pos.CollateralShares)
}

func TestJSONRPC_InvalidatesCachedPosition(t *testing.T) {
	env := newTestEnv(t)
	env.bootstrap()

	var opened TokenResult
	requireResult(t, env.rpc("open", OpenParams{Fee: bucket(engine.AssetBase, "0")}), &opened)

	// cache the empty position
	rr := env.do(http.MethodGet, "/v1/positions/"+opened.Token.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var coll CollateralizeResult
	requireResult(t, env.rpc("collateralize", CollateralizeParams{Token: opened.Token, Deposit: bucket(engine.AssetBase, "500")}), &coll)

	rr = env.do(http.MethodGet, "/v1/positions/"+opened.Token.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var view service.PositionView
	decodeBody(t, rr, &view)
	assertDecimal(t, "500", view.CollateralShares)
}

func TestJSONRPC_ProtocolErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{"parse error", "{", JSONRPCParseError},
		{"wrong version", rpcCall{JSONRPC: "1.0", ID: 1, Method: "open", Params: OpenParams{}}, JSONRPCInvalidRequest},
		{"unknown method", rpcCall{JSONRPC: "2.0", ID: 1, Method: "getUnsignedTransaction", Params: map[string]string{}}, JSONRPCMethodNotFound},
		{"missing params", rpcCall{JSONRPC: "2.0", ID: 1, Method: "mint"}, JSONRPCInvalidParams},
		{"unknown field", rpcCall{JSONRPC: "2.0", ID: 1, Method: "poke", Params: map[string]string{"price": "1"}}, JSONRPCInvalidParams},
		{"malformed decimal", rpcCall{JSONRPC: "2.0", ID: 1, Method: "poke", Params: map[string]string{"spot": "one"}}, JSONRPCInvalidParams},
		{"empty batch", rpcCall{JSONRPC: "2.0", ID: 1, Method: "atomic", Params: map[string]interface{}{"steps": []rpcStep{}}}, JSONRPCInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := env.rpcRaw(tt.body)
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.wantCode, reply.Error.Code)
			assert.Nil(t, reply.Result)
		})
	}
}

func TestJSONRPC_OperationErrors(t *testing.T) {
	env := newTestEnv(t)
	boot := env.bootstrap()

	forged := boot
	forged.Proof = engine.Proof{}

	tests := []struct {
		name       string
		method     string
		params     interface{}
		wantReason string
	}{
		{"forged token", "mint", MintParams{Token: forged, DebtShares: num("1")}, "UNAUTHORIZED"},
		{"bootstrap twice", "bootstrap", BootstrapParams{Deposit: bucket(engine.AssetBase, "10")}, "ALREADY_BOOTSTRAPPED"},
		{"wrong fee asset", "open", OpenParams{Fee: bucket(engine.AssetStable, "1")}, "WRONG_ASSET"},
		{"self liquidation", "liquidate", LiquidateParams{Target: boot.ID, Liquidator: boot}, "SELF_LIQUIDATION"},
		{"lone flash mint", "flashMintStart", FlashMintStartParams{Size: num("100")}, "UNREDEEMED_RECEIPT"},
		{"choke without woke", "choke", ChokeParams{Venue: env.venue, Returned: bucket(engine.AssetBase, "1"), Direction: engine.Expand}, "CORRECTION_MISMATCH"},
		{"woke without venue token", "woke", WokeParams{Size: num("10"), MaxToTarget: num("10"), Direction: engine.Expand}, "UNAUTHORIZED"},
		{"woke with forged venue token", "woke", WokeParams{Venue: engine.VenueToken{Name: "dex"}, Size: num("10"), MaxToTarget: num("10"), Direction: engine.Expand}, "UNAUTHORIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := env.eng.State()

			data := operationError(t, env.rpc(tt.method, tt.params))
			assert.Equal(t, tt.wantReason, data.Reason)
			assert.Nil(t, data.Step)
			assert.NotEmpty(t, data.Message)

			after := env.eng.State()
			assert.True(t, before.Supply.Equal(after.Supply))
			assert.True(t, before.LiabilitiesValueTotal.Equal(after.LiabilitiesValueTotal))
		})
	}
}

func TestJSONRPC_AtomicFlashMint(t *testing.T) {
	env := newTestEnv(t)
	env.bootstrap()

	reply := env.atomic(
		rpcStep{Method: "flashMintStart", Params: FlashMintStartParams{Size: num("100")}},
		rpcStep{Method: "flashMintEnd", Params: FlashEndParams{Repayment: bucket(engine.AssetStable, "100.1"), Receipt: 0}},
	)

	var result struct {
		Results []json.RawMessage `json:"results"`
	}
	requireResult(t, reply, &result)
	require.Len(t, result.Results, 2)

	var start FlashStartResult
	require.NoError(t, json.Unmarshal(result.Results[0], &start))
	assert.Equal(t, 0, start.Receipt.Index)
	assertDecimal(t, "100", start.Payout.Amount)
	assertDecimal(t, "100.1", start.Receipt.Repayment)

	state := env.eng.State()
	assertDecimal(t, "776.9", state.Supply)
	assertDecimal(t, "776.9", state.LiabilitiesValueTotal)
	assert.False(t, state.MintActive)
}

func TestJSONRPC_AtomicRollsBackFailedStep(t *testing.T) {
	env := newTestEnv(t)
	env.bootstrap()
	before := env.eng.State()

	tests := []struct {
		name       string
		steps      []rpcStep
		wantCode   int
		wantReason string
		wantStep   int
	}{
		{
			name: "short repayment",
			steps: []rpcStep{
				{Method: "flashMintStart", Params: FlashMintStartParams{Size: num("100")}},
				{Method: "flashMintEnd", Params: FlashEndParams{Repayment: bucket(engine.AssetStable, "50"), Receipt: 0}},
			},
			wantCode:   JSONRPCOperationFailed,
			wantReason: "INSUFFICIENT_REPAYMENT",
			wantStep:   1,
		},
		{
			name: "unknown receipt",
			steps: []rpcStep{
				{Method: "flashLoanStart", Params: FlashLoanStartParams{Size: num("10"), Asset: engine.AssetBase}},
				{Method: "flashLoanEnd", Params: FlashEndParams{Repayment: bucket(engine.AssetBase, "10.01"), Receipt: 5}},
			},
			wantCode:   JSONRPCInvalidParams,
			wantReason: "INVALID_STEP",
			wantStep:   1,
		},
		{
			name: "nested batch",
			steps: []rpcStep{
				{Method: "atomic", Params: map[string]interface{}{"steps": []rpcStep{}}},
			},
			wantCode:   JSONRPCMethodNotFound,
			wantReason: "INVALID_STEP",
			wantStep:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := env.atomic(tt.steps...)
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.wantCode, reply.Error.Code)

			raw, err := json.Marshal(reply.Error.Data)
			require.NoError(t, err)
			var data OperationErrorData
			require.NoError(t, json.Unmarshal(raw, &data))
			assert.Equal(t, tt.wantReason, data.Reason)
			require.NotNil(t, data.Step)
			assert.Equal(t, tt.wantStep, *data.Step)

			after := env.eng.State()
			assert.True(t, before.Supply.Equal(after.Supply))
			assert.True(t, before.BasePool.Equal(after.BasePool))
			assert.False(t, after.LoanActive)
			assert.False(t, after.MintActive)
		})
	}
}

func TestJSONRPC_PegCorrectionRound(t *testing.T) {
	env := newTestEnv(t)
	env.bootstrap()

	// oracle 1 USD and redemption rate 1 put the band at [0.95, 1.05]
	var poke PokeResult
	requireResult(t, env.rpc("poke", PokeParams{Spot: num("1")}), &poke)
	assert.Nil(t, poke.Correction)

	reply := env.atomic(
		rpcStep{Method: "poke", Params: PokeParams{Spot: num("1.2")}},
		rpcStep{Method: "woke", Params: WokeParams{Venue: env.venue, Size: num("10"), MaxToTarget: num("10"), Direction: engine.Expand}},
		rpcStep{Method: "choke", Params: ChokeParams{
			Venue:     env.venue,
			Returned:  bucket(engine.AssetBase, "9"),
			Profit:    bucket(engine.AssetBase, "0.5"),
			Direction: engine.Expand,
		}},
	)

	var result struct {
		Results []json.RawMessage `json:"results"`
	}
	requireResult(t, reply, &result)
	require.Len(t, result.Results, 3)

	require.NoError(t, json.Unmarshal(result.Results[0], &poke))
	require.NotNil(t, poke.Correction)
	assert.Equal(t, engine.Expand, poke.Correction.Direction)
	assertDecimal(t, "1.05", poke.Correction.Target)

	var woke WokeResult
	require.NoError(t, json.Unmarshal(result.Results[1], &woke))
	require.NotNil(t, woke.Released)
	assert.Equal(t, engine.AssetStable, woke.Released.Asset)
	assertDecimal(t, "10", woke.Released.Amount)

	state := env.eng.State()
	assertDecimal(t, "787", state.Supply)
	assertDecimal(t, "100009", state.BasePool)

	// the observed spot sits far above the band
	rr := env.do(http.MethodGet, "/v1/health", nil)
	var health HealthDTO
	decodeBody(t, rr, &health)
	assert.Equal(t, "warn", health.Status)
	assert.Contains(t, health.Reasons, service.ReasonPegDeviationHigh)
}

func TestJSONRPC_LoneWokeRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.bootstrap()

	data := operationError(t, env.rpc("woke", WokeParams{Venue: env.venue, Size: num("10"), MaxToTarget: num("10"), Direction: engine.Expand}))
	assert.Equal(t, "UNSETTLED_CORRECTION", data.Reason)
	assertDecimal(t, "777", env.eng.State().Supply)
}

func TestJSONRPC_InjectAssets(t *testing.T) {
	env := newTestEnv(t)
	env.bootstrap()

	var ok OKResult
	requireResult(t, env.rpc("injectAssets", InjectAssetsParams{Deposit: bucket(engine.AssetBase, "250")}), &ok)
	assert.True(t, ok.OK)
	assertDecimal(t, "100250", env.eng.State().BasePool)
}
