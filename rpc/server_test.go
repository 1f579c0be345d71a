package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"raylend/native/flashliq"
	"raylend/native/ledger"
	"raylend/native/lending"
	"raylend/native/oracle"
	"raylend/state"
)

var (
	vaultAddr = common.HexToAddress("0x0000000000000000000000000000000000000aa1")
	adminAddr = common.HexToAddress("0x0000000000000000000000000000000000000aa2")
	userAddr  = common.HexToAddress("0x0000000000000000000000000000000000000bb1")
	daiAsset  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func ray(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid ray: " + value)
	}
	return v
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	store := state.NewStore(nil)
	tokens := ledger.New()
	prices := oracle.New(adminAddr)
	require.NoError(t, prices.SetAssetPrice(adminAddr, daiAsset, ray("1000000000000000")))

	pool := lending.NewPool(vaultAddr, adminAddr)
	pool.SetState(store)
	pool.SetLedger(tokens)
	pool.SetOracle(prices)

	require.NoError(t, pool.ListReserve(adminAddr, &lending.Reserve{
		Asset:                   daiAsset,
		Decimals:                18,
		ReserveFactorBps:        1000,
		LoanToValueBps:          7500,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     500,
		Strategy: &lending.RateStrategy{
			OptimalUtilization:     ray("800000000000000000000000000"),
			BaseVariableBorrowRate: big.NewInt(0),
			VariableRateSlope1:     ray("40000000000000000000000000"),
			VariableRateSlope2:     ray("750000000000000000000000000"),
			BaseStableBorrowRate:   ray("39000000000000000000000000"),
			StableRateSlope1:       ray("20000000000000000000000000"),
			StableRateSlope2:       ray("750000000000000000000000000"),
		},
	}))

	require.NoError(t, tokens.Mint(daiAsset, userAddr, ray("1000000000000000000000")))
	require.NoError(t, pool.Deposit(userAddr, daiAsset, ray("1000000000000000000000")))

	return NewServer(pool, nil, cfg)
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListReserves(t *testing.T) {
	server := newTestServer(t, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reserves", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Reserves []string `json:"reserves"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, []string{daiAsset.Hex()}, payload.Reserves)
}

func TestGetReserve(t *testing.T) {
	server := newTestServer(t, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reserves/"+daiAsset.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var data lending.ReserveData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	require.Equal(t, daiAsset, data.Asset)
	require.Equal(t, "1000000000000000000000", data.AvailableLiquidity.String())
}

func TestGetReserveNotFound(t *testing.T) {
	server := newTestServer(t, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reserves/0x0000000000000000000000000000000000000dead", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	missing := common.HexToAddress("0x0000000000000000000000000000000000000d01")
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reserves/"+missing.Hex(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAccount(t *testing.T) {
	server := newTestServer(t, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/accounts/"+userAddr.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var data lending.AccountData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	// 1000 DAI at 1e-3 base.
	require.Equal(t, "1000000000000000000", data.TotalCollateralValue.String())
	require.Zero(t, data.TotalDebtValue.Sign())
}

var (
	wethAsset     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	borrowerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000bb2")
	treasuryAddr  = common.HexToAddress("0x0000000000000000000000000000000000000aa3")
	orchAddr      = common.HexToAddress("0x0000000000000000000000000000000000000aa4")
	initiatorAddr = common.HexToAddress("0x0000000000000000000000000000000000000bb3")
)

type liquidationFixture struct {
	server *Server
	tokens *ledger.Ledger
	prices *oracle.Oracle
}

// newLiquidationFixture stages an underwater borrower (1 WETH collateral, 800
// DAI debt at 1.18e-3 base) behind a fully wired flash settlement path.
func newLiquidationFixture(t *testing.T) *liquidationFixture {
	t.Helper()
	store := state.NewStore(nil)
	tokens := ledger.New()
	prices := oracle.New(adminAddr)
	require.NoError(t, prices.SetAssetPrice(adminAddr, daiAsset, ray("1180000000000000")))
	require.NoError(t, prices.SetAssetPrice(adminAddr, wethAsset, ray("1000000000000000000")))

	strategy := &lending.RateStrategy{
		OptimalUtilization:     ray("800000000000000000000000000"),
		BaseVariableBorrowRate: big.NewInt(0),
		VariableRateSlope1:     ray("40000000000000000000000000"),
		VariableRateSlope2:     ray("750000000000000000000000000"),
		BaseStableBorrowRate:   ray("39000000000000000000000000"),
		StableRateSlope1:       ray("20000000000000000000000000"),
		StableRateSlope2:       ray("750000000000000000000000000"),
	}
	now := uint64(1_700_000_000)
	require.NoError(t, store.PutReserve(daiAsset, &lending.Reserve{
		Asset:                   daiAsset,
		Decimals:                18,
		AvailableLiquidity:      ray("200000000000000000000"),
		TotalScaledVariableDebt: ray("800000000000000000000"),
		ReserveFactorBps:        1000,
		LoanToValueBps:          7500,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     500,
		Strategy:                strategy,
		LastUpdateTimestamp:     now,
	}))
	require.NoError(t, store.PutReserve(wethAsset, &lending.Reserve{
		Asset:                   wethAsset,
		Decimals:                18,
		AvailableLiquidity:      ray("1000000000000000000"),
		ReserveFactorBps:        1000,
		LoanToValueBps:          8000,
		LiquidationThresholdBps: 8250,
		LiquidationBonusBps:     500,
		Strategy:                strategy,
		LastUpdateTimestamp:     now,
	}))
	require.NoError(t, store.PutPosition(wethAsset, &lending.UserPosition{
		User:            borrowerAddr,
		Asset:           wethAsset,
		ScaledDeposit:   ray("1000000000000000000"),
		UseAsCollateral: true,
	}))
	require.NoError(t, store.PutPosition(daiAsset, &lending.UserPosition{
		User:               borrowerAddr,
		Asset:              daiAsset,
		ScaledVariableDebt: ray("800000000000000000000"),
	}))

	require.NoError(t, tokens.Mint(daiAsset, vaultAddr, ray("200000000000000000000")))
	require.NoError(t, tokens.Mint(wethAsset, vaultAddr, ray("1000000000000000000")))
	require.NoError(t, tokens.Mint(daiAsset, treasuryAddr, ray("1000000000000000000000")))

	pool := lending.NewPool(vaultAddr, adminAddr)
	pool.SetState(store)
	pool.SetLedger(tokens)
	pool.SetOracle(prices)
	pool.SetClock(func() uint64 { return now })

	provider := flashliq.NewProvider(tokens, treasuryAddr)
	orch := flashliq.NewOrchestrator(orchAddr, treasuryAddr)
	orch.SetPool(pool)
	orch.SetLedger(tokens)
	orch.SetOracle(prices)
	orch.SetRouter(flashliq.NewOracleRouter(tokens, prices, pool, 30))
	orch.SetState(store)

	server := NewServer(pool, nil, Config{})
	server.SetFlash(provider, orch)
	return &liquidationFixture{server: server, tokens: tokens, prices: prices}
}

func postLiquidation(t *testing.T, server *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/liquidations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLiquidationSettles(t *testing.T) {
	f := newLiquidationFixture(t)
	body := `{
		"collateralAsset": "` + wethAsset.Hex() + `",
		"debtAsset": "` + daiAsset.Hex() + `",
		"user": "` + borrowerAddr.Hex() + `",
		"debtToCover": "400000000000000000000",
		"initiator": "` + initiatorAddr.Hex() + `"
	}`
	rec := postLiquidation(t, f.server, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Treasury earned the 0.09% premium; the initiator keeps the collateral
	// left after the oracle-router swap covered repayment.
	require.Equal(t, "1000360000000000000000", f.tokens.BalanceOf(daiAsset, treasuryAddr).String())
	require.Equal(t, "21757925600000000", f.tokens.BalanceOf(wethAsset, initiatorAddr).String())
}

func TestLiquidationRejectsHealthyPosition(t *testing.T) {
	f := newLiquidationFixture(t)
	require.NoError(t, f.prices.SetAssetPrice(adminAddr, daiAsset, ray("1000000000000000")))

	body := `{
		"collateralAsset": "` + wethAsset.Hex() + `",
		"debtAsset": "` + daiAsset.Hex() + `",
		"user": "` + borrowerAddr.Hex() + `",
		"debtToCover": "400000000000000000000",
		"initiator": "` + initiatorAddr.Hex() + `"
	}`
	rec := postLiquidation(t, f.server, body)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "HEALTH_FACTOR_NOT_BELOW_THRESHOLD")
	require.Equal(t, "1000000000000000000000", f.tokens.BalanceOf(daiAsset, treasuryAddr).String())
}

func TestLiquidationValidatesInput(t *testing.T) {
	f := newLiquidationFixture(t)

	rec := postLiquidation(t, f.server, `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postLiquidation(t, f.server, `{
		"collateralAsset": "nope",
		"debtAsset": "`+daiAsset.Hex()+`",
		"user": "`+borrowerAddr.Hex()+`",
		"debtToCover": "1",
		"initiator": "`+initiatorAddr.Hex()+`"
	}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postLiquidation(t, f.server, `{
		"collateralAsset": "`+wethAsset.Hex()+`",
		"debtAsset": "`+daiAsset.Hex()+`",
		"user": "`+borrowerAddr.Hex()+`",
		"debtToCover": "0",
		"initiator": "`+initiatorAddr.Hex()+`"
	}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiquidationUnconfigured(t *testing.T) {
	server := newTestServer(t, Config{})
	rec := postLiquidation(t, server, `{}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	server := newTestServer(t, Config{RequestsPerSecond: 1, Burst: 1})
	handler := server.Handler()

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	handler.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1:5001"
	handler.ServeHTTP(second, req)
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	// A different client has its own budget.
	third := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	handler.ServeHTTP(third, req)
	require.Equal(t, http.StatusOK, third.Code)
}
