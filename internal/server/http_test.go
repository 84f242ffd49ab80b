package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"LevGuard/internal/access"
	"LevGuard/internal/auction"
	"LevGuard/internal/core"
	"LevGuard/internal/custody"
	"LevGuard/internal/decay"
	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/liquidation"
	"LevGuard/internal/nav"
	"LevGuard/internal/observability"
	"LevGuard/internal/oracle"
	"LevGuard/internal/reserve"
	"LevGuard/internal/server"

	"github.com/google/uuid"
)

type fixture struct {
	custodian *custody.MemoryCustodian
	oracle    *oracle.Fixed
	acl       *access.Controller
	core      *core.RiskCore
	srv       *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	cust := custody.NewMemoryCustodian()
	cust.FundProtocol(fixedpoint.FromInt(100_000), fixedpoint.FromInt(100_000))
	intr := custody.NewMemoryInterestManager()
	rsv := reserve.NewStableReserve(fixedpoint.FromInt(1_000))

	src := &oracle.Fixed{Quote: oracle.Quote{Price: fixedpoint.FromInt(120), UpdatedAt: now, Valid: true}}
	guard := oracle.NewGuard(src, time.Minute, clock)

	calc, err := decay.NewLinear(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	auctions, err := auction.NewEngine(auction.Params{
		PriceMultiplier:    fixedpoint.MustParse("1.1"),
		ResetTime:          time.Hour,
		PriceDropThreshold: fixedpoint.MustParse("0.4"),
		PercentageReward:   fixedpoint.MustParse("0.05"),
		FixedReward:        fixedpoint.FromInt(1),
		MinAuctionAmount:   fixedpoint.MustParse("0.001"),
	}, calc, guard, cust, rsv, clock)
	if err != nil {
		t.Fatal(err)
	}
	liq, err := liquidation.NewEngine(liquidation.GlobalConfig{
		Thresholds: nav.Thresholds{
			Adjustment:  fixedpoint.MustParse("0.9"),
			Liquidation: fixedpoint.MustParse("0.3"),
		},
		PenaltyRate: fixedpoint.MustParse("0.1"),
		Enabled:     true,
	}, cust, intr, guard, auctions, rsv, clock)
	if err != nil {
		t.Fatal(err)
	}
	auctions.BindSink(liq)

	acl := access.NewController()
	rc := core.NewRiskCore(1, liq, auctions, rsv, acl, nil, nil, nil, nil, clock)

	health := observability.NewHealthChecker()
	health.SetReady(true)
	srv := httptest.NewServer(server.New(rc, nil, health).Router())
	t.Cleanup(srv.Close)

	return &fixture{custodian: cust, oracle: src, acl: acl, core: rc, srv: srv}
}

func (f *fixture) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestServer_UpdateRiskLevel(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	tokenID := f.custodian.CreatePosition(owner, nav.TierModerate, fixedpoint.FromInt(120), fixedpoint.FromInt(8))

	resp, body := f.post(t, "/v1/risk/update", map[string]interface{}{
		"owner":    owner,
		"token_id": tokenID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if string(body["risk_level"]) != "0" {
		t.Errorf("risk_level: got %s, want 0", body["risk_level"])
	}
	if string(body["net_nav"]) != `"1"` {
		t.Errorf("net_nav: got %s, want \"1\"", body["net_nav"])
	}
}

func TestServer_BarkIneligibleIs422(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	tokenID := f.custodian.CreatePosition(owner, nav.TierModerate, fixedpoint.FromInt(120), fixedpoint.FromInt(8))

	resp, body := f.post(t, "/v1/risk/bark", map[string]interface{}{
		"owner":    owner,
		"token_id": tokenID,
		"keeper":   uuid.New(),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want 422", resp.StatusCode)
	}
	if string(body["retryable"]) != `"false"` {
		t.Errorf("retryable: got %s, want \"false\"", body["retryable"])
	}
}

func TestServer_StaleOracleIs409(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	tokenID := f.custodian.CreatePosition(owner, nav.TierModerate, fixedpoint.FromInt(120), fixedpoint.FromInt(8))

	// Quote older than the one-minute guard window.
	f.oracle.Quote.UpdatedAt = time.Unix(1_700_000_000, 0).Add(-2 * time.Minute)

	resp, body := f.post(t, "/v1/risk/update", map[string]interface{}{
		"owner":    owner,
		"token_id": tokenID,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", resp.StatusCode)
	}
	if string(body["retryable"]) != `"true"` {
		t.Errorf("retryable: got %s, want \"true\"", body["retryable"])
	}
}

func TestServer_FullLiquidationCycle(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	tokenID := f.custodian.CreatePosition(owner, nav.TierModerate, fixedpoint.FromInt(120), fixedpoint.FromInt(8))
	buyer := uuid.New()
	f.custodian.FundAccountStable(buyer, fixedpoint.FromInt(10_000))

	f.oracle.Quote.Price = fixedpoint.FromInt(30)

	resp, body := f.post(t, "/v1/risk/bark", map[string]interface{}{
		"owner":    owner,
		"token_id": tokenID,
		"keeper":   uuid.New(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bark status: got %d, body %v", resp.StatusCode, body)
	}
	var auctionID uuid.UUID
	if err := json.Unmarshal(body["auction_id"], &auctionID); err != nil {
		t.Fatal(err)
	}

	// Status reflects the freeze.
	stResp, err := http.Get(fmt.Sprintf("%s/v1/risk/status/%s/%d", f.srv.URL, owner, tokenID))
	if err != nil {
		t.Fatal(err)
	}
	defer stResp.Body.Close()
	var st map[string]json.RawMessage
	if err := json.NewDecoder(stResp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if string(st["is_frozen"]) != "true" {
		t.Errorf("is_frozen: got %s, want true", st["is_frozen"])
	}

	// Buy everything at the opening price.
	a, err := f.core.Auction(auctionID)
	if err != nil {
		t.Fatal(err)
	}
	resp, body = f.post(t, "/v1/auctions/"+auctionID.String()+"/purchase", map[string]interface{}{
		"buyer":                buyer,
		"max_amount":           a.UnderlyingRemaining,
		"max_acceptable_price": fixedpoint.FromInt(1_000),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("purchase status: got %d, body %v", resp.StatusCode, body)
	}
	if string(body["completed"]) != "true" {
		t.Errorf("completed: got %s, want true", body["completed"])
	}

	resp, body = f.post(t, "/v1/risk/withdraw", map[string]interface{}{
		"owner":    owner,
		"token_id": tokenID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("withdraw status: got %d, body %v", resp.StatusCode, body)
	}

	// Exactly once.
	resp, _ = f.post(t, "/v1/risk/withdraw", map[string]interface{}{
		"owner":    owner,
		"token_id": tokenID,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("second withdraw status: got %d, want 422", resp.StatusCode)
	}
}

func TestServer_AdminConfigForbiddenWithoutRole(t *testing.T) {
	f := newFixture(t)
	caller := uuid.New()

	payload := map[string]interface{}{
		"caller":                caller,
		"adjustment_threshold":  "0.9",
		"liquidation_threshold": "0.3",
		"penalty_rate":          "0.1",
		"enabled":               true,
	}
	resp, _ := f.post(t, "/v1/admin/liquidation-config", payload)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status: got %d, want 403", resp.StatusCode)
	}

	f.acl.Grant(caller, access.RoleAdmin)
	resp, _ = f.post(t, "/v1/admin/liquidation-config", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status after grant: got %d, want 200", resp.StatusCode)
	}
}

func TestServer_UnknownAuctionIs404(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/v1/auctions/" + uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestServer_LiquidationPrice(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	tokenID := f.custodian.CreatePosition(owner, nav.TierModerate, fixedpoint.FromInt(120), fixedpoint.FromInt(8))

	resp, err := http.Get(fmt.Sprintf("%s/v1/risk/liquidation-price/%s/%d", f.srv.URL, owner, tokenID))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	// Moderate tier mint 120, threshold 0.3: (5p-120)/480 = 0.3 => p = 52.8.
	if got := string(body["liquidation_price"]); got != `"52.8"` {
		t.Errorf("liquidation_price: got %s, want \"52.8\"", got)
	}
}
