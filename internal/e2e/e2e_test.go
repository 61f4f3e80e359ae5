package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	allocationrepo "github.com/opsbase/tally/internal/allocation/repository"
	allocationservice "github.com/opsbase/tally/internal/allocation/service"
	attributionrepo "github.com/opsbase/tally/internal/attribution/repository"
	attributionservice "github.com/opsbase/tally/internal/attribution/service"
	byokrepo "github.com/opsbase/tally/internal/byok/repository"
	byokservice "github.com/opsbase/tally/internal/byok/service"
	"github.com/opsbase/tally/internal/cache"
	"github.com/opsbase/tally/internal/clock"
	"github.com/opsbase/tally/internal/config"
	poolrepo "github.com/opsbase/tally/internal/creditpool/repository"
	poolservice "github.com/opsbase/tally/internal/creditpool/service"
	ledgerservice "github.com/opsbase/tally/internal/ledger/service"
	"github.com/opsbase/tally/internal/pricing"
	"github.com/opsbase/tally/internal/server"
)

const testSchema = `
CREATE TABLE credit_pools (
	id INTEGER PRIMARY KEY,
	org_id INTEGER NOT NULL UNIQUE,
	total_credits INTEGER NOT NULL DEFAULT 0,
	allocated_credits INTEGER NOT NULL DEFAULT 0,
	used_credits INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE user_allocations (
	id INTEGER PRIMARY KEY,
	org_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	allocated_credits INTEGER NOT NULL DEFAULT 0,
	used_credits INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX ux_user_allocations_org_user_active
	ON user_allocations (org_id, user_id) WHERE is_active;

CREATE TABLE attribution_records (
	id INTEGER PRIMARY KEY,
	org_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	service_name TEXT NOT NULL,
	credits_used INTEGER NOT NULL,
	request_id TEXT NOT NULL,
	metadata TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX ux_attribution_records_org_request
	ON attribution_records (org_id, request_id);

CREATE TABLE byok_credentials (
	id INTEGER PRIMARY KEY,
	org_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	provider TEXT NOT NULL,
	encrypted_value TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX ux_byok_credentials_user_provider
	ON byok_credentials (org_id, user_id, provider);
`

const sealKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

type testEnv struct {
	db      *gorm.DB
	node    *snowflake.Node
	baseURL string
	httpSrv *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func startEnv() (*testEnv, error) {
	dsn := fmt.Sprintf("file:memdb_e2e_%d?mode=memory&cache=shared", time.Now().UnixNano())
	dbConn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := dbConn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := dbConn.Exec(testSchema).Error; err != nil {
		return nil, err
	}

	node, err := snowflake.NewNode(9)
	if err != nil {
		return nil, err
	}

	log := zap.NewNop()
	clk := clock.NewSystem()
	cfg := config.Config{AppName: "tally", Environment: "test", BYOKSealKey: sealKey}

	allocRepo := allocationrepo.Provide()
	attrRepo := attributionrepo.Provide()
	plRepo := poolrepo.Provide()

	poolSvc := poolservice.New(poolservice.Params{DB: dbConn, Log: log, GenID: node, Repo: plRepo})
	allocationSvc := allocationservice.New(allocationservice.Params{
		DB: dbConn, Log: log, GenID: node, Clock: clk, Repo: allocRepo, PoolRepo: plRepo,
	})
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB: dbConn, Log: log, GenID: node, Clock: clk, Repo: allocRepo, AttrRepo: attrRepo,
	})
	attributionSvc := attributionservice.New(attributionservice.Params{DB: dbConn, Log: log, Repo: attrRepo})
	byokSvc, err := byokservice.New(byokservice.Params{
		Config: cfg, DB: dbConn, Log: log, GenID: node, Clock: clk,
		Repo: byokrepo.Provide(), Cache: cache.NewRouteResolverCache(),
	})
	if err != nil {
		return nil, err
	}

	engine := server.NewEngine(log)
	srv := server.NewServer(server.ServerParams{
		Gin:            engine,
		Cfg:            cfg,
		Log:            log,
		PoolSvc:        poolSvc,
		AllocationSvc:  allocationSvc,
		LedgerSvc:      ledgerSvc,
		AttributionSvc: attributionSvc,
		ByokSvc:        byokSvc,
		Calculator:     pricing.NewCalculator(),
	})

	httpSrv := httptest.NewServer(srv.Engine())
	return &testEnv{
		db:      dbConn,
		node:    node,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
}

func resetDatabase(t *testing.T) {
	t.Helper()
	for _, table := range []string{"credit_pools", "user_allocations", "attribution_records", "byok_credentials"} {
		if err := env.db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}

func identityHeaders(orgID, userID snowflake.ID, tier string) map[string]string {
	headers := map[string]string{"X-Org-ID": orgID.String()}
	if userID != 0 {
		headers["X-User-ID"] = userID.String()
	}
	if tier != "" {
		headers["X-Tier"] = tier
	}
	return headers
}

func doJSON(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, env.baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", string(raw), err)
		}
	}
	return resp.StatusCode, decoded
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_RequiresOrganization(t *testing.T) {
	resetDatabase(t)

	status, _ := doJSON(t, http.MethodGet, "/v1/pools", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without org header, got %d", status)
	}
}

func TestE2E_CreditLifecycle(t *testing.T) {
	resetDatabase(t)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	headers := identityHeaders(orgID, userID, "")

	status, body := doJSON(t, http.MethodPost, "/v1/pools", map[string]any{"initial_credits": 100_000}, headers)
	if status != http.StatusCreated {
		t.Fatalf("create pool: expected 201, got %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodPost, "/v1/pools", map[string]any{"initial_credits": 1}, headers)
	if status != http.StatusConflict {
		t.Fatalf("duplicate pool: expected 409, got %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodPost, "/v1/pools/credits", map[string]any{"amount": 20_000}, headers)
	if status != http.StatusOK || body["total_credits"].(float64) != 120_000 {
		t.Fatalf("add credits: expected 120000 total, got %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodPost, "/v1/allocations", map[string]any{
		"user_id": userID.String(),
		"amount":  50_000,
	}, headers)
	if status != http.StatusCreated {
		t.Fatalf("allocate: expected 201, got %d: %v", status, body)
	}

	deduct := map[string]any{
		"user_id":      userID.String(),
		"amount":       10_000,
		"service_name": "chat",
		"request_id":   "e2e-deduct-1",
	}
	status, body = doJSON(t, http.MethodPost, "/v1/ledger/deduct", deduct, headers)
	if status != http.StatusOK {
		t.Fatalf("deduct: expected 200, got %d: %v", status, body)
	}
	if body["remaining_credits"].(float64) != 40_000 || body["applied"] != true {
		t.Fatalf("unexpected deduct response: %v", body)
	}

	// Same request_id returns the original outcome without a second debit.
	status, body = doJSON(t, http.MethodPost, "/v1/ledger/deduct", deduct, headers)
	if status != http.StatusOK || body["applied"] != false {
		t.Fatalf("replay: expected applied=false, got %d: %v", status, body)
	}
	if body["remaining_credits"].(float64) != 40_000 {
		t.Fatalf("replay changed the balance: %v", body)
	}

	// Overdraw is refused with a payment-required response.
	status, body = doJSON(t, http.MethodPost, "/v1/ledger/deduct", map[string]any{
		"user_id":      userID.String(),
		"amount":       40_001,
		"service_name": "chat",
		"request_id":   "e2e-deduct-over",
	}, headers)
	if status != http.StatusPaymentRequired {
		t.Fatalf("overdraw: expected 402, got %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodGet, "/v1/balance/"+userID.String(), nil, headers)
	if status != http.StatusOK || body["remaining_credits"].(float64) != 40_000 {
		t.Fatalf("balance: got %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodPost, "/v1/ledger/refund", map[string]any{
		"user_id":      userID.String(),
		"service_name": "chat",
		"amount":       2_500,
		"reason":       "partial outage",
	}, headers)
	if status != http.StatusOK || body["remaining_credits"].(float64) != 42_500 {
		t.Fatalf("refund: got %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodGet, "/v1/usage", nil, headers)
	if status != http.StatusOK {
		t.Fatalf("usage: expected 200, got %d: %v", status, body)
	}
	records := body["records"].([]any)
	if len(records) != 2 {
		t.Fatalf("expected 2 usage records (debit + refund), got %d", len(records))
	}

	status, body = doJSON(t, http.MethodDelete, "/v1/allocations/"+userID.String(), nil, headers)
	if status != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d: %v", status, body)
	}
	status, body = doJSON(t, http.MethodGet, "/v1/allocations/"+userID.String(), nil, headers)
	if status != http.StatusNotFound {
		t.Fatalf("deactivated allocation still resolves: %d: %v", status, body)
	}
}

func TestE2E_Transfer(t *testing.T) {
	resetDatabase(t)
	orgID := env.node.Generate()
	alice := env.node.Generate()
	bob := env.node.Generate()
	headers := identityHeaders(orgID, 0, "")

	doJSON(t, http.MethodPost, "/v1/pools", map[string]any{"initial_credits": 100_000}, headers)
	doJSON(t, http.MethodPost, "/v1/allocations", map[string]any{"user_id": alice.String(), "amount": 30_000}, headers)
	doJSON(t, http.MethodPost, "/v1/allocations", map[string]any{"user_id": bob.String(), "amount": 10_000}, headers)

	status, body := doJSON(t, http.MethodPost, "/v1/ledger/transfer", map[string]any{
		"from_user_id": alice.String(),
		"to_user_id":   bob.String(),
		"amount":       5_000,
		"reason":       "rebalance",
	}, headers)
	if status != http.StatusOK {
		t.Fatalf("transfer: expected 200, got %d: %v", status, body)
	}
	if body["from_remaining_credits"].(float64) != 25_000 || body["to_remaining_credits"].(float64) != 15_000 {
		t.Fatalf("unexpected transfer balances: %v", body)
	}

	status, body = doJSON(t, http.MethodPost, "/v1/ledger/transfer", map[string]any{
		"from_user_id": alice.String(),
		"to_user_id":   alice.String(),
		"amount":       100,
	}, headers)
	if status != http.StatusBadRequest {
		t.Fatalf("self transfer: expected 400, got %d: %v", status, body)
	}
}

func TestE2E_UsagePricedDeduct(t *testing.T) {
	resetDatabase(t)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	headers := identityHeaders(orgID, userID, "professional")

	doJSON(t, http.MethodPost, "/v1/pools", map[string]any{"initial_credits": 100_000}, headers)
	doJSON(t, http.MethodPost, "/v1/allocations", map[string]any{"user_id": userID.String(), "amount": 50_000}, headers)

	// gpt-4o at 2500/10000 per 1K tokens: 1000 in + 500 out = 7500.
	status, body := doJSON(t, http.MethodPost, "/v1/ledger/deduct", map[string]any{
		"user_id":      userID.String(),
		"service_name": "chat",
		"request_id":   "e2e-usage-1",
		"usage": map[string]any{
			"model":      "gpt-4o",
			"tokens_in":  1000,
			"tokens_out": 500,
			"power":      "balanced",
		},
	}, headers)
	if status != http.StatusOK {
		t.Fatalf("usage deduct: expected 200, got %d: %v", status, body)
	}
	if got := body["remaining_credits"].(float64); got != 42_500 {
		t.Fatalf("expected 42500 remaining after 7500 cost, got %v", got)
	}
}

func TestE2E_BYOKRouting(t *testing.T) {
	resetDatabase(t)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	headers := identityHeaders(orgID, userID, "")

	status, body := doJSON(t, http.MethodPost, "/v1/route/resolve", map[string]any{"model": "gpt-4o"}, headers)
	if status != http.StatusOK || body["route"] != "platform" {
		t.Fatalf("expected platform route, got %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodPut, "/v1/byok/credentials", map[string]any{
		"user_id":  userID.String(),
		"provider": "openai",
		"value":    "sk-e2e-secret",
	}, headers)
	if status != http.StatusOK {
		t.Fatalf("upsert credential: expected 200, got %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodPost, "/v1/route/resolve", map[string]any{"model": "gpt-4o"}, headers)
	if status != http.StatusOK || body["route"] != "byok" || body["provider"] != "openai" {
		t.Fatalf("expected byok route, got %d: %v", status, body)
	}

	// BYOK-routed usage is never billable.
	status, body = doJSON(t, http.MethodPost, "/v1/ledger/deduct", map[string]any{
		"user_id":      userID.String(),
		"amount":       100,
		"service_name": "chat",
		"request_id":   "e2e-byok-deduct",
		"metadata":     map[string]any{"extra": map[string]any{"byok": true}},
	}, headers)
	if status != http.StatusBadRequest {
		t.Fatalf("byok deduct: expected 400, got %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodPost, "/v1/byok/credentials/openai/disable", nil, headers)
	if status != http.StatusOK {
		t.Fatalf("disable credential: expected 200, got %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodPost, "/v1/route/resolve", map[string]any{"model": "gpt-4o"}, headers)
	if status != http.StatusOK || body["route"] != "platform" {
		t.Fatalf("expected platform route after disable, got %d: %v", status, body)
	}
}
