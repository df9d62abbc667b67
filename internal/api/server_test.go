package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/control-plane/internal/auth"
	"github.com/botgrid/control-plane/internal/billing"
	"github.com/botgrid/control-plane/internal/deploy"
	"github.com/botgrid/control-plane/internal/events"
	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/monitor"
	"github.com/botgrid/control-plane/internal/notify"
	"github.com/botgrid/control-plane/internal/secrets"
	"github.com/botgrid/control-plane/internal/store/storetest"
	"github.com/botgrid/control-plane/internal/wallet"
	"github.com/botgrid/control-plane/pkg/config"
)

type nopSelector struct{}

func (nopSelector) Select(ctx context.Context) (*models.GitHubAccount, error) {
	return nil, errors.New("no accounts registered")
}

type nopFactory struct{}

func (nopFactory) ForAccount(ctx context.Context, account *models.GitHubAccount) (deploy.Client, error) {
	return nil, errors.New("no provider in test")
}

type nopWatcher struct{}

func (nopWatcher) Watch(branch string, account *models.GitHubAccount) {}

type nopLogFactory struct{}

func (nopLogFactory) ForAccount(ctx context.Context, account *models.GitHubAccount) (monitor.LogFetcher, error) {
	return nil, errors.New("no provider in test")
}

type nopLifecycle struct{}

func (nopLifecycle) Delete(ctx context.Context, id string) error { return nil }

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

type testServer struct {
	server *Server
	store  *storetest.MemoryStore
	auth   *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := storetest.New()
	walletSvc := wallet.NewService(st, nil)
	hub := events.NewHub(nil)
	t.Cleanup(hub.Shutdown)

	pub, priv, err := secrets.GenerateKeyPair()
	require.NoError(t, err)
	cipher, err := secrets.NewTokenCipher(&secrets.Config{
		AgePublicKey:  pub,
		AgePrivateKey: priv,
	}, nil)
	require.NoError(t, err)

	notifier := notify.NewLogNotifier(nil)
	manager := deploy.NewManager(st, walletSvc, nopSelector{}, nopFactory{}, nopWatcher{},
		hub, notifier, nil, deploy.Config{Fee: 25, DailyCharge: 10}, nil)
	sweeper := billing.NewSweeper(st, walletSvc, nopLifecycle{}, notifier,
		billing.Config{Interval: 24 * time.Hour}, nil)

	authSvc := auth.NewService(&auth.Config{
		JWTSecret:   []byte("test-secret-test-secret-test-sec"),
		TokenExpiry: time.Hour,
	}, nil)

	cfg := &config.Config{APIHost: "127.0.0.1", APIPort: 0}
	server := NewServer(cfg, Deps{
		Store:       st,
		Auth:        authSvc,
		Deployments: manager,
		Wallet:      walletSvc,
		Hub:         hub,
		Sweeper:     sweeper,
		Cipher:      cipher,
		Logs:        nopLogFactory{},
		DB:          okPinger{},
	}, nil)

	return &testServer{server: server, store: st, auth: authSvc}
}

func (ts *testServer) token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	token, err := ts.auth.GenerateToken(userID, admin)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seedDeployment(t *testing.T, id, userID string, status models.DeploymentStatus) {
	t.Helper()
	require.NoError(t, ts.store.Deployments().Create(context.Background(), &models.Deployment{
		ID:     id,
		UserID: userID,
		Name:   id,
		Branch: id,
		Status: status,
	}))
}

func TestHealthEndpointIsPublic(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database"`)
}

func TestV1RequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/deployments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/deployments", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/auth/validate", ts.token(t, "u1", false), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"u1"`)
}

func TestDeploymentVisibility(t *testing.T) {
	ts := newTestServer(t)
	ts.seedDeployment(t, "d1", "owner", models.DeploymentStatusActive)

	// A stranger sees 404, not 403, so IDs cannot be probed.
	rec := ts.do(t, http.MethodGet, "/v1/deployments/d1", ts.token(t, "stranger", false), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/deployments/d1", ts.token(t, "owner", false), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/deployments/d1", ts.token(t, "root", true), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateDeploymentValidation(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v1/deployments", ts.token(t, "u1", false),
		map[string]string{"name": "My Bot"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestCreateDeploymentInsufficientFunds(t *testing.T) {
	ts := newTestServer(t)
	ts.store.SetBalance("u1", 5)

	rec := ts.do(t, http.MethodPost, "/v1/deployments", ts.token(t, "u1", false), map[string]string{
		"name":         "My Bot",
		"session_id":   "sess",
		"owner_number": "123",
		"prefix":       "!",
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_funds")
}

func TestStopRejectsInvalidTransition(t *testing.T) {
	ts := newTestServer(t)
	ts.seedDeployment(t, "d1", "u1", models.DeploymentStatusDeploying)

	rec := ts.do(t, http.MethodPost, "/v1/deployments/d1/stop", ts.token(t, "u1", false), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteIsIdempotentOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "u1", false)

	rec := ts.do(t, http.MethodDelete, "/v1/deployments/never-existed", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestVariableLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.seedDeployment(t, "d1", "u1", models.DeploymentStatusActive)
	token := ts.token(t, "u1", false)

	rec := ts.do(t, http.MethodPut, "/v1/deployments/d1/variables/PREFIX", token,
		map[string]string{"value": "#"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPut, "/v1/deployments/d1/variables/9bad", token,
		map[string]string{"value": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/deployments/d1/variables", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"PREFIX"`)

	rec = ts.do(t, http.MethodDelete, "/v1/deployments/d1/variables/PREFIX", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLogsRequireLiveAccount(t *testing.T) {
	ts := newTestServer(t)
	// AccountID empty: the binding is gone, so logs are unavailable.
	ts.seedDeployment(t, "d1", "u1", models.DeploymentStatusActive)

	rec := ts.do(t, http.MethodGet, "/v1/deployments/d1/logs", ts.token(t, "u1", false), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWalletEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.store.SetBalance("u1", 42)
	token := ts.token(t, "u1", false)

	rec := ts.do(t, http.MethodGet, "/v1/wallet", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":42`)

	rec = ts.do(t, http.MethodGet, "/v1/wallet/transactions?limit=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/wallet/transactions", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutesRequireAdminFlag(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/admin/accounts", ts.token(t, "u1", false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/admin/accounts", ts.token(t, "root", true), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountTokenNeverLeaves(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(t, "root", true)

	rec := ts.do(t, http.MethodPost, "/v1/admin/accounts", admin, map[string]string{
		"name":       "acct-1",
		"token":      "ghp_supersecret",
		"repo_owner": "acme",
		"repo_name":  "bots",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "ghp_supersecret")

	var created models.GitHubAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// The stored token is encrypted, not the plaintext.
	stored, err := ts.store.Accounts().Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Token)
	assert.NotEqual(t, "ghp_supersecret", stored.Token)

	rec = ts.do(t, http.MethodGet, "/v1/admin/accounts", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "ghp_supersecret")
}

func TestManualBillingRun(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v1/admin/billing/run", ts.token(t, "root", true), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "completed")
}
