package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pyrus-portal/portal-backend/internal/auth"
	"pyrus-portal/portal-backend/internal/config"
	"pyrus-portal/portal-backend/pkg/workflows"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, AllowedOrigins: []string{"https://portal.example.com"}},
		Database: config.DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "portal.db"),
		},
		Logging: config.LoggingConfig{Level: "info"},
		Auth:    config.AuthConfig{JWTSecret: "test-secret", Issuer: "portal-test", TokenTTL: time.Hour},
		Workflow: config.WorkflowConfig{
			StoreTimeout: 5 * time.Second,
			ReadRetries:  1,
			RetryBackoff: time.Millisecond,
			AuditBatch:   50,
			PublishBatch: 50,
		},
		Reports: config.ReportsConfig{CacheTTL: time.Minute},
	}
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func (c apiClient) do(method, path string, body interface{}) (int, map[string]interface{}) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func setupPortal(t *testing.T) (*PortalAPI, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api, err := Setup(context.Background(), testConfig(t), zap.NewNop(), SetupOptions{LiveFeed: true})
	require.NoError(t, err)
	t.Cleanup(api.Close)
	return api, NewRouter(api)
}

func TestPortal_ApprovalScenario(t *testing.T) {
	api, router := setupPortal(t)
	clientID := uuid.New()

	producerToken, err := api.Tokens.Issue(auth.Actor{ID: "p-1", Name: "Pat Producer", Role: workflows.RoleProducer})
	require.NoError(t, err)
	clientToken, err := api.Tokens.Issue(auth.Actor{ID: "c-1", Name: "Casey Client", Role: workflows.RoleClient, ClientID: &clientID})
	require.NoError(t, err)
	producer := apiClient{t: t, router: router, token: producerToken}
	client := apiClient{t: t, router: router, token: clientToken}

	code, item := producer.do(http.MethodPost, "/api/v1/content", map[string]interface{}{
		"client_id":    clientID.String(),
		"title":        "Spring launch",
		"content_type": "blog_post",
	})
	require.Equal(t, http.StatusCreated, code)
	path := "/api/v1/content/" + item["id"].(string)

	steps := []struct {
		actor   apiClient
		target  string
		note    string
		status  string
		round   float64
		history int
	}{
		{producer, "sent_for_review", "", "sent_for_review", 0, 1},
		{client, "client_reviewing", "", "client_reviewing", 0, 2},
		{client, "revisions_requested", "fix the headline", "revisions_requested", 1, 3},
		{producer, "sent_for_review", "", "sent_for_review", 1, 4},
		{client, "client_reviewing", "", "client_reviewing", 1, 5},
		{client, "approved", "", "approved", 1, 6},
		{producer, "published", "", "published", 1, 7},
	}
	for i, step := range steps {
		code, body := step.actor.do(http.MethodPost, path+"/transition", map[string]string{
			"target_status": step.target,
			"note":          step.note,
		})
		require.Equal(t, http.StatusOK, code, "step %d: %v", i+1, body)
		assert.Equal(t, step.status, body["status"], "step %d", i+1)
		assert.Equal(t, step.round, body["review_round"], "step %d", i+1)
		assert.Len(t, body["status_history"], step.history, "step %d", i+1)
	}

	code, body := client.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, code)
	history := body["status_history"].([]interface{})
	assert.Equal(t, "fix the headline", history[2].(map[string]interface{})["note"])

	code, body = producer.do(http.MethodGet, path+"/actions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["actions"])

	require.Eventually(t, func() bool {
		code, body := client.do(http.MethodGet, "/api/v1/activity?content_id="+item["id"].(string), nil)
		feed, ok := body["activity"].([]interface{})
		return code == http.StatusOK && ok && len(feed) == 7
	}, 2*time.Second, 20*time.Millisecond)

	code, body = client.do(http.MethodGet, "/api/v1/reports/pipeline", nil)
	require.Equal(t, http.StatusOK, code)
	summary := body["summary"].(map[string]interface{})
	assert.Equal(t, float64(1), summary["published"])
}

func TestPortal_DirectPublishWithoutApproval(t *testing.T) {
	api, router := setupPortal(t)
	clientID := uuid.New()

	producerToken, err := api.Tokens.Issue(auth.Actor{ID: "p-1", Name: "Pat Producer", Role: workflows.RoleProducer})
	require.NoError(t, err)
	clientToken, err := api.Tokens.Issue(auth.Actor{ID: "c-1", Name: "Casey Client", Role: workflows.RoleClient, ClientID: &clientID})
	require.NoError(t, err)
	producer := apiClient{t: t, router: router, token: producerToken}
	client := apiClient{t: t, router: router, token: clientToken}

	code, item := producer.do(http.MethodPost, "/api/v1/content", map[string]interface{}{
		"client_id":         clientID.String(),
		"title":             "Quick post",
		"content_type":      "social_post",
		"approval_required": false,
	})
	require.Equal(t, http.StatusCreated, code)
	path := "/api/v1/content/" + item["id"].(string)

	code, _ = producer.do(http.MethodPost, path+"/transition", map[string]string{"target_status": "sent_for_review"})
	require.Equal(t, http.StatusOK, code)
	code, _ = client.do(http.MethodPost, path+"/transition", map[string]string{"target_status": "client_reviewing"})
	require.Equal(t, http.StatusOK, code)

	code, body := client.do(http.MethodPost, path+"/transition", map[string]string{"target_status": "approved"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_TRANSITION", body["code"])

	code, body = client.do(http.MethodPost, path+"/transition", map[string]string{"target_status": "published"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "published", body["status"])
	for _, e := range body["status_history"].([]interface{}) {
		assert.NotEqual(t, "approved", e.(map[string]interface{})["status"])
	}
}

func TestPortal_HealthAuthAndCORS(t *testing.T) {
	_, router := setupPortal(t)

	code, body := apiClient{t: t, router: router}.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	code, _ = apiClient{t: t, router: router}.do(http.MethodGet, "/api/v1/auth/ping", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = apiClient{t: t, router: router}.do(http.MethodGet, "/api/v1/content", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/content", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://portal.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/content", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
