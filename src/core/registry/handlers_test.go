package registry

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbtc21/x402-registry/src/core/config"
	"github.com/pbtc21/x402-registry/src/core/database"
	"github.com/pbtc21/x402-registry/src/core/logger"
	"github.com/pbtc21/x402-registry/src/core/payments"
)

// newTestServer builds a full server over a throwaway sqlite database.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.LoadFromEnv()
	cfg.Database.DatabaseURL = filepath.Join(t.TempDir(), "handlers_test.db")
	cfg.EnableResponseCache = false
	cfg.AccessLog = false
	cfg.TaxonomyPath = ""

	db, err := database.Initialize(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	server, err := NewServer(db, cfg, payments.StaticVerifier{},
		payments.NewMemorySessionStore(time.Minute), logger.New(cfg))
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	server.Engine().ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func registerTestAgent(t *testing.T, server *Server, name string, capabilities []string, price int64) string {
	t.Helper()
	recorder := doJSON(t, server, http.MethodPost, "/agents/register", registrationFixture(name, capabilities, price))
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())

	body := decodeBody(t, recorder)
	agent := body["agent"].(map[string]interface{})
	return agent["id"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	server := newTestServer(t)

	t.Run("Root", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodGet, "/", nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, "x402-registry", body["service"])
		assert.Equal(t, "running", body["status"])
	})

	t.Run("Health", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, "healthy", body["status"])
		assert.Contains(t, body, "uptime_seconds")
	})

	t.Run("HealthReportsStorageStats", func(t *testing.T) {
		registerTestAgent(t, server, "indexer", []string{"search"}, 25)

		recorder := doJSON(t, server, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		body := decodeBody(t, recorder)
		storage, ok := body["storage"].(map[string]interface{})
		require.True(t, ok, "health body missing storage stats: %s", recorder.Body.String())
		assert.Equal(t, float64(1), storage["total_agents"])
		assert.Contains(t, storage, "total_endpoints")
	})
}

func TestAgentRoutes(t *testing.T) {
	t.Run("RegisterAndFetch", func(t *testing.T) {
		server := newTestServer(t)
		id := registerTestAgent(t, server, "summarizer", []string{"summarize"}, 40)

		recorder := doJSON(t, server, http.MethodGet, "/agents/"+id, nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, "summarizer", body["name"])
	})

	t.Run("RegisterRejectsInvalidPayload", func(t *testing.T) {
		server := newTestServer(t)

		req := registrationFixture("bad", []string{"summarize"}, 10)
		req.Owner = ""
		recorder := doJSON(t, server, http.MethodPost, "/agents/register", req)
		require.Equal(t, http.StatusBadRequest, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, "VALIDATION_ERROR", body["code"])
	})

	t.Run("UnknownAgentIs404", func(t *testing.T) {
		server := newTestServer(t)

		recorder := doJSON(t, server, http.MethodGet, "/agents/no-such-agent", nil)
		require.Equal(t, http.StatusNotFound, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, "NOT_FOUND", body["code"])
	})

	t.Run("ListAgents", func(t *testing.T) {
		server := newTestServer(t)
		registerTestAgent(t, server, "a", []string{"summarize"}, 10)
		registerTestAgent(t, server, "b", []string{"translate"}, 20)

		recorder := doJSON(t, server, http.MethodGet, "/agents", nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, float64(2), body["count"])
	})

	t.Run("Capabilities", func(t *testing.T) {
		server := newTestServer(t)
		registerTestAgent(t, server, "a", []string{"summarize", "translate"}, 10)

		recorder := doJSON(t, server, http.MethodGet, "/capabilities", nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, float64(2), body["count"])
	})
}

func TestRecommendRoute(t *testing.T) {
	server := newTestServer(t)
	registerTestAgent(t, server, "summarizer", []string{"summarize"}, 40)

	t.Run("ReturnsRankedAgentsAndPlan", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodPost, "/agents/recommend", map[string]interface{}{
			"task": "summarize this report",
		})
		require.Equal(t, http.StatusOK, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, float64(1), body["count"])
		assert.Equal(t, []interface{}{"summarize"}, body["inferredCapabilities"])

		plan := body["plan"].(map[string]interface{})
		assert.Equal(t, float64(40), plan["totalCost"])
	})

	t.Run("MissingTaskIs400", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodPost, "/agents/recommend", map[string]interface{}{})
		require.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestRecommendCachingAcrossRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.LoadFromEnv()
	cfg.Database.DatabaseURL = filepath.Join(t.TempDir(), "cache_handlers_test.db")
	cfg.EnableResponseCache = true
	cfg.CacheTTL = 60
	cfg.AccessLog = false
	cfg.TaxonomyPath = ""

	db, err := database.Initialize(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	server, err := NewServer(db, cfg, payments.StaticVerifier{},
		payments.NewMemorySessionStore(time.Minute), logger.New(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { server.Stop(context.Background()) })

	registerTestAgent(t, server, "summarizer", []string{"summarize"}, 40)
	task := map[string]interface{}{"task": "summarize this report"}

	recorder := doJSON(t, server, http.MethodPost, "/agents/recommend", task)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(1), decodeBody(t, recorder)["count"])

	// Repeat request is served from the cache with the same ranking.
	recorder = doJSON(t, server, http.MethodPost, "/agents/recommend", task)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(1), decodeBody(t, recorder)["count"])

	// Registering a matching agent invalidates cached rankings.
	registerTestAgent(t, server, "digest-writer", []string{"summarize"}, 30)

	recorder = doJSON(t, server, http.MethodPost, "/agents/recommend", task)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(2), decodeBody(t, recorder)["count"])
}

func TestExecuteRoute(t *testing.T) {
	server := newTestServer(t)
	registerTestAgent(t, server, "summarizer", []string{"summarize"}, 40)

	t.Run("NoProofIs402WithDemand", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodPost, "/agents/execute", map[string]interface{}{
			"task":   "summarize this report",
			"budget": 100,
			"token":  "stable-coin",
		})
		require.Equal(t, http.StatusPaymentRequired, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, "PAYMENT_REQUIRED", body["code"])
		assert.Equal(t, "summarize this report", body["task"])
		assert.Equal(t, float64(1), body["estimatedAgents"])

		payment := body["payment"].(map[string]interface{})
		assert.Equal(t, float64(110), payment["amount"])
		assert.Equal(t, "stable-coin", payment["token"])
		assert.NotEmpty(t, payment["memo"])
	})

	t.Run("PaidRunCompletes", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodPost, "/agents/execute", map[string]interface{}{
			"task":         "summarize this report",
			"budget":       100,
			"token":        "stable-coin",
			"paymentProof": "0xproof",
		})
		require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

		body := decodeBody(t, recorder)
		assert.Equal(t, StatusCompleted, body["status"])
		assert.Equal(t, float64(40), body["totalCost"])
		assert.Equal(t, float64(10), body["platformFee"])
	})

	t.Run("BadTokenIs400", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodPost, "/agents/execute", map[string]interface{}{
			"task":   "summarize",
			"budget": 100,
			"token":  "doge",
		})
		require.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestChainRoute(t *testing.T) {
	server := newTestServer(t)
	writerID := registerTestAgent(t, server, "writer", []string{"summarize"}, 300)
	translatorID := registerTestAgent(t, server, "translator", []string{"translate"}, 700)

	steps := []map[string]interface{}{
		{"agentId": writerID, "action": "draft"},
		{"agentId": translatorID},
	}

	t.Run("NoProofIs402", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodPost, "/agents/chain", map[string]interface{}{
			"steps": steps,
			"token": "native-coin",
		})
		require.Equal(t, http.StatusPaymentRequired, recorder.Code)

		body := decodeBody(t, recorder)
		payment := body["payment"].(map[string]interface{})
		assert.Equal(t, float64(1100), payment["amount"])
	})

	t.Run("PaidChainCompletes", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodPost, "/agents/chain", map[string]interface{}{
			"steps":        steps,
			"token":        "native-coin",
			"paymentProof": "0xproof",
		})
		require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

		body := decodeBody(t, recorder)
		assert.Equal(t, StatusCompleted, body["status"])
		assert.Equal(t, float64(1000), body["totalCost"])
		assert.Equal(t, float64(100), body["platformFee"])
		assert.Len(t, body["steps"], 2)
	})
}

func TestEndpointRoutes(t *testing.T) {
	server := newTestServer(t)

	payload := map[string]interface{}{
		"name":  "weather-api",
		"url":   "https://api.example.com/weather",
		"price": 5,
		"token": "stable-coin",
		"owner": "0x2222222222222222222222222222222222222222",
	}

	recorder := doJSON(t, server, http.MethodPost, "/endpoints", payload)
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	created := decodeBody(t, recorder)
	id := created["id"].(string)

	t.Run("Fetch", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodGet, "/endpoints/"+id, nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, "weather-api", body["name"])
	})

	t.Run("Search", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodGet, "/endpoints?maxPrice=10", nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		body := decodeBody(t, recorder)
		assert.Equal(t, float64(1), body["count"])
	})

	t.Run("SearchWithBadMaxPriceIs400", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodGet, "/endpoints?maxPrice=lots", nil)
		require.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("Update", func(t *testing.T) {
		updated := map[string]interface{}{
			"name":  "weather-api-v2",
			"url":   "https://api.example.com/weather/v2",
			"price": 8,
			"token": "stable-coin",
		}
		recorder := doJSON(t, server, http.MethodPut, "/endpoints/"+id, updated)
		require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

		body := decodeBody(t, recorder)
		assert.Equal(t, "weather-api-v2", body["name"])
		assert.Equal(t, float64(8), body["price"])
		// Owner is immutable across updates.
		assert.Equal(t, payload["owner"], body["owner"])
	})

	t.Run("Delete", func(t *testing.T) {
		recorder := doJSON(t, server, http.MethodDelete, "/endpoints/"+id, nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		recorder = doJSON(t, server, http.MethodGet, "/endpoints/"+id, nil)
		require.Equal(t, http.StatusNotFound, recorder.Code)
	})
}
