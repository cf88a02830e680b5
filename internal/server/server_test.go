package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/smartsavvy/internal/database"
	"github.com/dukerupert/smartsavvy/internal/handler"
	"github.com/dukerupert/smartsavvy/internal/stats"
	"github.com/dukerupert/smartsavvy/internal/store"
	"github.com/dukerupert/smartsavvy/internal/subscription"
	"github.com/dukerupert/smartsavvy/internal/webhook"
)

const (
	testSecret     = "cc_secret"
	testAdminToken = "let-me-in"
)

type testEnv struct {
	srv *Server
	ts  *httptest.Server
	mr  *miniredis.Miniredis
}

func setupServer(t *testing.T, eventsPerMinute int) *testEnv {
	t.Helper()
	return setupServerWith(t, func(cfg *Config) { cfg.EventsPerMinute = eventsPerMinute })
}

func setupServerWith(t *testing.T, configure func(*Config)) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	catalog, err := subscription.NewCatalog(nil)
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	cfg := Config{
		Webhook: handler.WebhookConfig{
			CopeCartSecret: testSecret,
			Digistore:      webhook.DigistoreConfig{UserAgent: webhook.DefaultDigistoreUserAgent},
		},
		Catalog:        catalog,
		Clock:          stats.Clock{Now: func() time.Time { return now }, Loc: time.UTC},
		AdminTokenHash: string(hash),
	}
	configure(&cfg)
	srv := New(db, rdb, cfg, prometheus.NewRegistry(), slog.Default())

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, ts: ts, mr: mr}
}

func (e *testEnv) post(t *testing.T, path, contentType, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("POST", e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", e.ts.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	env := setupServer(t, 0)

	resp := env.get(t, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])

	env.mr.Close()
	resp = env.get(t, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "down", body["redis"])
}

func TestWebhookThroughRouterRecordsMetrics(t *testing.T) {
	env := setupServer(t, 0)

	body := `{"event_type":"payment.made","buyer_email":"a@b.com","product_internal_name":"label-plan"}`
	resp := env.post(t, "/webhooks/copecart", "application/json", body, map[string]string{
		webhook.CopeCartSignatureHeader: webhook.Sign([]byte(body), testSecret),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.post(t, "/webhooks/copecart", "application/json", body, map[string]string{
		webhook.CopeCartSignatureHeader: "forged",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.get(t, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, `smartsavvy_webhooks_total{outcome="applied",vendor="copecart"} 1`)
	assert.Contains(t, text, `smartsavvy_webhooks_total{outcome="unauthorized",vendor="copecart"} 1`)
	assert.Contains(t, text, `route="POST /webhooks/copecart"`)
}

func TestLinkEventsAreRateLimited(t *testing.T) {
	env := setupServer(t, 2)
	sub, err := store.NewSubscriberStore(env.srv.db).GetOrCreate("artist@example.com")
	require.NoError(t, err)
	_, err = store.NewLinkStore(env.srv.db).Create("lnk_1", sub.ID, "single", "https://example.com")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		resp := env.post(t, "/api/links/lnk_1/events", "application/json", `{"action":"visit"}`, nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	resp := env.post(t, "/api/links/lnk_1/events", "application/json", `{"action":"visit"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Reads are not limited.
	resp = env.get(t, "/api/links/lnk_1/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", env.mr.HGet("stats:lnk_1:link:2026-03-10", "visits"))
}

func TestAdminLogsRequireToken(t *testing.T) {
	env := setupServer(t, 0)

	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/api/admin/logs", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/api/admin/logs", map[string]string{
		"Authorization": "Bearer wrong",
	}).StatusCode)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/admin/logs", map[string]string{
		"Authorization": "Bearer " + testAdminToken,
	}).StatusCode)
}

func TestStatsFeedOverWebSocket(t *testing.T) {
	env := setupServer(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/stats?id=pl_1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.srv.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp := env.post(t, "/api/playlists/pl_1/followers", "application/json", `{"followers":42}`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg struct {
		Type   string           `json:"type"`
		ID     string           `json:"id"`
		Values map[string]int64 `json:"values"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "stats_playlist", msg.Type)
	assert.Equal(t, "pl_1", msg.ID)
	assert.Equal(t, int64(42), msg.Values["followers"])
}

func TestStatsFeedOriginPatterns(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		wantErr  bool
	}{
		{"cross origin rejected by default", nil, true},
		{"cross origin allowed by pattern", []string{"dash.smartsavvy.example"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupServerWith(t, func(cfg *Config) { cfg.OriginPatterns = tt.patterns })

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/stats"
			conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
				HTTPHeader: http.Header{"Origin": []string{"https://dash.smartsavvy.example"}},
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			conn.Close(websocket.StatusNormalClosure, "")
		})
	}
}
