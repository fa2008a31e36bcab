package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnanamtech85-ops/photo-proofing-app/internal/metrics"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/ratelimit"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/realtime"
)

type denyLimiter struct{ err error }

func (d denyLimiter) Allow(context.Context, string) (bool, error) {
	return false, d.err
}

func newTestHandler(env *testEnv, opts ServerOptions) http.Handler {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	return NewHTTPServer(env.service, opts).Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	}
	return rr, payload
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)
	rr, payload := doRequest(t, newTestHandler(env, ServerOptions{}), http.MethodGet, "/api/health", "", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, Version, payload["version"])
	assert.NotEmpty(t, payload["timestamp"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)
	h := newTestHandler(env, ServerOptions{})

	rr, payload := doRequest(t, h, http.MethodGet, "/api/ready", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", payload["status"])

	require.NoError(t, env.store.Adapter().Close())
	rr, payload = doRequest(t, h, http.MethodGet, "/api/ready", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "not_ready", payload["status"])
}

func TestOptionsShortCircuits(t *testing.T) {
	env := newTestEnv(t, 0)
	rr, _ := doRequest(t, newTestHandler(env, ServerOptions{CORSOrigin: "http://localhost:5173"}), http.MethodOptions, "/api/selections/toggle", "", "")

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestToggleEndpointAcceptsStringIDs(t *testing.T) {
	env := newTestEnv(t, 1)
	h := newTestHandler(env, ServerOptions{})
	body := `{"photo_id":"` + itoa(env.photoIDs[0]) + `","gallery_id":` + itoa(env.galleryID) + `,"client_identifier":"c1"}`

	rr, payload := doRequest(t, h, http.MethodPost, "/api/selections/toggle", body, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, payload["selected"])
	assert.EqualValues(t, 1, payload["totalSelected"])
}

func TestClientMutationValidation(t *testing.T) {
	env := newTestEnv(t, 1)
	h := newTestHandler(env, ServerOptions{})

	tests := []struct {
		name    string
		path    string
		body    string
		message string
	}{
		{"toggle empty body", "/api/selections/toggle", "", "Photo ID, gallery ID, and client identifier required"},
		{"favorite no client", "/api/selections/favorite", `{"photo_id":1,"gallery_id":1}`, "Photo ID, gallery ID, and client identifier required"},
		{"select all no gallery", "/api/selections/select-all", `{"client_identifier":"c1"}`, "Gallery ID and client identifier required"},
		{"deselect all bad json", "/api/selections/deselect-all", `{"gallery_id":`, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, payload := doRequest(t, h, http.MethodPost, tt.path, tt.body, "")
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "VALIDATION_ERROR", payload["code"])
			assert.Equal(t, tt.message, payload["error"])
		})
	}
}

func TestClientReadEndpoints(t *testing.T) {
	env := newTestEnv(t, 2)
	h := newTestHandler(env, ServerOptions{})
	env.selectPhoto(t, 0, "c1")

	rr, payload := doRequest(t, h, http.MethodGet, "/api/selections?gallery_id="+itoa(env.galleryID)+"&client_identifier=c1", "", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 1, payload["count"])

	rr, payload = doRequest(t, h, http.MethodGet, "/api/selections/favorites?gallery_id="+itoa(env.galleryID)+"&client_identifier=c1", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, payload["count"])
}

func TestModerationRequiresAdminToken(t *testing.T) {
	env := newTestEnv(t, 1)
	h := newTestHandler(env, ServerOptions{})
	env.selectPhoto(t, 0, "c1")
	path := "/api/selections/" + itoa(env.selectionIDs(t)[0]) + "/approve"

	rr, payload := doRequest(t, h, http.MethodPut, path, "", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", payload["code"])

	rr, _ = doRequest(t, h, http.MethodPut, path, "", "not-a-token")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, payload = doRequest(t, h, http.MethodPut, path, "", issueTestToken(t, env.adminID, "client"))
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "FORBIDDEN", payload["code"])

	rr, payload = doRequest(t, h, http.MethodPut, path, "", issueTestToken(t, env.otherID, "admin"))
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Selection not found", payload["error"])

	rr, payload = doRequest(t, h, http.MethodPut, path, "", issueTestToken(t, env.adminID, "admin"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Selection approved", payload["message"])

	rr, _ = doRequest(t, h, http.MethodPut, "/api/selections/abc/reject", "", issueTestToken(t, env.adminID, "admin"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBulkAndGallerySelectionEndpoints(t *testing.T) {
	env := newTestEnv(t, 2)
	h := newTestHandler(env, ServerOptions{})
	token := issueTestToken(t, env.adminID, "admin")
	env.selectPhoto(t, 0, "c1")
	env.selectPhoto(t, 1, "c2")
	ids := env.selectionIDs(t)

	rr, payload := doRequest(t, h, http.MethodPost, "/api/selections/bulk-approve", `{"selection_ids":[]}`, token)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Selection IDs array required", payload["error"])

	body := `{"selection_ids":[` + itoa(ids[0]) + `,"` + itoa(ids[1]) + `"]}`
	rr, payload = doRequest(t, h, http.MethodPost, "/api/selections/bulk-approve", body, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "2 selections approved", payload["message"])

	rr, payload = doRequest(t, h, http.MethodGet, "/api/selections/gallery/"+itoa(env.galleryID), "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, payload["total"])
	grouped := payload["grouped_by_client"].(map[string]any)
	assert.Len(t, grouped, 2)
	first := grouped["c1"].([]any)[0].(map[string]any)
	assert.Equal(t, "approved", first["status"])
}

func TestNotificationAndStatsEndpoints(t *testing.T) {
	env := newTestEnv(t, 1)
	h := newTestHandler(env, ServerOptions{})
	token := issueTestToken(t, env.adminID, "admin")
	env.selectPhoto(t, 0, "c1")

	rr, payload := doRequest(t, h, http.MethodGet, "/api/notifications", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, payload["unreadCount"])
	items := payload["notifications"].([]any)
	require.Len(t, items, 1)
	note := items[0].(map[string]any)
	data := note["data"].(map[string]any)
	assert.Equal(t, "c1", data["client_identifier"])

	rr, _ = doRequest(t, h, http.MethodPut, "/api/notifications/read-all", "", token)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, payload = doRequest(t, h, http.MethodGet, "/api/stats", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	stats := payload["stats"].(map[string]any)
	assert.EqualValues(t, 0, stats["unread_notifications"])
	assert.EqualValues(t, 1, stats["pending_selections"])

	rr, payload = doRequest(t, h, http.MethodGet, "/api/galleries/"+itoa(env.galleryID)+"/counts", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, payload["pending"])

	rr, _ = doRequest(t, h, http.MethodPut, "/api/notifications/999/read", "", token)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestClientGalleryEndpointFlags(t *testing.T) {
	env := newTestEnv(t, 1)
	h := newTestHandler(env, ServerOptions{})

	rr, payload := doRequest(t, h, http.MethodGet, "/api/client/gallery/"+env.shareLink+"?client_identifier=c1", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	gallery := payload["gallery"].(map[string]any)
	assert.NotContains(t, gallery, "password")
	assert.NotContains(t, gallery, "admin_id")
	assert.EqualValues(t, 0, payload["selectionCount"])

	rr, payload = doRequest(t, h, http.MethodGet, "/api/client/gallery/nope", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", payload["code"])

	_, err := env.store.Adapter().Run(context.Background(), `UPDATE galleries SET status = ? WHERE id = ?`, "expired", env.galleryID)
	require.NoError(t, err)
	rr, payload = doRequest(t, h, http.MethodGet, "/api/client/gallery/"+env.shareLink, "", "")
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, true, payload["expired"])
	assert.Equal(t, "Gallery has expired", payload["error"])

	rr, payload = doRequest(t, h, http.MethodGet, "/api/galleries/"+itoa(env.galleryID)+"/access-log", "", issueTestToken(t, env.adminID, "admin"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, payload["accessLog"], 1)
}

func TestRateLimitedMutations(t *testing.T) {
	env := newTestEnv(t, 1)
	h := newTestHandler(env, ServerOptions{Limiter: ratelimit.NewMemoryLimiter(1)})
	body := `{"photo_id":` + itoa(env.photoIDs[0]) + `,"gallery_id":` + itoa(env.galleryID) + `,"client_identifier":"c1"}`

	rr, _ := doRequest(t, h, http.MethodPost, "/api/selections/toggle", body, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr, payload := doRequest(t, h, http.MethodPost, "/api/selections/toggle", body, "")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RATE_LIMITED", payload["code"])
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// reads are not limited
	rr, _ = doRequest(t, h, http.MethodGet, "/api/selections?gallery_id="+itoa(env.galleryID)+"&client_identifier=c1", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimiterFailureFailsOpen(t *testing.T) {
	env := newTestEnv(t, 1)
	h := newTestHandler(env, ServerOptions{Limiter: denyLimiter{err: errors.New("redis down")}})
	body := `{"photo_id":` + itoa(env.photoIDs[0]) + `,"gallery_id":` + itoa(env.galleryID) + `,"client_identifier":"c1"}`

	rr, _ := doRequest(t, h, http.MethodPost, "/api/selections/favorite", body, "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpointRecordsRoutes(t *testing.T) {
	env := newTestEnv(t, 0)
	m := metrics.New()
	h := newTestHandler(env, ServerOptions{Metrics: m})

	doRequest(t, h, http.MethodGet, "/api/health", "", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `route="/api/health"`)
}

func TestUnknownRouteIsJSONNotFound(t *testing.T) {
	env := newTestEnv(t, 0)
	rr, payload := doRequest(t, newTestHandler(env, ServerOptions{}), http.MethodGet, "/api/nothing", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", payload["code"])
}

func TestWebSocketReceivesToggleThroughRouter(t *testing.T) {
	env := newTestEnv(t, 1)
	hub := realtime.NewHub(nil, nil)
	defer hub.Close()
	env.service.broadcaster = hub

	server := httptest.NewServer(newTestHandler(env, ServerOptions{WebSocket: http.HandlerFunc(hub.ServeWS)}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?gallery=" + itoa(env.galleryID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Connections(env.galleryID) == 1 }, 2*time.Second, 10*time.Millisecond)

	body := `{"photo_id":` + itoa(env.photoIDs[0]) + `,"gallery_id":` + itoa(env.galleryID) + `,"client_identifier":"c1"}`
	toggle, err := http.Post(server.URL+"/api/selections/toggle", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	_ = toggle.Body.Close()
	require.Equal(t, http.StatusOK, toggle.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event realtime.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, realtime.EventSelection, event.Type)
	assert.Equal(t, realtime.ActionAdd, event.Action)
	assert.Equal(t, env.galleryID, event.GalleryID)
	assert.Equal(t, env.photoIDs[0], event.PhotoID)
	assert.Equal(t, "c1", event.ClientIdentifier)
}
