package router

import (
	"context"
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
	"go.uber.org/zap"

	"github.com/ghostzpy/truco-server/internal/account"
	"github.com/ghostzpy/truco-server/internal/chat"
	"github.com/ghostzpy/truco-server/internal/leaderboard"
	"github.com/ghostzpy/truco-server/internal/leaderboard/repo"
	"github.com/ghostzpy/truco-server/internal/notification"
	"github.com/ghostzpy/truco-server/internal/session"
)

type staticBoard struct{}

func (staticBoard) Top(context.Context, int) ([]repo.Row, error) {
	return []repo.Row{{Username: "ana", Name: "Ana", Points: 300}}, nil
}

func newTestRouter(t *testing.T, ready func(*http.Request) error) http.Handler {
	t.Helper()
	logger := zap.NewNop().Sugar()
	sessions, err := session.NewService(session.Config{Secret: "router-secret", Issuer: "truco-test", TTL: time.Hour})
	require.NoError(t, err)

	hub := chat.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	accounts := account.NewService(nil, sessions, nil, logger, account.Config{})
	return New(Deps{
		Logger:        logger,
		Accounts:      account.NewHandler(accounts, sessions, logger),
		Notifications: notification.NewHandler(notification.NewService(nil), logger),
		Leaderboard:   leaderboard.NewHandler(leaderboard.NewService(staticBoard{}, nil, leaderboard.Config{}, logger), logger),
		Chat:          chat.NewHandler(hub, nil),
		Auth:          sessions.Middleware,
		CORSOrigins:   []string{"https://truco.example"},
		Ready:         ready,
	})
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestPublicEndpoints(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := get(h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Truco Arena")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	assert.Equal(t, http.StatusOK, get(h, "/health").Code)

	rec = get(h, "/leaderboard?limit=1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rank":1`)

	rec = get(h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "truco_http_requests_total")
}

func TestHealthReportsUnavailable(t *testing.T) {
	h := newTestRouter(t, func(*http.Request) error { return errors.New("db down") })
	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/health").Code)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	h := newTestRouter(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/user/123"},
		{http.MethodGet, "/user/email/ana@x.com"},
		{http.MethodGet, "/notifications"},
		{http.MethodPost, "/auth/change-password"},
		{http.MethodPatch, "/admin/123/balance"},
		{http.MethodPost, "/admin/notifications"},
		{http.MethodDelete, "/admin/notifications/abc"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}")))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
		assert.JSONEq(t, `{"msg":"access denied"}`, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://truco.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://truco.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestChatUpgradeThroughMiddleware(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": chat.EventSend, "data": "oi"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env chat.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, chat.EventReceive, env.Event)
}

func TestLoggingWriterCapturesStatus(t *testing.T) {
	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder()}
	lrw.WriteHeader(http.StatusTeapot)
	n, err := lrw.Write([]byte("short and stout"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, lrw.status)
	assert.Equal(t, n, lrw.size)
}
