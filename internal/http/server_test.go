package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/connection"
	"github.com/nextlevelbuilder/wagate/internal/pairing"
	"github.com/nextlevelbuilder/wagate/internal/whatsapp"
)

const testToken = "test-secret"

type fakeClient struct {
	mu sync.Mutex

	ready    bool
	sendErr  error
	chat     whatsapp.Chat
	chatErr  error
	messages []whatsapp.Message
	fetchErr error

	sentTo    string
	sentBody  string
	chatAsked string
	calls     []string
	initDone  chan struct{}
	initErr   error
	onInit    func()
}

func newFakeClient() *fakeClient {
	return &fakeClient{initDone: make(chan struct{}, 4)}
}

func (f *fakeClient) Initialize(context.Context) error {
	f.mu.Lock()
	f.calls = append(f.calls, "initialize")
	hook, err := f.onInit, f.initErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.initDone <- struct{}{}
	return err
}

func (f *fakeClient) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "logout")
	return errors.New("logout exploded")
}

func (f *fakeClient) Info() (whatsapp.Info, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return whatsapp.Info{}, false
	}
	return whatsapp.Info{ID: "1000@c.us"}, true
}

func (f *fakeClient) SendMessage(_ context.Context, to, body string) (whatsapp.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTo, f.sentBody = to, body
	if f.sendErr != nil {
		return whatsapp.SentMessage{}, f.sendErr
	}
	return whatsapp.SentMessage{ID: "3EB0ABC", Timestamp: time.Unix(1700000000, 0)}, nil
}

func (f *fakeClient) GetChatByID(_ context.Context, id string) (whatsapp.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatAsked = id
	return f.chat, f.chatErr
}

func (f *fakeClient) FetchMessages(_ context.Context, _ whatsapp.Chat, limit int) ([]whatsapp.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.messages) > limit {
		return f.messages[len(f.messages)-limit:], nil
	}
	return f.messages, nil
}

func (f *fakeClient) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type failingRenderer struct{}

func (failingRenderer) DataURL(string) (string, error) {
	return "", errors.New("data too long")
}

type testEnv struct {
	server  *Server
	handler http.Handler
	client  *fakeClient
	tracker *connection.Tracker
	bus     *bus.MessageBus
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	mb := bus.New()
	tracker := connection.NewTracker()
	tracker.Attach(mb)
	client := newFakeClient()

	opts := Options{
		Gateway: config.GatewayConfig{
			Token:        testToken,
			DownloadsDir: t.TempDir(),
			MaxBodyBytes: 1 << 20,
		},
		ChatLimit: 50,
		Client:    client,
		Tracker:   tracker,
		Renderer:  pairing.NewRenderer(64),
		Bus:       mb,
	}
	if mutate != nil {
		mutate(&opts)
	}

	s := NewServer(opts)
	return &testEnv{server: s, handler: s.Handler(), client: client, tracker: tracker, bus: mb}
}

func (e *testEnv) do(method, path, body string, auth string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) authed(method, path, body string) *httptest.ResponseRecorder {
	return e.do(method, path, body, "Bearer "+testToken)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

var protectedRoutes = []struct{ method, path string }{
	{http.MethodGet, "/connection"},
	{http.MethodPost, "/connection/restart"},
	{http.MethodPost, "/send-message"},
	{http.MethodGet, "/chat/5551"},
	{http.MethodGet, "/events"},
}

func TestAuth_MissingToken(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, rt := range protectedRoutes {
		for _, header := range []string{"", "   ", "Bearer", "Bearer ", "Basic"} {
			rec := env.do(rt.method, rt.path, "", header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s with %q", rt.method, rt.path, header)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, "Authentication token is required", body["message"])
		}
	}
	assert.Empty(t, env.client.callLog(), "no collaborator call without auth")
}

func TestAuth_WrongToken(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, rt := range protectedRoutes {
		rec := env.do(rt.method, rt.path, "", "Bearer nope")
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", rt.method, rt.path)
		assert.Equal(t, "Invalid or expired token", decode(t, rec)["message"])
	}
}

func TestAuth_WrongSchemeIsForbidden(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, header := range []string{"Token wrong", "Basic " + testToken, "Token " + testToken} {
		rec := env.do(http.MethodGet, "/connection", "", header)
		assert.Equal(t, http.StatusForbidden, rec.Code, "header %q", header)
		assert.Equal(t, "Invalid or expired token", decode(t, rec)["message"])
	}
}

func TestAuth_SchemeIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, header := range []string{"bearer " + testToken, "BEARER " + testToken, "Bearer   " + testToken} {
		rec := env.do(http.MethodGet, "/connection", "", header)
		assert.Equal(t, http.StatusOK, rec.Code, "header %q", header)
	}
}

func TestAuth_UnconfiguredTokenRejectsAll(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Gateway.Token = "" })

	rec := env.do(http.MethodGet, "/connection", "", "Bearer anything")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSetToken_TakesEffect(t *testing.T) {
	env := newTestEnv(t, nil)

	env.server.SetToken("rotated")
	assert.Equal(t, http.StatusForbidden, env.authed(http.MethodGet, "/connection", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/connection", "", "Bearer rotated").Code)
}

func TestHealth_NoAuthAnyStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	steps := []func(){
		func() {},
		func() { env.tracker.OnQR("2@x") },
		func() { env.tracker.MarkInitializing() },
		func() { env.tracker.OnReady(); env.client.ready = true },
		func() { env.tracker.OnDisconnected("gone") },
	}
	for _, step := range steps {
		step()
		rec := env.do(http.MethodGet, "/health", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, string(env.tracker.Status()), body["connectionStatus"])
	}
}

func TestHealth_ClientReady(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, false, decode(t, env.do(http.MethodGet, "/health", "", ""))["clientReady"])

	env.client.ready = true
	assert.Equal(t, true, decode(t, env.do(http.MethodGet, "/health", "", ""))["clientReady"])
}

func TestConnection_NoQR(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.authed(http.MethodGet, "/connection", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "disconnected", body["connectionStatus"])
	v, present := body["qrCode"]
	assert.True(t, present, "qrCode key is always present")
	assert.Nil(t, v)
	ts, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestConnection_WithQR(t *testing.T) {
	env := newTestEnv(t, nil)
	env.bus.Publish(bus.EventQRIssued, bus.QRPayload{Code: "2@pairing-payload"})

	body := decode(t, env.authed(http.MethodGet, "/connection", ""))
	assert.Equal(t, "require_qr_scan", body["connectionStatus"])
	qr, ok := body["qrCode"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))

	env.bus.Publish(bus.EventReady, nil)
	body = decode(t, env.authed(http.MethodGet, "/connection", ""))
	assert.Equal(t, "connected", body["connectionStatus"])
	assert.Nil(t, body["qrCode"])
}

func TestConnection_RenderFailure(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Renderer = failingRenderer{} })
	env.tracker.OnQR("2@bad")

	rec := env.authed(http.MethodGet, "/connection", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Failed to generate QR code", body["message"])
	assert.Equal(t, "data too long", body["error"])
	assert.Equal(t, "require_qr_scan", body["connectionStatus"])
}

func waitInit(t *testing.T, c *fakeClient) {
	t.Helper()
	select {
	case <-c.initDone:
	case <-time.After(2 * time.Second):
		t.Fatal("initialize not called")
	}
}

func TestRestart_NotConnected(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.authed(http.MethodPost, "/connection/restart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Connection restart initiated", body["message"])
	assert.Equal(t, "initializing", body["connectionStatus"])

	waitInit(t, env.client)
	assert.Equal(t, []string{"initialize"}, env.client.callLog())
}

func TestRestart_ConnectedLogsOutFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	env.tracker.OnReady()

	rec := env.authed(http.MethodPost, "/connection/restart", "")
	require.Equal(t, http.StatusOK, rec.Code, "logout failure is not surfaced")

	waitInit(t, env.client)
	assert.Equal(t, []string{"logout", "initialize"}, env.client.callLog())
}

func TestRestart_ReportsInitializingDespiteFastEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.initDone = make(chan struct{}, 32)
	env.client.onInit = func() {
		env.bus.Publish(bus.EventQRIssued, bus.QRPayload{Code: "2@fast"})
	}

	for i := 0; i < 20; i++ {
		rec := env.authed(http.MethodPost, "/connection/restart", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "initializing", decode(t, rec)["connectionStatus"], "attempt %d", i)
		waitInit(t, env.client)
	}
	assert.Equal(t, connection.StatusRequireQRScan, env.tracker.Status())
}

func TestRestart_InitializeFailureDisconnects(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.initErr = errors.New("session store locked")

	rec := env.authed(http.MethodPost, "/connection/restart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	waitInit(t, env.client)

	require.Eventually(t, func() bool {
		return env.tracker.Status() == connection.StatusDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendMessage_MissingParams(t *testing.T) {
	env := newTestEnv(t, nil)

	bodies := []string{
		"",
		`{}`,
		`{"to":"5551"}`,
		`{"message":"hi"}`,
		`{"to":"","message":"hi"}`,
		`{"to":"5551","message":""}`,
	}
	for _, b := range bodies {
		rec := env.authed(http.MethodPost, "/send-message", b)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", b)
		assert.Equal(t, msgMissingSendParams, decode(t, rec)["message"])
	}
}

func TestSendMessage_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.authed(http.MethodPost, "/send-message", `{"to":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_Success(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.authed(http.MethodPost, "/send-message", `{"to":"5551","message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "3EB0ABC", body["messageId"])
	assert.Equal(t, "5551@c.us", env.client.sentTo)
	assert.Equal(t, "hello", env.client.sentBody)
}

func TestSendMessage_NumericRecipient(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.authed(http.MethodPost, "/send-message", `{"to":5551,"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5551@c.us", env.client.sentTo)
}

func TestSendMessage_AlreadySuffixed(t *testing.T) {
	env := newTestEnv(t, nil)

	env.authed(http.MethodPost, "/send-message", `{"to":"5551@c.us","message":"x"}`)
	assert.Equal(t, "5551@c.us", env.client.sentTo)
}

func TestSendMessage_Failure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.sendErr = whatsapp.ErrNotReady

	rec := env.authed(http.MethodPost, "/send-message", `{"to":"5551","message":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Failed to send message", body["message"])
	assert.Equal(t, whatsapp.ErrNotReady.Error(), body["error"])
}

func TestChat_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.chat = whatsapp.Chat{ID: "5551@c.us", User: "5551", Name: "Alice"}
	env.client.messages = []whatsapp.Message{
		{ID: "a", Chat: "5551@c.us", From: "5551@c.us", Body: "hi", Timestamp: 10},
		{ID: "b", Chat: "5551@c.us", From: "1000@c.us", Body: "hey", Timestamp: 11, FromMe: true},
	}

	rec := env.authed(http.MethodGet, "/chat/5551", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5551@c.us", env.client.chatAsked)

	var body struct {
		Success  bool   `json:"success"`
		Contact  string `json:"contact"`
		Messages []struct {
			From      string `json:"from"`
			Body      string `json:"body"`
			Timestamp int64  `json:"timestamp"`
			FromMe    bool   `json:"fromMe"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Alice", body.Contact)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "hey", body.Messages[1].Body)
	assert.True(t, body.Messages[1].FromMe)
	assert.Equal(t, int64(10), body.Messages[0].Timestamp)
	assert.NotContains(t, rec.Body.String(), `"id"`)
}

func TestChat_LimitsHistory(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.ChatLimit = 2 })
	env.client.chat = whatsapp.Chat{ID: "5551@c.us", User: "5551"}
	env.client.messages = []whatsapp.Message{{Body: "1"}, {Body: "2"}, {Body: "3"}}

	body := decode(t, env.authed(http.MethodGet, "/chat/5551@c.us", ""))
	assert.Equal(t, "5551", body["contact"])
	assert.Len(t, body["messages"], 2)
}

func TestChat_EmptyHistoryIsArray(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.chat = whatsapp.Chat{ID: "5551@c.us", User: "5551"}

	rec := env.authed(http.MethodGet, "/chat/5551", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages":[]`)
}

func TestChat_Failure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.chatErr = whatsapp.ErrChatNotFound

	rec := env.authed(http.MethodGet, "/chat/404", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Failed to fetch chat", body["message"])
	assert.Equal(t, "chat not found", body["error"])

	env.client.chatErr = nil
	env.client.fetchErr = errors.New("db locked")
	rec = env.authed(http.MethodGet, "/chat/404", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "db locked", decode(t, rec)["error"])
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, corsAllowHeaders, rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = env.do(http.MethodOptions, "/send-message", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(http.MethodGet, "/connection", "", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), "errors carry CORS too")
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", "", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
}

func TestQRPage(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/qr", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `content="5"`)

	env.tracker.OnQR("2@page")
	rec = env.do(http.MethodGet, "/qr", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data:image/png;base64,")
	assert.Contains(t, rec.Body.String(), `content="60"`)
}

func TestQRPage_RenderFailure(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Renderer = failingRenderer{} })
	env.tracker.OnQR("2@bad")

	rec := env.do(http.MethodGet, "/qr", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDownloads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("hello file"), 0o644))
	env := newTestEnv(t, func(o *Options) { o.Gateway.DownloadsDir = dir })

	rec := env.do(http.MethodGet, "/downloads/report.txt", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello file", rec.Body.String())

	rec = env.do(http.MethodGet, "/downloads/missing.txt", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Gateway.RateLimitRPM = 1
		o.Gateway.RateLimitBurst = 2
	})

	assert.Equal(t, http.StatusOK, env.authed(http.MethodGet, "/connection", "").Code)
	assert.Equal(t, http.StatusOK, env.authed(http.MethodGet, "/connection", "").Code)
	rec := env.authed(http.MethodGet, "/connection", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests", decode(t, rec)["message"])
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "", "").Code, "health is not limited")
}

func TestEvents_StreamsBusEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, eventStatus, first["event"])

	require.Eventually(t, func() bool { return env.bus.SubscriberCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	env.bus.Publish(bus.EventQRIssued, bus.QRPayload{Code: "2@ws"})

	var next struct {
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, bus.EventQRIssued, next.Event)
	assert.Equal(t, "2@ws", next.Payload["code"])
}

func TestEvents_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
