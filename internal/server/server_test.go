package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/registry"
	"github.com/jamespud/barrage-rush-sub001/internal/storage"
	"github.com/jamespud/barrage-rush-sub001/internal/store"
	"github.com/jamespud/barrage-rush-sub001/internal/ws"
)

type fakePublisher struct {
	published chan *model.DanmakuMessage
	accept    bool
	err       error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(chan *model.DanmakuMessage, 16), accept: true}
}

func (f *fakePublisher) Publish(_ context.Context, msg *model.DanmakuMessage) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.published <- msg
	return f.accept, nil
}

type fakeIDs struct {
	next uint64
}

func (f *fakeIDs) NextID() (uint64, error) {
	f.next++
	return f.next, nil
}

type fakeHistory struct {
	msgs []*model.DanmakuMessage
}

func (f *fakeHistory) Save(context.Context, *model.DanmakuMessage) error { return nil }

func (f *fakeHistory) FindRecentByRoom(context.Context, int64, int) ([]*model.DanmakuMessage, error) {
	return f.msgs, nil
}

func (f *fakeHistory) CountByRoom(context.Context, int64) (int64, error) {
	return int64(len(f.msgs)), nil
}

type testEnv struct {
	server    *Server
	publisher *fakePublisher
	registry  *registry.Registry
	cache     *storage.RecentCache
	history   *fakeHistory
	store     *store.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMemory()
	reg := registry.New(config.SessionConfig{
		HeartbeatTimeout: time.Minute,
		GracePeriod:      2 * time.Minute,
		TTL:              5 * time.Minute,
	}, st, "node-test")
	cache := storage.NewRecentCache(st, config.ConsumerConfig{
		RecentLimit: 100,
		RecentTTL:   5 * time.Minute,
	})
	pub := newFakePublisher()
	history := &fakeHistory{}

	srv := New(config.ServerConfig{Addr: ":0"}, pub, &fakeIDs{}, reg,
		ws.NewManager(reg, nil), cache, history, nil)

	return &testEnv{server: srv, publisher: pub, registry: reg, cache: cache, history: history, store: st}
}

func postJSON(t *testing.T, h http.Handler, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSendEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := postJSON(t, env.server.Handler(), "/api/v1/danmaku/send/7",
		map[string]any{"userId": 3, "content": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	select {
	case msg := <-env.publisher.published:
		if msg.RoomID != 7 || msg.UserID != 3 || msg.Content != "hello" {
			t.Errorf("published %+v, want room 7 user 3 content hello", msg)
		}
		if msg.ID == 0 {
			t.Error("message published without an id")
		}
	default:
		t.Fatal("nothing published")
	}
}

func TestSendRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	tests := []struct {
		name string
		url  string
		body map[string]any
	}{
		{"bad room", "/api/v1/danmaku/send/abc", map[string]any{"userId": 3, "content": "hi"}},
		{"no user", "/api/v1/danmaku/send/7", map[string]any{"content": "hi"}},
		{"no content", "/api/v1/danmaku/send/7", map[string]any{"userId": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h, tt.url, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestSendReportsDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.accept = false

	w := postJSON(t, env.server.Handler(), "/api/v1/danmaku/send/7",
		map[string]any{"userId": 3, "content": "hello"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRecentServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	msg := &model.DanmakuMessage{ID: 1, RoomID: 7, UserID: 3, Content: "cached", Timestamp: 1000}
	if err := env.cache.Add(context.Background(), msg); err != nil {
		t.Fatalf("cache Add() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/danmaku/recent/7", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "cached") {
		t.Errorf("body %s missing cached message", w.Body.String())
	}
}

func TestRecentFallsBackToHistory(t *testing.T) {
	env := newTestEnv(t)
	env.history.msgs = []*model.DanmakuMessage{
		{ID: 9, RoomID: 7, UserID: 3, Content: "from-db", Timestamp: 1000},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/danmaku/recent/7", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "from-db") {
		t.Errorf("body %s missing database message", w.Body.String())
	}
}

func TestOnlineCountEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registry.IncrRoomOnline(ctx, 7)
	env.registry.IncrRoomOnline(ctx, 7)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/7/online", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Data struct {
			Online int64 `json:"online"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Online != 2 {
		t.Errorf("online = %d, want 2", resp.Data.Online)
	}
}

func dialWS(t *testing.T, httpURL, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return conn
}

func TestDataSocketPublishesFrames(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn := dialWS(t, ts.URL, "/ws/danmaku/7?userId=3")
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("first!")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-env.publisher.published:
		if msg.RoomID != 7 || msg.UserID != 3 || msg.Content != "first!" {
			t.Errorf("published %+v, want room 7 user 3 content first!", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the producer")
	}
}

func TestHeartbeatSocketTouchesSession(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	sess := &model.UserSession{UserID: 3, RoomID: 7}
	if err := env.registry.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := env.registry.SetOnline(context.Background(), sess.SessionID, false); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}

	conn := dialWS(t, ts.URL, "/ws/heartbeat/7?sessionId="+sess.SessionID)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(reply) != "pong" {
		t.Errorf("reply = %q, want pong", reply)
	}

	got, err := env.registry.Get(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Online {
		t.Error("session not online after heartbeat")
	}
	if got.HeartbeatSessionID == "" {
		t.Error("heartbeat channel never attached")
	}
}

func TestHeartbeatFirstConnectCreatesSession(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn := dialWS(t, ts.URL, "/ws/heartbeat/7?userId=3")
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read: %v", err)
	}

	keys, err := env.store.Keys(context.Background(), "session:*")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("found %d session records, want 1", len(keys))
	}
	sess, err := env.registry.Get(context.Background(), strings.TrimPrefix(keys[0], "session:"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.UserID != 3 || sess.RoomID != 7 {
		t.Errorf("session = %+v, want user 3 in room 7", sess)
	}
	if sess.HeartbeatSessionID == "" {
		t.Error("heartbeat channel never attached")
	}
	if sess.DataSessionID != "" {
		t.Errorf("data channel = %q before any data connect, want empty", sess.DataSessionID)
	}
}

func TestHeartbeatSocketRejectsUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/heartbeat/7?sessionId=ghost"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("handshake status = %v, want 400", resp)
	}
}
