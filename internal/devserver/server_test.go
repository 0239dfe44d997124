package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-racer/realtime/internal/config"
	"github.com/agent-racer/realtime/internal/testutil/testlog"
)

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	b := NewBroadcaster(cfg.MaxConnections, testlog.New(t))
	s := NewServer(cfg, b, nil, testlog.New(t))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestAuthorize(t *testing.T) {
	s := NewServer(config.ServerConfig{Token: "s3cret"}, NewBroadcaster(0, testlog.New(t)), nil, testlog.New(t))

	tests := []struct {
		name   string
		target string
		header map[string]string
		want   bool
	}{
		{"NoCredentials", "/ws", nil, false},
		{"QueryToken", "/ws?token=s3cret", nil, true},
		{"WrongQueryToken", "/ws?token=nope", nil, false},
		{"Bearer", "/ws", map[string]string{"Authorization": "Bearer s3cret"}, true},
		{"WrongBearer", "/ws", map[string]string{"Authorization": "Bearer nope"}, false},
		{"BasicScheme", "/ws", map[string]string{"Authorization": "Basic s3cret"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := s.authorize(req); got != tt.want {
				t.Errorf("authorize = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	open := NewServer(config.ServerConfig{}, NewBroadcaster(0, testlog.New(t)), nil, testlog.New(t))
	restricted := NewServer(config.ServerConfig{AllowedOrigins: []string{"https://chat.example.com"}},
		NewBroadcaster(0, testlog.New(t)), nil, testlog.New(t))

	tests := []struct {
		name   string
		server *Server
		origin string
		want   bool
	}{
		{"NoOrigin", open, "", true},
		{"Localhost", open, "http://localhost:3000", true},
		{"Loopback", open, "http://127.0.0.1:5173", true},
		{"SameHost", open, "http://example.com", true},
		{"Foreign", open, "http://evil.test", false},
		{"Allowed", restricted, "https://chat.example.com", true},
		{"AllowedHostOtherScheme", restricted, "http://chat.example.com", true},
		{"NotAllowed", restricted, "http://localhost:3000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := tt.server.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestHandleWS_Unauthorized(t *testing.T) {
	_, srv := newTestServer(t, config.ServerConfig{Token: "s3cret"})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer s3cret")
	dial(t, srv, header)
}

func TestHandleWS_EchoAck(t *testing.T) {
	_, srv := newTestServer(t, config.ServerConfig{})
	conn := dial(t, srv, nil)

	req := Frame{Event: "greet", Payload: json.RawMessage(`{"name":"x"}`), ID: "req-1"}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}

	f := readFrame(t, conn)
	if f.AckID != "req-1" {
		t.Fatalf("expected ack for req-1, got %+v", f)
	}
	var ack EchoAck
	if err := json.Unmarshal(f.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if !ack.OK || ack.Event != "greet" || string(ack.Echo) != `{"name":"x"}` {
		t.Errorf("unexpected ack %+v", ack)
	}
}

func TestHandleWS_ChatStreams(t *testing.T) {
	_, srv := newTestServer(t, config.ServerConfig{})
	conn := dial(t, srv, nil)

	payload, _ := json.Marshal(ChatMessage{SessionID: "s1", Content: "hello there"})
	if err := conn.WriteJSON(Frame{Event: EventChat, Payload: payload, ID: "req-2"}); err != nil {
		t.Fatal(err)
	}

	f := readFrame(t, conn)
	var ack ChatAck
	if err := json.Unmarshal(f.Payload, &ack); err != nil || f.AckID != "req-2" {
		t.Fatalf("expected chat ack first, got %+v", f)
	}
	if !ack.OK || ack.SessionID != "s1" {
		t.Errorf("unexpected ack %+v", ack)
	}

	var text strings.Builder
	for {
		f := readFrame(t, conn)
		if f.Event != EventStream {
			continue
		}
		var p StreamPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			t.Fatal(err)
		}
		if p.SessionID != "s1" {
			t.Fatalf("unexpected session %q", p.SessionID)
		}
		if p.Type == "end" {
			break
		}
		text.WriteString(p.Content)
	}

	want := EchoReply(ChatMessage{SessionID: "s1", Content: "hello there"})
	if text.String() != want {
		t.Errorf("streamed reply = %q, want %q", text.String(), want)
	}
}

func TestHandleWS_ChatRejectsMissingSession(t *testing.T) {
	_, srv := newTestServer(t, config.ServerConfig{})
	conn := dial(t, srv, nil)

	if err := conn.WriteJSON(Frame{Event: EventChat, Payload: json.RawMessage(`{"content":"hi"}`), ID: "req-3"}); err != nil {
		t.Fatal(err)
	}
	var ack ChatAck
	if err := json.Unmarshal(readFrame(t, conn).Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.OK || ack.Error == "" {
		t.Errorf("expected rejection, got %+v", ack)
	}
}

func TestHandleWS_MaxConnections(t *testing.T) {
	s, srv := newTestServer(t, config.ServerConfig{MaxConnections: 1})
	dial(t, srv, nil)
	waitForClients(t, s.broadcaster, 1)

	conn := dial(t, srv, nil)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Errorf("expected try-again-later close, got %v", err)
	}
}

func TestHealthz(t *testing.T) {
	s, srv := newTestServer(t, config.ServerConfig{})
	dial(t, srv, nil)
	waitForClients(t, s.broadcaster, 1)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var h HealthPayload
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Clients != 1 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestMetricsPublisher(t *testing.T) {
	b := NewBroadcaster(0, testlog.New(t))
	defer b.Stop()

	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	defer clientConn.Close()
	if _, err := b.AddClient(serverConn); err != nil {
		t.Fatal(err)
	}

	var samples atomic.Int32
	sampler := func(context.Context) (MetricsPayload, error) {
		samples.Add(1)
		return MetricsPayload{CPU: 1.5, Mem: 2.5}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewMetricsPublisher(b, sampler, 10*time.Millisecond, testlog.New(t)).Run(ctx)

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := clientConn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	var m MetricsPayload
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		t.Fatal(err)
	}
	if f.Event != EventMetrics || m.CPU != 1.5 || m.Mem != 2.5 {
		t.Errorf("unexpected metrics frame %+v / %+v", f, m)
	}
}

func TestHostSampler(t *testing.T) {
	m, err := HostSampler(context.Background())
	if err != nil {
		t.Skipf("host metrics unavailable: %v", err)
	}
	if m.CPU < 0 || m.CPU > 100 || m.Mem < 0 || m.Mem > 100 {
		t.Errorf("sample out of range: %+v", m)
	}
}
