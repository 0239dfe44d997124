package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agent-racer/realtime/internal/config"
)

// Replier produces the full reply for a chat message. The server streams it
// back word by word.
type Replier func(msg ChatMessage) string

// EchoReply answers with a short markdown summary of the message.
func EchoReply(msg ChatMessage) string {
	words := len(strings.Fields(msg.Content))
	return fmt.Sprintf("## Echo\n\nYou said: **%s**\n\n- session: `%s`\n- words: %d\n",
		strings.TrimSpace(msg.Content), msg.SessionID, words)
}

type Server struct {
	config         config.ServerConfig
	broadcaster    *Broadcaster
	reply          Replier
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	log            zerolog.Logger
	done           chan struct{}
	closeOnce      sync.Once
}

func NewServer(cfg config.ServerConfig, broadcaster *Broadcaster, reply Replier, log zerolog.Logger) *Server {
	if reply == nil {
		reply = EchoReply
	}
	s := &Server{
		config:         cfg,
		broadcaster:    broadcaster,
		reply:          reply,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            log.With().Str("component", "server").Logger(),
		done:           make(chan struct{}),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
}

// Handler returns the routes wrapped in the security headers middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade error")
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rejecting client")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	s.log.Info().Str("remote", r.RemoteAddr).Msg("client connected")
	go s.readLoop(c, r.RemoteAddr)
}

func (s *Server) readLoop(c *client, remote string) {
	defer func() {
		s.broadcaster.RemoveClient(c)
		s.log.Info().Str("remote", remote).Msg("client disconnected")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}
		s.handleFrame(c, f)
	}
}

func (s *Server) handleFrame(c *client, f Frame) {
	log := s.log.With().Str("event", f.Event).Str("id", f.ID).Logger()
	log.Debug().Msg("frame received")

	switch f.Event {
	case EventChat:
		var msg ChatMessage
		if err := json.Unmarshal(f.Payload, &msg); err != nil || msg.SessionID == "" {
			s.ack(c, f.ID, ChatAck{OK: false, Error: "chat_message requires sessionId and content"})
			return
		}
		if !s.ack(c, f.ID, ChatAck{OK: true, SessionID: msg.SessionID}) {
			return
		}
		go s.streamReply(c, msg)
	default:
		s.ack(c, f.ID, EchoAck{OK: true, Event: f.Event, Echo: f.Payload})
	}
}

// ack answers a request frame. Frames without an id need no answer.
func (s *Server) ack(c *client, id string, payload any) bool {
	if id == "" {
		return true
	}
	data, err := encodeAck(id, payload)
	if err != nil {
		s.log.Error().Err(err).Msg("ack marshal error")
		return false
	}
	return s.broadcaster.Send(c, data)
}

func (s *Server) streamReply(c *client, msg ChatMessage) {
	words := strings.SplitAfter(s.reply(msg), " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		if !s.sendStream(c, StreamPayload{Type: "chunk", SessionID: msg.SessionID, Content: w}) {
			return
		}
		if s.config.StreamDelay > 0 {
			select {
			case <-time.After(s.config.StreamDelay):
			case <-s.done:
				return
			}
		}
	}
	s.sendStream(c, StreamPayload{Type: "end", SessionID: msg.SessionID})
}

func (s *Server) sendStream(c *client, p StreamPayload) bool {
	data, err := encodeFrame(EventStream, p)
	if err != nil {
		s.log.Error().Err(err).Msg("stream marshal error")
		return false
	}
	return s.broadcaster.Send(c, data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthPayload{Status: "ok", Clients: s.broadcaster.ClientCount()})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.config.Token == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.config.Token {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.config.Token {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}

	host := parsed.Host
	if host == r.Host {
		return true
	}
	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops pending streams and disconnects every client.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.broadcaster.Stop()
}
