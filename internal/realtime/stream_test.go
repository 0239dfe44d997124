package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agent-racer/realtime/internal/testutil/testlog"
)

func streamPayload(t *testing.T, kind StreamKind, sessionID, content string) string {
	t.Helper()
	b, err := json.Marshal(StreamFrame{Type: kind, SessionID: sessionID, Content: content})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestStreamReassembler_FiltersBySession(t *testing.T) {
	r := NewRouter(testlog.New(t), nil)
	streams := NewStreamReassembler(r, "")

	var chunks []string
	var completed int
	streams.Subscribe("s1", func(c string) { chunks = append(chunks, c) }, func() { completed++ })

	frames := []struct {
		kind      StreamKind
		sessionID string
		content   string
	}{
		{StreamChunk, "s1", "He"},
		{StreamChunk, "s2", "X"},
		{StreamChunk, "s1", "llo"},
		{StreamEnd, "s1", ""},
		{StreamChunk, "s1", "late"},
		{StreamEnd, "s1", ""},
	}
	for _, f := range frames {
		r.Dispatch(DefaultStreamEvent, json.RawMessage(streamPayload(t, f.kind, f.sessionID, f.content)))
	}

	if got := strings.Join(chunks, ""); got != "Hello" {
		t.Errorf("expected chunks Hello, got %q (%v)", got, chunks)
	}
	if completed != 1 {
		t.Errorf("expected 1 completion, got %d", completed)
	}
	// The subscription stays registered after end.
	if n := r.Handlers(DefaultStreamEvent); n != 1 {
		t.Errorf("expected subscription kept, got %d", n)
	}
}

func TestStreamReassembler_IndependentSessions(t *testing.T) {
	r := NewRouter(testlog.New(t), nil)
	streams := NewStreamReassembler(r, "custom_stream")

	var a, b strings.Builder
	unsubA := streams.Subscribe("a", func(c string) { a.WriteString(c) }, nil)
	streams.Subscribe("b", func(c string) { b.WriteString(c) }, nil)

	r.Dispatch("custom_stream", json.RawMessage(streamPayload(t, StreamChunk, "a", "1")))
	r.Dispatch("custom_stream", json.RawMessage(streamPayload(t, StreamChunk, "b", "2")))
	unsubA()
	r.Dispatch("custom_stream", json.RawMessage(streamPayload(t, StreamChunk, "a", "3")))
	r.Dispatch(DefaultStreamEvent, json.RawMessage(streamPayload(t, StreamChunk, "b", "ignored")))

	if a.String() != "1" || b.String() != "2" {
		t.Errorf("expected a=1 b=2, got a=%q b=%q", a.String(), b.String())
	}
}

func TestStreamReassembler_BadFrames(t *testing.T) {
	var reported atomic.Int32
	r := NewRouter(testlog.New(t), func(*HandlerError) { reported.Add(1) })
	streams := NewStreamReassembler(r, "")

	var chunks int
	streams.Subscribe("s1", func(string) { chunks++ }, nil)

	r.Dispatch(DefaultStreamEvent, json.RawMessage(`not json`))
	r.Dispatch(DefaultStreamEvent, json.RawMessage(`{"type":"bogus","sessionId":"s1"}`))
	r.Dispatch(DefaultStreamEvent, json.RawMessage(streamPayload(t, StreamChunk, "s1", "ok")))

	if reported.Load() != 2 {
		t.Errorf("expected 2 reported failures, got %d", reported.Load())
	}
	if chunks != 1 {
		t.Errorf("expected stream to keep working after bad frames, got %d chunks", chunks)
	}
}

func TestClient_SubscribeToStream(t *testing.T) {
	net := &fakeNetwork{}
	c := newTestClient(t, net, testConfig())

	var text strings.Builder
	done := make(chan struct{})
	c.SubscribeToStream("s1", func(chunk string) { text.WriteString(chunk) }, func() { close(done) })

	waitFor(t, "auto connect", func() bool { return c.State() == StateConnected })
	tr := net.current()
	tr.deliver(c.StreamEvent(), streamPayload(t, StreamChunk, "s1", "He"))
	tr.deliver(c.StreamEvent(), streamPayload(t, StreamChunk, "s2", "X"))
	tr.deliver(c.StreamEvent(), streamPayload(t, StreamChunk, "s1", "llo"))
	tr.deliver(c.StreamEvent(), streamPayload(t, StreamEnd, "s1", ""))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not complete")
	}
	if text.String() != "Hello" {
		t.Errorf("expected Hello, got %q", text.String())
	}
}

func TestEmitError_Unwrap(t *testing.T) {
	cause := &ConnectError{Endpoint: "ws://x", StatusCode: 401, Err: errors.New("bad handshake")}
	err := &EmitError{Event: "greet", Kind: EmitConnectFailed, Err: cause}

	var cerr *ConnectError
	if !errors.As(err, &cerr) || cerr.StatusCode != 401 {
		t.Fatalf("expected wrapped ConnectError, got %v", err)
	}
	for _, want := range []string{"greet", "connect", "401"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err.Error())
		}
	}
}
