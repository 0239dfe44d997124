package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
)

// StreamReassembler delivers chunked stream frames to per-session callbacks.
// It assumes an ordered transport: chunks are handed over in arrival order
// and never buffered or reordered.
type StreamReassembler struct {
	router *Router
	event  string
}

// NewStreamReassembler binds a reassembler to the stream event on router.
func NewStreamReassembler(router *Router, event string) *StreamReassembler {
	if event == "" {
		event = DefaultStreamEvent
	}
	return &StreamReassembler{router: router, event: event}
}

// Event returns the event name stream frames arrive on.
func (r *StreamReassembler) Event() string { return r.event }

// Subscribe calls onChunk for each chunk of sessionID and onComplete once for
// the first end frame. Frames for the session after that are ignored, but the
// subscription stays registered until unsubscribe is called.
func (r *StreamReassembler) Subscribe(sessionID string, onChunk func(content string), onComplete func()) (unsubscribe func()) {
	return r.router.Subscribe(r.event, &streamSession{
		sessionID:  sessionID,
		onChunk:    onChunk,
		onComplete: onComplete,
	})
}

// streamSession is the per-subscription state for one session id.
type streamSession struct {
	sessionID  string
	onChunk    func(string)
	onComplete func()

	mu       sync.Mutex
	finished bool
}

func (s *streamSession) HandleEvent(payload json.RawMessage) error {
	var f StreamFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return fmt.Errorf("decode stream frame: %w", err)
	}
	if f.SessionID != s.sessionID {
		return nil
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	if f.Type == StreamEnd {
		s.finished = true
	}
	s.mu.Unlock()

	switch f.Type {
	case StreamChunk:
		if s.onChunk != nil {
			s.onChunk(f.Content)
		}
	case StreamEnd:
		if s.onComplete != nil {
			s.onComplete()
		}
	default:
		return fmt.Errorf("unknown stream frame type %q", f.Type)
	}
	return nil
}
