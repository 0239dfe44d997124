package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

type ackResult struct {
	payload json.RawMessage
	err     error
}

// pendingRequest is one emit waiting for its acknowledgement.
type pendingRequest struct {
	id      string
	event   string
	payload json.RawMessage
	result  chan ackResult
	once    sync.Once
}

func (p *pendingRequest) resolve(res ackResult) {
	p.once.Do(func() {
		p.result <- res
	})
}

// ackTable correlates acknowledgement frames with pending emits.
type ackTable struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newAckTable() *ackTable {
	return &ackTable{pending: make(map[string]*pendingRequest)}
}

func (a *ackTable) add(event string, payload json.RawMessage) *pendingRequest {
	req := &pendingRequest{
		id:      uuid.NewString(),
		event:   event,
		payload: payload,
		result:  make(chan ackResult, 1),
	}
	a.mu.Lock()
	a.pending[req.id] = req
	a.mu.Unlock()
	return req
}

// resolve delivers an acknowledgement. It reports false for unknown ids,
// which covers late acks for requests that already timed out.
func (a *ackTable) resolve(id string, payload json.RawMessage) bool {
	a.mu.Lock()
	req, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}
	req.resolve(ackResult{payload: payload})
	return true
}

func (a *ackTable) remove(id string) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

// failAll resolves every pending request with err.
func (a *ackTable) failAll(err error) int {
	a.mu.Lock()
	reqs := make([]*pendingRequest, 0, len(a.pending))
	for id, req := range a.pending {
		reqs = append(reqs, req)
		delete(a.pending, id)
	}
	a.mu.Unlock()

	for _, req := range reqs {
		req.resolve(ackResult{err: err})
	}
	return len(reqs)
}

func (a *ackTable) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
