package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
)

func TestRouterProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	// ops[i] >= 0 subscribes a new handler, ops[i] < 0 unsubscribes the
	// registration at index -ops[i] modulo the number made so far.
	properties.Property("dispatch reaches exactly the live registrations", prop.ForAll(
		func(ops []int) bool {
			r := NewRouter(zerolog.Nop(), nil)

			var unsubs []func()
			calls := make([]int, 0, len(ops))
			live := make(map[int]bool)

			for _, op := range ops {
				if op >= 0 || len(unsubs) == 0 {
					idx := len(unsubs)
					calls = append(calls, 0)
					unsubs = append(unsubs, r.Subscribe("evt", HandlerFunc(func(json.RawMessage) error {
						calls[idx]++
						return nil
					})))
					live[idx] = true
					continue
				}
				idx := (-op) % len(unsubs)
				unsubs[idx]()
				delete(live, idx)
			}

			if r.Dispatch("evt", nil) != len(live) || r.Handlers("evt") != len(live) {
				return false
			}
			for idx, n := range calls {
				if live[idx] != (n == 1) {
					return false
				}
			}
			return (len(live) == 0) == (r.Events() == 0)
		},
		gen.SliceOf(gen.IntRange(-50, 50)),
	))

	properties.Property("stream chunks arrive in order and complete once", prop.ForAll(
		func(chunks []string, extra int) bool {
			r := NewRouter(zerolog.Nop(), nil)
			streams := NewStreamReassembler(r, "")

			var got []string
			completed := 0
			streams.Subscribe("s1", func(c string) { got = append(got, c) }, func() { completed++ })

			send := func(sessionID string, kind StreamKind, content string) {
				payload, _ := json.Marshal(StreamFrame{Type: kind, SessionID: sessionID, Content: content})
				r.Dispatch(DefaultStreamEvent, payload)
			}
			for i, c := range chunks {
				send("s1", StreamChunk, c)
				send("other", StreamChunk, fmt.Sprintf("noise-%d", i))
			}
			for i := 0; i <= extra%3; i++ {
				send("s1", StreamEnd, "")
				send("s1", StreamChunk, "after-end")
			}

			return completed == 1 && strings.Join(got, "\x00") == strings.Join(chunks, "\x00") && len(got) == len(chunks)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
