package status

import (
	"strings"
	"testing"
)

func TestViewState(t *testing.T) {
	m := New("ws://127.0.0.1:8080/ws")
	m.Width = 100

	v := m.View()
	if !strings.Contains(v, "idle") {
		t.Error("view should show the idle state")
	}
	if !strings.Contains(v, "cpu --") {
		t.Error("view should show placeholder metrics before the first sample")
	}

	m.State = "reconnecting"
	if !strings.Contains(m.View(), "reconnecting") {
		t.Error("view should show the reconnecting state")
	}
}

func TestSetMetrics(t *testing.T) {
	m := New("")
	m.Width = 100
	m.SetMetrics(12.34, 56.78)

	v := m.View()
	if !strings.Contains(v, "cpu 12.3%") || !strings.Contains(v, "mem 56.8%") {
		t.Errorf("view should show formatted metrics, got %q", v)
	}
}
