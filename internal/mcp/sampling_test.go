package mcp

import (
	"testing"
)

func TestSamplingManager(t *testing.T) {
	t.Run("new manager has client unsupported", func(t *testing.T) {
		sm := newSamplingManager()
		if sm.IsClientSupported() {
			t.Error("expected client not supported by default")
		}
	})

	t.Run("set and get client supported", func(t *testing.T) {
		sm := newSamplingManager()
		sm.SetClientSupported(true)
		if !sm.IsClientSupported() {
			t.Error("expected client supported to be true")
		}
		sm.SetClientSupported(false)
		if sm.IsClientSupported() {
			t.Error("expected client supported to be false")
		}
	})
}

func TestSamplingManagerPendingRequests(t *testing.T) {
	t.Run("request ID generation", func(t *testing.T) {
		sm := newSamplingManager()
		id1 := sm.NextRequestID()
		id2 := sm.NextRequestID()
		id3 := sm.NextRequestID()

		if id1 != 1 || id2 != 2 || id3 != 3 {
			t.Errorf("expected IDs 1,2,3, got %d,%d,%d", id1, id2, id3)
		}
	})

	t.Run("register and resolve pending request", func(t *testing.T) {
		sm := newSamplingManager()
		id := sm.NextRequestID()
		ch := sm.RegisterPendingRequest(id)

		response := &MCPMessage{
			Jsonrpc: "2.0",
			Id:      id,
			Result:  map[string]interface{}{"role": "assistant", "content": "ok"},
		}

		go func() {
			sm.ResolvePendingRequest(id, response)
		}()

		got := <-ch
		if got.Result == nil {
			t.Error("expected result in response")
		}
	})

	t.Run("resolve unknown request returns false", func(t *testing.T) {
		sm := newSamplingManager()
		response := &MCPMessage{Jsonrpc: "2.0", Id: int64(999)}
		if sm.ResolvePendingRequest(999, response) {
			t.Error("expected ResolvePendingRequest to return false for unknown ID")
		}
	})

	t.Run("cancel pending request closes channel", func(t *testing.T) {
		sm := newSamplingManager()
		id := sm.NextRequestID()
		ch := sm.RegisterPendingRequest(id)

		if !sm.CancelPendingRequest(id) {
			t.Error("expected cancel to succeed for known ID")
		}

		if _, ok := <-ch; ok {
			t.Error("expected channel to be closed")
		}
	})

	t.Run("cancel all pending", func(t *testing.T) {
		sm := newSamplingManager()
		ch1 := sm.RegisterPendingRequest(sm.NextRequestID())
		ch2 := sm.RegisterPendingRequest(sm.NextRequestID())

		sm.CancelAllPending()

		if _, ok := <-ch1; ok {
			t.Error("expected ch1 closed")
		}
		if _, ok := <-ch2; ok {
			t.Error("expected ch2 closed")
		}
	})
}

func TestParseClientCapabilities(t *testing.T) {
	t.Run("no capabilities", func(t *testing.T) {
		params := map[string]interface{}{}
		caps := parseClientCapabilities(params)
		if caps.Sampling != nil {
			t.Error("expected nil Sampling capability")
		}
	})

	t.Run("empty capabilities", func(t *testing.T) {
		params := map[string]interface{}{
			"capabilities": map[string]interface{}{},
		}
		caps := parseClientCapabilities(params)
		if caps.Sampling != nil {
			t.Error("expected nil Sampling capability")
		}
	})

	t.Run("sampling capability present", func(t *testing.T) {
		params := map[string]interface{}{
			"capabilities": map[string]interface{}{
				"sampling": map[string]interface{}{},
			},
		}
		caps := parseClientCapabilities(params)
		if caps.Sampling == nil {
			t.Fatal("expected Sampling capability to be set")
		}
	})
}

func TestParseSamplingResult(t *testing.T) {
	t.Run("valid result", func(t *testing.T) {
		result := map[string]interface{}{
			"role":    "assistant",
			"content": "hello",
			"model":   "test-model",
		}
		sr := parseSamplingResult(result)
		if sr == nil {
			t.Fatal("expected non-nil result")
		}
		if sr.Role != "assistant" || sr.Model != "test-model" {
			t.Errorf("unexpected result: %+v", sr)
		}
	})

	t.Run("nil result", func(t *testing.T) {
		sr := parseSamplingResult(nil)
		if sr != nil {
			t.Errorf("expected nil, got %v", sr)
		}
	})

	t.Run("invalid type", func(t *testing.T) {
		sr := parseSamplingResult("not a map")
		if sr != nil {
			t.Errorf("expected nil, got %v", sr)
		}
	})
}
