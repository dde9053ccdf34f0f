package mcp

import (
	"sync"
	"sync/atomic"
	"time"
)

// samplingRequestTimeout is how long the server waits for a client to answer
// an outbound sampling/createMessage request before failing the waiter.
const samplingRequestTimeout = 5 * time.Minute

// SamplingMessage is a single turn in a sampling/createMessage conversation.
type SamplingMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// SamplingRequestParams is the payload of an outbound sampling/createMessage
// request sent from the server to the client.
type SamplingRequestParams struct {
	Messages         []SamplingMessage `json:"messages"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	MaxTokens        int               `json:"maxTokens,omitempty"`
	ModelPreferences interface{}       `json:"modelPreferences,omitempty"`
}

// SamplingResult is the client's response to a sampling/createMessage request.
type SamplingResult struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
	Model   string      `json:"model,omitempty"`
}

// ClientCapabilities represents capabilities reported by the MCP client.
type ClientCapabilities struct {
	Sampling *SamplingCapability `json:"sampling,omitempty"`
}

// SamplingCapability indicates the client supports sampling/createMessage call-backs.
type SamplingCapability struct{}

// samplingManager demultiplexes outbound sampling/createMessage requests
// against their eventual responses. Requests are keyed by the numeric id the
// server assigned when it sent them; a response is correlated by presence of
// result/error without a method on the inbound message.
type samplingManager struct {
	mu              sync.RWMutex
	clientSupported bool
	requestID       atomic.Int64
	pendingRequests sync.Map // map[int64]chan *MCPMessage
}

func newSamplingManager() *samplingManager {
	return &samplingManager{}
}

// SetClientSupported marks whether the client advertised the sampling capability.
func (sm *samplingManager) SetClientSupported(supported bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.clientSupported = supported
}

// IsClientSupported returns whether the client advertised the sampling capability.
func (sm *samplingManager) IsClientSupported() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.clientSupported
}

// NextRequestID generates a unique id for a server-to-client request.
func (sm *samplingManager) NextRequestID() int64 {
	return sm.requestID.Add(1)
}

// RegisterPendingRequest registers a pending request and returns the channel
// its response (or a timeout-driven close) will arrive on.
func (sm *samplingManager) RegisterPendingRequest(id int64) chan *MCPMessage {
	ch := make(chan *MCPMessage, 1)
	sm.pendingRequests.Store(id, ch)
	return ch
}

// ResolvePendingRequest delivers an inbound response to its waiter.
func (sm *samplingManager) ResolvePendingRequest(id int64, msg *MCPMessage) bool {
	if ch, ok := sm.pendingRequests.LoadAndDelete(id); ok {
		ch.(chan *MCPMessage) <- msg
		return true
	}
	return false
}

// CancelPendingRequest drops a pending request without a response (timeout or shutdown).
func (sm *samplingManager) CancelPendingRequest(id int64) bool {
	if ch, ok := sm.pendingRequests.LoadAndDelete(id); ok {
		close(ch.(chan *MCPMessage))
		return true
	}
	return false
}

// CancelAllPending cancels every outstanding request, used on shutdown.
func (sm *samplingManager) CancelAllPending() {
	sm.pendingRequests.Range(func(key, value any) bool {
		sm.pendingRequests.Delete(key)
		close(value.(chan *MCPMessage))
		return true
	})
}

// parseClientCapabilities extracts client capabilities from initialize params.
func parseClientCapabilities(params map[string]interface{}) *ClientCapabilities {
	caps := &ClientCapabilities{}

	capabilitiesRaw, ok := params["capabilities"].(map[string]interface{})
	if !ok {
		return caps
	}

	if _, ok := capabilitiesRaw["sampling"].(map[string]interface{}); ok {
		caps.Sampling = &SamplingCapability{}
	}

	return caps
}

// parseSamplingResult parses a sampling/createMessage response.
func parseSamplingResult(result interface{}) *SamplingResult {
	resultMap, ok := result.(map[string]interface{})
	if !ok {
		return nil
	}

	sr := &SamplingResult{}
	if role, ok := resultMap["role"].(string); ok {
		sr.Role = role
	}
	if content, ok := resultMap["content"]; ok {
		sr.Content = content
	}
	if model, ok := resultMap["model"].(string); ok {
		sr.Model = model
	}
	return sr
}
