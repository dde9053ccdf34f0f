package mcp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowgraph/planner/internal/envelope"
	"github.com/flowgraph/planner/internal/errors"
)

// handleRequest handles a JSON-RPC request.
func (s *MCPServer) handleRequest(msg *MCPMessage) *MCPMessage {
	s.logger.Debug("Handling request", map[string]interface{}{
		"method": msg.Method,
		"id":     msg.Id,
	})

	switch msg.Method {
	case "initialize":
		return s.handleInitializeRequest(msg)
	case "ping":
		return NewResultMessage(msg.Id, map[string]interface{}{"pong": true})
	case "tools/list":
		return NewResultMessage(msg.Id, map[string]interface{}{"tools": s.ToolDefinitions()})
	case "tools/call":
		return s.handleCallToolRequest(msg)
	default:
		return NewErrorMessage(msg.Id, MethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method), nil)
	}
}

// handleNotification handles a JSON-RPC notification.
func (s *MCPServer) handleNotification(msg *MCPMessage) {
	switch msg.Method {
	case "initialized", "notifications/initialized":
		s.logger.Info("Client initialized", nil)
	default:
		s.logger.Debug("Unknown notification", map[string]interface{}{
			"method": msg.Method,
		})
	}
}

// handleResponse correlates an inbound response (result/error without a
// method) with the pending server-to-client request that produced it.
func (s *MCPServer) handleResponse(msg *MCPMessage) {
	var id int64
	switch v := msg.Id.(type) {
	case float64:
		id = int64(v)
	case int64:
		id = v
	case int:
		id = int64(v)
	default:
		s.logger.Warn("Received response with non-numeric ID", map[string]interface{}{
			"id": msg.Id,
		})
		return
	}

	if s.sampling.ResolvePendingRequest(id, msg) {
		return
	}

	s.logger.Warn("Received response for unknown request", map[string]interface{}{
		"id": id,
	})
}

// handleInitializeRequest answers initialize with the protocol version,
// server info, and the tools capability, and records whether the client
// supports sampling call-backs.
func (s *MCPServer) handleInitializeRequest(msg *MCPMessage) *MCPMessage {
	params, ok := msg.Params.(map[string]interface{})
	if !ok {
		params = make(map[string]interface{})
	}

	caps := parseClientCapabilities(params)
	s.sampling.SetClientSupported(caps.Sampling != nil)

	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: s.version,
		},
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
	}
	return NewResultMessage(msg.Id, result)
}

// handleCallToolRequest dispatches tools/call to a registered handler. Tool
// results are wrapped in the envelope format and returned as text content;
// a handler error is returned as a JSON-RPC error (invalid params for an
// InvalidParameter error, internal error otherwise).
func (s *MCPServer) handleCallToolRequest(msg *MCPMessage) *MCPMessage {
	params, ok := msg.Params.(map[string]interface{})
	if !ok {
		return NewErrorMessage(msg.Id, InvalidParams, "Invalid params: expected object", nil)
	}

	toolName, ok := params["name"].(string)
	if !ok {
		return NewErrorMessage(msg.Id, InvalidParams, "Invalid params: missing tool name", nil)
	}
	toolParams, ok := params["arguments"].(map[string]interface{})
	if !ok {
		toolParams = make(map[string]interface{})
	}

	s.mu.RLock()
	handler, exists := s.tools[toolName]
	s.mu.RUnlock()
	if !exists {
		return NewErrorMessage(msg.Id, InvalidParams, fmt.Sprintf("Unknown tool: %s", toolName), nil)
	}

	s.logger.Info("Calling tool", map[string]interface{}{
		"tool": toolName,
	})

	result, err := handler(toolParams)
	if err != nil {
		code := InternalError
		if perr, ok := err.(*errors.PlannerError); ok && perr.Code == errors.InvalidParameter {
			code = InvalidParams
		}
		return NewErrorMessage(msg.Id, code, err.Error(), nil)
	}

	resp, ok := result.(*envelope.Response)
	if !ok {
		resp = envelope.Operational(result)
	}

	jsonBytes, err := json.Marshal(resp)
	if err != nil {
		perr := errors.New(errors.InternalError, "failed to marshal tool response", err)
		return NewErrorMessage(msg.Id, InternalError, perr.Error(), nil)
	}

	return NewResultMessage(msg.Id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": string(jsonBytes),
			},
		},
	})
}

// CreateSamplingMessage sends a sampling/createMessage request to the
// client and blocks until the response arrives or the sampling timeout
// elapses. Callers must check SupportsSampling first.
func (s *MCPServer) CreateSamplingMessage(params SamplingRequestParams) (*SamplingResult, error) {
	if !s.sampling.IsClientSupported() {
		return nil, errors.New(errors.PreconditionFailed, "client does not support sampling", nil)
	}

	id := s.sampling.NextRequestID()
	responseCh := s.sampling.RegisterPendingRequest(id)

	s.enqueue(&MCPMessage{
		Jsonrpc: "2.0",
		Id:      id,
		Method:  "sampling/createMessage",
		Params:  params,
	})

	select {
	case msg, ok := <-responseCh:
		if !ok {
			return nil, errors.New(errors.Timeout, "sampling request cancelled", nil)
		}
		if msg.Error != nil {
			return nil, errors.New(errors.OperationFailed, "sampling request failed", msg.Error)
		}
		result := parseSamplingResult(msg.Result)
		if result == nil {
			return nil, errors.New(errors.OperationFailed, "malformed sampling response", nil)
		}
		return result, nil
	case <-time.After(samplingRequestTimeout):
		s.sampling.CancelPendingRequest(id)
		return nil, errors.New(errors.Timeout, "sampling request timed out", nil)
	}
}

// SupportsSampling reports whether the connected client advertised the
// sampling capability during initialize.
func (s *MCPServer) SupportsSampling() bool {
	return s.sampling.IsClientSupported()
}
