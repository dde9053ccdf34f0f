package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/flowgraph/planner/internal/graph"
	"github.com/flowgraph/planner/internal/hybridsearch"
	"github.com/flowgraph/planner/internal/learningloop"
	"github.com/flowgraph/planner/internal/logging"
	"github.com/flowgraph/planner/internal/predictor"
	"github.com/flowgraph/planner/internal/suggester"
)

// stubEngine satisfies Engine with canned responses.
type stubEngine struct {
	dag         *suggester.SuggestedDAG
	predictions []predictor.PredictedNode
	recorded    []learningloop.CompletedDAG
}

func (s *stubEngine) Suggest(ctx context.Context, intent string, contextTools []string) (*suggester.SuggestedDAG, error) {
	return s.dag, nil
}

func (s *stubEngine) PredictNext(state predictor.WorkflowState) []predictor.PredictedNode {
	return s.predictions
}

func (s *stubEngine) HybridSearch(ctx context.Context, query string, contextTools []string, limit int) []hybridsearch.Result {
	return nil
}

func (s *stubEngine) RecordExecution(dag learningloop.CompletedDAG, toolIDs []string, durationMs int64) {
	s.recorded = append(s.recorded, dag)
}

func (s *stubEngine) RecordCodeExecution(traces []learningloop.Trace) {}

func (s *stubEngine) RecordCapabilityOutcome(capabilityID string, success bool) error { return nil }

func (s *stubEngine) RegisterTool(ctx context.Context, toolID, serverID, name, description string) error {
	return nil
}

func (s *stubEngine) AddUserEdge(from, to string, typ graph.EdgeType) error { return nil }

func (s *stubEngine) CreateCapability(name string, toolsUsed []string, successRate float64, snippet string) (string, error) {
	return "capability:test", nil
}

func (s *stubEngine) Sync() error { return nil }

func (s *stubEngine) Stats() map[string]interface{} {
	return map[string]interface{}{"nodes": 0}
}

func runSession(t *testing.T, engine Engine, requests ...string) map[float64]*MCPMessage {
	t.Helper()

	server := NewMCPServer("test", logging.NewLogger(logging.Config{Level: logging.ErrorLevel}), 0)
	if engine != nil {
		RegisterPlannerTools(server, engine)
	}

	var out bytes.Buffer
	server.SetStdin(strings.NewReader(strings.Join(requests, "\n") + "\n"))
	server.SetStdout(&out)

	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	responses := make(map[float64]*MCPMessage)
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var msg MCPMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("Malformed response line %q: %v", line, err)
		}
		if id, ok := msg.Id.(float64); ok {
			responses[id] = &msg
		}
	}
	return responses
}

func TestServerInitializeAndPing(t *testing.T) {
	responses := runSession(t, nil,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"capabilities":{}}}`,
		`{"jsonrpc":"2.0","method":"initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)

	init, ok := responses[1]
	if !ok {
		t.Fatal("Missing initialize response")
	}
	result, ok := init.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Unexpected initialize result: %v", init.Result)
	}
	if result["protocolVersion"] != ProtocolVersion {
		t.Errorf("Expected protocol version %s, got %v", ProtocolVersion, result["protocolVersion"])
	}
	info, _ := result["serverInfo"].(map[string]interface{})
	if info["name"] != ServerName {
		t.Errorf("Expected server name %s, got %v", ServerName, info["name"])
	}

	pong, ok := responses[2]
	if !ok {
		t.Fatal("Missing ping response")
	}
	pongResult, _ := pong.Result.(map[string]interface{})
	if pongResult["pong"] != true {
		t.Errorf("Expected pong:true, got %v", pong.Result)
	}
}

func TestServerToolsList(t *testing.T) {
	responses := runSession(t, &stubEngine{},
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
	)

	resp, ok := responses[1]
	if !ok {
		t.Fatal("Missing tools/list response")
	}
	result, _ := resp.Result.(map[string]interface{})
	tools, _ := result["tools"].([]interface{})
	if len(tools) == 0 {
		t.Fatal("Expected registered tools")
	}

	names := map[string]bool{}
	for _, raw := range tools {
		tool, _ := raw.(map[string]interface{})
		names[tool["name"].(string)] = true
		if tool["inputSchema"] == nil {
			t.Errorf("Tool %v missing inputSchema", tool["name"])
		}
	}
	for _, want := range []string{"suggest_dag", "predict_next", "record_execution", "sync_graph"} {
		if !names[want] {
			t.Errorf("Expected tool %s in tools/list", want)
		}
	}
}

func TestServerCallSuggestDAG(t *testing.T) {
	engine := &stubEngine{
		dag: &suggester.SuggestedDAG{
			Tasks: []suggester.Task{
				{ID: 0, Type: suggester.TaskTool, ToolID: "fs:read_file"},
				{ID: 1, Type: suggester.TaskTool, ToolID: "json:parse", Dependencies: []int{0}},
			},
			Confidence: 0.82,
			Rationale:  "fs:read_file ranked first",
		},
	}
	responses := runSession(t, engine,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"suggest_dag","arguments":{"intent":"read file and parse json"}}}`,
	)

	resp, ok := responses[1]
	if !ok {
		t.Fatal("Missing tools/call response")
	}
	result, _ := resp.Result.(map[string]interface{})
	content, _ := result["content"].([]interface{})
	if len(content) != 1 {
		t.Fatalf("Expected one content item, got %d", len(content))
	}
	item, _ := content[0].(map[string]interface{})
	if item["type"] != "text" {
		t.Errorf("Expected text content, got %v", item["type"])
	}

	var env map[string]interface{}
	if err := json.Unmarshal([]byte(item["text"].(string)), &env); err != nil {
		t.Fatalf("Envelope is not valid JSON: %v", err)
	}
	data, _ := env["data"].(map[string]interface{})
	tasks, _ := data["tasks"].([]interface{})
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks in payload, got %d", len(tasks))
	}
	second, _ := tasks[1].(map[string]interface{})
	deps, _ := second["depends_on"].([]interface{})
	if len(deps) != 1 || deps[0] != "task_0" {
		t.Errorf("Expected task_1 to depend on task_0, got %v", deps)
	}
}

func TestServerCallRecordExecution(t *testing.T) {
	engine := &stubEngine{}
	responses := runSession(t, engine,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"record_execution","arguments":{"success":true,"edges":[{"from":"a:x","to":"a:y"}],"tools":["a:x","a:y"]}}}`,
	)

	if _, ok := responses[1]; !ok {
		t.Fatal("Missing record_execution response")
	}
	if len(engine.recorded) != 1 {
		t.Fatalf("Expected one recorded execution, got %d", len(engine.recorded))
	}
	if !engine.recorded[0].Success {
		t.Error("Expected success=true")
	}
	if len(engine.recorded[0].Edges) != 1 || engine.recorded[0].Edges[0].From != "a:x" {
		t.Errorf("Unexpected edges: %v", engine.recorded[0].Edges)
	}
}

func TestServerUnknownMethod(t *testing.T) {
	responses := runSession(t, nil,
		`{"jsonrpc":"2.0","id":1,"method":"no/such/method"}`,
	)
	resp, ok := responses[1]
	if !ok {
		t.Fatal("Missing error response")
	}
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Errorf("Expected MethodNotFound error, got %+v", resp.Error)
	}
}

func TestServerUnknownTool(t *testing.T) {
	responses := runSession(t, nil,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
	)
	resp, ok := responses[1]
	if !ok {
		t.Fatal("Missing error response")
	}
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("Expected InvalidParams error, got %+v", resp.Error)
	}
}

func TestServerConcurrentRequestsAllAnswered(t *testing.T) {
	requests := make([]string, 0, 20)
	for i := 1; i <= 20; i++ {
		requests = append(requests, `{"jsonrpc":"2.0","id":`+strconv.Itoa(i)+`,"method":"ping"}`)
	}
	responses := runSession(t, nil, requests...)
	if len(responses) != 20 {
		t.Fatalf("Expected 20 responses, got %d", len(responses))
	}
}
