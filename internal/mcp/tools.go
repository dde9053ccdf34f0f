package mcp

import (
	"context"
	"fmt"

	"github.com/flowgraph/planner/internal/envelope"
	"github.com/flowgraph/planner/internal/errors"
	"github.com/flowgraph/planner/internal/graph"
	"github.com/flowgraph/planner/internal/hybridsearch"
	"github.com/flowgraph/planner/internal/learningloop"
	"github.com/flowgraph/planner/internal/predictor"
	"github.com/flowgraph/planner/internal/suggester"
)

// Engine is the planning surface the MCP tools call into.
type Engine interface {
	Suggest(ctx context.Context, intent string, contextTools []string) (*suggester.SuggestedDAG, error)
	PredictNext(state predictor.WorkflowState) []predictor.PredictedNode
	HybridSearch(ctx context.Context, query string, contextTools []string, limit int) []hybridsearch.Result
	RecordExecution(dag learningloop.CompletedDAG, toolIDs []string, durationMs int64)
	RecordCodeExecution(traces []learningloop.Trace)
	RecordCapabilityOutcome(capabilityID string, success bool) error
	RegisterTool(ctx context.Context, toolID, serverID, name, description string) error
	AddUserEdge(from, to string, typ graph.EdgeType) error
	CreateCapability(name string, toolsUsed []string, successRate float64, snippet string) (string, error)
	Sync() error
	Stats() map[string]interface{}
}

// RegisterPlannerTools wires the planning engine's operations into the
// server's tool table.
func RegisterPlannerTools(s *MCPServer, engine Engine) {
	s.RegisterTool(Tool{
		Name:        "suggest_dag",
		Description: "Suggest a DAG of tool invocations for a natural-language intent",
		InputSchema: objectSchema(map[string]interface{}{
			"intent":        map[string]interface{}{"type": "string", "description": "What the workflow should accomplish"},
			"context_tools": stringArraySchema("Tools already in use in the current workflow"),
		}, "intent"),
	}, func(params map[string]interface{}) (interface{}, error) {
		intent, err := requireString(params, "intent")
		if err != nil {
			return nil, err
		}
		dag, err := engine.Suggest(context.Background(), intent, stringSlice(params, "context_tools"))
		if err != nil {
			return nil, err
		}
		if dag == nil {
			return envelope.New().
				Data(map[string]interface{}{"suggested": false}).
				Warning("no plan cleared the confidence threshold").
				Build(), nil
		}

		b := envelope.New().Data(suggestedDAGPayload(dag))
		tier := envelope.TierHigh
		if dag.Warning != "" {
			tier = envelope.TierLow
			b.Warning(dag.Warning)
		}
		b.Confidence(dag.Confidence, tier, dag.Rationale)
		return b.Build(), nil
	})

	s.RegisterTool(Tool{
		Name:        "predict_next",
		Description: "Predict the next likely tool(s) for an ongoing workflow",
		InputSchema: objectSchema(map[string]interface{}{
			"tasks": map[string]interface{}{
				"type":        "array",
				"description": "Executed tasks in order",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"tool_id":   map[string]interface{}{"type": "string"},
						"succeeded": map[string]interface{}{"type": "boolean"},
					},
					"required": []string{"tool_id"},
				},
			},
		}, "tasks"),
	}, func(params map[string]interface{}) (interface{}, error) {
		state := predictor.WorkflowState{}
		rawTasks, _ := params["tasks"].([]interface{})
		for _, raw := range rawTasks {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			toolID, _ := m["tool_id"].(string)
			succeeded, _ := m["succeeded"].(bool)
			state.Tasks = append(state.Tasks, predictor.Task{ToolID: toolID, Succeeded: succeeded})
		}

		predictions := engine.PredictNext(state)
		out := make([]map[string]interface{}, 0, len(predictions))
		for _, pr := range predictions {
			out = append(out, map[string]interface{}{
				"id":         pr.ID,
				"type":       pr.Type,
				"confidence": pr.Confidence,
				"reason":     pr.Reason,
			})
		}
		return map[string]interface{}{"predictions": out}, nil
	})

	s.RegisterTool(Tool{
		Name:        "search_tools",
		Description: "Hybrid semantic+graph search over the tool corpus",
		InputSchema: objectSchema(map[string]interface{}{
			"query":         map[string]interface{}{"type": "string"},
			"context_tools": stringArraySchema("Tools already in use"),
			"limit":         map[string]interface{}{"type": "integer"},
		}, "query"),
	}, func(params map[string]interface{}) (interface{}, error) {
		query, err := requireString(params, "query")
		if err != nil {
			return nil, err
		}
		limit := intOrDefault(params, "limit", 10)
		hits := engine.HybridSearch(context.Background(), query, stringSlice(params, "context_tools"), limit)

		out := make([]map[string]interface{}, 0, len(hits))
		for _, h := range hits {
			item := map[string]interface{}{
				"tool_id":     h.ToolID,
				"final_score": h.FinalScore,
				"semantic":    h.Semantic,
				"graph":       h.Graph,
				"alpha":       h.Alpha,
			}
			if len(h.RelatedTools) > 0 {
				related := make([]map[string]interface{}, 0, len(h.RelatedTools))
				for _, rt := range h.RelatedTools {
					related = append(related, map[string]interface{}{"tool_id": rt.ToolID, "label": rt.Label})
				}
				item["related_tools"] = related
			}
			out = append(out, item)
		}
		return map[string]interface{}{"results": out}, nil
	})

	s.RegisterTool(Tool{
		Name:        "record_execution",
		Description: "Record a completed DAG execution so dependency edges strengthen",
		InputSchema: objectSchema(map[string]interface{}{
			"edges": map[string]interface{}{
				"type":        "array",
				"description": "Dependency edges actually walked",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"from": map[string]interface{}{"type": "string"},
						"to":   map[string]interface{}{"type": "string"},
					},
					"required": []string{"from", "to"},
				},
			},
			"tools":       stringArraySchema("Every tool that ran, in order"),
			"success":     map[string]interface{}{"type": "boolean"},
			"duration_ms": map[string]interface{}{"type": "integer"},
		}, "success"),
	}, func(params map[string]interface{}) (interface{}, error) {
		dag := learningloop.CompletedDAG{Success: boolValue(params, "success")}
		rawEdges, _ := params["edges"].([]interface{})
		for _, raw := range rawEdges {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			from, _ := m["from"].(string)
			to, _ := m["to"].(string)
			dag.Edges = append(dag.Edges, learningloop.DependsOn{From: from, To: to})
		}
		engine.RecordExecution(dag, stringSlice(params, "tools"), int64(intOrDefault(params, "duration_ms", 0)))
		return map[string]interface{}{"recorded": true, "edges": len(dag.Edges)}, nil
	})

	s.RegisterTool(Tool{
		Name:        "record_code_execution",
		Description: "Ingest a code-execution trace hierarchy as contains/sequence edges",
		InputSchema: objectSchema(map[string]interface{}{
			"traces": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"trace_id":        map[string]interface{}{"type": "string"},
						"parent_trace_id": map[string]interface{}{"type": "string"},
						"tool_id":         map[string]interface{}{"type": "string"},
						"timestamp":       map[string]interface{}{"type": "integer"},
					},
					"required": []string{"trace_id", "tool_id"},
				},
			},
		}, "traces"),
	}, func(params map[string]interface{}) (interface{}, error) {
		var traces []learningloop.Trace
		rawTraces, _ := params["traces"].([]interface{})
		for _, raw := range rawTraces {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			t := learningloop.Trace{}
			t.TraceID, _ = m["trace_id"].(string)
			t.ParentTraceID, _ = m["parent_trace_id"].(string)
			t.ToolID, _ = m["tool_id"].(string)
			if ts, ok := m["timestamp"].(float64); ok {
				t.Timestamp = int64(ts)
			}
			traces = append(traces, t)
		}
		engine.RecordCodeExecution(traces)
		return map[string]interface{}{"recorded": true, "traces": len(traces)}, nil
	})

	s.RegisterTool(Tool{
		Name:        "register_tool",
		Description: "Embed and index a tool so it becomes plannable",
		InputSchema: objectSchema(map[string]interface{}{
			"tool_id":     map[string]interface{}{"type": "string", "description": "Identifier in server:tool form"},
			"server_id":   map[string]interface{}{"type": "string"},
			"name":        map[string]interface{}{"type": "string"},
			"description": map[string]interface{}{"type": "string"},
		}, "tool_id", "name"),
	}, func(params map[string]interface{}) (interface{}, error) {
		toolID, err := requireString(params, "tool_id")
		if err != nil {
			return nil, err
		}
		name, err := requireString(params, "name")
		if err != nil {
			return nil, err
		}
		serverID, _ := params["server_id"].(string)
		description, _ := params["description"].(string)
		if err := engine.RegisterTool(context.Background(), toolID, serverID, name, description); err != nil {
			return nil, err
		}
		return map[string]interface{}{"registered": toolID}, nil
	})

	s.RegisterTool(Tool{
		Name:        "add_dependency",
		Description: "Assert a dependency edge between two tools",
		InputSchema: objectSchema(map[string]interface{}{
			"from": map[string]interface{}{"type": "string"},
			"to":   map[string]interface{}{"type": "string"},
			"type": map[string]interface{}{
				"type": "string",
				"enum": []string{"dependency", "contains", "alternative", "provides", "sequence"},
			},
		}, "from", "to"),
	}, func(params map[string]interface{}) (interface{}, error) {
		from, err := requireString(params, "from")
		if err != nil {
			return nil, err
		}
		to, err := requireString(params, "to")
		if err != nil {
			return nil, err
		}
		typ := graph.TypeDependency
		if t, ok := params["type"].(string); ok && t != "" {
			typ = graph.EdgeType(t)
		}
		if err := engine.AddUserEdge(from, to, typ); err != nil {
			return nil, err
		}
		return map[string]interface{}{"added": fmt.Sprintf("%s -> %s", from, to)}, nil
	})

	s.RegisterTool(Tool{
		Name:        "create_capability",
		Description: "Persist a learned capability grouping several tools",
		InputSchema: objectSchema(map[string]interface{}{
			"name":         map[string]interface{}{"type": "string"},
			"tools_used":   stringArraySchema("Tools this capability invokes"),
			"success_rate": map[string]interface{}{"type": "number"},
			"code_snippet": map[string]interface{}{"type": "string"},
		}, "name", "tools_used"),
	}, func(params map[string]interface{}) (interface{}, error) {
		name, err := requireString(params, "name")
		if err != nil {
			return nil, err
		}
		rate := floatOrDefault(params, "success_rate", 0.5)
		snippet, _ := params["code_snippet"].(string)
		id, err := engine.CreateCapability(name, stringSlice(params, "tools_used"), rate, snippet)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"capability_id": id}, nil
	})

	s.RegisterTool(Tool{
		Name:        "record_capability_outcome",
		Description: "Fold one observed run into a capability's success rate",
		InputSchema: objectSchema(map[string]interface{}{
			"capability_id": map[string]interface{}{"type": "string"},
			"success":       map[string]interface{}{"type": "boolean"},
		}, "capability_id", "success"),
	}, func(params map[string]interface{}) (interface{}, error) {
		id, err := requireString(params, "capability_id")
		if err != nil {
			return nil, err
		}
		if err := engine.RecordCapabilityOutcome(id, boolValue(params, "success")); err != nil {
			return nil, err
		}
		return map[string]interface{}{"recorded": true}, nil
	})

	s.RegisterTool(Tool{
		Name:        "sync_graph",
		Description: "Rebuild the in-memory knowledge graph from the database",
		InputSchema: objectSchema(map[string]interface{}{}),
	}, func(params map[string]interface{}) (interface{}, error) {
		if err := engine.Sync(); err != nil {
			return nil, err
		}
		return engine.Stats(), nil
	})

	s.RegisterTool(Tool{
		Name:        "graph_stats",
		Description: "Summarize the knowledge graph and its metrics",
		InputSchema: objectSchema(map[string]interface{}{}),
	}, func(params map[string]interface{}) (interface{}, error) {
		return engine.Stats(), nil
	})

	s.RegisterTool(Tool{
		Name:        "refine_intent",
		Description: "Ask the client's model to sharpen a vague intent, then plan from the refined wording",
		InputSchema: objectSchema(map[string]interface{}{
			"intent":        map[string]interface{}{"type": "string"},
			"context_tools": stringArraySchema("Tools already in use"),
		}, "intent"),
	}, func(params map[string]interface{}) (interface{}, error) {
		intent, err := requireString(params, "intent")
		if err != nil {
			return nil, err
		}

		refined := intent
		if s.SupportsSampling() {
			result, err := s.CreateSamplingMessage(SamplingRequestParams{
				Messages: []SamplingMessage{{
					Role: "user",
					Content: map[string]interface{}{
						"type": "text",
						"text": fmt.Sprintf("Rewrite this workflow intent as one specific, tool-oriented sentence: %q", intent),
					},
				}},
				SystemPrompt: "You rewrite vague workflow intents into precise ones. Reply with the rewritten intent only.",
				MaxTokens:    200,
			})
			if err == nil {
				if text := samplingText(result); text != "" {
					refined = text
				}
			}
		}

		dag, err := engine.Suggest(context.Background(), refined, stringSlice(params, "context_tools"))
		if err != nil {
			return nil, err
		}
		payload := map[string]interface{}{"refined_intent": refined}
		if dag != nil {
			payload["dag"] = suggestedDAGPayload(dag)
			payload["confidence"] = dag.Confidence
		}
		return payload, nil
	})
}

func suggestedDAGPayload(dag *suggester.SuggestedDAG) map[string]interface{} {
	tasks := make([]map[string]interface{}, 0, len(dag.Tasks))
	for _, t := range dag.Tasks {
		deps := make([]string, 0, len(t.Dependencies))
		for _, d := range t.Dependencies {
			deps = append(deps, fmt.Sprintf("task_%d", d))
		}
		item := map[string]interface{}{
			"id":         fmt.Sprintf("task_%d", t.ID),
			"type":       string(t.Type),
			"depends_on": deps,
		}
		if t.ToolID != "" {
			item["tool_id"] = t.ToolID
		}
		if t.CapabilityID != "" {
			item["capability_id"] = t.CapabilityID
			item["confidence"] = t.Confidence
		}
		tasks = append(tasks, item)
	}
	return map[string]interface{}{
		"tasks":      tasks,
		"confidence": dag.Confidence,
		"rationale":  dag.Rationale,
	}
}

func samplingText(result *SamplingResult) string {
	if result == nil {
		return ""
	}
	if m, ok := result.Content.(map[string]interface{}); ok {
		if text, ok := m["text"].(string); ok {
			return text
		}
	}
	if text, ok := result.Content.(string); ok {
		return text
	}
	return ""
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringArraySchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       map[string]interface{}{"type": "string"},
	}
}

func requireString(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", errors.New(errors.InvalidParameter, fmt.Sprintf("missing required parameter %q", key), nil)
	}
	return v, nil
}

func stringSlice(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func boolValue(params map[string]interface{}, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func intOrDefault(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key].(float64); ok {
		return int(v)
	}
	return def
}

func floatOrDefault(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := params[key].(float64); ok {
		return v
	}
	return def
}
