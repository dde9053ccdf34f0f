package mcp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/flowgraph/planner/internal/logging"
)

// defaultMaxInFlight bounds how many requests (of any method) are handled
// concurrently. Excess requests wait for a slot before dispatch.
const defaultMaxInFlight = 10

// Tool describes one callable tool exposed over tools/list.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolHandler executes a tool call and returns an envelope-ready result.
type ToolHandler func(params map[string]interface{}) (interface{}, error)

// MCPServer speaks newline-delimited JSON-RPC 2.0 over stdin/stdout. Reads
// are single-threaded; writes go through a FIFO queue drained by a single
// writer goroutine, so responses never interleave even though requests are
// handled concurrently.
type MCPServer struct {
	stdin   io.Reader
	stdout  io.Writer
	scanner *bufio.Scanner
	logger  *logging.Logger
	version string

	mu       sync.RWMutex
	tools    map[string]ToolHandler
	toolDefs []Tool

	sampling *samplingManager

	writeQueue chan *MCPMessage
	writerDone chan struct{}
	inFlight   chan struct{}
	handlers   sync.WaitGroup
}

// NewMCPServer creates a server bound to the process stdin/stdout.
// maxInFlight <= 0 selects the default limit.
func NewMCPServer(version string, logger *logging.Logger, maxInFlight int) *MCPServer {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &MCPServer{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		logger:     logger,
		version:    version,
		tools:      make(map[string]ToolHandler),
		sampling:   newSamplingManager(),
		writeQueue: make(chan *MCPMessage, 64),
		writerDone: make(chan struct{}),
		inFlight:   make(chan struct{}, maxInFlight),
	}
}

// RegisterTool adds a tool definition and its handler. Registering the same
// name twice replaces the handler but keeps a single definition.
func (s *MCPServer) RegisterTool(def Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[def.Name]; !exists {
		s.toolDefs = append(s.toolDefs, def)
	}
	s.tools[def.Name] = handler
}

// ToolDefinitions returns the registered tool definitions in registration
// order.
func (s *MCPServer) ToolDefinitions() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, len(s.toolDefs))
	copy(out, s.toolDefs)
	return out
}

// Start runs the read loop until EOF. Each request is handled on its own
// goroutine, bounded by the in-flight limit; notifications and responses
// are handled inline on the reader.
func (s *MCPServer) Start() error {
	s.logger.Info("MCP server starting", map[string]interface{}{
		"version": s.version,
	})

	go s.writeLoop()

	for {
		msg, err := s.readMessage()
		if err != nil {
			if err == io.EOF {
				s.logger.Info("MCP server shutting down (EOF)", nil)
				break
			}
			s.logger.Error("Error reading message", map[string]interface{}{
				"error": err.Error(),
			})
			if msg != nil && msg.Id != nil {
				s.enqueue(NewErrorMessage(msg.Id, ParseError, fmt.Sprintf("Failed to parse message: %v", err), nil))
			}
			continue
		}

		if msg.IsResponse() {
			s.handleResponse(msg)
			continue
		}
		if msg.IsNotification() {
			s.handleNotification(msg)
			continue
		}
		if !msg.IsRequest() {
			s.enqueue(NewErrorMessage(msg.Id, InvalidRequest, "Invalid message: not a request or notification", nil))
			continue
		}

		s.inFlight <- struct{}{}
		s.handlers.Add(1)
		go func(m *MCPMessage) {
			defer func() {
				<-s.inFlight
				s.handlers.Done()
			}()
			if response := s.handleRequest(m); response != nil {
				s.enqueue(response)
			}
		}(msg)
	}

	s.handlers.Wait()
	close(s.writeQueue)
	<-s.writerDone
	s.sampling.CancelAllPending()
	return nil
}

// enqueue appends a message to the write queue. Messages leave the
// transport in the order the writer dequeues them.
func (s *MCPServer) enqueue(msg *MCPMessage) {
	s.writeQueue <- msg
}

// writeLoop is the single outbound writer: it drains the FIFO queue until
// the queue closes at shutdown.
func (s *MCPServer) writeLoop() {
	defer close(s.writerDone)
	for msg := range s.writeQueue {
		if err := s.writeMessage(msg); err != nil {
			s.logger.Error("Error writing response", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// SetStdin sets the input stream (for testing).
func (s *MCPServer) SetStdin(r io.Reader) {
	s.stdin = r
	s.scanner = nil
}

// SetStdout sets the output stream (for testing).
func (s *MCPServer) SetStdout(w io.Writer) {
	s.stdout = w
}

// SendNotification queues a JSON-RPC notification to the client.
func (s *MCPServer) SendNotification(method string, params interface{}) {
	s.enqueue(NewNotificationMessage(method, params))
}
