package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/middleware"
	"github.com/arturoeanton/codequery/internal/port"
	"github.com/arturoeanton/codequery/internal/service"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeUnauthorized   = -32001
)

// Server implements the Model Context Protocol (MCP) server. It exposes
// ingestion and question answering as tools for external agents.
type Server struct {
	ingestion *service.IngestionService
	qa        *service.QAService
	port      string
	version   string
	apiKey    string
	srv       *http.Server
}

// NewServer creates a new MCP server. A non-empty apiKey is required on every
// request, the same way the REST API requires it.
func NewServer(ingestion *service.IngestionService, qa *service.QAService, port, version, apiKey string) *Server {
	return &Server{ingestion: ingestion, qa: qa, port: port, version: version, apiKey: apiKey}
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler returns the HTTP handler serving /mcp and /mcp/sse.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.authorized(s.handleRPC))
	mux.HandleFunc("/mcp/sse", s.authorized(s.handleSSE))
	return mux
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented := middleware.PresentedKey(r.Header.Get, r.URL.Query().Get)
		if err := middleware.VerifyKey(presented, s.apiKey); err != nil {
			slog.Warn("MCP request rejected", "remote", r.RemoteAddr, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: codeUnauthorized, Message: err.Error()},
			})
			return
		}
		next(w, r)
	}
}

// Start serves MCP on the configured port until Shutdown.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("MCP server starting", "port", s.port)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, codeParseError, "parse error")
		return
	}

	var result any
	var err error

	switch req.Method {
	case "tools/list":
		result = map[string]any{"tools": tools}
	case "tools/call":
		result, err = s.callTool(r.Context(), req.Params)
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]string{
				"name":    "codequery",
				"version": s.version,
			},
			"capabilities": map[string]any{
				"tools": map[string]bool{"listChanged": false},
			},
		}
	default:
		writeError(w, req.ID, codeMethodNotFound, "method not found")
		return
	}

	if err != nil {
		code := codeInternal
		var te *toolError
		if errors.As(err, &te) || errors.Is(err, port.ErrInvalidRequest) || errors.Is(err, port.ErrInvalidReference) {
			code = codeInvalidParams
		}
		slog.Warn("MCP call failed", "method", req.Method, "error", err)
		writeError(w, req.ID, code, err.Error())
		return
	}

	writeResult(w, req.ID, result)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: endpoint\ndata: /mcp\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	<-r.Context().Done()
}

var tools = []Tool{
	{
		Name:        "start_ingestion",
		Description: "Clone or update a repository and index its source files for question answering",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repository_id": {"type": "string", "description": "Caller-chosen repository ID"},
				"source": {"type": "string", "description": "Git URL or local directory"},
				"ref": {"type": "string", "description": "Branch, tag or commit (optional)"}
			},
			"required": ["repository_id", "source"]
		}`),
	},
	{
		Name:        "get_job",
		Description: "Get the status and statistics of an ingestion job",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"job_id": {"type": "string", "description": "Job ID returned by start_ingestion"}
			},
			"required": ["job_id"]
		}`),
	},
	{
		Name:        "list_chunks",
		Description: "List the indexed chunks of a repository",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repository_id": {"type": "string"},
				"path_prefix": {"type": "string"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 500},
				"offset": {"type": "integer", "minimum": 0}
			},
			"required": ["repository_id"]
		}`),
	},
	{
		Name:        "retrieve",
		Description: "Find the code most relevant to a question, with file paths and line ranges",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repository_id": {"type": "string"},
				"question": {"type": "string"},
				"k": {"type": "integer", "minimum": 1, "maximum": 50}
			},
			"required": ["repository_id", "question"]
		}`),
	},
	{
		Name:        "ask",
		Description: "Answer a natural-language question about a repository with cited evidence",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repository_id": {"type": "string"},
				"question": {"type": "string"}
			},
			"required": ["repository_id", "question"]
		}`),
	},
}

// toolError reports malformed tool arguments.
type toolError struct{ msg string }

func (e *toolError) Error() string { return e.msg }

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &toolError{msg: fmt.Sprintf("invalid params: %v", err)}
	}
	if len(req.Arguments) == 0 {
		req.Arguments = json.RawMessage(`{}`)
	}

	var args struct {
		RepositoryID string `json:"repository_id"`
		Source       string `json:"source"`
		Ref          string `json:"ref"`
		JobID        string `json:"job_id"`
		PathPrefix   string `json:"path_prefix"`
		Limit        int    `json:"limit"`
		Offset       int    `json:"offset"`
		Question     string `json:"question"`
		K            int    `json:"k"`
	}
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		return nil, &toolError{msg: fmt.Sprintf("invalid arguments for %s: %v", req.Name, err)}
	}

	var (
		out any
		err error
	)
	switch req.Name {
	case "start_ingestion":
		out, err = s.ingestion.StartIngestion(ctx, domain.RepoRef{ID: args.RepositoryID, Source: args.Source, Ref: args.Ref})
	case "get_job":
		out, err = s.ingestion.GetJob(ctx, args.JobID)
	case "list_chunks":
		var chunks []domain.Chunk
		var total int
		chunks, total, err = s.qa.ListChunks(ctx, domain.ChunkQuery{
			RepositoryID: args.RepositoryID,
			PathPrefix:   args.PathPrefix,
			Limit:        args.Limit,
			Offset:       args.Offset,
		})
		out = map[string]any{"chunks": chunks, "total": total}
	case "retrieve":
		var results []domain.ScoredChunk
		results, err = s.qa.Retrieve(ctx, args.RepositoryID, args.Question, args.K)
		if results == nil {
			results = []domain.ScoredChunk{}
		}
		out = map[string]any{"results": results}
	case "ask":
		out, err = s.qa.Ask(ctx, args.RepositoryID, args.Question)
	default:
		return nil, &toolError{msg: fmt.Sprintf("unknown tool: %s", req.Name)}
	}
	if err != nil {
		return nil, err
	}
	return textContent(out)
}

// textContent wraps a result as a single MCP text content item holding JSON.
func textContent(v any) (any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(b)},
		},
	}, nil
}

func writeResult(w http.ResponseWriter, id any, result any) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id any, code int, message string) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
