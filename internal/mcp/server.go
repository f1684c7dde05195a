package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/pkg/searcher"
	"github.com/Aman-CERP/kbindex/pkg/version"
)

// DefaultK is the number of passages returned when the client does not ask.
const DefaultK = 5

// Indexer is the coordinator surface exposed as tools.
type Indexer interface {
	Start() bool
	Stop()
	Status() index.State
	Progress() index.Progress
}

// Searcher answers knowledge-base queries.
type Searcher interface {
	Search(ctx context.Context, query string, k int) (*searcher.Response, error)
}

// Counter reports how many chunks are stored.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// EmbedderInfo describes the embedding backend for index_status.
type EmbedderInfo interface {
	ModelName() string
	Dimensions() int
	Available(ctx context.Context) bool
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search_knowledge",
		Description: "Search the indexed knowledge base (PDF documents and audio transcripts) by meaning. Returns the most relevant passages with links to their source files and a ready-to-quote context block.",
	},
	{
		Name:        "index_status",
		Description: "Report the state of the indexing job, its progress, how many chunks are stored and whether the embedding backend is reachable.",
	},
	{
		Name:        "start_indexing",
		Description: "Start indexing the knowledge-base directory in the background. Does nothing if a job is already running.",
	},
	{
		Name:        "stop_indexing",
		Description: "Ask the running indexing job to stop after the file it is processing.",
	},
}

// Server is the MCP server for kbindex.
type Server struct {
	mcp      *mcp.Server
	searcher Searcher
	indexer  Indexer
	store    Counter
	embedder EmbedderInfo
	logger   *slog.Logger

	mu sync.RWMutex
}

// NewServer creates a new MCP server. store and embedder may be nil; the
// matching index_status fields are then left empty.
func NewServer(s Searcher, indexer Indexer, store Counter, embedder EmbedderInfo, logger *slog.Logger) (*Server, error) {
	if s == nil {
		return nil, errors.New("searcher is required")
	}
	if indexer == nil {
		return nil, errors.New("indexer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		searcher: s,
		indexer:  indexer,
		store:    store,
		embedder: embedder,
		logger:   logger,
	}
	srv.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "kbindex",
		Version: version.Version,
	}, nil)
	srv.registerTools()
	return srv, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name. args are decoded like a JSON-RPC
// tools/call request.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search_knowledge":
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.search(ctx, in)
	case "index_status":
		return s.status(ctx), nil
	case "start_indexing":
		return s.start(), nil
	case "stop_indexing":
		return s.stop(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

func (s *Server) search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	if in.Query == "" {
		return SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	if in.K < 0 {
		return SearchOutput{}, NewInvalidParamsError("k must not be negative")
	}
	k := in.K
	if k == 0 {
		k = DefaultK
	}

	resp, err := s.searcher.Search(ctx, in.Query, k)
	if err != nil {
		s.logger.Warn("search_knowledge failed", slog.String("error", err.Error()))
		return SearchOutput{}, MapError(err)
	}
	return SearchOutput{
		Results:        resp.Results,
		Context:        resp.Context,
		IndexingStatus: s.indexer.Status(),
	}, nil
}

func (s *Server) status(ctx context.Context) *IndexStatusOutput {
	p := s.indexer.Progress()
	out := &IndexStatusOutput{Status: p.State, Progress: toIndexingProgress(p)}

	if s.store != nil {
		n, err := s.store.Count(ctx)
		if err != nil {
			s.logger.Warn("Failed to count chunks", slog.String("error", err.Error()))
		}
		out.ChunkCount = n
	}
	if s.embedder != nil {
		out.Embeddings = EmbeddingInfo{
			Model:      s.embedder.ModelName(),
			Dimensions: s.embedder.Dimensions(),
			Available:  s.embedder.Available(ctx),
		}
	}
	return out
}

func (s *Server) start() StartOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := s.indexer.Start()
	s.logger.Info("start_indexing called", slog.Bool("started", started))
	return StartOutput{Started: started, Status: s.indexer.Status()}
}

func (s *Server) stop() StopOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexer.Stop()
	s.logger.Info("stop_indexing called")
	return StopOutput{Status: s.indexer.Status()}
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpIndexStatusHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpStartHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description}, s.mcpStopHandler)
	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

// mcpSearchHandler is the MCP SDK handler for the search_knowledge tool.
// The text content is markdown; the structured content carries the hits.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, err := s.search(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(input.Query, out.Results, out.IndexingStatus)}},
	}, out, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.status(ctx), nil
}

// mcpStartHandler is the MCP SDK handler for the start_indexing tool.
func (s *Server) mcpStartHandler(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult,
	StartOutput,
	error,
) {
	return nil, s.start(), nil
}

// mcpStopHandler is the MCP SDK handler for the stop_indexing tool.
func (s *Server) mcpStopHandler(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult,
	StopOutput,
	error,
) {
	return nil, s.stop(), nil
}

// Serve runs the server over stdio until ctx is canceled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}
