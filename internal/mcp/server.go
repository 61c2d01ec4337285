package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codesearch/internal/searcher"
	"github.com/dshills/codesearch/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "codesearch"
	// ServerVersion is the current server version
	ServerVersion = "0.1.0"
)

// Options bounds the limit parameter of search_code
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	searcher *searcher.Searcher
	store    storage.Store // nil disables snapshot persistence
	opts     Options
	logger   *slog.Logger
}

// NewServer creates an MCP server answering tool calls from srch. A nil
// store means index_codebase rebuilds in memory only.
func NewServer(srch *searcher.Searcher, store storage.Store, opts Options, logger *slog.Logger) *Server {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = searcher.DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = searcher.DefaultMaxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		searcher: srch,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio and blocks until the client
// disconnects. The caller owns the searcher and store.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", "name", ServerName, "version", ServerVersion)
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchCodeTool(s.opts), s.handleSearchCode)
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(addSnippetTool(), s.handleAddSnippet)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
