// Package mcp exposes the search engine as a Model Context Protocol server.
//
// The server speaks JSON-RPC 2.0 over stdio and registers four tools:
//   - search_code: ranked snippets for a query
//   - index_codebase: rebuild the index from source trees and persist a snapshot
//   - add_snippet: insert one snippet into the live index
//   - get_status: index, cache and query statistics
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {"query": "parse config file", "limit": 5}
//	}
//
//	Response:
//	{
//	  "query": "parse config file",
//	  "generation": 3,
//	  "cached": false,
//	  "search_time_ms": 4.2,
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.91,
//	      "repo": "service",
//	      "path": "service/config/load.go",
//	      "start_line": 12,
//	      "end_line": 40,
//	      "language": "go",
//	      "kind": "function",
//	      "name": "Load",
//	      "content": "func Load(path string) (*Config, error) { ... }"
//	    }
//	  ]
//	}
//
// # Tool: index_codebase
//
// Builds a new generation off to the side. Queries keep hitting the
// previous generation until the swap, and a failed build leaves it in
// place. When the server has a store the new generation is saved as the
// active snapshot.
//
//	{"name": "index_codebase", "arguments": {"path": "/src/service", "extra_paths": ["/src/lib"]}}
//
// # Error Handling
//
// Failures are returned as MCPError values carrying a JSON-RPC code and a
// data object with the error text, its kind and whether a retry may help:
//   - -32602: invalid params
//   - -32603: internal error
//   - -32001: build failed, previous generation still serving
//   - -32002: a rebuild is already running
//   - -32003: no index loaded
//   - -32004: empty query
//   - -32005: deadline expired (retryable)
//   - -32006: embedder failed
//   - -32007: not supported by the index type
//
// # Logging
//
// stdout carries the protocol, so all logs go to stderr through the
// *slog.Logger given to NewServer.
package mcp
