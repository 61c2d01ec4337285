package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchCodeTool returns the tool definition for search_code
func searchCodeTool(opts Options) mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed corpus for code snippets semantically similar to a natural language or code query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or code)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     opts.DefaultLimit,
					"minimum":     1,
					"maximum":     opts.MaxLimit,
				},
			},
			Required: []string{"query"},
		},
	}
}

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Rebuild the search index from one or more source trees and persist it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a source tree",
				},
				"extra_paths": map[string]interface{}{
					"type":        "array",
					"description": "Additional absolute paths indexed into the same generation",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
			Required: []string{"path"},
		},
	}
}

// addSnippetTool returns the tool definition for add_snippet
func addSnippetTool() mcp.Tool {
	return mcp.Tool{
		Name:        "add_snippet",
		Description: "Add one code snippet to the live index without a rebuild (flat and qdrant indexes only)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Source path recorded for the snippet",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Snippet text",
				},
				"start_line": map[string]interface{}{
					"type":        "integer",
					"description": "First line of the snippet in its file",
					"default":     1,
					"minimum":     1,
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Declaration name, if the snippet is one",
				},
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Unit id to use; omitted takes the next free id. An id already indexed is rejected.",
					"minimum":     1,
				},
			},
			Required: []string{"path", "content"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index, cache and query statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
