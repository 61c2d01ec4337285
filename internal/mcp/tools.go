package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codesearch/internal/storage"
	"github.com/dshills/codesearch/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeBuildFailed        = -32001 // Index build failed, previous generation still serving
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // No index generation installed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeTimeout            = -32005 // Deadline expired, retryable
	ErrorCodeEmbeddingFailed    = -32006 // Embedder unavailable or malformed output
	ErrorCodeUnsupported        = -32007 // Operation not supported by the index type
)

// maxReportedErrors caps the per-file errors echoed back by index_codebase
const maxReportedErrors = 5

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", s.opts.DefaultLimit)
	if limit < 1 || limit > s.opts.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", s.opts.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.searcher.Search(ctx, query, limit)
	if err != nil {
		return nil, toMCPError("search failed", err)
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = map[string]interface{}{
			"rank":       r.Rank,
			"score":      r.Score,
			"repo":       r.Unit.Repo,
			"path":       r.Unit.SourcePath,
			"start_line": r.Unit.StartLine,
			"end_line":   r.Unit.EndLine,
			"language":   r.Unit.Language,
			"kind":       r.Unit.Kind,
			"name":       r.Unit.Name,
			"content":    r.Unit.Text,
		}
	}

	response := map[string]interface{}{
		"query":          query,
		"generation":     resp.Generation,
		"cached":         resp.Cached,
		"search_time_ms": float64(resp.Duration.Microseconds()) / 1000,
		"results":        results,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	roots := []string{path}
	if extra, ok := args["extra_paths"].([]interface{}); ok {
		for _, p := range extra {
			str, ok := p.(string)
			if !ok {
				return nil, newMCPError(ErrorCodeInvalidParams, "extra_paths must contain strings", map[string]interface{}{
					"param": "extra_paths",
					"value": p,
				})
			}
			roots = append(roots, str)
		}
	}

	for _, root := range roots {
		if err := validatePath(root); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
				"param":  "path",
				"value":  root,
				"reason": err.Error(),
			})
		}
	}

	genID, err := s.searcher.Rebuild(ctx, roots...)
	if err != nil {
		return nil, toMCPError("indexing failed", err)
	}

	gen := s.searcher.Generation()
	if gen == nil || gen.ID != genID {
		// A later rebuild already replaced it; that one reports its own stats
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"indexed":    true,
			"generation": genID,
			"superseded": true,
		})), nil
	}

	stats := gen.Stats()
	response := map[string]interface{}{
		"indexed":          true,
		"generation":       genID,
		"repos":            stats.Repos,
		"files_indexed":    stats.FilesIndexed,
		"files_skipped":    stats.FilesSkipped,
		"files_unreadable": stats.FilesUnreadable,
		"files_truncated":  stats.FilesTruncated,
		"units":            stats.Units,
		"lines":            stats.Lines,
		"batches":          stats.Batches,
		"duration_ms":      stats.Duration.Milliseconds(),
		"snapshot_saved":   false,
	}

	if len(stats.ErrorMessages) > 0 {
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	if s.store != nil {
		// The new generation is already serving, so a failed save is reported
		// rather than turned into a tool error
		if err := s.store.SaveSnapshot(ctx, storage.FromGeneration(gen)); err != nil {
			s.logger.Warn("saving snapshot failed", "generation", genID, "error", err)
			response["snapshot_error"] = err.Error()
		} else {
			response["snapshot_saved"] = true
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAddSnippet handles the add_snippet tool invocation
func (s *Server) handleAddSnippet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path := getStringDefault(args, "path", "")
	content := getStringDefault(args, "content", "")
	if path == "" || strings.TrimSpace(content) == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path and content are required", map[string]interface{}{
			"param":  "path,content",
			"reason": "missing or empty",
		})
	}

	start := getIntDefault(args, "start_line", 1)
	lines := strings.Count(strings.TrimRight(content, "\n"), "\n") + 1
	unit := types.CodeUnit{
		ID:         int64(getIntDefault(args, "id", 0)),
		Repo:       "snippets",
		SourcePath: filepath.ToSlash(path),
		StartLine:  start,
		EndLine:    start + lines - 1,
		Text:       content,
		Language:   types.LanguageForPath(path),
		Kind:       types.UnitWindow,
		Name:       getStringDefault(args, "name", ""),
	}
	if unit.Name != "" {
		unit.Kind = types.UnitFunction
	}

	id, err := s.searcher.Add(ctx, unit)
	if err != nil {
		return nil, toMCPError("add failed", err)
	}

	gen := s.searcher.Generation()
	response := map[string]interface{}{
		"added": true,
		"id":    id,
	}
	if gen != nil {
		response["generation"] = gen.ID
		response["units"] = gen.Len()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.searcher.Stats()
	m := st.Metrics

	response := map[string]interface{}{
		"indexed": st.Index != nil,
		"metrics": map[string]interface{}{
			"total_queries":      m.TotalQueries,
			"cache_hits":         m.CacheHits,
			"cache_misses":       m.CacheMisses,
			"hit_rate":           m.HitRate,
			"avg_latency_ms":     durationMillis(m.AvgLatency),
			"rolling_latency_ms": durationMillis(m.RollingLatency),
			"under_50ms_rate":    m.Under50msRate,
			"under_200ms_rate":   m.Under200msRate,
			"errors":             m.Errors,
			"error_total":        m.ErrorTotal,
			"qps":                m.QPS,
			"uptime_seconds":     m.Uptime.Seconds(),
		},
		"cache": map[string]interface{}{
			"size":      st.Cache.Size,
			"capacity":  st.Cache.Capacity,
			"hits":      st.Cache.Hits,
			"misses":    st.Cache.Misses,
			"stale":     st.Cache.Stale,
			"evictions": st.Cache.Evictions,
		},
	}

	if info := st.Index; info != nil {
		idx := map[string]interface{}{
			"generation":       info.Generation,
			"type":             info.Type,
			"metric":           info.Metric,
			"dimension":        info.Dimension,
			"units":            info.Units,
			"files":            info.Files,
			"files_skipped":    info.FilesSkipped,
			"files_unreadable": info.FilesUnreadable,
			"lines":            info.Lines,
			"repos":            info.Repos,
			"provider":         info.Provider,
			"model":            info.Model,
			"created_at":       info.CreatedAt.Format(time.RFC3339),
			"build_ms":         info.BuildDuration.Milliseconds(),
		}
		if info.Partitions > 0 {
			idx["partitions"] = info.Partitions
			idx["nprobe"] = info.NProbe
		}
		response["index"] = idx
	} else {
		response["message"] = "No index loaded. Use index_codebase tool to build one."
	}

	if s.store != nil {
		snap, err := s.store.SnapshotInfo(ctx)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			response["snapshot"] = map[string]interface{}{"saved": false}
		case err != nil:
			response["snapshot"] = map[string]interface{}{"saved": false, "error": err.Error()}
		default:
			response["snapshot"] = map[string]interface{}{
				"saved":          true,
				"generation":     snap.Generation,
				"format_version": snap.FormatVersion,
				"units":          snap.Units,
				"roots":          snap.Roots,
				"created_at":     snap.CreatedAt.Format(time.RFC3339),
			}
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// toMCPError classifies a searcher error into an MCP error code
func toMCPError(message string, err error) error {
	code := ErrorCodeInternalError
	if errors.Is(err, types.ErrRebuildInProgress) {
		code = ErrorCodeIndexingInProgress
	} else {
		switch types.ErrorKind(err) {
		case types.KindInvalidQuery:
			code = ErrorCodeInvalidParams
		case types.KindNoIndex:
			code = ErrorCodeNotIndexed
		case types.KindTimeout:
			code = ErrorCodeTimeout
		case types.KindEmbedding:
			code = ErrorCodeEmbeddingFailed
		case types.KindBuild:
			code = ErrorCodeBuildFailed
		case types.KindUnsupported:
			code = ErrorCodeUnsupported
		}
	}
	return newMCPError(code, message, map[string]interface{}{
		"error":     err.Error(),
		"kind":      types.ErrorKind(err),
		"retryable": types.IsRetryable(err),
	})
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path exists and is a readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

func durationMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
