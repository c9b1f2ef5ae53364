// Package mcp exposes the memory store to MCP clients: hybrid search,
// text capture and graph-backed related-memory lookups as tools over the
// stdio transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ndmitriev/recollect/internal/core/domain"
	"github.com/ndmitriev/recollect/internal/core/ports"
)

type ServerConfig struct {
	Searcher ports.MemorySearcher
	Ingestor ports.MemoryIngestor
	Related  ports.RelatedMemoryFinder
	Policy   domain.FusionPolicy
	Version  string
}

// NewServer creates an MCP server with the memory tools registered. Every
// tool requires owner_id; there is no ambient identity on the stdio
// transport.
func NewServer(cfg ServerConfig) *server.MCPServer {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	policy := cfg.Policy.Normalize()

	s := server.NewMCPServer(
		"Recollect",
		version,
		server.WithToolCapabilities(false),
	)

	registerSearchTool(s, cfg.Searcher, policy)
	registerCaptureTool(s, cfg.Ingestor)
	registerRelatedTool(s, cfg.Related)

	return s
}

func registerSearchTool(s *server.MCPServer, searcher ports.MemorySearcher, policy domain.FusionPolicy) {
	tool := mcp.NewTool("recollect_search",
		mcp.WithDescription("Search saved memories with hybrid retrieval: keyword, semantic and cross-modal image matching fused into one ranked list."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language search query"),
		),
		mcp.WithString("owner_id",
			mcp.Required(),
			mcp.Description("Owner whose memories are searched; results never cross owners"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of results (default: %d, max: %d)", policy.DefaultLimit, policy.MaxLimit)),
		),
		mcp.WithString("kinds",
			mcp.Description("Comma-separated kind filter: text, voice, image. Empty = all kinds."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		ownerID, err := req.RequireString("owner_id")
		if err != nil {
			return mcp.NewToolResultError("owner_id is required"), nil
		}

		limit := policy.DefaultLimit
		if limitVal, err := req.RequireFloat("limit"); err == nil && int(limitVal) > 0 {
			limit = int(limitVal)
		}

		var kinds []domain.MemoryKind
		if raw, err := req.RequireString("kinds"); err == nil && strings.TrimSpace(raw) != "" {
			for _, part := range strings.Split(raw, ",") {
				kind, ok := domain.ParseMemoryKind(strings.TrimSpace(part))
				if !ok {
					return mcp.NewToolResultError(fmt.Sprintf("invalid kind %q", strings.TrimSpace(part))), nil
				}
				kinds = append(kinds, kind)
			}
		}

		results, err := searcher.Search(ctx, domain.SearchRequest{
			Query:   query,
			OwnerID: ownerID,
			Limit:   limit,
			Kinds:   kinds,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(results, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerCaptureTool(s *server.MCPServer, ingestor ports.MemoryIngestor) {
	tool := mcp.NewTool("recollect_capture",
		mcp.WithDescription("Save a new text memory. Enrichment (normalization, embedding, graph linking) runs asynchronously after capture."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The memory text to save"),
		),
		mcp.WithString("owner_id",
			mcp.Required(),
			mcp.Description("Owner the memory belongs to"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags, e.g. 'food,friends'"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}
		ownerID, err := req.RequireString("owner_id")
		if err != nil {
			return mcp.NewToolResultError("owner_id is required"), nil
		}

		var tags []string
		if raw, err := req.RequireString("tags"); err == nil && strings.TrimSpace(raw) != "" {
			for _, tag := range strings.Split(raw, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
		}

		mem, err := ingestor.CaptureText(ctx, ownerID, text, tags)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("capture error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(mem, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerRelatedTool(s *server.MCPServer, related ports.RelatedMemoryFinder) {
	tool := mcp.NewTool("recollect_related",
		mcp.WithDescription("List memories linked to a given memory in the similarity graph, strongest link first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("memory_id",
			mcp.Required(),
			mcp.Description("Anchor memory id"),
		),
		mcp.WithString("owner_id",
			mcp.Required(),
			mcp.Description("Owner of the anchor memory"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of related memories (default: 10)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		memoryID, err := req.RequireString("memory_id")
		if err != nil {
			return mcp.NewToolResultError("memory_id is required"), nil
		}
		ownerID, err := req.RequireString("owner_id")
		if err != nil {
			return mcp.NewToolResultError("owner_id is required"), nil
		}

		limit := 10
		if limitVal, err := req.RequireFloat("limit"); err == nil && int(limitVal) > 0 {
			limit = int(limitVal)
		}

		memories, err := related.Related(ctx, ownerID, memoryID, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("related error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(memories, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
