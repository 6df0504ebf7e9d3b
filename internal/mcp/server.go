// Package mcp exposes the document service to MCP clients over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keldan/docq/internal/backend"
	"github.com/keldan/docq/internal/chat"
)

// Backend abstracts the document service calls the MCP tools need.
// *backend.Client satisfies it.
type Backend interface {
	chat.Streamer
	ListFiles(ctx context.Context) ([]backend.FileMeta, error)
	FileChunks(ctx context.Context, fileID int64) ([]backend.Chunk, error)
}

// Deps holds dependencies for the MCP server.
type Deps struct {
	Backend Backend
	// TopK is the default retrieval depth for ask_documents.
	TopK int
}

// NewServer creates an MCP server with the document tools registered.
func NewServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"docq",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("docq — question answering over an ingested document collection."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_documents",
			mcp.WithDescription("Ask a question over the ingested documents and get a streamed answer with citations."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Number of context chunks to retrieve (default from config)")),
			mcp.WithString("file_ids", mcp.Description("Comma-separated document ids to restrict the search to; empty means all documents")),
		),
		mcpAskDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the ingested documents with their ids and metadata."),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("document_chunks",
			mcp.WithDescription("Return the stored chunks of one document."),
			mcp.WithNumber("file_id", mcp.Description("Document id"), mcp.Required()),
		),
		mcpDocumentChunks(deps),
	)

	return s
}

func mcpAskDocuments(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		topK := req.GetInt("top_k", deps.TopK)
		if topK < 0 {
			topK = deps.TopK
		}

		scope, err := parseFileIDs(req.GetString("file_ids", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("invalid file_ids: %v", err)), nil
		}

		// Each tool call is its own single-question session.
		session := chat.New(deps.Backend, chat.Options{TopK: topK})
		if err := session.Ask(ctx, question, scope); err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		msgs := session.Messages()
		last := msgs[len(msgs)-1]

		type answer struct {
			Answer    string          `json:"answer"`
			Citations []chat.Citation `json:"citations,omitempty"`
		}

		out := answer{Answer: last.Content}
		for _, c := range last.Contexts {
			out.Citations = append(out.Citations, c.Citation)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDocuments(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		files, err := deps.Backend.ListFiles(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing documents failed: %v", err)), nil
		}
		if len(files) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(files)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDocumentChunks(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID := req.GetInt("file_id", 0)
		if fileID <= 0 {
			return mcpError("file_id is required"), nil
		}

		chunks, err := deps.Backend.FileChunks(ctx, int64(fileID))
		if err != nil {
			return mcpError(fmt.Sprintf("fetching chunks failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(chunks)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal chunks: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func parseFileIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a document id", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
