package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/rag"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve search and ingest tools over MCP stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// documentService is what the tool handlers need from *rag.Service.
type documentService interface {
	IngestDocuments(ctx context.Context, docs []doctree.Document) (rag.IngestResult, error)
	Query(ctx context.Context, req rag.QueryRequest) (rag.QueryResult, error)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	// stdout carries the protocol.
	a, _, err := openApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	return mcpserver.ServeStdio(newMCPServer(a.Service))
}

func newMCPServer(svc documentService) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("parentdoc", "0.1.0", mcpserver.WithToolCapabilities(false))
	s.AddTool(searchDocumentsTool(), makeSearchHandler(svc))
	s.AddTool(ingestDocumentTool(), makeIngestHandler(svc))
	return s
}

func searchDocumentsTool() mcp.Tool {
	return mcp.NewTool("search_documents",
		mcp.WithDescription("Search the indexed documents. Small chunks are matched and expanded to the parent sections that contain them; optionally an answer is generated from those sections."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(true),
			DestructiveHint: mcp.ToBoolPtr(false),
			IdempotentHint:  mcp.ToBoolPtr(true),
			OpenWorldHint:   mcp.ToBoolPtr(false),
		}),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language question or keywords"),
		),
		mcp.WithNumber("top_children",
			mcp.Description("Child chunks to retrieve (default from server config)"),
		),
		mcp.WithNumber("max_parents",
			mcp.Description("Parent sections to return (default from server config)"),
		),
		mcp.WithBoolean("generate_answer",
			mcp.Description("Generate an answer from the parent sections (default false)"),
		),
	)
}

func ingestDocumentTool() mcp.Tool {
	return mcp.NewTool("ingest_document",
		mcp.WithDescription("Add a document to the index. It is split into parent sections and overlapping child chunks."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(false),
			DestructiveHint: mcp.ToBoolPtr(false),
			IdempotentHint:  mcp.ToBoolPtr(false),
			OpenWorldHint:   mcp.ToBoolPtr(false),
		}),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Raw document text"),
		),
		mcp.WithString("title",
			mcp.Description("Human-friendly title"),
		),
		mcp.WithString("doc_id",
			mcp.Description("Stable document id; derived from title and text when omitted"),
		),
	)
}

func makeSearchHandler(svc documentService) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		res, err := svc.Query(ctx, rag.QueryRequest{
			Query:          query,
			TopChildren:    req.GetInt("top_children", 0),
			MaxParents:     req.GetInt("max_parents", 0),
			GenerateAnswer: req.GetBool("generate_answer", false),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatSearchResults(res)), nil
	}
}

func makeIngestHandler(svc documentService) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text := req.GetString("text", "")
		if strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}
		res, err := svc.IngestDocuments(ctx, []doctree.Document{{
			DocID: req.GetString("doc_id", ""),
			Title: req.GetString("title", ""),
			Text:  text,
		}})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("ingest failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Ingested %s: %d parent sections, %d child chunks.",
			res.DocIDs[0], res.ParentsCreated, res.ChildrenCreated)), nil
	}
}

func formatSearchResults(res rag.QueryResult) string {
	if len(res.Parents) == 0 {
		return fmt.Sprintf("No results found for query: %q", res.Query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for %q (%d sections from %d chunks)\n\n", res.Query, len(res.Parents), len(res.Children))
	for i, p := range res.Parents {
		title := p.Title
		if title == "" {
			title = p.ParentID
		}
		fmt.Fprintf(&sb, "### %d. %s\n\n**Parent:** `%s`  \n**Score:** %.4f\n\n%s\n\n", i+1, title, p.ParentID, p.Score, p.Text)
	}
	if res.Answer != nil {
		fmt.Fprintf(&sb, "## Answer\n\n%s\n", *res.Answer)
	}
	return sb.String()
}
