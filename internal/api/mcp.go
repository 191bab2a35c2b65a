package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Assistant *pipeline.Assistant
	Sessions  *SessionStore
}

// NewMCPServer creates an MCP server exposing the command pipeline as
// tools, so agent frontends can drive map operations conversationally.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"mapspeak",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mapspeak — natural-language interface for GIS operations with safety checks and rollback."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("interpret_command",
			mcp.WithDescription("Interpret a natural-language GIS command without executing it. Returns the parsed operation, parameters, confidence, and any validation issues."),
			mcp.WithString("text", mcp.Description("The command to interpret"), mcp.Required()),
		),
		mcpInterpretCommand(deps),
	)

	s.AddTool(
		mcp.NewTool("execute_command",
			mcp.WithDescription("Interpret and execute a natural-language GIS command. Risky commands are blocked with alternative suggestions."),
			mcp.WithString("text", mcp.Description("The command to run"), mcp.Required()),
		),
		mcpExecuteCommand(deps),
	)

	s.AddTool(
		mcp.NewTool("rollback_last",
			mcp.WithDescription("Undo the most recent operation by restoring the latest state snapshot."),
		),
		mcpRollbackLast(deps),
	)

	s.AddTool(
		mcp.NewTool("list_transactions",
			mcp.WithDescription("List recent operations from the transaction log, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of transactions (default 10)")),
		),
		mcpListTransactions(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"session://current",
			"Current Session",
			mcp.WithResourceDescription("The active map session: layers, CRS, extent, scale"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"errors://stats",
			"Error Statistics",
			mcp.WithResourceDescription("Aggregated error history and the operation most often preceding failures"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceErrorStats(deps),
	)

	return s
}

func mcpInterpretCommand(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		var result *pipeline.Result
		deps.Sessions.With(func(session *gis.Session) {
			result = deps.Assistant.Interpret(ctx, text, session)
		})

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpExecuteCommand(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		var result *pipeline.Result
		deps.Sessions.With(func(session *gis.Session) {
			result = deps.Assistant.ProcessCommand(ctx, text, session)
		})

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		if result.Blocked || !result.Success {
			res := mcpText(string(b))
			res.IsError = true
			return res, nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRollbackLast(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var (
			result *pipeline.Result
			err    error
		)
		deps.Sessions.With(func(session *gis.Session) {
			result, err = deps.Assistant.RollbackLast(session)
		})
		if err != nil {
			return mcpError(fmt.Sprintf("rollback failed: %v", err)), nil
		}
		return mcpText(result.Message), nil
	}
}

func mcpListTransactions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		txs := deps.Assistant.RecentTransactions(limit)
		if len(txs) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(txs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal transactions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		session := deps.Sessions.Snapshot()

		b, err := json.Marshal(session)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceErrorStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats := deps.Assistant.ErrorStatistics()

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal statistics: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
