package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/snaplearn/snaplearn/internal/answer"
	"github.com/snaplearn/snaplearn/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Source answer.Source
}

// NewMCPServer creates an MCP server exposing answer generation and the
// saved history to agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"snaplearn",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("snaplearn — ask questions and keep a searchable local history of answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Generate an answer for a question, optionally saving it to history."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithBoolean("save", mcp.Description("Save the question/answer pair to history (default false)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("history_search",
			mcp.WithDescription("Search the saved history by substring over questions and answers. An empty query lists everything."),
			mcp.WithString("query", mcp.Description("Substring to search for")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpHistorySearch(deps),
	)

	s.AddTool(
		mcp.NewTool("history_save",
			mcp.WithDescription("Save a question/answer pair to the local history."),
			mcp.WithString("question", mcp.Description("The question text"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("The answer text"), mcp.Required()),
		),
		mcpHistorySave(deps),
	)

	s.AddTool(
		mcp.NewTool("history_delete",
			mcp.WithDescription("Delete a history record by id."),
			mcp.WithString("id", mcp.Description("Record id"), mcp.Required()),
		),
		mcpHistoryDelete(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"history://recent",
			"Recent Answers",
			mcp.WithResourceDescription("Last 10 saved question/answer pairs (questions truncated)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		text, err := deps.Source.Generate(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}

		if req.GetBool("save", false) {
			qa := storage.QuestionAnswer{
				ID:        uuid.New().String(),
				Question:  question,
				Answer:    text,
				CreatedAt: time.Now().UnixMilli(),
			}
			if err := deps.Store.Append(qa); err != nil {
				return mcpError(fmt.Sprintf("answer generated but save failed: %v", err)), nil
			}
		}

		return mcpText(text), nil
	}
}

func mcpHistorySearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		var (
			records []storage.QuestionAnswer
			err     error
		)
		if query == "" {
			records, err = deps.Store.ListAll()
		} else {
			records, err = deps.Store.Search(query)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(records) > limit {
			records = records[:limit]
		}
		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		type result struct {
			ID        string `json:"id"`
			Question  string `json:"question"`
			Answer    string `json:"answer"`
			CreatedAt int64  `json:"created_at"`
			Favorited bool   `json:"favorited"`
		}
		results := make([]result, len(records))
		for i, qa := range records {
			results[i] = result{
				ID:        qa.ID,
				Question:  qa.Question,
				Answer:    qa.Answer,
				CreatedAt: qa.CreatedAt,
				Favorited: qa.Favorited,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpHistorySave(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		answerText, err := req.RequireString("answer")
		if err != nil {
			return mcpError("answer is required"), nil
		}

		qa := storage.QuestionAnswer{
			ID:        uuid.New().String(),
			Question:  question,
			Answer:    answerText,
			CreatedAt: time.Now().UnixMilli(),
		}
		if err := deps.Store.Append(qa); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Saved record %s", qa.ID)), nil
	}
}

func mcpHistoryDelete(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		if err := deps.Store.DeleteByID(id); err != nil {
			return mcpError(fmt.Sprintf("failed to delete: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted record %s", id)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Store.ListAll()
		if err != nil {
			return nil, fmt.Errorf("failed to list history: %w", err)
		}
		if len(records) > 10 {
			records = records[:10]
		}

		type summary struct {
			ID        string `json:"id"`
			CreatedAt int64  `json:"created_at"`
			Question  string `json:"question"`
			Favorited bool   `json:"favorited"`
		}
		summaries := make([]summary, len(records))
		for i, qa := range records {
			question := qa.Question
			if utf8.RuneCountInString(question) > 200 {
				runes := []rune(question)
				question = string(runes[:200]) + "..."
			}
			summaries[i] = summary{
				ID:        qa.ID,
				CreatedAt: qa.CreatedAt,
				Question:  question,
				Favorited: qa.Favorited,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
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
