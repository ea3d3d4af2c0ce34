package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/snaplearn/snaplearn/internal/storage"
)

func newTestMCPDeps(t *testing.T, src *scriptedSource) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if src == nil {
		src = &scriptedSource{}
	}
	return MCPDeps{Store: store, Source: src}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func seedRecord(t *testing.T, store *storage.Store, question, answerText string) string {
	t.Helper()
	qa := storage.QuestionAnswer{
		ID:        uuid.New().String(),
		Question:  question,
		Answer:    answerText,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := store.Append(qa); err != nil {
		t.Fatalf("seeding record: %v", err)
	}
	return qa.ID
}

func TestMCPTool_Ask(t *testing.T) {
	src := &scriptedSource{answers: map[string]string{"What is gravity?": "A fundamental force."}}
	deps, store := newTestMCPDeps(t, src)
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "What is gravity?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "A fundamental force." {
		t.Errorf("answer = %q", got)
	}

	// Without save, nothing is persisted.
	records, err := store.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestMCPTool_AskWithSave(t *testing.T) {
	src := &scriptedSource{answers: map[string]string{"q": "a"}}
	deps, store := newTestMCPDeps(t, src)
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "q",
		"save":     true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	records, err := store.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(records) != 1 || records[0].Question != "q" || records[0].Answer != "a" {
		t.Fatalf("records = %+v", records)
	}
}

func TestMCPTool_AskMissingQuestion(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing question")
	}
}

func TestMCPTool_HistorySearch(t *testing.T) {
	deps, store := newTestMCPDeps(t, nil)
	seedRecord(t, store, "What is Kotlin?", "A JVM language.")
	seedRecord(t, store, "What is Go?", "A compiled language.")
	handler := mcpHistorySearch(deps)

	result, err := handler(context.Background(), makeCallToolRequest("history_search", map[string]interface{}{
		"query": "kotlin",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var results []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &results); err != nil {
		t.Fatalf("decoding results: %v", err)
	}
	if len(results) != 1 || results[0]["question"] != "What is Kotlin?" {
		t.Fatalf("results = %+v", results)
	}
}

func TestMCPTool_HistorySearchEmpty(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)
	handler := mcpHistorySearch(deps)

	result, err := handler(context.Background(), makeCallToolRequest("history_search", map[string]interface{}{
		"query": "nothing here",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("empty search = %q, want []", got)
	}
}

func TestMCPTool_HistorySave(t *testing.T) {
	deps, store := newTestMCPDeps(t, nil)
	handler := mcpHistorySave(deps)

	result, err := handler(context.Background(), makeCallToolRequest("history_save", map[string]interface{}{
		"question": "What is ATP?",
		"answer":   "Adenosine triphosphate.",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	records, err := store.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(records) != 1 || records[0].Question != "What is ATP?" {
		t.Fatalf("records = %+v", records)
	}
}

func TestMCPTool_HistoryDelete(t *testing.T) {
	deps, store := newTestMCPDeps(t, nil)
	id := seedRecord(t, store, "q", "a")
	handler := mcpHistoryDelete(deps)

	result, err := handler(context.Background(), makeCallToolRequest("history_delete", map[string]interface{}{
		"id": id,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	if _, err := store.GetByID(id); err == nil {
		t.Error("record still present after delete")
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, store := newTestMCPDeps(t, nil)
	seedRecord(t, store, "q1", "a1")
	handler := mcpResourceRecent(deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("history://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var summaries []map[string]any
	if err := json.Unmarshal([]byte(text.Text), &summaries); err != nil {
		t.Fatalf("decoding summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0]["question"] != "q1" {
		t.Fatalf("summaries = %+v", summaries)
	}
}
