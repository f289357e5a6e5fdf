package agentrunner

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthub/agent-hub/internal/adapter"
)

// runGeminiWithTools drives Gemini's external-tool path: each tool_call
// Gemini returns is executed by the caller-supplied ToolHandler, and the
// results are folded back in as a synthetic user turn 
func (r *Runner) runGeminiWithTools(ctx context.Context, messages []adapter.Message, cfg AgentConfig, result AgentResult, p adapter.Provider, progress ProgressCallback) AgentResult {
	if cfg.ToolHandler == nil {
		result.Status, result.Error = "error", "tool_handler required for gemini with tools"
		return result
	}

	citedUUIDs := map[string]bool{}
	groupID := resolveGroupID(cfg)

	turn := 0
	for turn < cfg.maxTurns() {
		turn++
		result.Turns = turn
		emit(&result, AgentProgress{Turn: turn, Status: "running", Message: "sending to gemini"}, progress)

		if turn == 1 && cfg.UseMemory {
			systemAddition, loadedUUIDs, gid := r.firstTurnContext(ctx, cfg, messages[len(messages)-1].Content)
			groupID = gid
			result.MemoryUUIDs = loadedUUIDs
			if systemAddition != "" {
				messages = augmentSystem(messages, systemAddition)
			}
		}

		completion, err := p.Complete(ctx, adapter.CompletionRequest{
			Messages: messages, Model: cfg.Model, Temperature: cfg.Temperature, Tools: cfg.Tools,
		})
		if err != nil {
			result.Status, result.Error, result.CitedUUIDs = "error", err.Error(), keys(citedUUIDs)
			return result
		}

		result.InputTokens += completion.InputTokens
		result.OutputTokens += completion.OutputTokens

		for _, u := range r.trackCitations(ctx, completion.Content, groupID) {
			citedUUIDs[u] = true
		}

		if len(completion.ToolCalls) == 0 {
			result.Status, result.Content, result.CitedUUIDs = "success", completion.Content, keys(citedUUIDs)
			emit(&result, AgentProgress{Turn: turn, Status: "complete", Message: "agent completed task"}, progress)
			return result
		}

		result.ToolCallsCount += len(completion.ToolCalls)
		toolResults := r.executeTools(ctx, completion.ToolCalls, cfg)
		messages = append(messages, adapter.Message{Role: "assistant", Content: completion.Content})
		messages = append(messages, adapter.Message{Role: "user", Content: formatToolResults(toolResults)})

		emit(&result, AgentProgress{
			Turn: turn, Status: "tool_use", Message: fmt.Sprintf("executed %d tool(s)", len(toolResults)),
			ToolCalls: completion.ToolCalls, ToolResults: toolResults,
		}, progress)
	}

	result.CitedUUIDs = keys(citedUUIDs)
	return result
}

func (r *Runner) executeTools(ctx context.Context, calls []adapter.ToolCall, cfg AgentConfig) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		decision, err := adapter.DecideToolPermission(ctx, adapter.ToolExecutionRequest{
			Call: call, WriteEnabled: cfg.WriteEnabled, YoloMode: cfg.YoloMode,
		}, cfg.PermissionCallback)
		if err != nil {
			decision = adapter.PermissionDecision{Allow: false, Reason: err.Error()}
		}
		if !decision.Allow {
			results = append(results, ToolResult{ToolUseID: call.ID, Content: fmt.Sprintf("permission denied: %s", decision.Reason), IsError: true})
			continue
		}

		output, err := cfg.ToolHandler.Execute(ctx, call)
		if err != nil {
			results = append(results, ToolResult{ToolUseID: call.ID, Content: err.Error(), IsError: true})
		} else {
			results = append(results, ToolResult{ToolUseID: call.ID, Content: output})
		}
		if cfg.AfterToolCallback != nil {
			cfg.AfterToolCallback(ctx, call.Name, call.Input, output)
		}
	}
	return results
}

func formatToolResults(results []ToolResult) string {
	var b strings.Builder
	b.WriteString("Tool execution results:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "%s: %s\n", r.ToolUseID, r.Content)
	}
	return b.String()
}
