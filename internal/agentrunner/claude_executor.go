package agentrunner

import (
	"context"

	"github.com/agenthub/agent-hub/internal/adapter"
)

// runClaudeTurnLoop drives every Claude call: first-turn memory injection,
// continuation across turns on tool_use/unterminated finishes, and
// citation tracking on every turn's content. Code execution
// (EnableCodeExecution) only changes whether the provider's sandbox runs
// tools internally — the loop shape is the same with or without it.
func (r *Runner) runClaudeTurnLoop(ctx context.Context, messages []adapter.Message, cfg AgentConfig, result AgentResult, p adapter.Provider, progress ProgressCallback) AgentResult {
	containerID := cfg.ContainerID
	citedUUIDs := map[string]bool{}
	groupID := resolveGroupID(cfg)

	turn := 0
	for turn < cfg.maxTurns() {
		turn++
		result.Turns = turn
		emit(&result, AgentProgress{Turn: turn, Status: "running", Message: "sending to claude"}, progress)

		var completion adapter.CompletionResult
		var err error

		if turn == 1 && cfg.UseMemory {
			systemAddition, loadedUUIDs, gid := r.firstTurnContext(ctx, cfg, messages[len(messages)-1].Content)
			groupID = gid
			result.MemoryUUIDs = loadedUUIDs
			if systemAddition != "" {
				messages = augmentSystem(messages, systemAddition)
			}
		}

		completion, err = p.Complete(ctx, adapter.CompletionRequest{
			Messages: messages, Model: cfg.Model, Temperature: cfg.Temperature, ThinkingLevel: cfg.ThinkingLevel,
			EnableProgrammaticTools: cfg.EnableCodeExecution, ContainerID: containerID, WorkingDir: cfg.WorkingDir,
		})
		if err != nil {
			result.Status, result.Error = "error", err.Error()
			result.CitedUUIDs = keys(citedUUIDs)
			return result
		}

		result.InputTokens += completion.InputTokens
		result.OutputTokens += completion.OutputTokens
		result.ThinkingTokens += completion.ThinkingTokens
		if completion.Container != nil {
			containerID = completion.Container.ID
			result.ContainerID = containerID
		}

		for _, u := range r.trackCitations(ctx, completion.Content, groupID) {
			citedUUIDs[u] = true
		}

		switch completion.FinishReason {
		case adapter.FinishEndTurn:
			result.Status, result.Content, result.CitedUUIDs = "success", completion.Content, keys(citedUUIDs)
			emit(&result, AgentProgress{Turn: turn, Status: "complete", Message: "agent completed task"}, progress)
			return result

		case adapter.FinishToolUse:
			result.ToolCallsCount += len(completion.ToolCalls)
			messages = append(messages, adapter.Message{Role: "assistant", Content: completion.Content})
			emit(&result, AgentProgress{Turn: turn, Status: "tool_use", Message: "executed tool(s)", ToolCalls: completion.ToolCalls}, progress)
			messages = append(messages, adapter.Message{Role: "user", Content: "Continue based on the tool results."})

		case adapter.FinishMaxTokens:
			result.Status, result.Error, result.Content, result.CitedUUIDs = "error", "response truncated due to max_tokens", completion.Content, keys(citedUUIDs)
			return result

		default:
			result.Content = completion.Content
			if turn == cfg.maxTurns() {
				result.Status, result.Error, result.CitedUUIDs = "max_turns", "reached maximum turns", keys(citedUUIDs)
				return result
			}
			messages = append(messages, adapter.Message{Role: "assistant", Content: completion.Content})
			messages = append(messages, adapter.Message{Role: "user", Content: "Please continue."})
		}
	}

	result.CitedUUIDs = keys(citedUUIDs)
	return result
}

func augmentSystem(messages []adapter.Message, addition string) []adapter.Message {
	for i, m := range messages {
		if m.Role == "system" {
			messages[i].Content = m.Content + "\n\n" + addition
			return messages
		}
	}
	return append([]adapter.Message{{Role: "system", Content: addition}}, messages...)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
