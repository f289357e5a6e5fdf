package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider drives Gemini over the plain REST API with an API key;
// unlike Claude's OAuth CLI mode it needs no local binary and has no
// provider-side sandbox, so every tool call it surfaces must be executed
// by a caller-supplied ToolHandler (the "external-tool path").
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiProvider constructs a provider against the Gemini API.
func NewGeminiProvider(ctx context.Context, apiKey, defaultModel string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, &AuthenticationError{Provider: "gemini", Detail: "API key is required"}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Detail: err.Error(), Retriable: true}
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GeminiProvider{client: client, defaultModel: defaultModel}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

// convertMessages splits out any system-role messages into the config's
// system instruction (handled separately in buildConfig) and converts the
// remaining turns into Gemini's Content/Part shape.
func convertGeminiMessages(messages []Message) (system string, contents []*genai.Content) {
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return system, contents
}

func convertGeminiTools(tools []ToolDef) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromMap(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// schemaFromMap degrades a generic JSON-schema map into genai's typed
// Schema for the common object/properties shape tool definitions use;
// unrecognized shapes pass through as an untyped object schema so a
// malformed tool definition doesn't crash request construction.
func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var schema genai.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	return &schema
}

func (p *GeminiProvider) buildConfig(req CompletionRequest) *genai.GenerateContentConfig {
	system, _ := convertGeminiMessages(req.Messages)
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if len(req.Tools) > 0 {
		cfg.Tools = convertGeminiTools(req.Tools)
	}
	if req.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = schemaFromMap(req.ResponseSchema)
	}
	return cfg
}

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	_, contents := convertGeminiMessages(req.Messages)
	model := p.model(req.Model)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, p.buildConfig(req))
	if err != nil {
		return CompletionResult{}, wrapGeminiError(err)
	}

	var content strings.Builder
	var toolCalls []ToolCall
	finish := FinishEndTurn
	var inputTokens, outputTokens int

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				content.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, ToolCall{Name: part.FunctionCall.Name, Input: part.FunctionCall.Args})
			}
		}
		if cand.FinishReason == genai.FinishReasonMaxTokens {
			finish = FinishMaxTokens
		}
	}
	if len(toolCalls) > 0 {
		finish = FinishToolUse
	}
	if resp.UsageMetadata != nil {
		inputTokens = int(resp.UsageMetadata.PromptTokenCount)
		outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	resultText := content.String()
	if req.ResponseSchema != nil {
		resultText = ExtractJSON(resultText)
	}

	return CompletionResult{
		Content: resultText, Model: model, Provider: "gemini",
		InputTokens: inputTokens, OutputTokens: outputTokens,
		FinishReason: finish, ToolCalls: toolCalls,
	}, nil
}

func (p *GeminiProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	out := make(chan StreamEvent, 16)
	_, contents := convertGeminiMessages(req.Messages)
	model := p.model(req.Model)
	cfg := p.buildConfig(req)

	go func() {
		defer close(out)
		var content strings.Builder
		var toolCalls []ToolCall
		var inputTokens, outputTokens int

		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if ctx.Err() != nil {
				out <- StreamEvent{Type: EventError, Err: ctx.Err()}
				return
			}
			if err != nil {
				out <- StreamEvent{Type: EventError, Err: wrapGeminiError(err)}
				return
			}
			if resp == nil {
				continue
			}
			if resp.UsageMetadata != nil {
				inputTokens = int(resp.UsageMetadata.PromptTokenCount)
				outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						content.WriteString(part.Text)
						out <- StreamEvent{Type: EventContent, Delta: part.Text}
					}
					if part.FunctionCall != nil {
						tc := ToolCall{Name: part.FunctionCall.Name, Input: part.FunctionCall.Args}
						toolCalls = append(toolCalls, tc)
						out <- StreamEvent{Type: EventToolCall, ToolCall: &tc}
					}
				}
			}
		}

		finish := FinishEndTurn
		if len(toolCalls) > 0 {
			finish = FinishToolUse
		}
		out <- StreamEvent{Type: EventDone, Result: &CompletionResult{
			Content: content.String(), Model: model, Provider: "gemini",
			InputTokens: inputTokens, OutputTokens: outputTokens,
			FinishReason: finish, ToolCalls: toolCalls,
		}}
	}()

	return out, nil
}

// CompleteWithTools runs the single-call-then-dispatch loop external-tool
// providers need: issue a completion, and for every function call Gemini
// returned, gate it through DecideToolPermission and hand it to the
// caller's ToolHandler via the AfterToolCallback-observed execution the
// agent runner performs between turns — this method only emits the
// parsed tool calls, since Gemini's tools run on the caller's process, not
// inside the provider.
func (p *GeminiProvider) CompleteWithTools(ctx context.Context, req CompletionRequest, writeEnabled, yoloMode bool, perm PermissionCallback, after AfterToolCallback) (<-chan ProviderMessage, <-chan error) {
	msgs := make(chan ProviderMessage, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(msgs)
		defer close(errs)

		result, err := p.Complete(ctx, req)
		if err != nil {
			errs <- err
			return
		}

		for _, tc := range result.ToolCalls {
			decision, decErr := DecideToolPermission(ctx, ToolExecutionRequest{Call: tc, WriteEnabled: writeEnabled, YoloMode: yoloMode}, perm)
			if decErr != nil {
				decision = PermissionDecision{Allow: false, Reason: decErr.Error()}
			}
			if after != nil {
				after(ctx, tc.Name, tc.Input, fmt.Sprintf("allowed=%v reason=%s", decision.Allow, decision.Reason))
			}
		}

		msgs <- ProviderMessage{Content: result.Content, ToolCalls: result.ToolCalls, FinishReason: result.FinishReason}
	}()

	return msgs, errs
}

func wrapGeminiError(err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "resource_exhausted"):
		return &RateLimitError{Provider: "gemini"}
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") || strings.Contains(lower, "unauthenticated") || strings.Contains(lower, "permission_denied"):
		return &AuthenticationError{Provider: "gemini", Detail: msg}
	default:
		retriable := strings.Contains(lower, "500") || strings.Contains(lower, "503") || strings.Contains(lower, "timeout") || strings.Contains(lower, "unavailable")
		return &ProviderError{Provider: "gemini", Detail: msg, Retriable: retriable}
	}
}
