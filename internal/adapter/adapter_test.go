package adapter

import (
	"context"
	"errors"
	"testing"
)

func TestDecideToolPermission(t *testing.T) {
	allow := func(ctx context.Context, req ToolExecutionRequest) (PermissionDecision, error) {
		return PermissionDecision{Allow: true, Reason: "callback said yes"}, nil
	}
	deny := func(ctx context.Context, req ToolExecutionRequest) (PermissionDecision, error) {
		return PermissionDecision{Allow: false, Reason: "callback said no"}, nil
	}

	tests := []struct {
		name         string
		tool         string
		writeEnabled bool
		yoloMode     bool
		perm         PermissionCallback
		wantAllow    bool
	}{
		{"read tool always allowed", "read_file", false, false, nil, true},
		{"read tool allowed even with deny callback", "search_code", true, false, deny, true},
		{"write tool denied when writes disabled", "write_file", false, true, allow, false},
		{"write tool allowed in yolo mode", "edit_file", true, true, nil, true},
		{"write tool defers to callback", "delete_file", true, false, allow, true},
		{"write tool honors callback denial", "delete_file", true, false, deny, false},
		{"write tool denied without callback", "create_directory", true, false, nil, false},
		{"unknown tool allowed", "run_pytest", false, false, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ToolExecutionRequest{
				Call:         ToolCall{Name: tt.tool},
				WriteEnabled: tt.writeEnabled,
				YoloMode:     tt.yoloMode,
			}
			decision, err := DecideToolPermission(context.Background(), req, tt.perm)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision.Allow != tt.wantAllow {
				t.Fatalf("allow = %v, want %v (reason: %s)", decision.Allow, tt.wantAllow, decision.Reason)
			}
		})
	}
}

func TestDecideToolPermissionPropagatesCallbackError(t *testing.T) {
	broken := func(ctx context.Context, req ToolExecutionRequest) (PermissionDecision, error) {
		return PermissionDecision{}, errors.New("hook unreachable")
	}
	req := ToolExecutionRequest{Call: ToolCall{Name: "write_file"}, WriteEnabled: true}

	if _, err := DecideToolPermission(context.Background(), req, broken); err == nil {
		t.Fatalf("callback errors must propagate, not default to allow")
	}
}

func TestErrorKindsSatisfyErrorsAs(t *testing.T) {
	var wrapped error = &RateLimitError{Provider: "gemini", RetryAfter: 30}

	var rateLimit *RateLimitError
	if !errors.As(wrapped, &rateLimit) || rateLimit.RetryAfter != 30 {
		t.Fatalf("errors.As must recover the rate-limit hint")
	}

	var auth *AuthenticationError
	if errors.As(wrapped, &auth) {
		t.Fatalf("a rate-limit error is not an authentication error")
	}
}

func TestProviderErrorRetriableFlag(t *testing.T) {
	retriable := &ProviderError{Provider: "gemini", StatusCode: 503, Retriable: true, Detail: "overloaded"}
	terminal := &ProviderError{Provider: "gemini", StatusCode: 400, Retriable: false, Detail: "bad request"}

	if !retriable.Retriable || terminal.Retriable {
		t.Fatalf("retriable flag must survive construction")
	}
	if retriable.Error() == "" || terminal.Error() == "" {
		t.Fatalf("errors must render a message")
	}
}

func TestRateLimitErrorMessageIncludesHint(t *testing.T) {
	withHint := &RateLimitError{Provider: "gemini", RetryAfter: 12}
	withoutHint := &RateLimitError{Provider: "gemini"}

	if got := withHint.Error(); got != "gemini: rate limited, retry after 12s" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := withoutHint.Error(); got != "gemini: rate limited" {
		t.Fatalf("unexpected message: %q", got)
	}
}
