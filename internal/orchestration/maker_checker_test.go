package orchestration

import "testing"

func TestParseCheckerResponseApproved(t *testing.T) {
	content := `DECISION: APPROVED
CONFIDENCE: 0.9
ISSUES:
SUGGESTIONS:
- consider adding a test`

	verdict := parseCheckerResponse(content)
	if !verdict.Approved {
		t.Fatalf("expected approved verdict")
	}
	if verdict.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", verdict.Confidence)
	}
	if len(verdict.Suggestions) != 1 || verdict.Suggestions[0] != "consider adding a test" {
		t.Fatalf("expected one suggestion, got %v", verdict.Suggestions)
	}
}

func TestParseCheckerResponseNeedsRevision(t *testing.T) {
	content := `DECISION: NEEDS_REVISION
CONFIDENCE: 0.3
ISSUES:
- missing error handling
- no input validation
SUGGESTIONS:
- add a nil check`

	verdict := parseCheckerResponse(content)
	if verdict.Approved {
		t.Fatalf("expected a non-approved verdict")
	}
	if len(verdict.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %v", verdict.Issues)
	}
}

func TestParseCheckerResponseMalformedDefaultsToNeutralConfidence(t *testing.T) {
	verdict := parseCheckerResponse("not a structured response at all")
	if verdict.Approved {
		t.Fatalf("expected malformed content to default to not approved")
	}
	if verdict.Confidence != 0.5 {
		t.Fatalf("expected default neutral confidence 0.5, got %v", verdict.Confidence)
	}
}

func TestClamp01(t *testing.T) {
	cases := map[float64]float64{-1: 0, 0.5: 0.5, 2: 1}
	for in, want := range cases {
		if got := clamp01(in); got != want {
			t.Fatalf("clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestNewCodeReviewPatternDefaults(t *testing.T) {
	mgr := NewSubagentManager(ProviderSet{})
	mc := NewCodeReviewPattern(mgr, "", "")

	if mc.makerConfig.Provider != "claude" {
		t.Fatalf("expected default maker provider 'claude', got %q", mc.makerConfig.Provider)
	}
	if mc.checkerConfig.Provider != "gemini" {
		t.Fatalf("expected default checker provider 'gemini', got %q", mc.checkerConfig.Provider)
	}
}

func TestNewMakerCheckerInstallsDefaultCheckerPrompt(t *testing.T) {
	mgr := NewSubagentManager(ProviderSet{})
	mc := NewMakerChecker(mgr, SubagentConfig{Provider: "claude"}, SubagentConfig{Provider: "gemini"}, 0)

	if mc.maxIterations != DefaultMaxIterations {
		t.Fatalf("expected default max iterations %d, got %d", DefaultMaxIterations, mc.maxIterations)
	}
	if mc.checkerConfig.SystemPrompt != defaultCheckerPrompt {
		t.Fatalf("expected the default checker prompt to be installed")
	}
}
