package orchestration

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/agenthub/agent-hub/internal/adapter"
)

// DefaultMaxIterations bounds how many maker/checker rounds Verify runs
// before returning whatever it has.
const DefaultMaxIterations = 3

const defaultCheckerPrompt = `You are a verification agent. Your role is to:
1. Review the output provided by another agent
2. Identify any issues, errors, or problems
3. Provide an approval decision (APPROVED or NEEDS_REVISION)
4. List specific issues if not approved
5. Suggest improvements if applicable

Format your response as:
DECISION: [APPROVED or NEEDS_REVISION]
CONFIDENCE: [0.0-1.0]
ISSUES:
- [issue 1]
SUGGESTIONS:
- [suggestion 1]

Be thorough but fair. Only reject if there are genuine problems.`

// CheckerVerdict is the structured decision parsed out of the checker's
// free-text response.
type CheckerVerdict struct {
	Approved    bool
	Confidence  float64
	Issues      []string
	Suggestions []string
}

// parseCheckerResponse parses the fixed DECISION/CONFIDENCE/ISSUES/
// SUGGESTIONS block format line by line; an unrecognized line is ignored
// rather than failing the whole parse.
func parseCheckerResponse(content string) CheckerVerdict {
	verdict := CheckerVerdict{Confidence: 0.5}
	var section string

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "DECISION:"):
			decision := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, "DECISION:")))
			verdict.Approved = decision == "APPROVED"
			section = ""
		case strings.HasPrefix(line, "CONFIDENCE:"):
			if conf, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:")), 64); err == nil {
				verdict.Confidence = clamp01(conf)
			}
			section = ""
		case strings.HasPrefix(line, "ISSUES:"):
			section = "issues"
		case strings.HasPrefix(line, "SUGGESTIONS:"):
			section = "suggestions"
		case strings.HasPrefix(line, "- ") && section != "":
			item := strings.TrimSpace(strings.TrimPrefix(line, "- "))
			if item == "" {
				continue
			}
			if section == "issues" {
				verdict.Issues = append(verdict.Issues, item)
			} else {
				verdict.Suggestions = append(verdict.Suggestions, item)
			}
		}
	}
	return verdict
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// VerificationResult is the outcome of one Verify call.
type VerificationResult struct {
	MakerResult   SubagentResult
	CheckerResult SubagentResult
	Approved      bool
	Issues        []string
	Suggestions   []string
	Confidence    float64
	FinalOutput   string
	Iterations    int
}

// MakerChecker runs a generator (maker) subagent, then a verifier
// (checker) subagent, revising and retrying on NEEDS_REVISION up to
// max_iterations 
type MakerChecker struct {
	manager        *SubagentManager
	makerConfig    SubagentConfig
	checkerConfig  SubagentConfig
	maxIterations  int
}

// NewMakerChecker constructs a verifier; if checkerConfig has no system
// prompt, the default verification prompt is installed.
func NewMakerChecker(manager *SubagentManager, makerConfig, checkerConfig SubagentConfig, maxIterations int) *MakerChecker {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if checkerConfig.SystemPrompt == "" {
		checkerConfig.SystemPrompt = defaultCheckerPrompt
	}
	return &MakerChecker{manager: manager, makerConfig: makerConfig, checkerConfig: checkerConfig, maxIterations: maxIterations}
}

// NewCodeReviewPattern is a specialized maker-checker preset: a code
// generator (maker) and a code reviewer (checker), using different
// providers by default for diverse perspectives.
func NewCodeReviewPattern(manager *SubagentManager, makerProvider, checkerProvider string) *MakerChecker {
	if makerProvider == "" {
		makerProvider = "claude"
	}
	if checkerProvider == "" {
		checkerProvider = "gemini"
	}
	maker := SubagentConfig{
		Name:     "code_generator",
		Provider: makerProvider,
		SystemPrompt: "You are an expert programmer. Generate clean, well-documented code.\n" +
			"Follow best practices and include error handling where appropriate.",
		MaxTokens: 4096, Temperature: 0.7,
	}
	checker := SubagentConfig{
		Name:     "code_reviewer",
		Provider: checkerProvider,
		SystemPrompt: "You are a senior code reviewer. Review code for:\n" +
			"1. Correctness - Does it solve the problem?\n" +
			"2. Security - Any vulnerabilities?\n" +
			"3. Performance - Any obvious inefficiencies?\n" +
			"4. Readability - Is it clear and maintainable?\n" +
			"5. Best practices - Does it follow conventions?\n\n" + defaultCheckerPrompt,
		MaxTokens: 2048, Temperature: 0.3,
	}
	return NewMakerChecker(manager, maker, checker, 2)
}

// Verify runs the maker-checker loop to completion or exhaustion.
func (mc *MakerChecker) Verify(ctx context.Context, task string, contextMessages []adapter.Message, traceID string) (VerificationResult, error) {
	var maker, checker SubagentResult
	var verdict CheckerVerdict
	currentTask := task
	iterations := 0

	for iterations < mc.maxIterations {
		iterations++

		maker = mc.manager.Spawn(ctx, currentTask, mc.makerConfig, contextMessages, "", traceID)
		if maker.Status != SubagentCompleted {
			break
		}

		checkerTask := fmt.Sprintf(
			"Review the following output from another agent:\n\nTASK: %s\n\nOUTPUT:\n%s\n\nVerify the output is correct, complete, and addresses the task.",
			task, maker.Content,
		)
		checker = mc.manager.Spawn(ctx, checkerTask, mc.checkerConfig, nil, "", traceID)
		if checker.Status != SubagentCompleted {
			break
		}

		verdict = parseCheckerResponse(checker.Content)
		if verdict.Approved {
			break
		}

		if iterations < mc.maxIterations {
			currentTask = fmt.Sprintf(
				"Your previous attempt was not approved.\n\nORIGINAL TASK: %s\n\nYOUR PREVIOUS OUTPUT:\n%s\n\nISSUES IDENTIFIED:\n%s\n\nSUGGESTIONS:\n%s\n\nPlease revise your output addressing the issues above.",
				task, maker.Content, strings.Join(verdict.Issues, "\n"), strings.Join(verdict.Suggestions, "\n"),
			)
		}
	}

	if maker.SubagentID == "" {
		return VerificationResult{}, fmt.Errorf("orchestration: maker failed to produce any output")
	}
	if checker.SubagentID == "" {
		checker = SubagentResult{SubagentID: "none", Name: mc.checkerConfig.Name, Content: "checker did not run", Status: SubagentError, Provider: mc.checkerConfig.Provider, Model: mc.checkerConfig.Model}
	}

	return VerificationResult{
		MakerResult: maker, CheckerResult: checker, Approved: verdict.Approved,
		Issues: verdict.Issues, Suggestions: verdict.Suggestions, Confidence: verdict.Confidence,
		FinalOutput: maker.Content, Iterations: iterations,
	}, nil
}
