package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agenthub/agent-hub/pkg/models"
)

// TokenBudget is the per-tier and total budget enforced during greedy
// fill. Pinned items bypass every limit here.
type TokenBudget struct {
	Total         int
	MaxMandates    int // soft cap in tokens, 0 = no per-tier cap
	MaxGuardrails  int
}

// DefaultTokenBudget is the default progressive-disclosure injection budget.
var DefaultTokenBudget = TokenBudget{Total: 3500}

// BudgetUsage records how the token budget was spent, for debugging and
// for operator-facing metrics.
type BudgetUsage struct {
	MandatesTokens    int
	GuardrailsTokens  int
	ReferenceTokens   int
	TotalBudget       int
	Remaining         int
	HitLimit          bool
	MandatesInjected  int
	MandatesTotal     int
	GuardrailsInjected int
	GuardrailsTotal   int
	ReferenceInjected int
	ReferenceTotal    int
}

// ProgressiveContext is the formatted, budgeted injection result for one
// query.
type ProgressiveContext struct {
	Mandates    []InjectedItem
	Guardrails  []InjectedItem
	Reference   []InjectedItem
	TotalTokens int
	Budget      BudgetUsage
	LoadedUUIDs []string
}

// InjectedItem is one episode (or entity edge) selected for injection,
// with its citation-ready short id.
type InjectedItem struct {
	UUID    string
	ShortID string
	Content string
	Pinned  bool
	Tokens  int
}

// estimateTokens uses a chars/4 heuristic rather than a real tokenizer —
// good enough for budget accounting, not for billing.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func toInjectedItem(c Candidate, content string, pinned bool) InjectedItem {
	short := c.UUID
	if len(short) > 8 {
		short = short[:8]
	}
	return InjectedItem{UUID: c.UUID, ShortID: short, Content: content, Pinned: pinned, Tokens: estimateTokens(content)}
}

// fillTier greedily appends items (already score-ordered) until the
// remaining total budget or the tier's own soft cap is exhausted; pinned
// items are always appended regardless of either limit.
func fillTier(items []InjectedItem, tierCap int, remainingTotal *int, hitLimit *bool) []InjectedItem {
	out := make([]InjectedItem, 0, len(items))
	tierSpent := 0
	for _, it := range items {
		if it.Pinned {
			out = append(out, it)
			tierSpent += it.Tokens
			*remainingTotal -= it.Tokens
			continue
		}
		if tierCap > 0 && tierSpent+it.Tokens > tierCap {
			*hitLimit = true
			continue
		}
		if *remainingTotal <= 0 {
			*hitLimit = true
			continue
		}
		if it.Tokens > *remainingTotal {
			*hitLimit = true
			continue
		}
		out = append(out, it)
		tierSpent += it.Tokens
		*remainingTotal -= it.Tokens
	}
	return out
}

// contentLookup resolves a candidate UUID to its renderable content and
// pinned flag; satisfied by GraphBackend.
type contentLookup interface {
	EpisodeContent(ctx context.Context, uuid string) (content string, pinned bool, triggerTaskTypes []string, err error)
}

// BuildProgressiveContext runs the full the algorithm: score, select,
// budget-fill per tier in mandates -> guardrails -> reference order, fold
// in task-type-triggered references, and format.
func BuildProgressiveContext(ctx context.Context, lookup contentLookup, mandates, guardrails, references []Candidate, cfg VariantConfig, tagMatches map[string]bool, budget TokenBudget, taskType string, now time.Time) (ProgressiveContext, error) {
	if budget.Total == 0 {
		budget = DefaultTokenBudget
	}

	selMandates, selGuardrails, selReferences, _ := SelectForContext(mandates, guardrails, references, cfg, tagMatches, now)

	toItems := func(cands []Candidate) ([]InjectedItem, error) {
		items := make([]InjectedItem, 0, len(cands))
		for _, c := range cands {
			content, pinned, triggerTypes, err := lookup.EpisodeContent(ctx, c.UUID)
			if err != nil {
				return nil, fmt.Errorf("lookup episode %s: %w", c.UUID, err)
			}
			if !pinned && taskType != "" && containsString(triggerTypes, taskType) {
				pinned = true
			}
			items = append(items, toInjectedItem(c, content, pinned))
		}
		return items, nil
	}

	mandateItems, err := toItems(selMandates)
	if err != nil {
		return ProgressiveContext{}, err
	}
	guardrailItems, err := toItems(selGuardrails)
	if err != nil {
		return ProgressiveContext{}, err
	}
	referenceItems, err := toItems(selReferences)
	if err != nil {
		return ProgressiveContext{}, err
	}

	remaining := budget.Total
	hitLimit := false

	filledMandates := fillTier(mandateItems, budget.MaxMandates, &remaining, &hitLimit)
	filledGuardrails := fillTier(guardrailItems, budget.MaxGuardrails, &remaining, &hitLimit)
	filledReference := fillTier(referenceItems, 0, &remaining, &hitLimit)

	sumTokens := func(items []InjectedItem) int {
		total := 0
		for _, it := range items {
			total += it.Tokens
		}
		return total
	}

	mandatesTokens := sumTokens(filledMandates)
	guardrailsTokens := sumTokens(filledGuardrails)
	referenceTokens := sumTokens(filledReference)

	usage := BudgetUsage{
		MandatesTokens:     mandatesTokens,
		GuardrailsTokens:   guardrailsTokens,
		ReferenceTokens:    referenceTokens,
		TotalBudget:        budget.Total,
		Remaining:          remaining,
		HitLimit:           hitLimit,
		MandatesInjected:   len(filledMandates),
		MandatesTotal:      len(mandateItems),
		GuardrailsInjected: len(filledGuardrails),
		GuardrailsTotal:    len(guardrailItems),
		ReferenceInjected:  len(filledReference),
		ReferenceTotal:     len(referenceItems),
	}

	loaded := make([]string, 0, len(filledMandates)+len(filledGuardrails)+len(filledReference))
	for _, it := range filledMandates {
		loaded = append(loaded, it.UUID)
	}
	for _, it := range filledGuardrails {
		loaded = append(loaded, it.UUID)
	}
	for _, it := range filledReference {
		loaded = append(loaded, it.UUID)
	}

	return ProgressiveContext{
		Mandates:    filledMandates,
		Guardrails:  filledGuardrails,
		Reference:   filledReference,
		TotalTokens: mandatesTokens + guardrailsTokens + referenceTokens,
		Budget:      usage,
		LoadedUUIDs: loaded,
	}, nil
}

// Format renders the three-block layout with recency-biased placement:
// mandates, then guardrails, then reference, ending with the citation
// instruction, matching the authoritative formatting.
func (pc ProgressiveContext) Format() string {
	if len(pc.Mandates) == 0 && len(pc.Guardrails) == 0 && len(pc.Reference) == 0 {
		return ""
	}

	var b strings.Builder

	if len(pc.Mandates) > 0 {
		b.WriteString("## Mandates\n")
		for _, it := range pc.Mandates {
			fmt.Fprintf(&b, "[M:%s] %s\n", it.ShortID, it.Content)
		}
		b.WriteString("\n")
	}

	if len(pc.Guardrails) > 0 {
		b.WriteString("## Guardrails\n")
		for _, it := range pc.Guardrails {
			fmt.Fprintf(&b, "[G:%s] %s\n", it.ShortID, it.Content)
		}
		b.WriteString("\n")
	}

	if len(pc.Reference) > 0 {
		b.WriteString("## Reference\n")
		for _, it := range pc.Reference {
			fmt.Fprintf(&b, "%s\n", it.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Cite any rule you apply using [M:id] or [G:id].`)
	return b.String()
}

// AppendToSystemMessage places the formatted context block at the end of
// the system message (or creates one) so it sits closest to the user's
// turn, exploiting the model's recency bias — matching the append, not
// prepend, behavior.
func AppendToSystemMessage(systemMessage, contextBlock string) string {
	if contextBlock == "" {
		return systemMessage
	}
	if systemMessage == "" {
		return contextBlock
	}
	return systemMessage + "\n\n" + contextBlock
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// EntitiesFromEdges renders EntityEdge facts as reference-tier content for
// callers that search the entity graph rather than episodes directly.
func EntitiesFromEdges(edges []models.EntityEdge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Fact)
	}
	return out
}
