package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// CitationType distinguishes a mandate citation from a guardrail citation.
type CitationType string

const (
	CitationMandate   CitationType = "M"
	CitationGuardrail CitationType = "G"
)

// citationPattern matches [M:abc12345] or [G:abc12345]; the 8 hex
// characters are the leading prefix of a full episode UUID.
var citationPattern = regexp.MustCompile(`\[([MG]):([a-fA-F0-9]{8})\]`)

// Citation is one parsed reference to a stored rule.
type Citation struct {
	Type       CitationType
	UUIDPrefix string
}

// ParseResult is the full outcome of scanning a response for citations.
type ParseResult struct {
	Citations      []Citation
	MandateCount   int
	GuardrailCount int
	UniqueUUIDs    []string
}

// ParseCitations scans responseText for every [M:xxxxxxxx]/[G:xxxxxxxx]
// citation, case-insensitively, normalizing the prefix to lowercase.
func ParseCitations(responseText string) ParseResult {
	if responseText == "" {
		return ParseResult{}
	}

	var citations []Citation
	seen := make(map[string]bool)
	result := ParseResult{}

	for _, m := range citationPattern.FindAllStringSubmatch(responseText, -1) {
		ctype := CitationType(strings.ToUpper(m[1]))
		prefix := strings.ToLower(m[2])

		citations = append(citations, Citation{Type: ctype, UUIDPrefix: prefix})
		if !seen[prefix] {
			seen[prefix] = true
			result.UniqueUUIDs = append(result.UniqueUUIDs, prefix)
		}

		switch ctype {
		case CitationMandate:
			result.MandateCount++
		case CitationGuardrail:
			result.GuardrailCount++
		}
	}

	result.Citations = citations
	return result
}

// ExtractUUIDPrefixes is a convenience wrapper returning just the unique
// prefixes found, without per-citation type detail.
func ExtractUUIDPrefixes(responseText string) []string {
	return ParseCitations(responseText).UniqueUUIDs
}

// AmbiguousPrefixError reports that an 8-char UUID prefix matched more
// than one episode within the same group_id. This is surfaced as a
// structured error rather than silently resolved or logged, so a caller
// can distinguish it from a genuine "not found."
type AmbiguousPrefixError struct {
	Prefix    string
	GroupID   string
	Matches   []string
}

func (e *AmbiguousPrefixError) Error() string {
	return fmt.Sprintf("uuid prefix %q is ambiguous in group %q: matches %v", e.Prefix, e.GroupID, e.Matches)
}

// PrefixResolver looks up full UUIDs for a set of 8-char prefixes, scoped
// to one group_id; satisfied by GraphBackend.
type PrefixResolver interface {
	ResolvePrefixes(ctx context.Context, prefixes []string, groupID string) (map[string][]string, error)
}

// ResolvePrefixes resolves each prefix to exactly one full UUID. A prefix
// with zero matches is simply omitted from the result (not every citation
// need correspond to a live episode); a prefix with more than one match
// returns an AmbiguousPrefixError immediately rather than picking one
// arbitrarily.
func ResolvePrefixes(ctx context.Context, resolver PrefixResolver, prefixes []string, groupID string) (map[string]string, error) {
	if len(prefixes) == 0 {
		return map[string]string{}, nil
	}

	matches, err := resolver.ResolvePrefixes(ctx, prefixes, groupID)
	if err != nil {
		return nil, fmt.Errorf("resolve uuid prefixes: %w", err)
	}

	resolved := make(map[string]string, len(matches))
	for prefix, uuids := range matches {
		switch len(uuids) {
		case 0:
			continue
		case 1:
			resolved[prefix] = uuids[0]
		default:
			return nil, &AmbiguousPrefixError{Prefix: prefix, GroupID: groupID, Matches: uuids}
		}
	}
	return resolved, nil
}

// FormatCitation renders a full UUID and type into its citation string.
func FormatCitation(uuid string, ctype CitationType) string {
	prefix := uuid
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("[%s:%s]", ctype, strings.ToLower(prefix))
}

// FormatMandateCitation is a convenience wrapper for FormatCitation with
// CitationMandate.
func FormatMandateCitation(uuid string) string { return FormatCitation(uuid, CitationMandate) }

// FormatGuardrailCitation is a convenience wrapper for FormatCitation with
// CitationGuardrail.
func FormatGuardrailCitation(uuid string) string { return FormatCitation(uuid, CitationGuardrail) }
