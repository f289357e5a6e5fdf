package memory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agenthub/agent-hub/pkg/models"
)

// SourceDescription is the parsed form of an episode's source_description
// tag string. The grammar is a historical concession to a graph backend
// that does not expose first-class structured properties: tokens without a
// ":" are the leading category/tier pair, the rest are key:value pairs.
//
//	<category> <tier> source:<origin> confidence:<0-100>
//	  [type:anti_pattern] [cluster:<id>] [migrated_from:<file>]
//	  [status:provisional|canonical] [promoted:<reason>] [context:<=100 chars>]
type SourceDescription struct {
	Category      string
	Tier          models.InjectionTier
	Source        string
	Confidence    float64
	AntiPattern   bool
	Cluster       string
	MigratedFrom  string
	Status        string // "provisional" | "canonical" | ""
	PromotedReason string
	Context       string
}

// String renders the tag grammar back to its canonical space-delimited form.
func (d SourceDescription) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s source:%s confidence:%.0f", d.Category, d.Tier, d.Source, d.Confidence)
	if d.AntiPattern {
		b.WriteString(" type:anti_pattern")
	}
	if d.Cluster != "" {
		fmt.Fprintf(&b, " cluster:%s", d.Cluster)
	}
	if d.MigratedFrom != "" {
		fmt.Fprintf(&b, " migrated_from:%s", d.MigratedFrom)
	}
	if d.Status != "" {
		fmt.Fprintf(&b, " status:%s", d.Status)
	}
	if d.PromotedReason != "" {
		fmt.Fprintf(&b, " promoted:%s", d.PromotedReason)
	}
	if d.Context != "" {
		ctx := d.Context
		if len(ctx) > 100 {
			ctx = ctx[:100]
		}
		fmt.Fprintf(&b, " context:%s", ctx)
	}
	return b.String()
}

// ParseSourceDescription parses the tag grammar by whitespace split. It is
// defensive: unknown tokens are ignored rather than rejected, matching the
// source's tolerance for partially-migrated rows.
func ParseSourceDescription(raw string) SourceDescription {
	d := SourceDescription{}
	fields := strings.Fields(raw)
	leading := 0
	for i, f := range fields {
		if strings.Contains(f, ":") {
			break
		}
		leading = i + 1
	}
	if leading > 0 {
		d.Category = fields[0]
	}
	if leading > 1 {
		d.Tier = models.InjectionTier(fields[1])
	}
	for _, f := range fields[leading:] {
		k, v, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		switch k {
		case "source":
			d.Source = v
		case "confidence":
			if conf, err := strconv.ParseFloat(v, 64); err == nil {
				d.Confidence = conf
			}
		case "type":
			if v == "anti_pattern" {
				d.AntiPattern = true
			}
		case "cluster":
			d.Cluster = v
		case "migrated_from":
			d.MigratedFrom = v
		case "status":
			d.Status = v
		case "promoted":
			d.PromotedReason = v
		case "context":
			d.Context = v
		}
	}
	return d
}

// WithStatus returns a copy of the raw tag string with its status token
// replaced (or appended if absent). Used by promotion to flip
// provisional -> canonical in place without re-parsing the whole struct.
func WithStatus(raw, newStatus string) string {
	d := ParseSourceDescription(raw)
	if d.Status == "" {
		if strings.TrimSpace(raw) == "" {
			return "status:" + newStatus
		}
		return strings.TrimSpace(raw) + " status:" + newStatus
	}
	old := "status:" + d.Status
	return strings.Replace(raw, old, "status:"+newStatus, 1)
}

// WithConfidence returns a copy of the raw tag string with its confidence
// token replaced.
func WithConfidence(raw string, newConfidence float64) string {
	d := ParseSourceDescription(raw)
	old := fmt.Sprintf("confidence:%.0f", d.Confidence)
	updated := fmt.Sprintf("confidence:%.0f", newConfidence)
	if !strings.Contains(raw, old) {
		return raw
	}
	return strings.Replace(raw, old, updated, 1)
}
