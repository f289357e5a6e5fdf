package models

import "testing"

func TestScope_GroupID(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		want  string
	}{
		{"global", Scope{Kind: ScopeGlobal}, "global"},
		{"project simple", Scope{Kind: ScopeProject, ID: "acme"}, "project-acme"},
		{"project sanitized colon", Scope{Kind: ScopeProject, ID: "acme:web"}, "project-acme-web"},
		{"project sanitized slash", Scope{Kind: ScopeProject, ID: "org/acme"}, "project-org-acme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.GroupID(); got != tt.want {
				t.Errorf("GroupID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEpisode_UtilityScore(t *testing.T) {
	tests := []struct {
		name string
		ep   Episode
		want float64
	}{
		{"never referenced", Episode{ReferencedCount: 0, SuccessCount: 0}, 0},
		{"all successful", Episode{ReferencedCount: 10, SuccessCount: 10}, 1.0},
		{"half successful", Episode{ReferencedCount: 10, SuccessCount: 5}, 0.5},
		{"zero successes", Episode{ReferencedCount: 4, SuccessCount: 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ep.UtilityScore(); got != tt.want {
				t.Errorf("UtilityScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTierHierarchy_Order(t *testing.T) {
	if TierHierarchy[0] != TierMandate || TierHierarchy[1] != TierGuardrail || TierHierarchy[2] != TierReference {
		t.Fatalf("unexpected tier hierarchy order: %v", TierHierarchy)
	}
}
