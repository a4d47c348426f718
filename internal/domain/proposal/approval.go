package proposal

import "strings"

// autoApproveKeywords mark low-risk work that can skip human review when the
// proposal opts in via auto_approve: tactical fixes, documentation, and test
// improvements.
var autoApproveKeywords = []string{
	"fix", "patch", "hotfix", "typo",
	"docs", "documentation", "readme",
	"test", "spec", "testing",
}

// ShouldAutoApprove decides whether a pending proposal may be approved
// without a human reviewer. The auto_approve flag is necessary but not
// sufficient: critical-priority work always requires a human.
func ShouldAutoApprove(p *Proposal) bool {
	if !p.AutoApprove || p.Status != StatusPending {
		return false
	}
	if p.Priority == PriorityCritical {
		return false
	}

	title := strings.ToLower(p.Title)
	for _, kw := range autoApproveKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}

	// Low-risk priorities pass on the flag alone.
	return p.Priority == PriorityLow || p.Priority == PriorityMedium
}
