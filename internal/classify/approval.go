package classify

import (
	"regexp"
	"strings"
)

var approvalMarker = regexp.MustCompile(`(?i)\[(?:APPROVAL_REQUIRED|APPROVAL_NEEDED)\]\s*:?\s*(.*)`)

// ApprovalRequest is an approval marker found in agent output.
type ApprovalRequest struct {
	Action  string
	Context string
}

// FindApprovals extracts approval markers from text. The action is the rest
// of the marker line; when that is empty the next non-blank line is used.
// Context is the line preceding the marker.
func FindApprovals(text string) []ApprovalRequest {
	lines := strings.Split(text, "\n")
	var out []ApprovalRequest
	seen := map[string]bool{}
	for i, line := range lines {
		m := approvalMarker.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		action := strings.TrimSpace(m[1])
		if action == "" {
			for j := i + 1; j < len(lines); j++ {
				if l := strings.TrimSpace(lines[j]); l != "" {
					action = l
					break
				}
			}
		}
		if action == "" {
			action = "Agent requested approval"
		}
		key := strings.ToLower(action)
		if seen[key] {
			continue
		}
		seen[key] = true

		var ctx string
		for j := i - 1; j >= 0; j-- {
			if l := strings.TrimSpace(lines[j]); l != "" {
				ctx = l
				break
			}
		}
		out = append(out, ApprovalRequest{Action: action, Context: ctx})
	}
	return out
}
