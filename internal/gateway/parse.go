package gateway

import (
	"regexp"
	"strings"
)

var listItemRe = regexp.MustCompile(`^\s*(?:\d+[.)]\s*|[-•*]\s*)?(.*\S)\s*$`)

// parseFollowupList extracts up to max question strings from a model
// response formatted as a numbered or bulleted list. Heading lines and
// duplicates are dropped; prompts don't always come back clean.
func parseFollowupList(text string, max int) []string {
	var items []string
	seen := make(map[string]struct{})

	for _, raw := range strings.Split(text, "\n") {
		m := listItemRe.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		item := strings.TrimSpace(m[1])
		if item == "" {
			continue
		}

		lower := strings.ToLower(item)
		if strings.HasPrefix(lower, "follow-ups") ||
			strings.HasPrefix(lower, "followups") ||
			strings.HasPrefix(lower, "questions:") {
			continue
		}

		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		items = append(items, item)

		if len(items) >= max {
			break
		}
	}

	return items
}
