package worldrt

import (
	"regexp"
	"strings"

	"github.com/agentworld-dev/runtime/pkg/idutil"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// mentionPattern matches `@<agent-id-or-name>` tokens: an "@" followed
// by letters, digits, hyphens, or underscores.
var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9_-]*)`)

// extractMentions returns every mention token in content, lower-cased,
// in order of first appearance with duplicates removed.
func extractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		tok := strings.ToLower(m[1])
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// paragraphBeginningMentions returns the subset of mentions that open a
// paragraph (the first non-blank line of content, or the first
// non-blank line following a blank line). A bare "@name" anywhere in a
// sentence can still target that agent for a reply (extractMentions
// covers that); only a paragraph-leading mention is treated as
// restricting the audience for other agents' auto-reply eligibility.
func paragraphBeginningMentions(content string) []string {
	var out []string
	seen := make(map[string]bool)
	atParagraphStart := true
	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			atParagraphStart = true
			continue
		}
		if atParagraphStart {
			if m := mentionPattern.FindStringSubmatch(line); m != nil && strings.HasPrefix(line, "@"+m[1]) {
				tok := strings.ToLower(m[1])
				if !seen[tok] {
					seen[tok] = true
					out = append(out, tok)
				}
			}
		}
		atParagraphStart = false
	}
	return out
}

// mentionsAgent reports whether mentions contains a token resolving to
// agent, either by id or by (kebab-cased) display name.
func mentionsAgent(mentions []string, agent *types.Agent) bool {
	id := strings.ToLower(agent.ID)
	name := idutil.KebabCase(agent.Name)
	for _, m := range mentions {
		if m == id || m == name {
			return true
		}
	}
	return false
}
