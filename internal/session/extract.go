package session

import (
	"regexp"
	"strings"
)

// maxTrackedTopics bounds the topic list kept on a session record.
const maxTrackedTopics = 8

// Fact extraction is heuristic on purpose: it runs on every turn, after
// the append lock is released, and must never block or fail the turn. The
// patterns below catch the common first-person phrasings; anything subtler
// is simply not extracted.
var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmy name(?:'s| is) ([A-Za-z][A-Za-z'\-]{1,48})`),
		regexp.MustCompile(`(?i)\bcall me ([A-Za-z][A-Za-z'\-]{1,48})`),
		regexp.MustCompile(`(?i)\bi(?:'m| am) called ([A-Za-z][A-Za-z'\-]{1,48})`),
	}

	agePattern = regexp.MustCompile(`(?i)\bi(?:'m| am) (\d{1,3}) years? old\b`)

	topicPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btell me about ([\w][\w .\-]{2,40})`),
		regexp.MustCompile(`(?i)\bwhat(?:'s| is| are) ([\w][\w .\-]{2,40})`),
		regexp.MustCompile(`(?i)\bhow (?:do|does|can) (?:i |you )?([\w][\w .\-]{2,40})`),
		regexp.MustCompile(`(?i)\b(?:question )?about ([\w][\w .\-]{2,40})`),
	}
)

// ExtractedFacts is the result of one extraction pass over a user message.
type ExtractedFacts struct {
	UserName string
	Facts    map[string]string
	Topics   []string
}

// Empty reports whether the pass found nothing.
func (e ExtractedFacts) Empty() bool {
	return e.UserName == "" && len(e.Facts) == 0 && len(e.Topics) == 0
}

// ExtractFacts runs the name/age/topic heuristics over one user message.
// Pure string work: no I/O, no locks, never fails.
func ExtractFacts(userMsg string) ExtractedFacts {
	var out ExtractedFacts
	if strings.TrimSpace(userMsg) == "" {
		return out
	}

	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(userMsg); m != nil {
			out.UserName = strings.TrimSpace(m[1])
			break
		}
	}

	if m := agePattern.FindStringSubmatch(userMsg); m != nil {
		out.Facts = map[string]string{"age": m[1]}
	}

	if topic := extractTopic(userMsg); topic != "" {
		out.Topics = []string{topic}
	}

	return out
}

// extractTopic pulls the subject of a question-like message, or "" when
// none of the patterns match.
func extractTopic(msg string) string {
	for _, p := range topicPatterns {
		m := p.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		topic := strings.Trim(strings.TrimSpace(m[1]), ".?!,")
		if len(topic) < 3 {
			continue
		}
		return strings.ToLower(truncate(topic, 40))
	}
	return ""
}

// containsFold reports whether list contains s, case-insensitively.
func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// truncate shortens s to at most n bytes, appending an ellipsis.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
