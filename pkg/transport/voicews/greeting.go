package voicews

import (
	"strings"
)

// greetingMarkers are phrases typical of a backend's canned opening message.
var greetingMarkers = []string{
	"assistant",
	"knowledge",
	"ask me anything",
	"how can i help",
}

// IsDefaultGreeting reports whether text looks like the backend's unsolicited
// default greeting: short and containing generic assistant boilerplate.
//
// This is a heuristic. A legitimate short answer that happens to mention
// "assistant" or "knowledge" would be misclassified; the backend exposes no
// explicit is-default-greeting signal, so callers only apply the filter to
// the very first agent message of a session.
func IsDefaultGreeting(text string, maxLen int) bool {
	if maxLen <= 0 || len(text) >= maxLen {
		return false
	}
	lower := strings.ToLower(text)
	for _, marker := range greetingMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
