package retrace

import "strings"

// writePatterns are the substrings that mark an unlisted tool name as a
// write. Matched case-insensitively, in order; the order is part of the
// contract so that classification never depends on map iteration.
var writePatterns = []string{
	"create", "update", "delete", "send", "post", "put",
	"patch", "write", "set", "add", "remove",
}

// Classifier decides whether a tool call is a read (evidence) or a write
// (action). The zero value classifies on name patterns alone.
//
// Resolution order: an exact WriteTools match wins, then an exact
// ReadTools match, then a case-insensitive substring match against the
// built-in write patterns. Everything else is a read: unknown tools are
// captured as evidence rather than dropped or guessed into actions.
type Classifier struct {
	// WriteTools are exact tool names always treated as writes.
	WriteTools []string
	// ReadTools are exact tool names always treated as reads, even when
	// a write pattern matches (e.g. "get_settings" vs "set…").
	ReadTools []string
}

// Classify returns EventWrite or EventRead for a tool name. It never
// returns EventUnclassified.
func (c Classifier) Classify(toolName string) EventKind {
	for _, name := range c.WriteTools {
		if toolName == name {
			return EventWrite
		}
	}
	for _, name := range c.ReadTools {
		if toolName == name {
			return EventRead
		}
	}
	lower := strings.ToLower(toolName)
	for _, pattern := range writePatterns {
		if strings.Contains(lower, pattern) {
			return EventWrite
		}
	}
	return EventRead
}

// IsWrite reports whether the classifier treats toolName as a write.
func (c Classifier) IsWrite(toolName string) bool {
	return c.Classify(toolName) == EventWrite
}
