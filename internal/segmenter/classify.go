package segmenter

import "strings"

// Known failure families, matched by substring against the underlying cause.
// Unmatched causes pass through verbatim.
var classifications = []struct {
	substrings []string
	message    string
}{
	{
		substrings: []string{"not supported", "unsupported", "no such model", "capability"},
		message:    "Background removal is not supported on this deployment.",
	},
	{
		substrings: []string{"out of memory", "oom", "memory exhausted", "allocation failed"},
		message:    "The processor ran out of memory on this image. Try a smaller image.",
	},
	{
		substrings: []string{"connection refused", "connection reset", "no such host", "timeout", "deadline exceeded", "network"},
		message:    "Could not reach the background removal service. Check your connection and try again.",
	},
}

// UserMessage turns a removal failure into a user-facing message.
func UserMessage(err error) string {
	raw := err.Error()
	lower := strings.ToLower(raw)
	for _, c := range classifications {
		for _, sub := range c.substrings {
			if strings.Contains(lower, sub) {
				return c.message
			}
		}
	}
	return raw
}
