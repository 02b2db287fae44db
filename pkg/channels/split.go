package channels

import (
	"strings"
	"unicode/utf8"
)

const (
	// Discord allows 2000 characters per message; the rest is headroom for
	// keeping a code block whole.
	replyChunkLimit = 1500
	fenceSlack      = 500

	newlineWindow = 200
	spaceWindow   = 100

	codeFence = "```"
)

// splitMessage splits content into chunks of at most limit bytes (plus
// fenceSlack when that keeps a code block together), breaking at newlines
// or spaces where possible. A code block that cannot fit is closed at the
// end of one chunk and reopened at the start of the next.
func splitMessage(content string, limit int) []string {
	var chunks []string
	content = strings.TrimSpace(content)

	for content != "" {
		if len(content) <= limit {
			chunks = append(chunks, content)
			break
		}

		cut := naturalBreak(content, limit)
		reopen := false
		if open := unclosedFence(content[:cut]); open >= 0 {
			switch end := closingFence(content, cut); {
			case end > 0 && end <= limit+fenceSlack:
				cut = end
			case open > 0:
				cut = naturalBreak(content, open)
			default:
				// The block starts the chunk and is too long to keep whole.
				cut = hardBreak(content, limit)
				if nl := strings.LastIndexByte(content[:cut], '\n'); nl > len(codeFence) && cut-nl <= newlineWindow {
					cut = nl
				}
				reopen = true
			}
		}

		chunk := strings.TrimRight(content[:cut], " \t\n")
		rest := content[cut:]
		if reopen {
			chunk += "\n" + codeFence
			rest = codeFence + "\n" + strings.TrimLeft(rest, "\n")
		} else {
			rest = strings.TrimSpace(rest)
		}
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		content = rest
	}

	return chunks
}

// naturalBreak picks a split index in s[:limit]: the last newline near the
// end, else the last space, else limit moved back to a rune boundary.
func naturalBreak(s string, limit int) int {
	if limit >= len(s) {
		return len(s)
	}
	window := s[:limit]
	if i := strings.LastIndexByte(window, '\n'); i > 0 && limit-i <= newlineWindow {
		return i
	}
	if i := strings.LastIndexAny(window, " \t"); i > 0 && limit-i <= spaceWindow {
		return i
	}
	return hardBreak(s, limit)
}

func hardBreak(s string, limit int) int {
	if limit >= len(s) {
		return len(s)
	}
	i := limit
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	if i == 0 {
		return limit
	}
	return i
}

// unclosedFence returns the index of the last opening fence in text that has
// no closing fence, or -1 when every block is closed.
func unclosedFence(text string) int {
	open := -1
	for i := 0; i+len(codeFence) <= len(text); {
		if text[i:i+len(codeFence)] != codeFence {
			i++
			continue
		}
		if open < 0 {
			open = i
		} else {
			open = -1
		}
		i += len(codeFence)
	}
	return open
}

// closingFence returns the index just past the first fence at or after
// start, or -1.
func closingFence(text string, start int) int {
	if start >= len(text) {
		return -1
	}
	i := strings.Index(text[start:], codeFence)
	if i < 0 {
		return -1
	}
	return start + i + len(codeFence)
}
