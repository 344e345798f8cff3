package webhook

import (
	"html"
	"strings"
)

// sanitizeForTelegram escapes text for safe HTML-parse-mode sending,
// preventing HTML injection from Claude's raw output.
func sanitizeForTelegram(text string) string {
	if text == "" {
		return ""
	}
	return html.EscapeString(text)
}

var promptOnlyMarkers = []string{"❯", ">", "»"}

const boxDrawingChars = "─═━─│┌┐└┘"

// cleanClaudeOutput strips terminal-prompt artifacts and box-drawing
// separators from raw Claude Code output before it is sent to Telegram,
// then HTML-escapes the result. Grounded on the original's
// webhook/utils.clean_claude_output.
func cleanClaudeOutput(output string) string {
	if output == "" {
		return ""
	}

	lines := strings.Split(output, "\n")
	cleaned := make([]string, 0, len(lines))

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if len(cleaned) == 0 && stripped == "" {
			continue
		}
		if isPromptArtifact(stripped) {
			continue
		}
		if isSeparatorLine(stripped) {
			continue
		}
		cleaned = append(cleaned, line)
	}

	result := strings.TrimSpace(strings.Join(cleaned, "\n"))
	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return sanitizeForTelegram(result)
}

func isPromptArtifact(stripped string) bool {
	for _, m := range promptOnlyMarkers {
		if stripped == m {
			return true
		}
	}
	if len(stripped) >= 20 || !startsWithMarker(stripped) {
		return false
	}
	alnumOrSpace := 0
	for _, r := range stripped {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' {
			alnumOrSpace++
		}
	}
	return alnumOrSpace < 5
}

func startsWithMarker(s string) bool {
	for _, m := range promptOnlyMarkers {
		if strings.HasPrefix(s, m) {
			return true
		}
	}
	return false
}

func isSeparatorLine(stripped string) bool {
	if len(stripped) <= 10 {
		return false
	}
	for _, r := range stripped {
		if !strings.ContainsRune(boxDrawingChars, r) {
			return false
		}
	}
	return true
}
