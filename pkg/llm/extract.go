package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> blocks some reasoning models emit.
var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// sqlFencePattern captures the body of the first ```sql (or bare ```) fence.
var sqlFencePattern = regexp.MustCompile("(?is)```(?:sql|bigquery|postgresql)?\\s*\\n?(.*?)```")

var sqlStartPattern = regexp.MustCompile(`(?i)\b(WITH|SELECT)\b`)

// StripThinking removes reasoning blocks from a response.
func StripThinking(response string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(response, ""))
}

// ExtractSQL pulls a single SQL statement out of a model response that may
// contain reasoning tags, markdown fences, or surrounding prose.
func ExtractSQL(response string) (string, error) {
	cleaned := StripThinking(response)

	if m := sqlFencePattern.FindStringSubmatch(cleaned); len(m) == 2 {
		cleaned = m[1]
	} else if loc := sqlStartPattern.FindStringIndex(cleaned); loc != nil {
		cleaned = cleaned[loc[0]:]
	}

	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimRight(cleaned, "; \n\t")
	if cleaned == "" || !sqlStartPattern.MatchString(cleaned) {
		return "", fmt.Errorf("no SQL statement found in response")
	}
	return cleaned, nil
}
