package advanced

import (
	"fmt"
	"strings"

	"github.com/ryouen/univoice-pipeline/internal/types"
)

func summarySystemPrompt(sourceLang string) string {
	return fmt.Sprintf("You summarize a live lecture transcript in %s. "+
		"Write a concise, faithful summary of everything covered so far. "+
		"Reply with only the summary text.", sourceLang)
}

func vocabularySystemPrompt() string {
	return "Extract 5 to 15 domain-specific terms from this lecture transcript. " +
		"Reply with one term per line in the format `term :: definition :: context`, " +
		"where context is the short phrase the term appeared in. No other text."
}

func finalReportSystemPrompt() string {
	return "You write a long-form final report for a recorded lecture session, " +
		"consolidating the full transcript history and its progressive summaries " +
		"into a well-organized markdown document with section headers."
}

// parseVocabulary parses the `term :: definition :: context` lines the
// vocabulary prompt requests into structured items, skipping any line
// that doesn't match the expected shape rather than failing the whole
// extraction over one malformed line.
func parseVocabulary(raw string) []types.VocabularyItem {
	var items []types.VocabularyItem
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "::", 3)
		if len(parts) < 2 {
			continue
		}
		item := types.VocabularyItem{
			Term:       strings.TrimSpace(parts[0]),
			Definition: strings.TrimSpace(parts[1]),
		}
		if len(parts) == 3 {
			item.Context = strings.TrimSpace(parts[2])
		}
		items = append(items, item)
	}
	return items
}
