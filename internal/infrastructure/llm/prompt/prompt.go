// Package prompt renders retrieval evidence for text-generation backends.
package prompt

import (
	"fmt"
	"strings"

	"github.com/Autopsias/raglite/internal/core/domain"
)

const maxEvidenceChars = 4000

// BuildAnswerPrompt numbers every evidence item so the model can cite it as
// [n]. Facts and chunks share the numbering in evidence order.
func BuildAnswerPrompt(question string, evidence []domain.EvidenceItem) string {
	var contextBuilder strings.Builder
	for idx, item := range evidence {
		content := item.Content()
		if len(content) > maxEvidenceChars {
			content = content[:maxEvidenceChars]
		}
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] %s source=%s score=%.3f\n%s\n",
			idx+1,
			item.Citation(),
			item.Source,
			item.RelevanceScore,
			content,
		))
		if len(item.Warnings) > 0 {
			contextBuilder.WriteString("warnings: " + strings.Join(item.Warnings, ", ") + "\n")
		}
		contextBuilder.WriteString("\n")
	}

	return fmt.Sprintf(`Answer the user question only from the evidence below.
Cite every figure with its evidence number, for example [1].
Prefer structured facts over text passages when they disagree.
If the evidence is insufficient, say it directly.

Question:
%s

Evidence:
%s
`, question, contextBuilder.String())
}
