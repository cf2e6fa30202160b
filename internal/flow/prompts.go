package flow

import (
	"regexp"
	"strings"

	"github.com/convoflow/leadqual/internal/models"
)

var emailInTextRE = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

const answerSystemPrompt = `You are a helpful pre-sales assistant embedded in a website chat widget.
Answer the visitor's latest message briefly and concretely.
Respond with a single JSON object and nothing else, using this shape:
{"mainText": "<answer>", "buttons": ["<optional quick reply>", ...]}
Offer at most four short button labels, only when a quick reply genuinely helps.
Do not ask qualification questions; those are added separately.`

// maxPromptHistory bounds how many trailing messages are replayed to the
// model. Older turns rarely change the answer and inflate token cost.
const maxPromptHistory = 12

// buildAnswerPrompt renders the trailing conversation plus the new message
// into the user prompt for the generative answer call.
func buildAnswerPrompt(history []models.Message, userText string) string {
	start := 0
	if len(history) > maxPromptHistory {
		start = len(history) - maxPromptHistory
	}

	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, msg := range history[start:] {
		switch msg.Role {
		case models.RoleUser:
			b.WriteString("Visitor: ")
		case models.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nLatest visitor message:\n")
	b.WriteString(userText)
	return b.String()
}
