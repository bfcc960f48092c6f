package llm

import (
	"strings"
)

// SolveSystemPrompt instructs a model to extract and solve every problem on a page.
const SolveSystemPrompt = `You are a patient tutor who reads photos and PDFs of homework.
Find every distinct problem on the page, solve it, and return ONLY JSON with this shape:
{"problems":[{"problem":"...","answer":"...","explanation":"..."}]}
Rules:
- "problem" restates the question as written, including any given values.
- "answer" is the terse final value or choice.
- "explanation" walks through the solution step by step. Markdown and LaTeX ($...$) are allowed.
- Keep problems in the order they appear on the page.
- If the page contains no problems, return {"problems":[]}.
- Never wrap the JSON in prose.`

// ImproveSystemPrompt instructs a model to refine one solved problem using a user suggestion.
const ImproveSystemPrompt = `You review a solved homework problem together with a suggestion from the student.
The input is an <improve> XML document with <problem>, <answer>, <explanation> and <user_suggestion>.
Apply the suggestion when it is correct and reply ONLY with:
<solution>
  <improved_answer><![CDATA[...]]></improved_answer>
  <improved_explanation><![CDATA[...]]></improved_explanation>
</solution>
If the suggestion is wrong, keep the answer and explain why in the improved explanation.`

// SolveUserPrompt accompanies the media payload of a solve request.
const SolveUserPrompt = "Solve every problem in the attached document."

// BuildSystemPrompt appends user-defined persona traits to a base prompt.
func BuildSystemPrompt(base, traits string) string {
	t := strings.TrimSpace(traits)
	if t == "" {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\nUser defined traits:\n<traits>\n")
	b.WriteString(t)
	b.WriteString("\n</traits>\n")
	return b.String()
}
