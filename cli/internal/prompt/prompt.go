// Package prompt holds the instructions sent to the model for each step of
// commit message generation: per-block diff summaries, the commit title and
// the commit body. It also loads the few-shot examples used for summaries.
package prompt

import (
	"fmt"
	"os"
	"strings"
)

// DiffSummary asks for a one-line summary of one block of staged diff.
const DiffSummary = `Write a one-line summary of the following code changes. I will provide you with the output of the command ` + "`git --no-pager diff --staged`" + ` in a local git repository. You MUST write a detailed and high-quality abstractive summary of ALL code changes. High quality summaries remove unnecessary, redundant, or obvious details. Use clear, precise, and non-self referential language.

Output of ` + "`git diff`:"

// CommitTitle asks for a Conventional Commits message from block summaries.
const CommitTitle = `Write a github repository commit message. I will provide a number of summaries detailing the exact code changes contained within the commit. You MUST respond with ONLY the text of the commit message. You MUST use the following Conventional Commits specification v1.0.0 format: ` + "`<COMMIT TYPE>: <DESCRIPTION>\\n\\n<COMMIT MESSAGE DETAILS>`" + `

Summaries detailing code changes:`

// CommitBody asks for a free-form body given the title and summaries.
const CommitBody = `From the following commit type, description, and code change summaries, write a longer commit body according to the Conventional Commits specification v1.0.0 standard. A commit body follows the commit description and provides additional information about the code changes. A commit body is free-form and MAY consist of any number of newline separated paragraphs. A commit body excludes the type and description.`

// DefaultSystem is the system message for every request.
const DefaultSystem = `You are a senior software engineer at a software development company. Your current assignment is to perform mundane administrative tasks relating to maintaining well-organized company github code repositories.`

// SystemPrompt returns the system message. If path is set and readable, its
// trimmed contents are returned; a missing file falls back to DefaultSystem.
// Any other read error is returned so the user can see it.
func SystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystem, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSystem, nil
		}
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return DefaultSystem, nil
	}
	return s, nil
}

// Diff builds the user message for one diff block.
func Diff(block string) string {
	return DiffSummary + "\n" + block
}

// Title builds the user message for the commit title from the joined summaries.
func Title(summaries string) string {
	return CommitTitle + "\n\n" + summaries + "\n\n"
}

// Body builds the user message for the commit body.
func Body(title, summaries string) string {
	var b strings.Builder
	b.WriteString(CommitBody)
	b.WriteString("\n\nType: ")
	b.WriteString(title)
	b.WriteString("\nCode change summaries:\n")
	b.WriteString(summaries)
	b.WriteString("\n\n")
	return b.String()
}
