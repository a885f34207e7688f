package narrative

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Yates-Labs/knowhow/internal/evidence"
)

// InsufficientEvidence is the exact reply the prompt asks for when the
// evidence cannot support an answer
const InsufficientEvidence = "insufficient evidence"

var (
	ErrEmptyQuestion = errors.New("question is required")
	ErrEmptyEvidence = errors.New("evidence bundle is empty")
)

// AssembleAnswerPrompt renders the question and bundle into the fixed
// grounding prompt. Evidence appears in bundle order under its [E#] ref.
func AssembleAnswerPrompt(question string, bundle evidence.Bundle) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	if bundle.Empty() {
		return "", ErrEmptyEvidence
	}

	var b strings.Builder

	b.WriteString("You answer questions about who in an engineering organization has worked on what. ")
	b.WriteString("You are given a question and a numbered list of evidence retrieved from the organization's ")
	b.WriteString("code history: pull requests, commits and contributor activity summaries.\n\n")

	b.WriteString("# Rules\n\n")
	b.WriteString("1. Answer using only the evidence below. Do not rely on outside knowledge about people or projects.\n")
	b.WriteString("2. Cite every claim with the marker of the evidence that supports it, for example [E1] or [E1, E3].\n")
	b.WriteString("3. Name people by the display name and handle shown in the evidence.\n")
	b.WriteString("4. Prefer evidence listed earlier; it ranked higher.\n")
	fmt.Fprintf(&b, "5. If the evidence cannot support a confident answer, reply with exactly %q and nothing else.\n\n", InsufficientEvidence)

	b.WriteString("# Question\n\n")
	b.WriteString(question + "\n\n")

	fmt.Fprintf(&b, "# Evidence (%d items)\n\n", bundle.Len())
	for _, item := range bundle.Items {
		writeEvidence(&b, item)
	}

	b.WriteString("# Answer\n\n")
	b.WriteString("Write a concise answer (one to three short paragraphs) with citations.\n")

	return b.String(), nil
}

func writeEvidence(b *strings.Builder, item evidence.Item) {
	title := item.Title
	if title == "" {
		title = item.Key
	}
	fmt.Fprintf(b, "[%s] (%s, relevance %.2f) %s\n", item.Ref, item.Sources, item.Score, title)

	if item.Author != "" {
		fmt.Fprintf(b, "Author: %s\n", item.Author)
	}
	if !item.Timestamp.IsZero() {
		fmt.Fprintf(b, "Date: %s\n", item.Timestamp.Format("2006-01-02"))
	}
	if len(item.Technologies) > 0 {
		fmt.Fprintf(b, "Technologies: %s\n", strings.Join(item.Technologies, ", "))
	}
	if item.URL != "" {
		fmt.Fprintf(b, "Link: %s\n", item.URL)
	}
	if item.Snippet != "" && item.Snippet != item.Title {
		b.WriteString(item.Snippet + "\n")
	}
	b.WriteString("\n")
}
