// Package commitmsg generates a Conventional Commits message from a staged
// diff. The diff is split into blocks (see package diff), every block is
// summarized concurrently, and the summaries are reduced into a title and an
// optional body.
package commitmsg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gptcommit/cli/internal/diff"
	"gptcommit/cli/internal/ollama"
	"gptcommit/cli/internal/prompt"
	"gptcommit/cli/internal/tokens"
	"gptcommit/cli/internal/trace"
)

// NoChangesSummary is the result for an empty diff (nothing staged, or only
// whitespace changes). No model request is made for it.
const NoChangesSummary = "Fix whitespace"

// BinaryPlaceholder is the message used when the staged diff is not text.
// It is a comment line, so git drops it unless the user edits the message.
const BinaryPlaceholder = "# gptcommit does not support binary files. " +
	"Please enter a commit message manually or unstage any binary files."

// truncateSlack is how far past the cutoff a request may go before it is cut.
const truncateSlack = 100

// Completer sends a chat request to the model. *ollama.Client implements it.
type Completer interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, opts *ollama.GenerateOptions) (*ollama.ChatResult, error)
}

// Generator turns diffs into commit messages. Build it once from
// configuration; it is safe for concurrent use.
type Generator struct {
	Client  Completer
	Model   string
	Options *ollama.GenerateOptions
	// Cutoff is the maximum block size in characters (0 = diff.DefaultCutoff).
	// Every message of every request is truncated to Cutoff+100 characters.
	Cutoff int
	// System is the system message; empty uses prompt.DefaultSystem.
	System string
	// Examples are few-shot pairs prepended to every block request.
	Examples []prompt.Example
	// WithBody enables the third request that writes the commit body.
	WithBody bool
	// ContextLimit and WarnThreshold drive per-request token warnings (0 limit = off).
	ContextLimit  int
	WarnThreshold float64
	Logger        *slog.Logger
	Trace         *trace.Tracer
}

// Message is a generated commit message.
type Message struct {
	Title string
	Body  string
	// Summaries are the per-block summaries in block order.
	Summaries []string
}

// String returns the message as git would store it: title, blank line, body.
func (m *Message) String() string {
	if m.Body == "" {
		return m.Title
	}
	return m.Title + "\n\n" + m.Body
}

// Generate produces a commit message for d. An empty diff yields
// NoChangesSummary and a diff that is not text yields BinaryPlaceholder;
// neither makes a model request. Any failed request fails the whole call.
func (g *Generator) Generate(ctx context.Context, d string) (*Message, error) {
	if d == "" {
		return &Message{Title: NoChangesSummary}, nil
	}
	summaries, err := g.SummarizeChanges(ctx, d)
	if err != nil {
		if errors.Is(err, diff.ErrNotText) {
			g.logger().Warn("staged diff is not text; using placeholder message", "error", err)
			return &Message{Title: BinaryPlaceholder}, nil
		}
		return nil, err
	}
	title, err := g.Title(ctx, summaries)
	if err != nil {
		return nil, err
	}
	msg := &Message{Title: title, Summaries: summaries}
	if g.WithBody {
		body, err := g.Body(ctx, title, summaries)
		if err != nil {
			return nil, err
		}
		msg.Body = body
	}
	return msg, nil
}

// SummarizeChanges splits d into blocks and summarizes each one. Requests run
// concurrently; the result keeps block order. The first failure cancels the
// remaining requests and is returned. An empty diff returns
// []string{NoChangesSummary} without any request.
func (g *Generator) SummarizeChanges(ctx context.Context, d string) ([]string, error) {
	if d == "" {
		return []string{NoChangesSummary}, nil
	}
	blocks, err := diff.Blocks(d, g.cutoff())
	if err != nil {
		return nil, err
	}
	g.logger().Debug("diff segmented", "chars", utf8.RuneCountInString(d), "blocks", len(blocks), "cutoff", g.cutoff())
	if g.Trace.Enabled() {
		g.Trace.Section("Blocks")
		g.Trace.Printf("%d block(s), cutoff %d characters\n", len(blocks), g.cutoff())
		for i, b := range blocks {
			g.Trace.Text(fmt.Sprintf("block %d/%d", i+1, len(blocks)), b)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	summaries := make([]string, len(blocks))
	errs := make([]error, len(blocks))
	var wg sync.WaitGroup
	for i, block := range blocks {
		wg.Add(1)
		go func(i int, block string) {
			defer wg.Done()
			s, err := g.summarizeBlock(ctx, i, len(blocks), block)
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			summaries[i] = s
		}(i, block)
	}
	wg.Wait()

	if err := firstError(errs); err != nil {
		return nil, err
	}
	return summaries, nil
}

// firstError returns the error of the lowest-indexed failed block that did
// not fail only because a sibling cancelled the batch, falling back to the
// lowest-indexed error.
func firstError(errs []error) error {
	var fallback error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if fallback == nil {
			fallback = err
		}
		if !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return fallback
}

func (g *Generator) summarizeBlock(ctx context.Context, i, n int, block string) (string, error) {
	msgs := g.fewShot()
	msgs = append(msgs, ollama.Message{Role: "user", Content: prompt.Diff(block)})
	start := time.Now()
	s, err := g.complete(ctx, fmt.Sprintf("summary %d/%d", i+1, n), msgs)
	if err != nil {
		return "", fmt.Errorf("summarize block %d of %d: %w", i+1, n, err)
	}
	g.logger().Debug("block summarized", "block", i+1, "chars", utf8.RuneCountInString(block), "elapsed", time.Since(start))
	return s, nil
}

// Title reduces the block summaries, joined by newlines in block order, into a
// commit title.
func (g *Generator) Title(ctx context.Context, summaries []string) (string, error) {
	if len(summaries) == 0 {
		return "", errors.New("commitmsg: no summaries")
	}
	msgs := []ollama.Message{
		{Role: "system", Content: g.system()},
		{Role: "user", Content: prompt.Title(strings.Join(summaries, "\n"))},
	}
	title, err := g.complete(ctx, "title", msgs)
	if err != nil {
		return "", fmt.Errorf("generate commit title: %w", err)
	}
	return title, nil
}

// Body writes a commit body from the title and the block summaries.
func (g *Generator) Body(ctx context.Context, title string, summaries []string) (string, error) {
	if len(summaries) == 0 {
		return "", errors.New("commitmsg: no summaries")
	}
	msgs := []ollama.Message{
		{Role: "system", Content: g.system()},
		{Role: "user", Content: prompt.Body(title, strings.Join(summaries, "\n"))},
	}
	body, err := g.complete(ctx, "body", msgs)
	if err != nil {
		return "", fmt.Errorf("generate commit body: %w", err)
	}
	return body, nil
}

// fewShot returns the system message followed by one user/assistant pair per example.
func (g *Generator) fewShot() []ollama.Message {
	msgs := make([]ollama.Message, 0, 2+2*len(g.Examples))
	msgs = append(msgs, ollama.Message{Role: "system", Content: g.system()})
	for _, ex := range g.Examples {
		msgs = append(msgs,
			ollama.Message{Role: "user", Content: prompt.Diff(ex.Diff)},
			ollama.Message{Role: "assistant", Content: ex.Summary},
		)
	}
	return msgs
}

// complete caps every message at Cutoff+100 characters, sends the request
// and cleans the reply. msgs is modified in place.
func (g *Generator) complete(ctx context.Context, label string, msgs []ollama.Message) (string, error) {
	if g.Client == nil {
		return "", errors.New("commitmsg: nil client")
	}
	for i := range msgs {
		msgs[i].Content = g.truncate(msgs[i].Content)
	}
	est := 0
	for _, m := range msgs {
		est += tokens.Estimate(m.Content)
	}
	if w := tokens.WarnIfOver(est, g.reserve(), g.ContextLimit, g.WarnThreshold); w != "" {
		g.logger().Warn("request may not fit the model context", "request", label, "detail", w)
	}
	if g.Trace.Enabled() {
		g.Trace.Text(label+" prompt", msgs[len(msgs)-1].Content)
	}
	res, err := g.Client.Chat(ctx, g.Model, msgs, g.Options)
	if err != nil {
		return "", err
	}
	out := clean(res.Message.Content)
	if g.Trace.Enabled() {
		g.Trace.Text(label+" response", out)
	}
	return out, nil
}

func (g *Generator) cutoff() int {
	if g.Cutoff <= 0 {
		return diff.DefaultCutoff
	}
	return g.Cutoff
}

// truncate caps request text at Cutoff+100 characters.
func (g *Generator) truncate(s string) string {
	return truncateRunes(s, g.cutoff()+truncateSlack)
}

func (g *Generator) system() string {
	if g.System == "" {
		return prompt.DefaultSystem
	}
	return g.System
}

func (g *Generator) reserve() int {
	if g.Options != nil && g.Options.NumPredict > 0 {
		return g.Options.NumPredict
	}
	return 0
}

func (g *Generator) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return g.Logger
}

// truncateRunes returns the first limit runes of s.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// clean trims the reply and drops <think>...</think> sections that reasoning
// models emit before the answer.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "</think>"); i >= 0 {
		s = s[i+len("</think>"):]
	}
	s = strings.ReplaceAll(s, "<think>", "")
	return strings.TrimSpace(s)
}
