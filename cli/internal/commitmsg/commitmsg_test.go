package commitmsg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"gptcommit/cli/internal/diff"
	"gptcommit/cli/internal/ollama"
	"gptcommit/cli/internal/prompt"
	"gptcommit/cli/internal/trace"
)

// fakeCompleter records requests and answers through reply.
type fakeCompleter struct {
	mu    sync.Mutex
	calls [][]ollama.Message
	reply func(ctx context.Context, msgs []ollama.Message) (string, error)
}

func (f *fakeCompleter) Chat(ctx context.Context, model string, msgs []ollama.Message, opts *ollama.GenerateOptions) (*ollama.ChatResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]ollama.Message(nil), msgs...))
	f.mu.Unlock()
	out, err := f.reply(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return &ollama.ChatResult{Message: ollama.Message{Role: "assistant", Content: out}, Done: true}, nil
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var filePathRe = regexp.MustCompile(`diff --git a/(\S+)`)

// fileDiff builds a one-hunk file section of roughly size bytes.
func fileDiff(path string, size int) string {
	head := fmt.Sprintf("diff --git a/%s b/%s\n--- a/%s\n+++ b/%s", path, path, path, path)
	hunk := "\n@@ -1 +1 @@\n+" + strings.Repeat("x", size)
	return head + hunk
}

// twoBlockDiff returns a diff that packs into two blocks at cutoff 1000.
func twoBlockDiff() string {
	return fileDiff("first.go", 500) + "\n" + fileDiff("second.go", 500)
}

func lastUser(msgs []ollama.Message) string {
	return msgs[len(msgs)-1].Content
}

func TestGenerate_emptyDiff_noRequests(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{reply: func(context.Context, []ollama.Message) (string, error) {
		return "unexpected", nil
	}}
	g := &Generator{Client: fc, Model: "m", WithBody: true}
	msg, err := g.Generate(context.Background(), "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if msg.Title != NoChangesSummary || msg.Body != "" {
		t.Errorf("msg = %+v, want placeholder", msg)
	}
	if n := fc.count(); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestSummarizeChanges_emptyDiff(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{}
	g := &Generator{Client: fc}
	got, err := g.SummarizeChanges(context.Background(), "")
	if err != nil {
		t.Fatalf("SummarizeChanges: %v", err)
	}
	if len(got) != 1 || got[0] != NoChangesSummary {
		t.Errorf("got %q, want [%q]", got, NoChangesSummary)
	}
	if fc.count() != 0 {
		t.Errorf("requests = %d, want 0", fc.count())
	}
}

func TestGenerate_binaryPlaceholder(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{reply: func(context.Context, []ollama.Message) (string, error) {
		return "unexpected", nil
	}}
	g := &Generator{Client: fc, Model: "m"}
	msg, err := g.Generate(context.Background(), "diff --git a/x b/x\n@@ -1 +1 @@\n+\xff")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if msg.Title != BinaryPlaceholder {
		t.Errorf("Title = %q, want BinaryPlaceholder", msg.Title)
	}
	if fc.count() != 0 {
		t.Errorf("requests = %d, want 0", fc.count())
	}
}

func TestSummarizeChanges_notText(t *testing.T) {
	t.Parallel()
	g := &Generator{Client: &fakeCompleter{}}
	_, err := g.SummarizeChanges(context.Background(), "\xff\xfe")
	if !errors.Is(err, diff.ErrNotText) {
		t.Errorf("err = %v, want ErrNotText", err)
	}
}

// TestSummarizeChanges_keepsBlockOrder makes the first block answer last and
// checks the result is still in block order.
func TestSummarizeChanges_keepsBlockOrder(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	fc := &fakeCompleter{reply: func(ctx context.Context, msgs []ollama.Message) (string, error) {
		path := filePathRe.FindStringSubmatch(lastUser(msgs))[1]
		if path == "first.go" {
			<-release
		} else {
			close(release)
		}
		return "summary of " + path, nil
	}}
	g := &Generator{Client: fc, Model: "m", Cutoff: 1000}
	got, err := g.SummarizeChanges(context.Background(), twoBlockDiff())
	if err != nil {
		t.Fatalf("SummarizeChanges: %v", err)
	}
	want := []string{"summary of first.go", "summary of second.go"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("summaries = %q, want %q", got, want)
	}
}

func TestSummarizeChanges_concurrent(t *testing.T) {
	t.Parallel()
	// Both requests must be in flight at once for either to return.
	var arrived sync.WaitGroup
	arrived.Add(2)
	fc := &fakeCompleter{reply: func(ctx context.Context, msgs []ollama.Message) (string, error) {
		arrived.Done()
		done := make(chan struct{})
		go func() { arrived.Wait(); close(done) }()
		select {
		case <-done:
			return "ok", nil
		case <-time.After(5 * time.Second):
			return "", errors.New("requests were not issued concurrently")
		}
	}}
	g := &Generator{Client: fc, Model: "m", Cutoff: 1000}
	if _, err := g.SummarizeChanges(context.Background(), twoBlockDiff()); err != nil {
		t.Fatalf("SummarizeChanges: %v", err)
	}
}

func TestSummarizeChanges_tracedConcurrently(t *testing.T) {
	t.Parallel()
	var parts []string
	for i := 0; i < 20; i++ {
		parts = append(parts, fileDiff(fmt.Sprintf("f%02d.go", i), 500))
	}
	fc := &fakeCompleter{reply: func(_ context.Context, msgs []ollama.Message) (string, error) {
		return "summary of " + filePathRe.FindStringSubmatch(lastUser(msgs))[1], nil
	}}
	var buf bytes.Buffer
	g := &Generator{Client: fc, Model: "m", Cutoff: 1000, Trace: trace.New(&buf)}
	summaries, err := g.SummarizeChanges(context.Background(), strings.Join(parts, "\n"))
	if err != nil {
		t.Fatalf("SummarizeChanges: %v", err)
	}
	if len(summaries) != 20 {
		t.Fatalf("len(summaries) = %d, want 20", len(summaries))
	}
	out := buf.String()
	for i := 1; i <= 20; i++ {
		for _, label := range []string{"prompt", "response"} {
			if !strings.Contains(out, fmt.Sprintf("summary %d/20 %s", i, label)) {
				t.Errorf("trace missing summary %d/20 %s", i, label)
			}
		}
	}
	if !strings.Contains(out, "20 block(s), cutoff 1000 characters") {
		t.Error("trace missing block count line")
	}
}

func TestSummarizeChanges_oneFailureFailsBatch(t *testing.T) {
	t.Parallel()
	boom := errors.New("model exploded")
	fc := &fakeCompleter{reply: func(ctx context.Context, msgs []ollama.Message) (string, error) {
		if strings.Contains(lastUser(msgs), "second.go") {
			return "", boom
		}
		return "fine", nil
	}}
	g := &Generator{Client: fc, Model: "m", Cutoff: 1000}
	got, err := g.SummarizeChanges(context.Background(), twoBlockDiff())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if got != nil {
		t.Errorf("partial result returned: %q", got)
	}
	if !strings.Contains(err.Error(), "block 2 of 2") {
		t.Errorf("err = %q, want block number", err)
	}
}

func TestFirstError_prefersRealFailureOverCancellation(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	errs := []error{nil, fmt.Errorf("block 2: %w", context.Canceled), boom}
	if got := firstError(errs); got != boom {
		t.Errorf("firstError = %v, want %v", got, boom)
	}
	only := fmt.Errorf("x: %w", context.Canceled)
	if got := firstError([]error{only}); got != only {
		t.Errorf("firstError = %v, want cancellation fallback", got)
	}
	if got := firstError([]error{nil, nil}); got != nil {
		t.Errorf("firstError = %v, want nil", got)
	}
}

func TestGenerate_flow(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{reply: func(ctx context.Context, msgs []ollama.Message) (string, error) {
		user := lastUser(msgs)
		switch {
		case strings.HasPrefix(user, prompt.CommitTitle):
			return "feat: add two files", nil
		case strings.HasPrefix(user, prompt.CommitBody):
			return "<think>hmm</think>\nAdds first.go and second.go.", nil
		default:
			return "  summary of " + filePathRe.FindStringSubmatch(user)[1] + "\n", nil
		}
	}}
	g := &Generator{Client: fc, Model: "m", Cutoff: 1000, WithBody: true}
	msg, err := g.Generate(context.Background(), twoBlockDiff())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if msg.Title != "feat: add two files" {
		t.Errorf("Title = %q", msg.Title)
	}
	if msg.Body != "Adds first.go and second.go." {
		t.Errorf("Body = %q", msg.Body)
	}
	if msg.String() != "feat: add two files\n\nAdds first.go and second.go." {
		t.Errorf("String() = %q", msg.String())
	}
	if n := fc.count(); n != 4 {
		t.Errorf("requests = %d, want 4 (2 blocks + title + body)", n)
	}

	// The title request sees the summaries joined by newlines in block order.
	var titleReq string
	for _, c := range fc.calls {
		if u := lastUser(c); strings.HasPrefix(u, prompt.CommitTitle) {
			titleReq = u
		}
	}
	if !strings.Contains(titleReq, "summary of first.go\nsummary of second.go") {
		t.Errorf("title request = %q", titleReq)
	}
}

func TestGenerate_withoutBody(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{reply: func(context.Context, []ollama.Message) (string, error) {
		return "fix: x", nil
	}}
	g := &Generator{Client: fc, Model: "m"}
	msg, err := g.Generate(context.Background(), fileDiff("a.go", 10))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if msg.Body != "" || msg.String() != "fix: x" {
		t.Errorf("msg = %+v", msg)
	}
	if fc.count() != 2 {
		t.Errorf("requests = %d, want 2", fc.count())
	}
}

func TestGenerate_titleFailure(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{reply: func(ctx context.Context, msgs []ollama.Message) (string, error) {
		if strings.HasPrefix(lastUser(msgs), prompt.CommitTitle) {
			return "", ollama.ErrUnreachable
		}
		return "s", nil
	}}
	g := &Generator{Client: fc, Model: "m"}
	_, err := g.Generate(context.Background(), fileDiff("a.go", 10))
	if !errors.Is(err, ollama.ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
}

func TestSummarizeChanges_fewShotMessages(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{reply: func(context.Context, []ollama.Message) (string, error) { return "s", nil }}
	examples := []prompt.Example{{Name: "e", Diff: "diff --git a/e b/e", Summary: "Example summary."}}
	g := &Generator{Client: fc, Model: "m", Examples: examples, System: "custom system"}
	if _, err := g.SummarizeChanges(context.Background(), fileDiff("a.go", 10)); err != nil {
		t.Fatalf("SummarizeChanges: %v", err)
	}
	msgs := fc.calls[0]
	wantRoles := []string{"system", "user", "assistant", "user"}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("len(messages) = %d, want %d", len(msgs), len(wantRoles))
	}
	for i, r := range wantRoles {
		if msgs[i].Role != r {
			t.Errorf("messages[%d].Role = %q, want %q", i, msgs[i].Role, r)
		}
	}
	if msgs[0].Content != "custom system" {
		t.Errorf("system = %q", msgs[0].Content)
	}
	if msgs[2].Content != "Example summary." {
		t.Errorf("assistant = %q", msgs[2].Content)
	}
	if !strings.HasPrefix(msgs[3].Content, prompt.DiffSummary) {
		t.Errorf("user message should start with the diff instruction")
	}
}

func TestComplete_truncatesToCutoffPlusSlack(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{reply: func(context.Context, []ollama.Message) (string, error) { return "s", nil }}
	g := &Generator{Client: fc, Model: "m", Cutoff: 200}
	// One oversized hunk becomes one over-budget block.
	if _, err := g.SummarizeChanges(context.Background(), fileDiff("big.go", 5000)); err != nil {
		t.Fatalf("SummarizeChanges: %v", err)
	}
	if fc.count() != 1 {
		t.Fatalf("requests = %d, want 1", fc.count())
	}
	if n := utf8.RuneCountInString(lastUser(fc.calls[0])); n != 300 {
		t.Errorf("user message = %d characters, want 300", n)
	}
}

func TestComplete_truncatesCharactersNotBytes(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{reply: func(context.Context, []ollama.Message) (string, error) { return "s", nil }}
	g := &Generator{Client: fc, Model: "m", Cutoff: 1000}
	if _, err := g.Title(context.Background(), []string{strings.Repeat("é", 5000)}); err != nil {
		t.Fatalf("Title: %v", err)
	}
	user := lastUser(fc.calls[0])
	if n := utf8.RuneCountInString(user); n != 1100 {
		t.Errorf("user message = %d characters, want 1100", n)
	}
	if !utf8.ValidString(user) {
		t.Error("truncated message is not valid UTF-8")
	}
}

// TestGenerate_everyMessageWithinCap covers the block, title and body
// requests, instruction text included.
func TestGenerate_everyMessageWithinCap(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("s", 5000)
	fc := &fakeCompleter{reply: func(context.Context, []ollama.Message) (string, error) { return long, nil }}
	examples := []prompt.Example{{Name: "e", Diff: strings.Repeat("d", 3000), Summary: "Example summary."}}
	g := &Generator{Client: fc, Model: "m", Cutoff: 1000, Examples: examples, WithBody: true}
	if _, err := g.Generate(context.Background(), fileDiff("big.go", 5000)); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if fc.count() != 3 {
		t.Fatalf("requests = %d, want 3 (block, title, body)", fc.count())
	}
	for i, call := range fc.calls {
		for j, m := range call {
			if n := utf8.RuneCountInString(m.Content); n > 1100 {
				t.Errorf("request %d message %d (%s) = %d characters, want <= 1100", i, j, m.Role, n)
			}
		}
	}
}

func TestComplete_nilClient(t *testing.T) {
	t.Parallel()
	g := &Generator{}
	if _, err := g.Title(context.Background(), []string{"s"}); err == nil {
		t.Error("Title with nil client: want error")
	}
}

func TestTitleBody_requireSummaries(t *testing.T) {
	t.Parallel()
	g := &Generator{Client: &fakeCompleter{}}
	if _, err := g.Title(context.Background(), nil); err == nil {
		t.Error("Title(nil): want error")
	}
	if _, err := g.Body(context.Background(), "t", nil); err == nil {
		t.Error("Body(nil): want error")
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"ascii", "hello world", 5, "hello"},
		{"no_truncation", "short", 100, "short"},
		{"exact", "exact", 5, "exact"},
		{"two_byte_counts_once", "café!", 4, "café"},
		{"before_two_byte", "café", 3, "caf"},
		{"three_byte", "a世b", 2, "a世"},
		{"all_multibyte", "世界世界", 3, "世界世"},
		{"four_byte", "x😀y", 2, "x😀"},
		{"zero", "hello", 0, ""},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := truncateRunes(tt.in, tt.limit)
			if got != tt.want {
				t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("result not valid UTF-8: %q", got)
			}
		})
	}
}

func TestClean(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"  feat: x \n":                       "feat: x",
		"<think>plan</think>\nfix: y":        "fix: y",
		"<think>a</think><think>b</think>z": "z",
		"stray <think> tag":                 "stray  tag",
	}
	for in, want := range tests {
		if got := clean(in); got != want {
			t.Errorf("clean(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestGenerate_ollamaServer runs the whole flow against a fake Ollama /api/chat.
func TestGenerate_ollamaServer(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req struct {
			Messages []ollama.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		requests++
		mu.Unlock()
		content := "Summarize block."
		if strings.HasPrefix(lastUser(req.Messages), prompt.CommitTitle) {
			content = "chore: update files"
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"role": "assistant", "content": content},
			"done":    true,
		})
	}))
	defer srv.Close()

	g := &Generator{
		Client:   ollama.NewClient(srv.URL, srv.Client()),
		Model:    "m",
		Cutoff:   1000,
		Examples: prompt.DefaultExamples(),
	}
	msg, err := g.Generate(context.Background(), twoBlockDiff())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if msg.Title != "chore: update files" {
		t.Errorf("Title = %q", msg.Title)
	}
	if len(msg.Summaries) != 2 {
		t.Errorf("len(Summaries) = %d, want 2", len(msg.Summaries))
	}
	mu.Lock()
	defer mu.Unlock()
	if requests != 3 {
		t.Errorf("requests = %d, want 3", requests)
	}
}
