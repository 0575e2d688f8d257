// Package diff splits a staged unified diff into size-bounded blocks that can
// each be summarized on their own.
//
// # Structure
// A diff is split into file sections on lines starting with "diff ", and each
// section into a head (paths, modes, rename and binary notices) followed by
// hunks starting with "@@". Markers stay attached to the piece they open, so
// concatenating every head and hunk in text order gives back the input.
//
// # Packing
// Pack fills blocks greedily in file order. A block that receives a hunk from
// a file it did not start with gets that file's head prefixed, so every block
// is readable without its neighbours. Hunks are never split: a hunk larger
// than the cutoff becomes its own over-budget block.
//
// # Empty diff
// An empty diff is "nothing staged"; callers are expected to short-circuit
// before Blocks. Parse("") returns a single FileDiff with an empty head.
//
// # Non-text input
// Input that is not valid UTF-8 fails with ErrNotText.
package diff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// DefaultCutoff is the default maximum block size in characters.
const DefaultCutoff = 10000

// ErrNotText indicates the diff could not be decoded as text (typically a
// staged binary file diffed without a textconv driver).
var ErrNotText = errors.New("diff is not valid UTF-8 text")

// stagedArgs are the git arguments used to read the index diff. Whitespace-only
// changes are ignored so they never reach the model.
var stagedArgs = []string{
	"--no-pager", "diff", "--staged",
	"--no-color", "--no-ext-diff",
	"--ignore-space-change", "--ignore-all-space", "--ignore-blank-lines",
}

// Staged returns the staged diff of the repository at repoRoot, trimmed of
// surrounding whitespace. An empty string means nothing (or only whitespace)
// is staged. Output that is not valid UTF-8 returns ErrNotText.
func Staged(ctx context.Context, repoRoot string) (string, error) {
	if repoRoot == "" {
		return "", fmt.Errorf("diff: repoRoot required")
	}
	cmd := exec.CommandContext(ctx, "git", stagedArgs...)
	cmd.Dir = repoRoot
	cmd.Env = minimalEnv()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff --staged: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if !utf8.Valid(out) {
		return "", fmt.Errorf("git diff --staged: %w", ErrNotText)
	}
	return strings.TrimSpace(string(out)), nil
}

// Blocks parses raw and packs it into blocks of at most cutoff characters (see Pack).
func Blocks(raw string, cutoff int) ([]string, error) {
	files, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return Pack(files, cutoff), nil
}

func minimalEnv() []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"GIT_TERMINAL_PROMPT=0",
	}
}
