// Package git provides repository discovery and commit helpers.
package git

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gptcommit/cli/internal/erruser"
)

// RepoRoot returns the absolute path of the git repository root containing dir.
// Runs "git rev-parse --show-toplevel" with Dir=dir. Returns error if dir is
// not inside a git repository.
func RepoRoot(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	cmd.Env = minimalEnv()
	out, err := cmd.Output()
	if err != nil {
		return "", erruser.New("This directory is not inside a Git repository.", err)
	}
	root := strings.TrimSpace(string(out))
	return filepath.Abs(root)
}

// CommitOptions configures Commit.
type CommitOptions struct {
	// Edit opens the editor on the message before committing (git commit --edit).
	Edit bool
	// Stdin, Stdout and Stderr are attached to git; nil means the process's own.
	Stdin          io.Reader
	Stdout, Stderr io.Writer
}

// CommitArgs returns the git arguments for committing with title and an
// optional body, each passed as its own --message paragraph.
func CommitArgs(title, body string, edit bool) []string {
	args := []string{"commit"}
	if edit {
		args = append(args, "--edit")
	}
	args = append(args, "--message", title)
	if body != "" {
		args = append(args, "--message", body)
	}
	return args
}

// Commit runs git commit in repoRoot and returns git's exit code. The full
// environment is passed so git can find the user's editor and identity. A
// non-zero exit is reported through the code, not the error; the error is
// set only when git could not be run.
func Commit(ctx context.Context, repoRoot, title, body string, opts CommitOptions) (int, error) {
	cmd := exec.CommandContext(ctx, "git", CommitArgs(title, body, opts.Edit)...)
	cmd.Dir = repoRoot
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 1, erruser.New("Could not run git commit.", err)
}

func minimalEnv() []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"GIT_TERMINAL_PROMPT=0",
	}
}
