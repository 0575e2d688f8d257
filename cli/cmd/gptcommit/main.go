package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gptcommit/cli/internal/commitmsg"
	"gptcommit/cli/internal/config"
	"gptcommit/cli/internal/diff"
	"gptcommit/cli/internal/erruser"
	"gptcommit/cli/internal/git"
	"gptcommit/cli/internal/ollama"
	"gptcommit/cli/internal/prompt"
	"gptcommit/cli/internal/trace"
	"gptcommit/cli/internal/version"
)

// errExit is an error that carries an exit code for the CLI. Use errors.As to detect it.
type errExit int

func (e errExit) Error() string {
	return "exit " + strconv.Itoa(int(e))
}

// stdout and stderr are the CLI's output streams. Tests replace them to capture output.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(Run())
}

// Run is the entry point for the CLI.
func Run() int {
	return runCLI(os.Args[1:])
}

func runCLI(args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		var exitErr errExit
		if errors.As(err, &exitErr) {
			return int(exitErr)
		}
		fmt.Fprintln(stderr, err)
		if u := errors.Unwrap(err); u != nil {
			fmt.Fprintf(stderr, "Details: %v\n", u)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gptcommit",
		Short: "Generate a Conventional Commits message from the staged diff and commit",
		Long: `gptcommit summarizes the staged diff with a local model and runs
git commit --edit with the generated title and body.

Large diffs are split into blocks of at most --cutoff bytes along file and
hunk boundaries; each block is summarized separately and the summaries are
combined into the final message.`,
		Version:       version.String(),
		Args:          cobra.NoArgs,
		RunE:          runGenerate,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().BoolP("dry-run", "r", false, "Print the generated message instead of running git commit")
	cmd.Flags().BoolP("debug", "d", false, "Log debug messages to stderr")
	cmd.Flags().BoolP("local", "l", false, "Use the local server (local_base_url) instead of ollama_base_url")
	cmd.Flags().Bool("trace", false, "Print blocks, prompts and model responses to stderr")
	cmd.Flags().Bool("no-body", false, "Only generate the commit title")
	cmd.Flags().Bool("no-edit", false, "Commit without opening the editor")
	cmd.Flags().Int("cutoff", 0, "Maximum diff block size in characters")
	cmd.Flags().String("model", "", "Model name (overrides config and env)")
	cmd.Flags().String("base-url", "", "Model server URL (overrides config and env)")
	cmd.PersistentFlags().StringP("chdir", "C", "", "Run as if gptcommit was started in this directory")
	cmd.AddCommand(newDoctorCmd())
	return cmd
}

// overridesFromFlags returns Overrides for flags the user set explicitly.
func overridesFromFlags(cmd *cobra.Command) (*config.Overrides, error) {
	o := &config.Overrides{}
	set := false
	if f := cmd.Flags().Lookup("cutoff"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetInt("cutoff")
		if v <= 0 {
			return nil, erruser.New(fmt.Sprintf("--cutoff must be a positive number of characters, got %d.", v), nil)
		}
		o.Cutoff = &v
		set = true
	}
	if f := cmd.Flags().Lookup("model"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetString("model")
		o.Model = &v
		set = true
	}
	if f := cmd.Flags().Lookup("base-url"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetString("base-url")
		o.OllamaBaseURL = &v
		set = true
	}
	if f := cmd.Flags().Lookup("no-body"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetBool("no-body")
		body := !v
		o.Body = &body
		set = true
	}
	if !set {
		return nil, nil
	}
	return o, nil
}

// workDir returns the --chdir directory or the current directory.
func workDir(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("chdir"); dir != "" {
		return dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", erruser.New("Could not determine current directory.", err)
	}
	return cwd, nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// baseURL resolves the server URL: an explicit --base-url wins over --local.
func baseURL(cmd *cobra.Command, cfg *config.Config) string {
	local, _ := cmd.Flags().GetBool("local")
	if f := cmd.Flags().Lookup("base-url"); f != nil && f.Changed {
		local = false
	}
	return cfg.BaseURL(local)
}

func newGenerator(cfg *config.Config, client commitmsg.Completer, logger *slog.Logger, tr *trace.Tracer) (*commitmsg.Generator, error) {
	system, err := prompt.SystemPrompt(cfg.SystemPrompt)
	if err != nil {
		return nil, erruser.New("Could not read the system prompt file.", err)
	}
	examples, err := prompt.LoadExamples(cfg.ExamplesPath)
	if err != nil {
		return nil, erruser.New("Could not load few-shot examples.", err)
	}
	return &commitmsg.Generator{
		Client: client,
		Model:  cfg.Model,
		Options: &ollama.GenerateOptions{
			Temperature: cfg.Temperature,
			NumCtx:      cfg.ContextLimit,
			NumPredict:  cfg.NumPredict,
		},
		Cutoff:        cfg.Cutoff,
		System:        system,
		Examples:      examples,
		WithBody:      cfg.Body,
		ContextLimit:  cfg.ContextLimit,
		WarnThreshold: cfg.WarnThreshold,
		Logger:        logger,
		Trace:         tr,
	}, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	dir, err := workDir(cmd)
	if err != nil {
		return err
	}
	repoRoot, err := git.RepoRoot(dir)
	if err != nil {
		return err
	}
	overrides, err := overridesFromFlags(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cmd.Context(), config.LoadOptions{RepoRoot: repoRoot, Overrides: overrides})
	if err != nil {
		return err
	}
	debug, _ := cmd.Flags().GetBool("debug")
	logger := newLogger(stderr, debug)
	var tr *trace.Tracer
	if on, _ := cmd.Flags().GetBool("trace"); on {
		tr = trace.New(stderr)
	}

	client := ollama.NewClient(baseURL(cmd, cfg), &http.Client{Timeout: cfg.Timeout})
	gen, err := newGenerator(cfg, client, logger, tr)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	msg, err := generate(ctx, gen, repoRoot, logger)
	if err != nil {
		if errors.Is(err, ollama.ErrUnreachable) {
			return unreachable(client, err)
		}
		return erruser.New("Could not generate a commit message.", err)
	}
	logger.Debug("commit message generated", "model", cfg.Model, "elapsed", time.Since(start))

	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		fmt.Fprintln(stdout, msg.String())
		return nil
	}
	noEdit, _ := cmd.Flags().GetBool("no-edit")
	if noEdit && msg.Title == commitmsg.BinaryPlaceholder {
		return erruser.New("Staged changes include binary files; write the commit message yourself or run without --no-edit.", nil)
	}
	code, err := git.Commit(ctx, repoRoot, msg.Title, msg.Body, git.CommitOptions{Edit: !noEdit, Stdout: stdout, Stderr: stderr})
	if err != nil {
		return err
	}
	if code != 0 {
		return errExit(code)
	}
	return nil
}

// generate reads the staged diff and runs the generator. A staged diff that
// is not text yields the binary placeholder message.
func generate(ctx context.Context, gen *commitmsg.Generator, repoRoot string, logger *slog.Logger) (*commitmsg.Message, error) {
	staged, err := diff.Staged(ctx, repoRoot)
	if err != nil {
		if errors.Is(err, diff.ErrNotText) {
			fmt.Fprintln(stderr, "gptcommit does not support binary files")
			return &commitmsg.Message{Title: commitmsg.BinaryPlaceholder}, nil
		}
		return nil, erruser.New("Could not read the staged diff.", err)
	}
	if staged == "" {
		logger.Info("nothing staged or only whitespace changes")
	}
	return gen.Generate(ctx, staged)
}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify environment (model server, model, git repository)",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
	cmd.Flags().BoolP("local", "l", false, "Check the local server (local_base_url)")
	cmd.Flags().String("model", "", "Model name (overrides config and env)")
	cmd.Flags().String("base-url", "", "Model server URL (overrides config and env)")
	return cmd
}

func runDoctor(cmd *cobra.Command, args []string) error {
	dir, err := workDir(cmd)
	if err != nil {
		return err
	}
	repoRoot := ""
	if r, e := git.RepoRoot(dir); e == nil {
		repoRoot = r
	} else {
		fmt.Fprintln(stderr, "Warning: not inside a Git repository.")
	}
	overrides, err := overridesFromFlags(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cmd.Context(), config.LoadOptions{RepoRoot: repoRoot, Overrides: overrides})
	if err != nil {
		return err
	}
	client := ollama.NewClient(baseURL(cmd, cfg), nil)
	result, err := client.Check(cmd.Context(), cfg.Model)
	if err != nil {
		if errors.Is(err, ollama.ErrUnreachable) {
			return unreachable(client, err)
		}
		fmt.Fprintln(stderr, err.Error())
		return errExit(1)
	}
	if !result.ModelPresent {
		fmt.Fprintf(stderr, "Model %q not found. Pull it with: ollama pull %s\n", cfg.Model, cfg.Model)
		if len(result.ModelNames) > 0 {
			fmt.Fprintf(stderr, "Available models: %s\n", strings.Join(result.ModelNames, ", "))
		}
		return errExit(1)
	}
	fmt.Fprintf(stdout, "Model server OK (%s)\n", client.BaseURL())
	fmt.Fprintf(stdout, "Model: %s\n", cfg.Model)
	fmt.Fprintf(stdout, "Cutoff: %d characters\n", cfg.Cutoff)
	return nil
}

// unreachable prints the server hint and returns exit code 2.
func unreachable(client *ollama.Client, err error) error {
	fmt.Fprintf(stderr, "Model server unreachable at %s. Is it running? For local: ollama serve.\n", client.BaseURL())
	fmt.Fprintf(stderr, "Details: %v\n", err)
	return errExit(2)
}
