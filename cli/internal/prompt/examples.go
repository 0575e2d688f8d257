package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed examples.yaml
var defaultExamples []byte

// Example is one few-shot pair: a diff and the summary the model should give for it.
type Example struct {
	Name    string `yaml:"name"`
	Diff    string `yaml:"diff"`
	Summary string `yaml:"summary"`
}

type examplesFile struct {
	Examples []Example `yaml:"examples"`
}

// DefaultExamples returns the built-in few-shot examples.
func DefaultExamples() []Example {
	ex, err := parseExamples(defaultExamples)
	if err != nil {
		panic("prompt: embedded examples.yaml: " + err.Error())
	}
	return ex
}

// LoadExamples reads few-shot examples from a YAML file of the form
//
//	examples:
//	  - name: rename-helper
//	    diff: |
//	      diff --git ...
//	    summary: Rename helper ...
//
// Empty path returns DefaultExamples. A missing file also returns the
// defaults; a file that exists but cannot be parsed is an error. Entries
// without a diff or summary are dropped.
func LoadExamples(path string) ([]Example, error) {
	if path == "" {
		return DefaultExamples(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultExamples(), nil
		}
		return nil, fmt.Errorf("read examples: %w", err)
	}
	ex, err := parseExamples(data)
	if err != nil {
		return nil, fmt.Errorf("parse examples %s: %w", path, err)
	}
	return ex, nil
}

func parseExamples(data []byte) ([]Example, error) {
	var f examplesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	out := make([]Example, 0, len(f.Examples))
	for _, e := range f.Examples {
		e.Diff = strings.TrimSpace(e.Diff)
		e.Summary = strings.TrimSpace(e.Summary)
		if e.Diff == "" || e.Summary == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
