// Package trace writes the internal steps of a run (segmentation, prompts,
// model responses) to stderr when --trace is set. A Tracer with a nil writer
// is a no-op, as is a nil *Tracer.
package trace

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const prefix = "[gptcommit:trace]"

// Tracer writes sectioned trace output. It is safe for concurrent use; each
// call is written as one unit.
type Tracer struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a Tracer that writes to w. If w is nil, all methods no-op.
func New(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

// Enabled returns true if the tracer has a non-nil writer.
func (t *Tracer) Enabled() bool {
	return t != nil && t.w != nil
}

// Section writes a section header: "\n[gptcommit:trace] === name ===\n".
func (t *Tracer) Section(name string) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "\n%s === %s ===\n", prefix, name)
}

// Printf writes to the trace writer when enabled.
func (t *Tracer) Printf(format string, args ...interface{}) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format, args...)
}

// Text writes a labeled multi-line payload followed by a newline.
func (t *Tracer) Text(label, body string) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s %s (%d bytes):\n%s\n", prefix, label, len(body), strings.TrimRight(body, "\n"))
}
