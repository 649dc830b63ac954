package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/aircc/internal/toolchain"
)

const outputPrefixOption = "air-to-aie-output-prefix="

// Compile-time check that Toolchain implements toolchain.Runner.
var _ toolchain.Runner = (*Toolchain)(nil)

// Toolchain is a fake toolchain.Runner.
type Toolchain struct {
	// FailFunc makes a matching command fail with exit status 1.
	FailFunc func(cmd toolchain.Command) bool

	// DelayFunc delays a command before it runs. The delay honours ctx.
	DelayFunc func(cmd toolchain.Command) time.Duration

	// MetadataFunc overrides the stdout of air-translate --airrt-generate-json.
	MetadataFunc func(cmd toolchain.Command) toolchain.Output

	herds []string

	mu    sync.Mutex
	calls []toolchain.Command
}

// NewToolchain creates a fake whose placement stage emits the given herds.
func NewToolchain(herds ...string) *Toolchain {
	return &Toolchain{herds: herds}
}

// Herds returns the configured herd names.
func (t *Toolchain) Herds() []string {
	return append([]string(nil), t.herds...)
}

// Calls returns every recorded command in invocation order.
func (t *Toolchain) Calls() []toolchain.Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]toolchain.Command(nil), t.calls...)
}

// CallsTo returns the recorded commands for one tool name.
func (t *Toolchain) CallsTo(name string) []toolchain.Command {
	var out []toolchain.Command
	for _, c := range t.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many commands ran.
func (t *Toolchain) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Call implements toolchain.Runner.
func (t *Toolchain) Call(ctx context.Context, cmd toolchain.Command) error {
	if err := t.begin(ctx, cmd); err != nil {
		return err
	}
	if t.FailFunc != nil && t.FailFunc(cmd) {
		return &toolchain.ToolError{Command: cmd, ExitCode: 1, Stderr: "injected failure\n"}
	}
	if err := t.simulate(cmd); err != nil {
		return &toolchain.ToolError{Command: cmd, ExitCode: 1, Stderr: err.Error() + "\n"}
	}
	return nil
}

// Capture implements toolchain.Runner.
func (t *Toolchain) Capture(ctx context.Context, cmd toolchain.Command) (toolchain.Output, error) {
	if err := t.begin(ctx, cmd); err != nil {
		return toolchain.Output{ExitCode: -1}, err
	}
	if t.FailFunc != nil && t.FailFunc(cmd) {
		return toolchain.Output{ExitCode: 1, Stderr: "injected failure\n"}, nil
	}
	if hasArg(cmd, "--airrt-generate-json") {
		if t.MetadataFunc != nil {
			return t.MetadataFunc(cmd), nil
		}
		return toolchain.Output{Stdout: t.metadata()}, nil
	}
	if err := t.simulate(cmd); err != nil {
		return toolchain.Output{ExitCode: 1, Stderr: err.Error() + "\n"}, nil
	}
	return toolchain.Output{}, nil
}

func (t *Toolchain) begin(ctx context.Context, cmd toolchain.Command) error {
	t.mu.Lock()
	t.calls = append(t.calls, cmd)
	t.mu.Unlock()

	var delay time.Duration
	if t.DelayFunc != nil {
		delay = t.DelayFunc(cmd)
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	if ctx.Err() != nil {
		return &toolchain.ToolError{Command: cmd, ExitCode: -1, Err: ctx.Err()}
	}
	return nil
}

// metadata renders herd records the way air-translate does: one entry per
// herd keyed by an opaque identifier, in placement order.
func (t *Toolchain) metadata() string {
	var b strings.Builder
	b.WriteString("{")
	for i, h := range t.herds {
		if i > 0 {
			b.WriteString(", ")
		}
		name, _ := json.Marshal(h)
		fmt.Fprintf(&b, `"herd_%d": {"sym_name": %s, "x": %d, "y": 0}`, i, name, i)
	}
	b.WriteString("}")
	return b.String()
}

func (t *Toolchain) simulate(cmd toolchain.Command) error {
	switch {
	case pipelineArg(cmd) != "":
		return t.simulatePipeline(cmd)
	case strings.Contains(filepath.Base(cmd.Name), "aiecc"):
		return simulateAiecc(cmd)
	case len(cmd.Args) >= 2 && cmd.Args[0] == "rc":
		return simulateArchive(cmd)
	case hasArg(cmd, "-shared"):
		return simulateShared(cmd)
	}

	if len(cmd.Args) > 0 && strings.HasSuffix(cmd.Args[0], ".mlir") {
		if err := requireFile(cmd.Args[0]); err != nil {
			return err
		}
	}
	if out := cmd.Output(); out != "" && out != os.DevNull {
		return writeFile(out, cmd.String()+"\n")
	}
	return nil
}

func (t *Toolchain) simulatePipeline(cmd toolchain.Command) error {
	in := cmd.Args[0]
	data, err := os.ReadFile(in) //nolint:gosec // test fake
	if err != nil {
		return fmt.Errorf("%s: no such file", in)
	}

	pipeline := pipelineArg(cmd)
	if i := strings.Index(pipeline, outputPrefixOption); i >= 0 && strings.Contains(pipeline, "emit-while-loop=false") {
		prefix := pipeline[i+len(outputPrefixOption):]
		if j := strings.IndexAny(prefix, " }"); j >= 0 {
			prefix = prefix[:j]
		}
		for _, h := range t.herds {
			if err := writeFile(prefix+"aie."+h+".mlir", "// herd "+h+"\n"); err != nil {
				return err
			}
		}
	}

	if out := cmd.Output(); out != "" && out != os.DevNull {
		return writeFile(out, string(data)+"// "+pipeline+"\n")
	}
	return nil
}

func simulateAiecc(cmd toolchain.Command) error {
	var dir string
	for i, a := range cmd.Args {
		if a == "--tmpdir" && i+1 < len(cmd.Args) {
			dir = cmd.Args[i+1]
		}
	}
	if dir == "" || len(cmd.Args) == 0 {
		return fmt.Errorf("aiecc: missing --tmpdir")
	}
	in := cmd.Args[len(cmd.Args)-1]
	if err := requireFile(in); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, "aie_inc.cpp"), "// generated from "+in+"\n")
}

// simulateArchive appends members to an existing archive like "llvm-ar rc".
func simulateArchive(cmd toolchain.Command) error {
	if len(cmd.Args) < 2 {
		return fmt.Errorf("llvm-ar: missing archive")
	}
	lib, members := cmd.Args[1], cmd.Args[2:]
	for _, m := range members {
		if err := requireFile(m); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(lib, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) //nolint:gosec // test fake
	if err != nil {
		return err
	}
	defer f.Close()
	for _, m := range members {
		if _, err := fmt.Fprintln(f, filepath.Base(m)); err != nil {
			return err
		}
	}
	return nil
}

func simulateShared(cmd toolchain.Command) error {
	out := cmd.Output()
	if out == "" {
		return fmt.Errorf("clang: missing -o")
	}
	var b strings.Builder
	skip := false
	for _, a := range cmd.Args {
		switch {
		case skip:
			skip = false
		case a == "-o":
			skip = true
		case strings.HasPrefix(a, "-"):
		default:
			if err := requireFile(a); err != nil {
				return err
			}
			b.WriteString(filepath.Base(a) + "\n")
		}
	}
	return writeFile(out, b.String())
}

// ReadArchive returns the member names recorded in a fake archive or shared library.
func ReadArchive(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // test helper
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(data)), nil
}

func pipelineArg(cmd toolchain.Command) string {
	for _, a := range cmd.Args {
		if v, ok := strings.CutPrefix(a, "--pass-pipeline="); ok {
			return v
		}
	}
	return ""
}

func hasArg(cmd toolchain.Command, arg string) bool {
	for _, a := range cmd.Args {
		if a == arg {
			return true
		}
	}
	return false
}

func requireFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s: no such file", path)
	}
	return nil
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644) //nolint:gosec // test fake
}
