// Package passes builds, prints and runs lowering pass pipelines.
//
// A Pipeline serialises to the textual pipeline language accepted by
// air-opt's --pass-pipeline flag:
//
//	air-to-aie{air-to-aie-emit-while-loop=false air-to-aie-row-offset=2},builtin.func(convert-linalg-to-loops)
//
// Passes are joined by ',', options are space-separated key=value pairs in
// braces, and nested pipelines are wrapped in parentheses after an anchor.
package passes

import (
	"fmt"
	"strings"
)

// Option is a single pass option. An empty Value prints as a bare flag.
type Option struct {
	Key   string
	Value string
}

func (o Option) String() string {
	if o.Value == "" {
		return o.Key
	}
	return o.Key + "=" + o.Value
}

// Pass is one pass, or an anchor for a nested pipeline.
type Pass struct {
	Name    string
	Options []Option
	Nested  Pipeline
}

// NewPass creates a pass with no options.
func NewPass(name string) Pass {
	return Pass{Name: name}
}

// With returns a copy of p with an option appended. Options keep insertion order.
func (p Pass) With(key string, value any) Pass {
	opts := make([]Option, len(p.Options), len(p.Options)+1)
	copy(opts, p.Options)
	p.Options = append(opts, Option{Key: key, Value: fmt.Sprint(value)})
	return p
}

// Nest anchors a nested pipeline, e.g. Nest("builtin.func", NewPass("cse")).
func Nest(anchor string, passes ...Pass) Pass {
	return Pass{Name: anchor, Nested: Pipeline(passes)}
}

func (p Pass) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if len(p.Options) > 0 {
		b.WriteByte('{')
		for i, o := range p.Options {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(o.String())
		}
		b.WriteByte('}')
	}
	if len(p.Nested) > 0 {
		b.WriteByte('(')
		b.WriteString(p.Nested.String())
		b.WriteByte(')')
	}
	return b.String()
}

// Pipeline is an ordered list of passes.
type Pipeline []Pass

// Passes builds a pipeline of option-less passes.
func Passes(names ...string) Pipeline {
	p := make(Pipeline, 0, len(names))
	for _, n := range names {
		p = append(p, NewPass(n))
	}
	return p
}

// Then returns a new pipeline with passes appended. p is not modified.
func (p Pipeline) Then(passes ...Pass) Pipeline {
	out := make(Pipeline, 0, len(p)+len(passes))
	out = append(out, p...)
	return append(out, passes...)
}

// Concat returns p followed by q.
func (p Pipeline) Concat(q Pipeline) Pipeline {
	return p.Then(q...)
}

func (p Pipeline) String() string {
	parts := make([]string, len(p))
	for i, pass := range p {
		parts[i] = pass.String()
	}
	return strings.Join(parts, ",")
}

// Names lists the top-level pass names.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, pass := range p {
		names[i] = pass.Name
	}
	return names
}

// Args renders the pipeline as discrete air-opt flags, one per pass:
// "-cse", "-air-to-aie=k=v k2=v2". Nested pipelines have no flag form.
func (p Pipeline) Args() ([]string, error) {
	args := make([]string, 0, len(p))
	for _, pass := range p {
		if len(pass.Nested) > 0 {
			return nil, fmt.Errorf("pass %q: nested pipelines cannot be rendered as flags", pass.Name)
		}
		arg := "-" + pass.Name
		if len(pass.Options) > 0 {
			opts := make([]string, len(pass.Options))
			for i, o := range pass.Options {
				opts[i] = o.String()
			}
			arg += "=" + strings.Join(opts, " ")
		}
		args = append(args, arg)
	}
	return args, nil
}

// MustArgs is Pipeline.Args for pipelines known to be flat.
func MustArgs(p Pipeline) []string {
	args, err := p.Args()
	if err != nil {
		panic(err)
	}
	return args
}
