package passes

import (
	"fmt"
)

// SyntaxError reports malformed pipeline text.
type SyntaxError struct {
	Text   string
	Offset int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("pipeline syntax error at offset %d: %s", e.Offset, e.Reason)
}

// ParsePipeline parses the textual pipeline language. Whitespace is
// significant only as the option separator inside braces.
func ParsePipeline(text string) (Pipeline, error) {
	p := &parser{text: text}
	if text == "" {
		return Pipeline{}, nil
	}
	pipeline, err := p.pipeline()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.errorf("unexpected %q", p.peek())
	}
	return pipeline, nil
}

// MustParsePipeline is ParsePipeline for literals known to be valid.
func MustParsePipeline(text string) Pipeline {
	p, err := ParsePipeline(text)
	if err != nil {
		panic(err)
	}
	return p
}

type parser struct {
	text string
	pos  int
}

func (p *parser) eof() bool { return p.pos >= len(p.text) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.text[p.pos]
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Text: p.text, Offset: p.pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) pipeline() (Pipeline, error) {
	var out Pipeline
	for {
		pass, err := p.pass()
		if err != nil {
			return nil, err
		}
		out = append(out, pass)
		if p.peek() != ',' {
			return out, nil
		}
		p.pos++
	}
}

func (p *parser) pass() (Pass, error) {
	name := p.name()
	if name == "" {
		if p.eof() {
			return Pass{}, p.errorf("expected pass name, got end of input")
		}
		return Pass{}, p.errorf("expected pass name, got %q", p.peek())
	}
	pass := Pass{Name: name}

	if p.peek() == '{' {
		p.pos++
		opts, err := p.options()
		if err != nil {
			return Pass{}, err
		}
		pass.Options = opts
	}

	if p.peek() == '(' {
		p.pos++
		nested, err := p.pipeline()
		if err != nil {
			return Pass{}, err
		}
		if p.peek() != ')' {
			return Pass{}, p.errorf("unclosed nested pipeline for %q", name)
		}
		p.pos++
		pass.Nested = nested
	}
	return pass, nil
}

func (p *parser) name() string {
	start := p.pos
	for !p.eof() && isNameByte(p.peek()) {
		p.pos++
	}
	return p.text[start:p.pos]
}

// options parses "k=v k2=v2}" having consumed the opening brace.
func (p *parser) options() ([]Option, error) {
	var opts []Option
	for {
		for p.peek() == ' ' {
			p.pos++
		}
		if p.eof() {
			return nil, p.errorf("unclosed option list")
		}
		if p.peek() == '}' {
			p.pos++
			if len(opts) == 0 {
				return nil, p.errorf("empty option list")
			}
			return opts, nil
		}

		key := p.name()
		if key == "" {
			return nil, p.errorf("expected option name, got %q", p.peek())
		}
		opt := Option{Key: key}
		if p.peek() == '=' {
			p.pos++
			start := p.pos
			for !p.eof() && p.peek() != ' ' && p.peek() != '}' {
				p.pos++
			}
			if p.pos == start {
				return nil, p.errorf("option %q has an empty value", key)
			}
			opt.Value = p.text[start:p.pos]
		}
		opts = append(opts, opt)
	}
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '_' || c == '.'
}
