package passes

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmptyProgram is returned when program text has no content.
var ErrEmptyProgram = errors.New("empty program")

// Program is an in-memory textual program that pass pipelines mutate.
// A Program is owned by one goroutine at a time.
type Program struct {
	name string
	text string
}

// ParseProgram creates a program from source text.
func ParseProgram(name, text string) (*Program, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyProgram)
	}
	return &Program{name: name, text: text}, nil
}

// LoadProgram reads a program from path.
func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is a build input or stage artifact
	if err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}
	return ParseProgram(path, string(data))
}

// Name identifies the program in logs and errors.
func (p *Program) Name() string { return p.name }

// Text returns the program's textual form.
func (p *Program) Text() string { return p.text }

// Replace swaps in new text after a pass run.
func (p *Program) Replace(text string) { p.text = text }

// Clone returns an independent copy.
func (p *Program) Clone() *Program {
	c := *p
	return &c
}

// WriteFile writes the program's textual form to path.
func (p *Program) WriteFile(path string) error {
	if err := os.WriteFile(path, []byte(p.text), 0644); err != nil { //nolint:gosec // G306: build artifacts are world-readable
		return fmt.Errorf("write program: %w", err)
	}
	return nil
}
