// Package metadata discovers the herds of a lowered program.
//
// The control-program artifact is queried with
// "air-translate --airrt-generate-json", which prints a mapping of opaque
// herd keys to records. Each record's sym_name is a herd name. The output
// is decoded as structured text, never evaluated, and herds are returned
// in the order the tool printed them.
package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/aircc/internal/log"
	"github.com/zjrosen/aircc/internal/toolchain"
)

// ErrMetadata matches every *MetadataError.
var ErrMetadata = errors.New("invalid herd metadata")

// SymNameKey is the record field holding a herd's name.
const SymNameKey = "sym_name"

// Herd names become file names and C++ namespaces.
var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Herd is one discovered unit of spatial work.
type Herd struct {
	// Key is the tool's opaque record key.
	Key string
	// Name is the herd's symbol name.
	Name string
}

// MetadataError reports output that does not match the herd schema.
type MetadataError struct {
	Reason string
	// Key is the offending record key, when the failure is record-specific.
	Key  string
	Line int

	ExitCode int
	Stderr   string
	Err      error
}

func (e *MetadataError) Error() string {
	msg := "herd metadata: " + e.Reason
	if e.Key != "" {
		msg += fmt.Sprintf(" (record %q)", e.Key)
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" at line %d", e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" [tool exit status %d]", e.ExitCode)
	}
	if tail := toolchain.Tail(e.Stderr, 5); tail != "" {
		msg += "\n" + tail
	}
	return msg
}

func (e *MetadataError) Is(target error) bool {
	return target == ErrMetadata
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// Names returns the herd names in order.
func Names(herds []Herd) []string {
	names := make([]string, len(herds))
	for i, h := range herds {
		names[i] = h.Name
	}
	return names
}

// Discover queries artifact with the metadata tool and decodes its output.
func Discover(ctx context.Context, runner toolchain.Runner, tool, artifact string) ([]Herd, error) {
	out, err := runner.Capture(ctx, toolchain.New(tool, "--airrt-generate-json", artifact))
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		log.Warn(log.CatMeta, "metadata tool exited non-zero", "exit", out.ExitCode, "artifact", artifact)
	}

	herds, err := Decode([]byte(out.Stdout))
	if err != nil {
		var me *MetadataError
		if errors.As(err, &me) {
			me.ExitCode = out.ExitCode
			me.Stderr = out.Stderr
		}
		return nil, err
	}

	log.Info(log.CatMeta, "discovered herds", "artifact", artifact, "herds", Names(herds))
	return herds, nil
}

// Decode parses metadata text into herds. It accepts JSON and the
// single-quoted literal form older tools print.
func Decode(data []byte) ([]Herd, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &MetadataError{Reason: "empty output"}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &MetadataError{Reason: "malformed output", Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &MetadataError{Reason: "empty output"}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &MetadataError{Reason: "top level is not a mapping", Line: root.Line}
	}

	herds := make([]Herd, 0, len(root.Content)/2)
	seen := make(map[string]string, len(root.Content)/2)
	keys := make(map[string]bool, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, rec := root.Content[i], root.Content[i+1]
		key := keyNode.Value
		if keys[key] {
			return nil, &MetadataError{Reason: "duplicate record key", Key: key, Line: keyNode.Line}
		}
		keys[key] = true

		if rec.Kind != yaml.MappingNode {
			return nil, &MetadataError{Reason: "record is not a mapping", Key: key, Line: rec.Line}
		}

		name, err := symName(key, rec)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[name]; dup {
			return nil, &MetadataError{
				Reason: fmt.Sprintf("duplicate herd name %q (also in record %q)", name, prev),
				Key:    key,
				Line:   rec.Line,
			}
		}
		seen[name] = key
		herds = append(herds, Herd{Key: key, Name: name})
	}
	return herds, nil
}

func symName(key string, rec *yaml.Node) (string, error) {
	for i := 0; i+1 < len(rec.Content); i += 2 {
		if rec.Content[i].Value != SymNameKey {
			continue
		}
		v := rec.Content[i+1]
		if v.Kind != yaml.ScalarNode || v.Value == "" {
			return "", &MetadataError{Reason: "sym_name is not a non-empty string", Key: key, Line: v.Line}
		}
		if !identifierRE.MatchString(v.Value) {
			return "", &MetadataError{
				Reason: fmt.Sprintf("herd name %q is not a valid identifier", v.Value),
				Key:    key,
				Line:   v.Line,
			}
		}
		return v.Value, nil
	}
	return "", &MetadataError{Reason: "record has no sym_name", Key: key, Line: rec.Line}
}
