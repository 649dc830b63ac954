// Package templates holds the embedded text templates used to generate
// per-herd glue code and build plan documents.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"text/template"
)

//go:embed glue plan
var files embed.FS

// FS returns the embedded template files.
func FS() fs.FS {
	return files
}

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

// Load parses one embedded template by path, e.g. "glue/wrapper.cpp.tmpl".
func Load(name string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).ParseFS(files, name)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return t.Lookup(path.Base(name)), nil
}

// Must wraps Load for package-level templates.
func Must(name string) *template.Template {
	t, err := Load(name)
	if err != nil {
		panic(err)
	}
	return t
}
