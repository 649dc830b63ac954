package build

import (
	"bytes"
	"fmt"
	"os"

	"github.com/zjrosen/aircc/internal/templates"
)

var wrapperTemplate = templates.Must("glue/wrapper.cpp.tmpl")

// RenderWrapper returns the C++ glue unit that exposes a herd's generated
// configuration functions to the host runtime as __airrt_<herd>_aie_functions.
func RenderWrapper(herd, include string) (string, error) {
	var buf bytes.Buffer
	err := wrapperTemplate.Execute(&buf, struct {
		Herd    string
		Include string
	}{Herd: herd, Include: include})
	if err != nil {
		return "", fmt.Errorf("render glue for herd %s: %w", herd, err)
	}
	return buf.String(), nil
}

func writeWrapper(path, herd, include string) error {
	src, err := RenderWrapper(herd, include)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(src), 0644); err != nil { //nolint:gosec // G306: generated source
		return fmt.Errorf("write glue for herd %s: %w", herd, err)
	}
	return nil
}
