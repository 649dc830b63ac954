package build

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/zjrosen/aircc/internal/templates"
)

var planTemplate = templates.Must("plan/plan.md.tmpl")

// placeholderHerd stands in for herd names, which are only known once the
// airrt artifact exists.
const placeholderHerd = "H"

type planStage struct {
	Tag      string
	Detached bool
	Input    string
	Output   string
	Pipeline string
}

// RenderPlan describes, as markdown, every step Build would run for opts.
// Nothing is executed.
func RenderPlan(opts Options) (string, error) {
	dir := opts.WorkDir
	if dir == "" {
		dir = filepath.Join("$TMPDIR", "aircc-XXXX")
	}
	layout := NewLayout(dir, opts.Stem())

	var stages []planStage
	for _, s := range Plan(opts, layout) {
		stages = append(stages, planStage{
			Tag:      s.Tag,
			Detached: s.Detached,
			Input:    s.Input,
			Output:   s.Output,
			Pipeline: s.Pipeline.String(),
		})
	}

	var emission []string
	for _, c := range EmissionCommands(opts, layout) {
		emission = append(emission, c.String())
	}

	herdSteps := []string{
		RelowerCommand(opts, layout, placeholderHerd).String(),
		AieccCommand(opts, layout, placeholderHerd).String(),
		fmt.Sprintf("copy %s %s", layout.HerdGenerated(placeholderHerd), layout.HerdInclude(placeholderHerd)),
		fmt.Sprintf("generate %s", layout.HerdSource(placeholderHerd)),
		GlueCompileCommand(opts, layout, placeholderHerd).String(),
	}

	objs := []string{layout.ControlObject(), layout.HerdObject(placeholderHerd) + "..."}

	data := map[string]any{
		"Input":           opts.Input,
		"Flow":            opts.Flow,
		"WorkDir":         dir,
		"Deliverable":     layout.Deliverable(opts.Shared),
		"Shared":          opts.Shared,
		"Output":          opts.Output,
		"Move":            opts.MovesOutput(),
		"Stages":          stages,
		"Emission":        emission,
		"MetadataCommand": MetadataCommand(opts, layout).String(),
		"Jobs":            opts.Jobs,
		"HerdSteps":       herdSteps,
		"LinkCommand":     LinkCommand(opts, layout, objs).String(),
	}

	var buf bytes.Buffer
	if err := planTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render plan: %w", err)
	}
	return buf.String(), nil
}
