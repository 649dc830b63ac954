package passes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipeline_StringMatchesToolSyntax(t *testing.T) {
	p := Pipeline{
		NewPass("air-to-aie").
			With("air-to-aie-emit-while-loop", false).
			With("air-to-aie-row-offset", 2).
			With("air-to-aie-col-offset", 7).
			With("air-to-aie-output-prefix", "/tmp/x/"),
		Nest("builtin.func", NewPass("convert-linalg-to-loops")),
	}

	require.Equal(t,
		"air-to-aie{air-to-aie-emit-while-loop=false air-to-aie-row-offset=2 air-to-aie-col-offset=7 air-to-aie-output-prefix=/tmp/x/},builtin.func(convert-linalg-to-loops)",
		p.String())
}

func TestPipeline_ThenDoesNotAlias(t *testing.T) {
	base := make(Pipeline, 0, 8)
	base = append(base, NewPass("canonicalize"))

	a := base.Then(NewPass("cse"))
	b := base.Then(NewPass("lower-affine"))

	require.Equal(t, "canonicalize,cse", a.String())
	require.Equal(t, "canonicalize,lower-affine", b.String())
	require.Equal(t, "canonicalize", base.String())
}

func TestPass_WithDoesNotAlias(t *testing.T) {
	base := NewPass("air-to-aie").With("air-to-aie-row-offset", 1)
	x := base.With("air-to-aie-emit-while-loop", true)
	y := base.With("air-to-aie-emit-while-loop", false)

	require.Equal(t, "air-to-aie{air-to-aie-row-offset=1 air-to-aie-emit-while-loop=true}", x.String())
	require.Equal(t, "air-to-aie{air-to-aie-row-offset=1 air-to-aie-emit-while-loop=false}", y.String())
}

func TestPipeline_Args(t *testing.T) {
	p := Passes("air-lower-linalg-tensors", "lower-affine", "cse").
		Then(NewPass("air-to-aie").With("air-to-aie-row-offset", 2).With("air-to-aie-col-offset", 7))

	args, err := p.Args()
	require.NoError(t, err)
	require.Equal(t, []string{
		"-air-lower-linalg-tensors",
		"-lower-affine",
		"-cse",
		"-air-to-aie=air-to-aie-row-offset=2 air-to-aie-col-offset=7",
	}, args)

	_, err = Pipeline{Nest("builtin.func", NewPass("finalizing-bufferize"))}.Args()
	require.Error(t, err, "nested pipelines have no flag form")
}

func TestMustArgs(t *testing.T) {
	require.Equal(t, []string{"-lower-affine", "-cse"}, MustArgs(Passes("lower-affine", "cse")))
	require.Panics(t, func() {
		MustArgs(Pipeline{Nest("builtin.func", NewPass("cse"))})
	})
}

func TestPipeline_Empty(t *testing.T) {
	require.Equal(t, "", Pipeline{}.String())
	args, err := Pipeline{}.Args()
	require.NoError(t, err)
	require.Empty(t, args)
}

func TestOption_BareFlag(t *testing.T) {
	p := Pipeline{{Name: "x", Options: []Option{{Key: "verbose"}, {Key: "k", Value: "v"}}}}
	require.Equal(t, "x{verbose k=v}", p.String())
}
