package metadata

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/aircc/internal/toolchain"
	"github.com/zjrosen/aircc/internal/toolchain/mock"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "json preserves document order",
			input: `{"herd_1": {"sym_name": "zeta"}, "herd_0": {"sym_name": "alpha"}}`,
			want:  []string{"zeta", "alpha"},
		},
		{
			name:  "single-quoted literal form",
			input: `{'herd_0': {'sym_name': 'copyherd', 'x': 7, 'y': 2}}`,
			want:  []string{"copyherd"},
		},
		{
			name:  "empty mapping is zero herds",
			input: "{}\n",
			want:  []string{},
		},
		{
			name:  "extra fields ignored",
			input: `{"h": {"x": 1, "sym_name": "herd_0", "shape": [1, 2]}}`,
			want:  []string{"herd_0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			herds, err := Decode([]byte(tt.input))
			require.NoError(t, err)
			require.Equal(t, tt.want, Names(herds))
		})
	}
}

func TestDecode_Keys(t *testing.T) {
	herds, err := Decode([]byte(`{"a": {"sym_name": "h0"}, "b": {"sym_name": "h1"}}`))
	require.NoError(t, err)
	require.Equal(t, []Herd{{Key: "a", Name: "h0"}, {Key: "b", Name: "h1"}}, herds)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{name: "empty", input: "  \n", reason: "empty output"},
		{name: "list", input: `["herd_0"]`, reason: "not a mapping"},
		{name: "scalar", input: `42`, reason: "not a mapping"},
		{name: "record not mapping", input: `{"h": "herd_0"}`, reason: "record is not a mapping"},
		{name: "missing sym_name", input: `{"h": {"name": "herd_0"}}`, reason: "no sym_name"},
		{name: "empty sym_name", input: `{"h": {"sym_name": ""}}`, reason: "non-empty string"},
		{name: "sym_name not scalar", input: `{"h": {"sym_name": {"a": 1}}}`, reason: "non-empty string"},
		{name: "path traversal", input: `{"h": {"sym_name": "../evil"}}`, reason: "not a valid identifier"},
		{name: "duplicate", input: `{"a": {"sym_name": "h"}, "b": {"sym_name": "h"}}`, reason: "duplicate herd name"},
		{name: "duplicate key", input: `{"a": {"sym_name": "h"}, "a": {"sym_name": "h2"}}`, reason: "duplicate record key"},
		{name: "garbage", input: `{"a": [`, reason: "malformed output"},
		{name: "code is never evaluated", input: `__import__('os').system('true')`, reason: "not a mapping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			require.ErrorIs(t, err, ErrMetadata)
			require.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestDiscover_UsesToolOutput(t *testing.T) {
	tc := mock.NewToolchain("herd_0", "herd_1")

	herds, err := Discover(context.Background(), tc, "air-translate", "/tmp/airrt.x.mlir")
	require.NoError(t, err)
	require.Equal(t, []string{"herd_0", "herd_1"}, Names(herds))

	calls := tc.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "air-translate --airrt-generate-json /tmp/airrt.x.mlir", calls[0].String())
}

func TestDiscover_AttachesToolDiagnostics(t *testing.T) {
	tc := mock.NewToolchain()
	tc.MetadataFunc = func(cmd toolchain.Command) toolchain.Output {
		return toolchain.Output{ExitCode: 1, Stderr: "error: unknown operation\n"}
	}

	_, err := Discover(context.Background(), tc, "air-translate", "x")
	require.ErrorIs(t, err, ErrMetadata)

	var me *MetadataError
	require.ErrorAs(t, err, &me)
	require.Equal(t, 1, me.ExitCode)
	require.Contains(t, err.Error(), "unknown operation")
}

// Decoding returns every herd exactly once in printed order.
func TestDecode_OrderPreserved_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOfDistinct(
			rapid.StringMatching(`[A-Za-z_][A-Za-z0-9_]{0,12}`),
			func(s string) string { return s },
		).Draw(t, "names")

		var b strings.Builder
		b.WriteString("{")
		for i, n := range names {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, `"k%d": {"sym_name": %q}`, len(names)-i, n)
		}
		b.WriteString("}")

		herds, err := Decode([]byte(b.String()))
		if err != nil {
			t.Fatalf("decode %s: %v", b.String(), err)
		}
		got := Names(herds)
		if len(got) != len(names) {
			t.Fatalf("got %d herds, want %d", len(got), len(names))
		}
		for i := range names {
			if got[i] != names[i] {
				t.Fatalf("herd %d: got %q want %q", i, got[i], names[i])
			}
		}
	})
}
