// Package mock provides a state-based fake of toolchain.Runner for testing.
//
// Toolchain simulates the external tools closely enough for a whole build to
// run against a temporary directory without any compiler installed: every
// "-o" output is written, the placement pipeline drops one aie.<herd>.mlir
// fragment per configured herd, aiecc writes aie_inc.cpp into its --tmpdir,
// air-translate prints herd metadata, and llvm-ar appends member names to
// the archive.
//
//	tc := mock.NewToolchain("herd_0", "herd_1")
//
//	// Fail the sub-toolchain of one herd
//	tc.FailFunc = func(cmd toolchain.Command) bool {
//	    return strings.Contains(cmd.String(), "herd_1")
//	}
//
//	// Randomise completion order
//	tc.DelayFunc = func(cmd toolchain.Command) time.Duration { return 5 * time.Millisecond }
//
// Inputs a real tool would read are checked for existence, so a missing
// artifact surfaces as a *toolchain.ToolError just as it would in a build.
package mock
