package build

import (
	"path/filepath"
)

// Layout names every artifact of a build inside the working directory.
// Paths are deterministic so stages and herds never collide.
type Layout struct {
	Dir  string
	Stem string
}

// NewLayout returns the layout for stem under dir.
func NewLayout(dir, stem string) Layout {
	return Layout{Dir: dir, Stem: stem}
}

// Stage returns "{dir}/{tag}.{stem}".
func (l Layout) Stage(tag string) string {
	return filepath.Join(l.Dir, tag+"."+l.Stem)
}

// OutputPrefix is where the placement stage writes herd fragments.
func (l Layout) OutputPrefix() string {
	return l.Dir + string(filepath.Separator)
}

func (l Layout) ControlLL() string     { return filepath.Join(l.Dir, l.Stem+".ll") }
func (l Layout) ControlOptBC() string  { return filepath.Join(l.Dir, l.Stem+".opt.bc") }
func (l Layout) ControlOptLL() string  { return filepath.Join(l.Dir, l.Stem+".opt.ll") }
func (l Layout) ControlObject() string { return filepath.Join(l.Dir, l.Stem+".o") }

// HerdFragment is the placement output for one herd.
func (l Layout) HerdFragment(herd string) string {
	return filepath.Join(l.Dir, "aie."+herd+".mlir")
}

// HerdLowered is the fragment after per-herd re-lowering.
func (l Layout) HerdLowered(herd string) string {
	return filepath.Join(l.Dir, "aiecc."+herd+".mlir")
}

// HerdDir is the fabric code generator's private directory for a herd.
func (l Layout) HerdDir(herd string) string {
	return filepath.Join(l.Dir, herd)
}

// HerdGenerated is the include file the code generator leaves in HerdDir.
func (l Layout) HerdGenerated(herd string) string {
	return filepath.Join(l.HerdDir(herd), "aie_inc.cpp")
}

func (l Layout) HerdInclude(herd string) string {
	return filepath.Join(l.Dir, l.Stem+"."+herd+".inc")
}

func (l Layout) HerdSource(herd string) string {
	return filepath.Join(l.Dir, l.Stem+"."+herd+".cpp")
}

func (l Layout) HerdObject(herd string) string {
	return filepath.Join(l.Dir, l.Stem+"."+herd+".o")
}

// Deliverable is "{dir}/{stem}.so" or "{dir}/{stem}.a".
func (l Layout) Deliverable(shared bool) string {
	if shared {
		return filepath.Join(l.Dir, l.Stem+".so")
	}
	return filepath.Join(l.Dir, l.Stem+".a")
}
