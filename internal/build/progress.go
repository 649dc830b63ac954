package build

import (
	"time"
)

// Phases reported in Progress events.
const (
	PhaseStage    = "stage"
	PhaseEmit     = "emit"
	PhaseDiscover = "discover"
	PhaseHerd     = "herd"
	PhaseLink     = "link"
	PhasePublish  = "publish"
)

// Progress is published on the driver's broker as a build advances.
type Progress struct {
	BuildID string
	Phase   string
	// Name is the stage tag, herd name or artifact path.
	Name     string
	Index    int
	Total    int
	Duration time.Duration
	Err      error
}
