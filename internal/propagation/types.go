package propagation

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/kepler"
)

var (
	ErrNoCatalog   = errors.New("no catalog loaded")
	ErrParentCycle = errors.New("parent chain does not reach a central body")
)

// Keyframe holds the state of every resolvable catalog body at one instant.
type Keyframe struct {
	Timestamp  time.Time
	JulianDate float64
	Bodies     []BodyState
}

// BodyState is one body's state at a keyframe time.
//
// Position and Velocity are relative to Parent. SystemPosition and
// SystemVelocity are relative to the central body, found by summing
// along the parent chain. Central bodies sit at the origin.
type BodyState struct {
	Identifier     string
	Parent         string
	Position       r3.Vec // meters
	Velocity       r3.Vec // m/s
	SystemPosition r3.Vec
	SystemVelocity r3.Vec
	Converged      bool
}

// PropConfig holds propagation configuration loaded from environment variables.
type PropConfig struct {
	Workers int           // Worker pool size (default: runtime.NumCPU())
	Step    time.Duration // Keyframe interval (default: 1h)
	Horizon time.Duration // Propagation horizon (default: 24h)
	Solver  kepler.Solver // Kepler solver budget and tolerance
}
