package kepler

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

// Apply returns m*v.
func (m *Mat3) Apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// PerifocalToInertial builds the 3-1-3 rotation R3(-omega) R1(-i) R3(-w) that
// maps perifocal coordinates (x toward periapsis, z along the orbit normal)
// into the inertial frame.
func PerifocalToInertial(w, omega, i float64) Mat3 {
	sw, cw := math.Sincos(w)
	so, co := math.Sincos(omega)
	si, ci := math.Sincos(i)

	return Mat3{
		{cw*co - sw*ci*so, -(sw*co + cw*ci*so), si * so},
		{cw*so + sw*ci*co, cw*ci*co - sw*so, -si * co},
		{sw * si, cw * si, ci},
	}
}

// PlaneState is a body's state in its orbital (perifocal) plane.
type PlaneState struct {
	TrueAnomaly float64 // nu, radians
	Radius      float64 // rc, meters
	Position    r3.Vec  // o, z is always 0
	Velocity    r3.Vec  // odot, z is always 0
}

// OrbitalPlaneState derives the perifocal position and velocity from the
// eccentric anomaly E. Inputs are assumed valid (a > 0, 0 <= e < 1, mu > 0),
// which keeps rc strictly positive.
func OrbitalPlaneState(a, e, mu, E float64) PlaneState {
	nu := TrueAnomaly(E, e)
	sinE, cosE := math.Sincos(E)
	rc := a * (1 - e*cosE)

	sinNu, cosNu := math.Sincos(nu)
	speed := math.Sqrt(mu*a) / rc

	return PlaneState{
		TrueAnomaly: nu,
		Radius:      rc,
		Position:    r3.Vec{X: rc * cosNu, Y: rc * sinNu},
		Velocity:    r3.Vec{X: speed * -sinE, Y: speed * math.Sqrt(1-e*e) * cosE},
	}
}

// ToInertial rotates the orbital-plane state ps of el into the inertial frame.
// Position and velocity go through the same rotation; the frame is static, so
// no rotation-rate term is added to the velocity.
func ToInertial(el Elements, ps PlaneState) StateVector {
	rot := PerifocalToInertial(el.ArgPeriapsis, el.LongAscNode, el.Inclination)
	return StateVector{
		Position: rot.Apply(ps.Position),
		Velocity: rot.Apply(ps.Velocity),
	}
}
