package kepler

import (
	"errors"
	"math"
	"testing"

	"github.com/star/orrery/internal/julian"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func leoElements() Elements {
	return Elements{SemiMajorAxis: leoA, Mu: earthMu}
}

// TestEvaluateCircularLEO is the reference scenario: a 7000 km circular,
// equatorial orbit evaluated at its epoch.
func TestEvaluateCircularLEO(t *testing.T) {
	sv, err := Evaluate(leoElements(), 0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	wantPos := r3.Vec{X: leoA}
	if d := r3.Norm(r3.Sub(sv.Position, wantPos)); d > 1e-6 {
		t.Errorf("position = %v, want %v (off by %g m)", sv.Position, wantPos, d)
	}

	v := math.Sqrt(earthMu / leoA)
	wantVel := r3.Vec{Y: v}
	if d := r3.Norm(r3.Sub(sv.Velocity, wantVel)); d > 1e-9 {
		t.Errorf("velocity = %v, want %v", sv.Velocity, wantVel)
	}
	if math.Abs(sv.Velocity.Y-7546.05) > 0.01 {
		t.Errorf("circular speed = %.3f m/s, want ~7546.05", sv.Velocity.Y)
	}
}

// TestEvaluatePolarInclination rotates the same orbit to i = pi/2: the
// orbit moves into the x-z plane and the radius is preserved.
func TestEvaluatePolarInclination(t *testing.T) {
	el := leoElements()
	el.Inclination = math.Pi / 2

	sv, err := Evaluate(el, 0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !scalar.EqualWithinAbs(r3.Norm(sv.Position), leoA, 1e-6) {
		t.Errorf("|position| = %v, want %v", r3.Norm(sv.Position), leoA)
	}
	if math.Abs(sv.Position.Y) > 1e-6 {
		t.Errorf("position y = %g, want 0 (orbit in x-z plane)", sv.Position.Y)
	}
	v := math.Sqrt(earthMu / leoA)
	if math.Abs(sv.Velocity.Y) > 1e-9 || !scalar.EqualWithinAbs(sv.Velocity.Z, v, 1e-9) {
		t.Errorf("velocity = %v, want (0, 0, %v)", sv.Velocity, v)
	}

	// A quarter period later the body sits over the pole.
	period, err := el.Period()
	if err != nil {
		t.Fatal(err)
	}
	sv, err = Evaluate(el, period/4/julian.SecondsPerDay)
	if err != nil {
		t.Fatalf("Evaluate quarter period: %v", err)
	}
	want := r3.Vec{Z: leoA}
	if d := r3.Norm(r3.Sub(sv.Position, want)); d > 1e-3 {
		t.Errorf("position = %v, want %v (off by %g m)", sv.Position, want, d)
	}
}

// TestRadiusIdentity checks |position| == a(1 - e cos E) across a spread of
// orientations, eccentricities and dates.
func TestRadiusIdentity(t *testing.T) {
	tests := []struct {
		name string
		el   Elements
		t    float64
	}{
		{"circular", Elements{SemiMajorAxis: leoA, Mu: earthMu, Epoch: 0}, 0.37},
		{"molniya", Elements{SemiMajorAxis: 26_600_000, Eccentricity: 0.74, Inclination: 1.1065, ArgPeriapsis: 4.71, LongAscNode: 0.5, Mu: earthMu}, 0.2},
		{"mars", Elements{SemiMajorAxis: 227.9392e9, Eccentricity: 0.0935, Inclination: 0.0323, ArgPeriapsis: 5.0004, LongAscNode: 0.8653, MeanAnomaly: 0.3388, Epoch: 2451545.0, Mu: 1.32712440018e20}, 2460000.5},
		{"retrograde", Elements{SemiMajorAxis: 8e6, Eccentricity: 0.2, Inclination: 2.5, ArgPeriapsis: -1, LongAscNode: 7, MeanAnomaly: 12, Mu: earthMu}, -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluator{}.Evaluate(Request{Elements: tt.el, T: tt.t})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			rc := tt.el.SemiMajorAxis * (1 - tt.el.Eccentricity*math.Cos(res.Solver.E))
			got := r3.Norm(res.State.Position)
			if !scalar.EqualWithinRel(got, rc, 1e-12) {
				t.Errorf("|position| = %.6f, want a(1-e cos E) = %.6f", got, rc)
			}
			if !scalar.EqualWithinRel(res.Radius, rc, 1e-14) {
				t.Errorf("Radius = %v, want %v", res.Radius, rc)
			}
		})
	}
}

// TestTwoBodyInvariants validates the velocity through vis-viva and the
// specific angular momentum h = sqrt(mu a (1 - e^2)).
func TestTwoBodyInvariants(t *testing.T) {
	el := Elements{
		SemiMajorAxis: 26_600_000,
		Eccentricity:  0.74,
		ArgPeriapsis:  4.71,
		LongAscNode:   0.5,
		Inclination:   1.1065,
		MeanAnomaly:   0.4,
		Epoch:         2451545.0,
		Mu:            earthMu,
	}

	for _, dt := range []float64{0, 0.1, 0.25, 0.5} {
		sv, err := Evaluate(el, el.Epoch+dt)
		if err != nil {
			t.Fatalf("Evaluate(+%v): %v", dt, err)
		}
		r := r3.Norm(sv.Position)
		v := r3.Norm(sv.Velocity)

		visViva := el.Mu * (2/r - 1/el.SemiMajorAxis)
		if !scalar.EqualWithinRel(v*v, visViva, 1e-9) {
			t.Errorf("dt=%v: v^2 = %g, vis-viva = %g", dt, v*v, visViva)
		}

		h := r3.Norm(r3.Cross(sv.Position, sv.Velocity))
		wantH := math.Sqrt(el.Mu * el.SemiMajorAxis * (1 - el.Eccentricity*el.Eccentricity))
		if !scalar.EqualWithinRel(h, wantH, 1e-9) {
			t.Errorf("dt=%v: |r x v| = %g, want %g", dt, h, wantH)
		}
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	el := Elements{SemiMajorAxis: 8e6, Eccentricity: 0.3, Inclination: 0.9, ArgPeriapsis: 1.3, LongAscNode: 2.2, MeanAnomaly: 0.7, Epoch: 2451545.0, Mu: earthMu}

	first, err := Evaluate(el, 2451546.75)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Evaluate(el, 2451546.75)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("repeated evaluation differs: %v vs %v", first, second)
	}
}

func TestEvaluateNearParabolic(t *testing.T) {
	el := leoElements()
	el.Eccentricity = 1 - 1e-9
	el.MeanAnomaly = 0.5

	sv, err := Evaluate(el, 0.01)
	if err != nil {
		t.Fatalf("Evaluate(e just below 1): %v", err)
	}
	for _, c := range []float64{sv.Position.X, sv.Position.Y, sv.Position.Z, sv.Velocity.X, sv.Velocity.Y, sv.Velocity.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			t.Fatalf("non-finite state %v", sv)
		}
	}

	for _, e := range []float64{1, 1.2} {
		el.Eccentricity = e
		sv, err := Evaluate(el, 0.01)
		if !errors.Is(err, ErrInvalidEccentricity) {
			t.Errorf("e=%v: error = %v, want ErrInvalidEccentricity", e, err)
		}
		if sv != (StateVector{}) {
			t.Errorf("e=%v: expected zero state on error, got %v", e, sv)
		}
	}
}

func TestEvaluateRejectsInvalidElements(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Elements)
		want   error
	}{
		{"negative a", func(el *Elements) { el.SemiMajorAxis = -leoA }, ErrInvalidSemiMajorAxis},
		{"negative e", func(el *Elements) { el.Eccentricity = -0.01 }, ErrInvalidEccentricity},
		{"zero mu", func(el *Elements) { el.Mu = 0 }, ErrInvalidGravitationalParameter},
		{"NaN mean anomaly", func(el *Elements) { el.MeanAnomaly = math.NaN() }, ErrNonFiniteElement},
		{"infinite inclination", func(el *Elements) { el.Inclination = math.Inf(1) }, ErrNonFiniteElement},
		{"NaN argument of periapsis", func(el *Elements) { el.ArgPeriapsis = math.NaN() }, ErrNonFiniteElement},
		{"infinite node", func(el *Elements) { el.LongAscNode = math.Inf(-1) }, ErrNonFiniteElement},
		{"infinite epoch", func(el *Elements) { el.Epoch = math.Inf(-1) }, ErrNonFiniteElement},
		{"bad a wins over bad angle", func(el *Elements) {
			el.SemiMajorAxis = 0
			el.Inclination = math.NaN()
		}, ErrInvalidSemiMajorAxis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := leoElements()
			tt.mutate(&el)
			res, err := Evaluator{}.Evaluate(Request{Elements: el, T: 1})
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if res != (Result{}) {
				t.Errorf("expected zero result on error, got %+v", res)
			}
		})
	}
}

func TestEvaluateRejectsInvalidTime(t *testing.T) {
	tests := []struct {
		name string
		t    float64
	}{
		{"NaN", math.NaN()},
		{"+Inf", math.Inf(1)},
		{"-Inf", math.Inf(-1)},
		{"mean anomaly overflows", 1e305},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluator{}.Evaluate(Request{Elements: leoElements(), T: tt.t})
			if !errors.Is(err, ErrInvalidTime) {
				t.Fatalf("error = %v, want %v", err, ErrInvalidTime)
			}
			if res != (Result{}) {
				t.Errorf("expected zero result on error, got %+v", res)
			}
		})
	}
}

// TestToInertialAppliesOneRotation checks that position and velocity share
// the rotation built from the element angles.
func TestToInertialAppliesOneRotation(t *testing.T) {
	el := Elements{
		SemiMajorAxis: leoA, Eccentricity: 0.2, Mu: earthMu,
		ArgPeriapsis: 0.4, LongAscNode: 1.3, Inclination: 0.9,
	}
	ps := OrbitalPlaneState(el.SemiMajorAxis, el.Eccentricity, el.Mu, 1.1)
	sv := ToInertial(el, ps)

	if d := math.Abs(r3.Norm(sv.Position) - ps.Radius); d > 1e-6 {
		t.Errorf("|position| = %g, want %g", r3.Norm(sv.Position), ps.Radius)
	}
	if d := math.Abs(r3.Norm(sv.Velocity) - r3.Norm(ps.Velocity)); d > 1e-9 {
		t.Errorf("|velocity| = %g, want %g", r3.Norm(sv.Velocity), r3.Norm(ps.Velocity))
	}
	// The angle between position and velocity survives a proper rotation.
	before := r3.Dot(ps.Position, ps.Velocity)
	after := r3.Dot(sv.Position, sv.Velocity)
	if !scalar.EqualWithinRel(before, after, 1e-12) {
		t.Errorf("r.v changed under rotation: %g -> %g", before, after)
	}
}

// TestPerifocalToInertialMatchesEulerComposition builds R3(-omega) R1(-i)
// R3(-w) from elementary rotations and compares it to the closed form.
func TestPerifocalToInertialMatchesEulerComposition(t *testing.T) {
	r1 := func(x float64) *mat.Dense {
		s, c := math.Sincos(x)
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, c, s, 0, -s, c})
	}
	r3m := func(x float64) *mat.Dense {
		s, c := math.Sincos(x)
		return mat.NewDense(3, 3, []float64{c, s, 0, -s, c, 0, 0, 0, 1})
	}

	angles := [][3]float64{
		{0, 0, 0},
		{0.3, 1.2, 0.7},
		{4.71, 0.5, 1.1065},
		{-1, 7, 2.5},
	}
	for _, a := range angles {
		w, omega, i := a[0], a[1], a[2]

		var tmp, want mat.Dense
		tmp.Mul(r3m(-omega), r1(-i))
		want.Mul(&tmp, r3m(-w))

		got := PerifocalToInertial(w, omega, i)
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				if math.Abs(got[row][col]-want.At(row, col)) > 1e-12 {
					t.Errorf("angles %v: R[%d][%d] = %v, want %v", a, row, col, got[row][col], want.At(row, col))
				}
			}
		}

		m := mat.NewDense(3, 3, []float64{
			got[0][0], got[0][1], got[0][2],
			got[1][0], got[1][1], got[1][2],
			got[2][0], got[2][1], got[2][2],
		})
		if det := mat.Det(m); math.Abs(det-1) > 1e-12 {
			t.Errorf("angles %v: det = %v, want 1", a, det)
		}
	}
}

func BenchmarkEvaluate(b *testing.B) {
	el := Elements{SemiMajorAxis: 8e6, Eccentricity: 0.3, Inclination: 0.9, ArgPeriapsis: 1.3, LongAscNode: 2.2, MeanAnomaly: 0.7, Epoch: 2451545.0, Mu: earthMu}
	for i := 0; i < b.N; i++ {
		if _, err := Evaluate(el, 2451546.75); err != nil {
			b.Fatal(err)
		}
	}
}
