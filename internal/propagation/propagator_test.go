package propagation

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/catalog"
	"github.com/star/orrery/internal/julian"
	"github.com/star/orrery/internal/kepler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testBodies is a small sun/earth/moon system plus two bodies that cannot be
// resolved.
func testBodies() []catalog.Body {
	return []catalog.Body{
		{Identifier: "sun", Name: "Sun", BodyType: catalog.TypeStar, Mass: 1.98892e30},
		{
			Identifier: "earth", Name: "Earth", BodyType: catalog.TypePlanet, Parent: "sun",
			SemimajorAxis: 149598023, Perihelion: 147095000, Aphelion: 152100000,
			Eccentricity: 0.0167, ArgPeriapsis: 114.20783, LongAscNode: -11.26064, MainAnomaly: 358.617,
			Mass: 5.97237e24,
		},
		{
			Identifier: "moon", Name: "Moon", BodyType: catalog.TypeMoon, Parent: "earth",
			SemimajorAxis: 384400, Eccentricity: 0.0549, Inclination: 5.145,
			ArgPeriapsis: 318.15, LongAscNode: 125.08, MainAnomaly: 135.27,
		},
		{Identifier: "lost", Name: "Lost", BodyType: catalog.TypeMoon, Parent: "vulcan", SemimajorAxis: 1000},
		{Identifier: "comet", Name: "Comet", BodyType: catalog.TypeDwarfPlanet, Parent: "sun", SemimajorAxis: 1e9, Eccentricity: 1.2},
	}
}

func testStore() *catalog.Store {
	s := catalog.NewStore()
	s.Set(&catalog.Catalog{Bodies: testBodies(), LoadedAt: time.Unix(1700000000, 0), Source: "test"})
	return s
}

func testConfig() PropConfig {
	return PropConfig{Workers: 2, Step: time.Hour, Horizon: 3 * time.Hour}
}

var testTime = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func findBody(t *testing.T, kf *Keyframe, id string) BodyState {
	t.Helper()
	for _, b := range kf.Bodies {
		if b.Identifier == id {
			return b
		}
	}
	t.Fatalf("body %q not in keyframe", id)
	return BodyState{}
}

func vecClose(a, b r3.Vec, tol float64) bool {
	return scalar.EqualWithinAbsOrRel(a.X, b.X, tol, tol) &&
		scalar.EqualWithinAbsOrRel(a.Y, b.Y, tol, tol) &&
		scalar.EqualWithinAbsOrRel(a.Z, b.Z, tol, tol)
}

// TestWorkerPoolBatch verifies the pool keeps job order and counts failures.
func TestWorkerPoolBatch(t *testing.T) {
	pool := NewWorkerPool(4, kepler.Solver{}, testLogger())

	mu := catalog.G * 1.98892e30
	jobs := make([]Job, 0, 21)
	for i := 0; i < 20; i++ {
		jobs = append(jobs, Job{
			Identifier: string(rune('a' + i)),
			Elements: kepler.Elements{
				SemiMajorAxis: 1e11 + float64(i)*1e9,
				Eccentricity:  0.01 * float64(i),
				Epoch:         julian.J2000,
				Mu:            mu,
			},
		})
	}
	jobs = append(jobs, Job{Identifier: "bad", Elements: kepler.Elements{SemiMajorAxis: -1, Mu: mu}})

	outcomes, successCount, errorCount := pool.EvaluateBatch(context.Background(), jobs, julian.J2000+100)
	if successCount != 20 || errorCount != 1 {
		t.Fatalf("success=%d errors=%d, want 20/1", successCount, errorCount)
	}
	if len(outcomes) != 20 {
		t.Fatalf("got %d outcomes, want 20", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Identifier != jobs[i].Identifier {
			t.Errorf("outcome %d = %q, want %q", i, o.Identifier, jobs[i].Identifier)
		}
		want, err := kepler.Evaluate(jobs[i].Elements, julian.J2000+100)
		if err != nil {
			t.Fatal(err)
		}
		if o.Result.State != want {
			t.Errorf("%s: pooled state differs from direct evaluation", o.Identifier)
		}
	}
}

func TestWorkerPoolEmpty(t *testing.T) {
	pool := NewWorkerPool(0, kepler.Solver{}, testLogger())
	if pool.Workers() < 1 {
		t.Fatalf("Workers() = %d, want at least 1", pool.Workers())
	}
	outcomes, s, e := pool.EvaluateBatch(context.Background(), nil, julian.J2000)
	if outcomes != nil || s != 0 || e != 0 {
		t.Errorf("empty batch returned %v, %d, %d", outcomes, s, e)
	}
}

// TestWorkerPoolCancellation verifies the worker pool respects context cancellation.
func TestWorkerPoolCancellation(t *testing.T) {
	pool := NewWorkerPool(2, kepler.Solver{}, testLogger())

	jobs := make([]Job, 100)
	for i := range jobs {
		jobs[i] = Job{Identifier: "x", Elements: kepler.Elements{SemiMajorAxis: 1e7, Mu: 3.986e14}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, _, _ := pool.EvaluateBatch(ctx, jobs, julian.J2000)
	if len(outcomes) >= len(jobs) {
		t.Errorf("expected fewer results with cancelled context, got %d/%d", len(outcomes), len(jobs))
	}
}

func TestPropagateToTime(t *testing.T) {
	prop := NewPropagator(testStore(), testConfig(), testLogger())

	kf, err := prop.PropagateToTime(context.Background(), testTime)
	if err != nil {
		t.Fatalf("PropagateToTime failed: %v", err)
	}

	if !kf.Timestamp.Equal(testTime) {
		t.Errorf("Timestamp = %v, want %v", kf.Timestamp, testTime)
	}
	if kf.JulianDate != julian.FromTime(testTime) {
		t.Errorf("JulianDate = %v, want %v", kf.JulianDate, julian.FromTime(testTime))
	}

	var ids []string
	for _, b := range kf.Bodies {
		ids = append(ids, b.Identifier)
	}
	if len(ids) != 3 || ids[0] != "sun" || ids[1] != "earth" || ids[2] != "moon" {
		t.Fatalf("bodies = %v, want [sun earth moon]", ids)
	}

	sun := findBody(t, kf, "sun")
	if sun.SystemPosition != (r3.Vec{}) || sun.Position != (r3.Vec{}) || !sun.Converged {
		t.Errorf("central body should sit at the origin: %+v", sun)
	}

	earth := findBody(t, kf, "earth")
	r := r3.Norm(earth.Position) / 1000
	if r < 147095000*0.999 || r > 152100000*1.001 {
		t.Errorf("earth distance %.0f km outside perihelion/aphelion range", r)
	}
	if earth.SystemPosition != earth.Position {
		t.Errorf("a planet's system position equals its heliocentric position")
	}

	moon := findBody(t, kf, "moon")
	if moon.Parent != "earth" {
		t.Errorf("moon parent = %q", moon.Parent)
	}
	rm := r3.Norm(moon.Position) / 1000
	if rm < 384400*(1-0.0549)*0.999 || rm > 384400*(1+0.0549)*1.001 {
		t.Errorf("moon distance %.0f km outside its orbit", rm)
	}
	want := r3.Add(earth.SystemPosition, moon.Position)
	if moon.SystemPosition != want {
		t.Errorf("moon system position = %v, want %v", moon.SystemPosition, want)
	}
	wantV := r3.Add(earth.SystemVelocity, moon.Velocity)
	if moon.SystemVelocity != wantV {
		t.Errorf("moon system velocity = %v, want %v", moon.SystemVelocity, wantV)
	}
}

func TestPropagateToTimeDeterministic(t *testing.T) {
	prop := NewPropagator(testStore(), PropConfig{Workers: 8}, testLogger())

	a, err := prop.PropagateToTime(context.Background(), testTime)
	if err != nil {
		t.Fatal(err)
	}
	b, err := prop.PropagateToTime(context.Background(), testTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Bodies) != len(b.Bodies) {
		t.Fatalf("body counts differ: %d vs %d", len(a.Bodies), len(b.Bodies))
	}
	for i := range a.Bodies {
		if a.Bodies[i] != b.Bodies[i] {
			t.Errorf("body %d differs between runs", i)
		}
	}
}

func TestPropagateToTimeCancelled(t *testing.T) {
	prop := NewPropagator(testStore(), testConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := prop.PropagateToTime(ctx, testTime); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPropagateNonConvergence(t *testing.T) {
	cfg := testConfig()
	cfg.Solver = kepler.Solver{Iterations: 1, Tolerance: 1e-15}
	bodies := []catalog.Body{
		{Identifier: "sun", Mass: 1.98892e30},
		{Identifier: "eccentric", Parent: "sun", SemimajorAxis: 1e8, Eccentricity: 0.9, MainAnomaly: 10},
	}
	store := catalog.NewStore()
	store.Set(&catalog.Catalog{Bodies: bodies, LoadedAt: time.Now()})

	kf, err := NewPropagator(store, cfg, testLogger()).PropagateToTime(context.Background(), testTime)
	if err != nil {
		t.Fatalf("non-convergence must not fail propagation: %v", err)
	}
	if b := findBody(t, kf, "eccentric"); b.Converged {
		t.Error("expected Converged=false with a one-iteration budget")
	}
}

func TestPropagatorPicksUpReload(t *testing.T) {
	store := testStore()
	prop := NewPropagator(store, testConfig(), testLogger())

	kf, err := prop.PropagateToTime(context.Background(), testTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(kf.Bodies) != 3 {
		t.Fatalf("got %d bodies, want 3", len(kf.Bodies))
	}

	store.Set(&catalog.Catalog{Bodies: testBodies()[:2], LoadedAt: time.Unix(1700000100, 0)})

	kf, err = prop.PropagateToTime(context.Background(), testTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(kf.Bodies) != 2 {
		t.Errorf("got %d bodies after reload, want 2", len(kf.Bodies))
	}
}

func TestBodyAt(t *testing.T) {
	prop := NewPropagator(testStore(), testConfig(), testLogger())
	jd := julian.FromTime(testTime)

	kf, err := prop.PropagateToTime(context.Background(), testTime)
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"sun", "earth", "moon"} {
		t.Run(id, func(t *testing.T) {
			got, res, err := prop.BodyAt(id, jd)
			if err != nil {
				t.Fatalf("BodyAt(%q) failed: %v", id, err)
			}
			want := findBody(t, kf, id)
			if !vecClose(got.SystemPosition, want.SystemPosition, 1e-12) {
				t.Errorf("system position %v, keyframe has %v", got.SystemPosition, want.SystemPosition)
			}
			if got.Position != want.Position || got.Parent != want.Parent {
				t.Errorf("relative state differs from keyframe")
			}
			if res.State.Position != got.Position {
				t.Errorf("result state does not match body state")
			}
		})
	}
}

func TestBodyAtErrors(t *testing.T) {
	prop := NewPropagator(testStore(), testConfig(), testLogger())

	tests := []struct {
		id   string
		want error
	}{
		{"pluto", catalog.ErrUnknownBody},
		{"lost", catalog.ErrUnknownBody},
		{"comet", kepler.ErrInvalidEccentricity},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, _, err := prop.BodyAt(tt.id, julian.J2000)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParentCycle(t *testing.T) {
	bodies := []catalog.Body{
		{Identifier: "a", Parent: "b", SemimajorAxis: 1000, Mass: 1e20},
		{Identifier: "b", Parent: "a", SemimajorAxis: 1000, Mass: 1e20},
	}
	store := catalog.NewStore()
	store.Set(&catalog.Catalog{Bodies: bodies, LoadedAt: time.Now()})
	prop := NewPropagator(store, testConfig(), testLogger())

	if _, _, err := prop.BodyAt("a", julian.J2000); !errors.Is(err, ErrParentCycle) {
		t.Errorf("err = %v, want ErrParentCycle", err)
	}
	kf, err := prop.PropagateToTime(context.Background(), testTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(kf.Bodies) != 0 {
		t.Errorf("cyclic bodies should be dropped, got %d", len(kf.Bodies))
	}
}

// TestPropagatorGenerateKeyframes verifies keyframe generation over a horizon.
func TestPropagatorGenerateKeyframes(t *testing.T) {
	cfg := testConfig()
	prop := NewPropagator(testStore(), cfg, testLogger())

	keyframes, err := prop.GenerateKeyframes(context.Background(), testTime)
	if err != nil {
		t.Fatalf("GenerateKeyframes failed: %v", err)
	}

	// With a 3h horizon and 1h step: frames at 0h, 1h, 2h, 3h.
	if len(keyframes) != 4 {
		t.Fatalf("got %d keyframes, want 4", len(keyframes))
	}

	for i, kf := range keyframes {
		expectedTime := testTime.Add(time.Duration(i) * cfg.Step)
		if !kf.Timestamp.Equal(expectedTime) {
			t.Errorf("keyframe %d: time = %v, want %v", i, kf.Timestamp, expectedTime)
		}
		if len(kf.Bodies) != 3 {
			t.Errorf("keyframe %d: %d bodies, want 3", i, len(kf.Bodies))
		}
	}

	dt := keyframes[1].JulianDate - keyframes[0].JulianDate
	if math.Abs(dt-1.0/24) > 1e-9 {
		t.Errorf("keyframe spacing = %v days, want 1/24", dt)
	}
}

// TestPropagatorNoCatalog verifies the error when no catalog is loaded.
func TestPropagatorNoCatalog(t *testing.T) {
	prop := NewPropagator(catalog.NewStore(), testConfig(), testLogger())

	if _, err := prop.PropagateToTime(context.Background(), time.Now()); !errors.Is(err, ErrNoCatalog) {
		t.Errorf("PropagateToTime err = %v, want ErrNoCatalog", err)
	}
	if _, err := prop.GenerateKeyframes(context.Background(), time.Now()); !errors.Is(err, ErrNoCatalog) {
		t.Errorf("GenerateKeyframes err = %v, want ErrNoCatalog", err)
	}
	if _, _, err := prop.BodyAt("earth", julian.J2000); !errors.Is(err, ErrNoCatalog) {
		t.Errorf("BodyAt err = %v, want ErrNoCatalog", err)
	}
}

// BenchmarkPropagate1000 benchmarks propagating 1000 bodies around one star.
func BenchmarkPropagate1000(b *testing.B) {
	bodies := []catalog.Body{{Identifier: "sun", Mass: 1.98892e30}}
	for i := 0; i < 1000; i++ {
		bodies = append(bodies, catalog.Body{
			Identifier:    "body" + string(rune('0'+i%10)) + string(rune('0'+i/10%10)) + string(rune('0'+i/100)),
			Parent:        "sun",
			SemimajorAxis: 1e8 + float64(i)*1e5,
			Eccentricity:  float64(i%90) / 100,
			MainAnomaly:   float64(i % 360),
		})
	}
	store := catalog.NewStore()
	store.Set(&catalog.Catalog{Bodies: bodies, LoadedAt: time.Now()})

	prop := NewPropagator(store, PropConfig{Workers: 4}, testLogger())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := prop.PropagateToTime(ctx, testTime); err != nil {
			b.Fatal(err)
		}
	}
}
