package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/catalog"
	"github.com/star/orrery/internal/julian"
	"github.com/star/orrery/internal/kepler"
	"github.com/star/orrery/internal/metrics"
)

// resolvedCatalog holds the elements of one catalog version in SI units.
// Immutable after construction; safe for concurrent reads.
type resolvedCatalog struct {
	loadedAt time.Time
	order    []string          // every identifier, catalog order
	parents  map[string]string // identifier -> parent, "" for central bodies
	elements map[string]kepler.Elements
	failed   map[string]error // bodies whose elements could not be resolved
	jobs     []Job
}

// Propagator evaluates the catalog held by a store at arbitrary times.
type Propagator struct {
	store      *catalog.Store
	pool       *WorkerPool
	config     PropConfig
	logger     *slog.Logger
	resolved   atomic.Pointer[resolvedCatalog]
	resolvedMu sync.Mutex // serializes rebuilds
}

// NewPropagator creates a new propagation orchestrator.
func NewPropagator(store *catalog.Store, config PropConfig, logger *slog.Logger) *Propagator {
	pool := NewWorkerPool(config.Workers, config.Solver, logger)
	return &Propagator{
		store:  store,
		pool:   pool,
		config: config,
		logger: logger,
	}
}

// current returns resolved elements for the store's catalog, rebuilding them
// when the catalog has been replaced (double-checked locking).
func (p *Propagator) current() (*resolvedCatalog, error) {
	c := p.store.Get()
	if c == nil {
		return nil, ErrNoCatalog
	}

	if rc := p.resolved.Load(); rc != nil && rc.loadedAt.Equal(c.LoadedAt) {
		return rc, nil
	}

	p.resolvedMu.Lock()
	defer p.resolvedMu.Unlock()

	if rc := p.resolved.Load(); rc != nil && rc.loadedAt.Equal(c.LoadedAt) {
		return rc, nil
	}

	rc := resolve(c)
	for id, err := range rc.failed {
		p.logger.Warn("body elements unavailable", "body", id, "error", err)
	}
	p.logger.Info("catalog elements resolved",
		"bodies", len(rc.order),
		"resolved", len(rc.jobs),
		"failed", len(rc.failed),
		"catalog_loaded_at", c.LoadedAt.UTC().Format(time.RFC3339),
	)
	p.resolved.Store(rc)
	return rc, nil
}

func resolve(c *catalog.Catalog) *resolvedCatalog {
	rc := &resolvedCatalog{
		loadedAt: c.LoadedAt,
		order:    make([]string, 0, len(c.Bodies)),
		parents:  make(map[string]string, len(c.Bodies)),
		elements: make(map[string]kepler.Elements, len(c.Bodies)),
		failed:   make(map[string]error),
	}

	for _, b := range c.Bodies {
		if _, dup := rc.parents[b.Identifier]; dup {
			continue
		}
		rc.order = append(rc.order, b.Identifier)
		rc.parents[b.Identifier] = b.Parent
		if b.Parent == "" {
			continue
		}

		el, err := c.Elements(b.Identifier)
		if err == nil {
			err = el.Validate()
		}
		if err != nil {
			rc.failed[b.Identifier] = err
			continue
		}
		rc.elements[b.Identifier] = el
		rc.jobs = append(rc.jobs, Job{Identifier: b.Identifier, Elements: el})
	}

	return rc
}

// PropagateToTime generates a single keyframe at the given target time.
// Bodies whose elements are invalid, or whose parent chain is broken, are
// left out of the keyframe.
func (p *Propagator) PropagateToTime(ctx context.Context, targetTime time.Time) (*Keyframe, error) {
	rc, err := p.current()
	if err != nil {
		return nil, err
	}

	jd := julian.FromTime(targetTime)

	p.logger.Debug("propagating",
		"body_count", len(rc.jobs),
		"target_time", targetTime.UTC().Format(time.RFC3339),
		"jd", jd,
		"workers", p.pool.Workers(),
	)

	start := time.Now()
	outcomes, successCount, errorCount := p.pool.EvaluateBatch(ctx, rc.jobs, jd)
	duration := time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics.RecordPropagation(duration, successCount, errorCount)

	rel := make(map[string]kepler.Result, len(rc.order))
	for _, id := range rc.order {
		if rc.parents[id] == "" {
			rel[id] = kepler.Result{Solver: kepler.Solution{Converged: true}}
		}
	}
	for _, o := range outcomes {
		rel[o.Identifier] = o.Result
	}

	bodies := make([]BodyState, 0, len(rel))
	sys := make(map[string]kepler.StateVector, len(rel))
	for _, id := range rc.order {
		r, ok := rel[id]
		if !ok {
			continue
		}
		s, err := systemState(id, rc.parents, rel, sys, len(rc.order))
		if err != nil {
			p.logger.Warn("body dropped from keyframe", "body", id, "error", err)
			continue
		}
		bodies = append(bodies, BodyState{
			Identifier:     id,
			Parent:         rc.parents[id],
			Position:       r.State.Position,
			Velocity:       r.State.Velocity,
			SystemPosition: s.Position,
			SystemVelocity: s.Velocity,
			Converged:      r.Solver.Converged,
		})
	}

	p.logger.Debug("propagation complete",
		"success", successCount,
		"errors", errorCount,
		"bodies", len(bodies),
		"duration_ms", duration.Milliseconds(),
	)

	return &Keyframe{
		Timestamp:  targetTime,
		JulianDate: jd,
		Bodies:     bodies,
	}, nil
}

// systemState sums relative states from id up to its central body, memoising
// into sys.
func systemState(id string, parents map[string]string, rel map[string]kepler.Result, sys map[string]kepler.StateVector, maxDepth int) (kepler.StateVector, error) {
	var chain []string
	var base kepler.StateVector
	for cur := id; ; {
		if s, ok := sys[cur]; ok {
			base = s
			break
		}
		if len(chain) > maxDepth {
			return kepler.StateVector{}, fmt.Errorf("%w: %q", ErrParentCycle, id)
		}
		if _, ok := rel[cur]; !ok {
			return kepler.StateVector{}, fmt.Errorf("ancestor %q has no state", cur)
		}
		chain = append(chain, cur)
		parent := parents[cur]
		if parent == "" {
			break
		}
		cur = parent
	}

	for i := len(chain) - 1; i >= 0; i-- {
		r := rel[chain[i]].State
		base = kepler.StateVector{
			Position: r3.Add(base.Position, r.Position),
			Velocity: r3.Add(base.Velocity, r.Velocity),
		}
		sys[chain[i]] = base
	}
	return base, nil
}

// BodyAt evaluates a single body and its ancestors at Julian date jd. The
// returned Result is the body's own parent-relative evaluation.
func (p *Propagator) BodyAt(id string, jd float64) (BodyState, kepler.Result, error) {
	state, res, err := p.bodyAt(id, jd)
	metrics.RecordEvaluation(err)
	return state, res, err
}

func (p *Propagator) bodyAt(id string, jd float64) (BodyState, kepler.Result, error) {
	rc, err := p.current()
	if err != nil {
		return BodyState{}, kepler.Result{}, err
	}

	var chain []string
	for cur := id; cur != ""; cur = rc.parents[cur] {
		if _, ok := rc.parents[cur]; !ok {
			return BodyState{}, kepler.Result{}, fmt.Errorf("%w: %q", catalog.ErrUnknownBody, cur)
		}
		if err := rc.failed[cur]; err != nil {
			return BodyState{}, kepler.Result{}, fmt.Errorf("body %q: %w", cur, err)
		}
		if len(chain) > len(rc.order) {
			return BodyState{}, kepler.Result{}, fmt.Errorf("%w: %q", ErrParentCycle, id)
		}
		chain = append(chain, cur)
	}

	// Sum from the central body down so the result matches PropagateToTime.
	ev := kepler.Evaluator{Solver: p.config.Solver}
	var own kepler.Result
	var sys kepler.StateVector
	for i := len(chain) - 1; i >= 0; i-- {
		cur := chain[i]
		el, ok := rc.elements[cur]
		if !ok {
			// Central body.
			continue
		}
		res, err := ev.Evaluate(kepler.Request{Elements: el, T: jd})
		if err != nil {
			return BodyState{}, kepler.Result{}, fmt.Errorf("body %q: %w", cur, err)
		}
		if !res.Solver.Converged {
			metrics.IncSolverNonConvergence()
			p.logger.Warn("kepler solver did not converge",
				"body", cur,
				"jd", jd,
				"iterations", res.Solver.Iterations,
				"residual", res.Solver.Residual,
			)
		}
		if i == 0 {
			own = res
		}
		sys.Position = r3.Add(sys.Position, res.State.Position)
		sys.Velocity = r3.Add(sys.Velocity, res.State.Velocity)
	}

	if _, ok := rc.elements[id]; !ok {
		own.Solver.Converged = true
	}

	return BodyState{
		Identifier:     id,
		Parent:         rc.parents[id],
		Position:       own.State.Position,
		Velocity:       own.State.Velocity,
		SystemPosition: sys.Position,
		SystemVelocity: sys.Velocity,
		Converged:      own.Solver.Converged,
	}, own, nil
}

// GenerateKeyframes generates keyframes from startTime over the configured horizon
// at the configured step interval.
func (p *Propagator) GenerateKeyframes(ctx context.Context, startTime time.Time) ([]*Keyframe, error) {
	if p.store.Get() == nil {
		return nil, ErrNoCatalog
	}
	if p.config.Step <= 0 {
		return nil, fmt.Errorf("keyframe step must be positive, got %s", p.config.Step)
	}

	numFrames := int(p.config.Horizon/p.config.Step) + 1
	keyframes := make([]*Keyframe, 0, numFrames)

	for i := 0; i < numFrames; i++ {
		select {
		case <-ctx.Done():
			return keyframes, ctx.Err()
		default:
		}

		targetTime := startTime.Add(time.Duration(i) * p.config.Step)
		kf, err := p.PropagateToTime(ctx, targetTime)
		if err != nil {
			return keyframes, fmt.Errorf("keyframe %d at %s: %w", i, targetTime.Format(time.RFC3339), err)
		}
		keyframes = append(keyframes, kf)
	}

	return keyframes, nil
}

// Config returns the propagation configuration.
func (p *Propagator) Config() PropConfig {
	return p.config
}
