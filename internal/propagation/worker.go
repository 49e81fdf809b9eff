package propagation

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/star/orrery/internal/kepler"
	"github.com/star/orrery/internal/metrics"
)

// Job is one body to evaluate in a batch.
type Job struct {
	Identifier string
	Elements   kepler.Elements
}

// Outcome is the successful evaluation of one Job.
type Outcome struct {
	Identifier string
	Result     kepler.Result
}

type evalJob struct {
	index int
	job   Job
	jd    float64
}

type evalResult struct {
	index  int
	id     string
	result kepler.Result
	err    error
}

// WorkerPool manages a fixed number of goroutines for parallel state evaluation.
type WorkerPool struct {
	workers   int
	evaluator kepler.Evaluator
	logger    *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
// A non-positive count uses one worker per CPU.
func NewWorkerPool(workers int, solver kepler.Solver, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	metrics.SetPropagationWorkers(workers)
	return &WorkerPool{
		workers:   workers,
		evaluator: kepler.Evaluator{Solver: solver},
		logger:    logger,
	}
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// EvaluateBatch evaluates every job at Julian date jd using the worker pool.
// Outcomes keep the order of jobs. Failed bodies are logged and skipped; a
// solve that misses its tolerance is logged and counted but still returned.
func (wp *WorkerPool) EvaluateBatch(ctx context.Context, jobs []Job, jd float64) ([]Outcome, int, int) {
	if len(jobs) == 0 {
		return nil, 0, 0
	}

	in := make(chan evalJob, wp.workers*2)
	results := make(chan evalResult, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range in {
				res, err := wp.evaluator.Evaluate(kepler.Request{Elements: j.job.Elements, T: j.jd})
				select {
				case results <- evalResult{index: j.index, id: j.job.Identifier, result: res, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(in)
		for i, job := range jobs {
			select {
			case in <- evalJob{index: i, job: job, jd: jd}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	slots := make([]*Outcome, len(jobs))
	var successCount, errorCount int

	for r := range results {
		if r.err != nil {
			errorCount++
			wp.logger.Warn("evaluation failed",
				"body", r.id,
				"jd", jd,
				"error", r.err,
			)
			continue
		}
		if !r.result.Solver.Converged {
			metrics.IncSolverNonConvergence()
			wp.logger.Warn("kepler solver did not converge",
				"body", r.id,
				"jd", jd,
				"iterations", r.result.Solver.Iterations,
				"residual", r.result.Solver.Residual,
			)
		}
		successCount++
		slots[r.index] = &Outcome{Identifier: r.id, Result: r.result}
	}

	outcomes := make([]Outcome, 0, successCount)
	for _, o := range slots {
		if o != nil {
			outcomes = append(outcomes, *o)
		}
	}

	return outcomes, successCount, errorCount
}
