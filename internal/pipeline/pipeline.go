// Package pipeline implements the ordered step engine (C7): it runs a
// named sequence of steps over a shared Context, recording a PipelineRun
// and one StepExecution per step, stopping at the first failing step
// (partial-failure isolation) while still recording what ran. Grounded on
// original_source/pipeline/base.py's Pipeline.execute/PipelineContext and
// pipeline/executor.py's start/end-step slicing, restructured around the
// teacher's internal/scheduler/scheduler.go context-threaded, slog-logged
// run loop (adapted from a recurring ticker to a bounded ordered run).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrInvalidSlice is returned when start_step comes after end_step, or
// either name is not a step in the pipeline (spec.md §7).
var ErrInvalidSlice = errors.New("pipeline: invalid step slice")

// Telemetry is the subset of the Metrics Store the engine needs to record
// run/step bookkeeping (spec.md §4.5). Modeled as a narrow interface so
// the engine can be tested without a real database.
type Telemetry interface {
	StartRun(startStep, endStep string) (int64, error)
	FinishRun(runID int64, status string) error
	StartStep(runID int64, docID, step string) (int64, error)
	FinishStep(stepID int64, status, errMsg string) error
}

// Step is one unit of pipeline work.
type Step interface {
	Name() string
	Execute(ctx context.Context, pctx *Context) error
}

// Context is the object threaded through every step of a run, carrying
// per-step results and accumulated errors the way
// original_source/pipeline/base.py::PipelineContext does.
type Context struct {
	DocumentIDs       []string
	results           map[string]any
	errs              []StepError
	DocumentsProcessed int
}

// StepError records a failure attributed to one named step.
type StepError struct {
	Step string
	Err  error
}

// NewContext builds a fresh Context for the given document set.
func NewContext(documentIDs []string) *Context {
	return &Context{DocumentIDs: documentIDs, results: map[string]any{}}
}

// SetResult stores the result produced by one step, retrievable by later
// steps via Result.
func (c *Context) SetResult(step string, result any) {
	c.results[step] = result
}

// Result fetches a previous step's result, if any.
func (c *Context) Result(step string) (any, bool) {
	v, ok := c.results[step]
	return v, ok
}

// AddError records a step failure without halting other bookkeeping.
func (c *Context) AddError(step string, err error) {
	c.errs = append(c.errs, StepError{Step: step, Err: err})
}

// HasErrors reports whether any step recorded an error.
func (c *Context) HasErrors() bool {
	return len(c.errs) > 0
}

// Errors returns the accumulated step errors.
func (c *Context) Errors() []StepError {
	return c.errs
}

// Pipeline is a named, ordered sequence of steps.
type Pipeline struct {
	Name  string
	Steps []Step
}

// Engine runs registered pipelines, recording telemetry as it goes.
type Engine struct {
	pipelines map[string]Pipeline
	telemetry Telemetry
	logger    *slog.Logger
}

// NewEngine builds an Engine backed by the given telemetry sink and
// logger.
func NewEngine(telemetry Telemetry, logger *slog.Logger) *Engine {
	return &Engine{pipelines: map[string]Pipeline{}, telemetry: telemetry, logger: logger}
}

// Register adds a named pipeline definition (spec.md §6's "full",
// "extract", "structure", "train" pipelines).
func (e *Engine) Register(name string, steps []Step) {
	e.pipelines[name] = Pipeline{Name: name, Steps: steps}
}

// Get returns a registered pipeline by name.
func (e *Engine) Get(name string) (Pipeline, bool) {
	p, ok := e.pipelines[name]
	return p, ok
}

// Slice returns the subsequence of steps from startStep to endStep
// inclusive (both optional; empty means "from the beginning"/"to the
// end"), rejecting a start that comes after the end with ErrInvalidSlice,
// matching pipeline/executor.py::run_pipeline's slicing.
func Slice(steps []Step, startStep, endStep string) ([]Step, error) {
	startIdx, endIdx := 0, len(steps)-1

	if startStep != "" {
		idx := indexOf(steps, startStep)
		if idx < 0 {
			return nil, fmt.Errorf("%w: start step %q not found", ErrInvalidSlice, startStep)
		}
		startIdx = idx
	}
	if endStep != "" {
		idx := indexOf(steps, endStep)
		if idx < 0 {
			return nil, fmt.Errorf("%w: end step %q not found", ErrInvalidSlice, endStep)
		}
		endIdx = idx
	}
	if startIdx > endIdx {
		return nil, fmt.Errorf("%w: start step %q comes after end step %q", ErrInvalidSlice, startStep, endStep)
	}
	return steps[startIdx : endIdx+1], nil
}

func indexOf(steps []Step, name string) int {
	for i, s := range steps {
		if s.Name() == name {
			return i
		}
	}
	return -1
}

// Run executes pipeline `name` restricted to [startStep, endStep] over
// pctx, recording a PipelineRun and one StepExecution per step. It stops
// at the first failing step but always records the run's terminal status,
// matching Pipeline.execute's try/break/finally structure.
func (e *Engine) Run(ctx context.Context, name, startStep, endStep string, pctx *Context) error {
	pipeline, ok := e.Get(name)
	if !ok {
		return fmt.Errorf("pipeline: unknown pipeline %q", name)
	}

	steps, err := Slice(pipeline.Steps, startStep, endStep)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("pipeline: %q has no steps to run", name)
	}

	runID, err := e.telemetry.StartRun(steps[0].Name(), steps[len(steps)-1].Name())
	if err != nil {
		return fmt.Errorf("pipeline: start run: %w", err)
	}

	for _, step := range steps {
		e.logger.Info("executing pipeline step", "pipeline", name, "step", step.Name())

		stepID, err := e.telemetry.StartStep(runID, "", step.Name())
		if err != nil {
			e.logger.Error("failed to record step start", "step", step.Name(), "error", err)
		}

		stepErr := step.Execute(ctx, pctx)

		status := "completed"
		errMsg := ""
		if stepErr != nil {
			status = "failed"
			errMsg = stepErr.Error()
			pctx.AddError(step.Name(), stepErr)
			e.logger.Error("pipeline step failed", "pipeline", name, "step", step.Name(), "error", stepErr)
		}
		if stepID > 0 {
			if err := e.telemetry.FinishStep(stepID, status, errMsg); err != nil {
				e.logger.Error("failed to record step completion", "step", step.Name(), "error", err)
			}
		}
		if stepErr != nil {
			break
		}
	}

	runStatus := "completed"
	if pctx.HasErrors() {
		runStatus = "failed"
	}
	if err := e.telemetry.FinishRun(runID, runStatus); err != nil {
		e.logger.Error("failed to record run completion", "run_id", runID, "error", err)
	}

	return nil
}
