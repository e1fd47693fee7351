// Package pipeline sequences the three devnet stages: build images, launch
// the stack, generate credentials. Stages run strictly in order, each one
// only after the previous external process has exited; any failure aborts
// the remainder of the run.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// State tracks pipeline progress: NotStarted -> Built -> Running ->
// Initialized, with Failed reachable from any stage and no way back.
type State string

const (
	StateNotStarted  State = "not-started"
	StateBuilt       State = "built"
	StateRunning     State = "running"
	StateInitialized State = "initialized"
	StateFailed      State = "failed"
)

// Stage names, also used in diagnostics.
const (
	StageBuild  = "build"
	StageLaunch = "launch"
	StageTokens = "tokens"
)

// StageError wraps a failure with the stage it occurred in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage is one pipeline step.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
	// Done is the state reached when the stage succeeds.
	Done State
}

// Pipeline executes stages sequentially.
type Pipeline struct {
	stages []Stage
	state  State
	logger *zap.Logger
}

// New assembles a pipeline in the given stage order.
func New(logger *zap.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{stages: stages, state: StateNotStarted, logger: logger}
}

// State reports the current pipeline state.
func (p *Pipeline) State() State { return p.state }

// Run executes every stage in order, fail-fast. The returned error is always
// a *StageError identifying where the run aborted. There are no retries at
// this layer; external tools report their own diagnostics.
func (p *Pipeline) Run(ctx context.Context) error {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			p.state = StateFailed
			return &StageError{Stage: stage.Name, Err: err}
		}
		p.logger.Info("stage starting", zap.String("stage", stage.Name))
		if err := stage.Run(ctx); err != nil {
			p.state = StateFailed
			p.logger.Error("stage failed", zap.String("stage", stage.Name), zap.Error(err))
			return &StageError{Stage: stage.Name, Err: err}
		}
		if stage.Done != "" {
			p.state = stage.Done
		}
		p.logger.Info("stage complete", zap.String("stage", stage.Name), zap.String("state", string(p.state)))
	}
	return nil
}
