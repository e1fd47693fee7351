package pipeline

import (
	"context"
	"errors"
	"testing"
)

func TestRunExecutesStagesInOrder(t *testing.T) {
	var ran []string
	stage := func(name string, done State) Stage {
		return Stage{Name: name, Done: done, Run: func(context.Context) error {
			ran = append(ran, name)
			return nil
		}}
	}
	p := New(nil,
		stage(StageBuild, StateBuilt),
		stage(StageLaunch, StateRunning),
		stage(StageTokens, StateInitialized),
	)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{StageBuild, StageLaunch, StageTokens}
	if len(ran) != len(want) {
		t.Fatalf("ran %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("ran %v, want %v", ran, want)
		}
	}
	if p.State() != StateInitialized {
		t.Fatalf("state = %s, want %s", p.State(), StateInitialized)
	}
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	boom := errors.New("builder unreachable")
	launched := false
	p := New(nil,
		Stage{Name: StageBuild, Done: StateBuilt, Run: func(context.Context) error { return boom }},
		Stage{Name: StageLaunch, Done: StateRunning, Run: func(context.Context) error {
			launched = true
			return nil
		}},
	)
	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	if launched {
		t.Fatal("launch stage ran after build failure")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error %T is not a StageError", err)
	}
	if stageErr.Stage != StageBuild {
		t.Fatalf("failed stage = %s, want %s", stageErr.Stage, StageBuild)
	}
	if !errors.Is(err, boom) {
		t.Fatal("StageError should unwrap to the stage failure")
	}
	if p.State() != StateFailed {
		t.Fatalf("state = %s, want %s", p.State(), StateFailed)
	}
}

func TestTokenFailureLeavesStackStages(t *testing.T) {
	// Earlier stages have already run when the final stage fails; the
	// pipeline reports the failing stage so callers know the stack is still
	// up.
	var ran []string
	p := New(nil,
		Stage{Name: StageBuild, Done: StateBuilt, Run: func(context.Context) error {
			ran = append(ran, StageBuild)
			return nil
		}},
		Stage{Name: StageLaunch, Done: StateRunning, Run: func(context.Context) error {
			ran = append(ran, StageLaunch)
			return nil
		}},
		Stage{Name: StageTokens, Done: StateInitialized, Run: func(context.Context) error {
			return errors.New("script exited 1")
		}},
	)
	err := p.Run(context.Background())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageTokens {
		t.Fatalf("expected tokens stage failure, got %v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("earlier stages ran %v", ran)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	p := New(nil, Stage{Name: StageBuild, Done: StateBuilt, Run: func(context.Context) error {
		ran = true
		return nil
	}})
	err := p.Run(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if ran {
		t.Fatal("stage ran despite cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestNewPipelineStartsNotStarted(t *testing.T) {
	p := New(nil)
	if p.State() != StateNotStarted {
		t.Fatalf("state = %s", p.State())
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("empty pipeline should succeed: %v", err)
	}
}
