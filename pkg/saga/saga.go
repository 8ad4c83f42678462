package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step is one unit of a saga. Compensate may be nil for steps with nothing
// to undo.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports the step that stopped a saga. Err is the step's own
// error; CompensationErr joins any failures while unwinding.
type StepError struct {
	Saga            string
	Step            string
	Index           int
	Err             error
	CompensationErr error
}

func (e *StepError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("%s: step %q failed: %v (compensation failed: %v)", e.Saga, e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("%s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Saga runs steps in order and compensates completed steps in reverse when
// one fails.
type Saga struct {
	name  string
	steps []Step
}

func New(name string) *Saga {
	return &Saga{name: name}
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute returns nil when every step succeeded, otherwise a *StepError.
// Compensation runs on a context detached from ctx's cancellation so a
// cancelled caller still unwinds.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return s.unwind(ctx, i, step.Name, err)
		}
		if err := step.Execute(ctx); err != nil {
			return s.unwind(ctx, i, step.Name, err)
		}
	}
	return nil
}

func (s *Saga) unwind(ctx context.Context, failed int, name string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate %q: %w", step.Name, err))
		}
	}
	return &StepError{
		Saga:            s.name,
		Step:            name,
		Index:           failed,
		Err:             cause,
		CompensationErr: errors.Join(errs...),
	}
}
