// Package saga runs ordered steps that span more than one resource, undoing
// completed steps when a later one fails.
package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step is one unit of work. Compensate is optional and only runs for steps
// whose Execute returned nil.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports which step failed. It unwraps to the step's own error so
// callers can still classify it with errors.Is and errors.As.
type StepError struct {
	Saga          string
	Step          string
	Index         int
	Err           error
	CompensateErr error
}

func (e *StepError) Error() string {
	if e.CompensateErr != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.CompensateErr)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FailedStep returns the name of the step that produced err, or "" when err
// did not come from a saga.
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

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

// Execute runs the steps in order. On the first failure the completed steps
// are compensated newest first and a *StepError is returned.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return &StepError{
				Saga:          s.name,
				Step:          step.Name,
				Index:         i,
				Err:           err,
				CompensateErr: s.compensate(ctx, i),
			}
		}
	}
	return nil
}

// compensate undoes steps [0, upTo).
func (s *Saga) compensate(ctx context.Context, upTo int) error {
	var errs []error
	for i := upTo - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
