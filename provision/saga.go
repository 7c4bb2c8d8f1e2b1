package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/projecteru2/core/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sparklane/sparklane/metrics"
)

// Stage is one forward action of the pipeline and its compensation.
type Stage struct {
	Name string
	Do   func(ctx context.Context) error
	// Undo reverses Do. Nil means Do left nothing on the host to release.
	Undo func(ctx context.Context) error
	// Detach makes every later stage, and any compensation, run on a
	// context that ignores cancellation. Set on the stage after which
	// abandoning the run would strand host or registry state.
	Detach bool
}

// StageError reports which stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// saga runs stages in order and remembers the ones that completed so a
// failure can release them in reverse.
type saga struct {
	id       string
	tracer   trace.Tracer
	metrics  *metrics.Metrics
	done     []Stage
	detached bool
}

func newSaga(id string, tracer trace.Tracer, m *metrics.Metrics) *saga {
	return &saga{id: id, tracer: tracer, metrics: m}
}

// Run executes stages in order and stops at the first failure. It returns
// the context later work should use, which is detached once a Detach stage
// has completed.
func (s *saga) Run(ctx context.Context, stages ...Stage) (context.Context, error) {
	for _, st := range stages {
		if !s.detached && ctx.Err() != nil {
			return ctx, &StageError{Stage: st.Name, Err: ctx.Err()}
		}
		if err := s.step(ctx, st); err != nil {
			return ctx, err
		}
		s.done = append(s.done, st)
		if st.Detach && !s.detached {
			ctx = context.WithoutCancel(ctx)
			s.detached = true
		}
	}
	return ctx, nil
}

func (s *saga) step(ctx context.Context, st Stage) error {
	ctx, span := s.tracer.Start(ctx, "provision."+st.Name,
		trace.WithAttributes(attribute.String("instance.id", s.id)))
	defer span.End()

	start := time.Now()
	err := st.Do(ctx)
	s.metrics.Stage(st.Name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StageError{Stage: st.Name, Err: err}
	}
	return nil
}

// Compensate undoes completed stages in reverse order. Every undo runs even
// if an earlier one failed; the failures are joined.
func (s *saga) Compensate(ctx context.Context) error {
	logger := log.WithFunc("provision.Compensate")
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(s.done) - 1; i >= 0; i-- {
		st := s.done[i]
		if st.Undo == nil {
			continue
		}
		if err := st.Undo(ctx); err != nil {
			logger.Warnf(ctx, "undo %s for %s: %v", st.Name, s.id, err)
			errs = append(errs, fmt.Errorf("undo %s: %w", st.Name, err))
			continue
		}
		logger.Infof(ctx, "undid %s for %s", st.Name, s.id)
	}
	s.done = nil
	return errors.Join(errs...)
}
