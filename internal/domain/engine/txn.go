package engine

import (
	"context"
	"errors"

	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

type compensation struct {
	stage string
	fn    func(ctx context.Context) error
}

// txn tracks the effects of a write phase so they can be reverted.
type txn struct {
	op     string
	steps  []compensation
	logger logger.Logger
}

// undo registers the inverse of an effect that has just been applied.
func (t *txn) undo(stage string, fn func(ctx context.Context) error) {
	t.steps = append(t.steps, compensation{stage: stage, fn: fn})
}

// fail reverts applied effects newest first and classifies cause. With no
// effects applied the cause is returned as is. Compensation failures are
// logged and not retried.
func (t *txn) fail(ctx context.Context, stage string, cause error) error {
	metrics.RecordTransactionFailure(t.op, stage)
	if len(t.steps) == 0 {
		return errs.Wrap(t.op, cause)
	}

	var failed []error
	for i := len(t.steps) - 1; i >= 0; i-- {
		step := t.steps[i]
		if err := step.fn(ctx); err != nil {
			metrics.RecordCompensation(t.op, "failed")
			t.logger.Error(ctx, "compensation failed",
				logger.String("op", t.op),
				logger.String("stage", step.stage),
				logger.Error(err),
			)
			failed = append(failed, err)
			continue
		}
		metrics.RecordCompensation(t.op, "ok")
	}
	t.steps = nil

	t.logger.Warn(ctx, "transaction rolled back",
		logger.String("op", t.op),
		logger.String("stage", stage),
		logger.Bool("clean", len(failed) == 0),
		logger.Error(cause),
	)
	if len(failed) > 0 {
		cause = errors.Join(cause, errors.Join(failed...))
	}
	return errs.WrapKind(t.op, errs.ErrTransaction, cause)
}
