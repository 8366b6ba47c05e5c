package mapping

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// MaxWarnings is how many sequence-level notices a budget lets through.
const MaxWarnings = 10

// WarningBudget throttles "sequence skipped" notices across one or more
// pipeline runs. Share one budget between runs to throttle them together.
// Safe for concurrent use.
type WarningBudget struct {
	limit int64
	count atomic.Int64
}

func NewWarningBudget(limit int) *WarningBudget {
	if limit < 0 {
		limit = 0
	}
	return &WarningBudget{limit: int64(limit)}
}

// Count is the number of notices charged so far, logged or not.
func (w *WarningBudget) Count() int {
	return int(w.count.Load())
}

// Log charges one notice to the budget and logs it at info level while the
// budget lasts. The last logged notice is followed by one saying the rest
// are suppressed.
func (w *WarningBudget) Log(log *zap.Logger, message string, fields ...zap.Field) {
	n := w.count.Add(1)
	if n > w.limit {
		return
	}
	log.Info(message, fields...)
	if n == w.limit {
		log.Info("Further non-mappings will not be logged")
	}
}
