package mapping

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SlowSequence is how long one sequence may take before it is reported.
const SlowSequence = time.Second

// RunStats summarises one pipeline run.
type RunStats struct {
	Sequences int
	Hits      int
	Mapped    int
	Skipped   map[SkipReason]int
}

func (s RunStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("sequences", s.Sequences)
	enc.AddInt("hits", s.Hits)
	enc.AddInt("mapped", s.Mapped)
	for reason, n := range s.Skipped {
		enc.AddInt(reason.String(), n)
	}
	return nil
}

func newRunID() string {
	return "run-" + uuid.New().String()
}

// withRunID tags every entry of one run so interleaved runs can be told apart.
func withRunID(log *zap.Logger) (*zap.Logger, string) {
	runID := newRunID()
	return log.With(zap.String("run_id", runID)), runID
}

// timed runs fn for one sequence, turning a panic into an error and
// reporting slow sequences.
func timed(log *zap.Logger, name string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while mapping sequence",
				zap.String("sequence", name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("mapping %s: panic: %v", name, r)
		}

		duration := time.Since(start)
		if duration > SlowSequence {
			log.Warn("Slow sequence",
				zap.String("sequence", name),
				zap.Duration("duration", duration),
			)
		}
	}()
	return fn()
}
