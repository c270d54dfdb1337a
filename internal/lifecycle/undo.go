package lifecycle

import "go.uber.org/zap"

type undoStep struct {
	name string
	fn   func() error
}

// undoStack holds compensations for completed steps
type undoStack []undoStep

func (s *undoStack) push(name string, fn func() error) {
	*s = append(*s, undoStep{name: name, fn: fn})
}

// run executes the compensations in reverse order. Failures are logged and
// do not stop the remaining compensations.
func (s undoStack) run(log *zap.Logger) {
	for i := len(s) - 1; i >= 0; i-- {
		step := s[i]
		if err := step.fn(); err != nil {
			log.Error("Rollback step failed", zap.String("undo", step.name), zap.Error(err))
			continue
		}
		log.Info("Rolled back step", zap.String("undo", step.name))
	}
}
