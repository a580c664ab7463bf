// Package safego launches goroutines with panic recovery so a single bad
// tool handler or verifier callback cannot take down the supervisor process.
package safego

import (
	"go.uber.org/zap"
)

// Go runs fn in a new goroutine. A panic inside fn is recovered and logged
// under name rather than crashing the process.
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
