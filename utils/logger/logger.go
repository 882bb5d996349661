// Package logger provides the process-wide zap logger.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	instance *zap.Logger
	once     sync.Once
)

// Get returns the singleton logger, building it on first use.
func Get() *zap.Logger {
	once.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		instance = l
	})
	return instance
}

// Replace swaps the singleton, returning the previous logger, e.g. to
// silence or capture output.
func Replace(l *zap.Logger) *zap.Logger {
	once.Do(func() {})
	prev := instance
	instance = l
	return prev
}
