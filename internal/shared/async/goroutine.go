package async

import (
	"reflect"
	"runtime/debug"
)

// PanicLogger receives panic reports from guarded goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs panic details without crashing the process. It must be deferred directly.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		report(logger, name, r)
	}
}

// RecoverWith behaves like Recover and additionally hands the recovered value
// to onPanic so the caller can turn it into a regular failure path.
func RecoverWith(logger PanicLogger, name string, onPanic func(recovered any)) {
	if r := recover(); r != nil {
		report(logger, name, r)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

func report(logger PanicLogger, name string, r any) {
	if isNilLogger(logger) {
		return
	}
	if name == "" {
		logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
		return
	}
	logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
}

func isNilLogger(logger PanicLogger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	return val.Kind() == reflect.Ptr && val.IsNil()
}
