package port

import (
	"fmt"

	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// FatalListener is an optional listener capability. A listener reporting
// Fatal() == true escalates its panics to the surrounding execution instead
// of having them logged and swallowed.
type FatalListener interface {
	Fatal() bool
}

// Notify invokes one listener callback, containing panics. A panic from a
// regular listener is logged and discarded, so an observer cannot corrupt
// engine state or leave a chunk transaction dangling. A panic from a
// FatalListener is returned as an error and aborts the surrounding
// execution.
func Notify(l interface{}, callback string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if f, ok := l.(FatalListener); ok && f.Fatal() {
				err = fmt.Errorf("listener %T panicked in %s: %v", l, callback, r)
				return
			}
			logger.Errorf("Listener %T panicked in %s; continuing: %v", l, callback, r)
		}
	}()
	fn()
	return nil
}
