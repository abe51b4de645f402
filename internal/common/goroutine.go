// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/ternarybob/arbor"
)

// SafeGo runs a function in a goroutine with panic recovery.
// Panics are logged but don't crash the service.
//
//	common.SafeGo(logger, "publishEvent", func() {
//	    bus.Publish(ctx, event)
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer RecoverPanic(logger, name, nil)
		fn()
	}()
}

// SafeGoGroup is SafeGo joined to a WaitGroup. Done is called after recovery,
// so a panicking task never leaves the group waiting.
func SafeGoGroup(wg *sync.WaitGroup, logger arbor.ILogger, name string, fn func()) {
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer RecoverPanic(logger, name, nil)
		fn()
	}()
}

// RecoverPanic logs a recovered panic. Call it deferred. onPanic, when set,
// receives the panic value after logging.
func RecoverPanic(logger arbor.ILogger, name string, onPanic func(recovered interface{})) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	stackTrace := string(buf[:n])

	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine - continuing service operation")
	} else {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
	}

	if onPanic != nil {
		onPanic(r)
	}
}
