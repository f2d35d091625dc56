package server

import (
	"log"
	"sync/atomic"
)

var debugEnabled atomic.Bool

// SetDebug toggles debug-level logging for the server packages.
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

// debugf logs only when debug logging is enabled; the polling loop emits
// per-tick telemetry through it.
func debugf(format string, args ...interface{}) {
	if debugEnabled.Load() {
		log.Printf(format, args...)
	}
}
