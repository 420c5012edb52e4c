package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callerFrameSkip jumps over runtime.Callers, the hook itself, the logrus
// internals and the Entry wrappers in this package before the walk starts.
const callerFrameSkip = 6

// callerHook rewrites the caller logrus reports so log lines point at the
// real call site instead of a wrapper in this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire walks up the stack and pins entry.Caller to the first frame that
// belongs to neither logrus nor this package.
func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(callerFrameSkip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.PC != 0 && !loggingFrame(frame.Function) {
			entry.Caller = &frame
			break
		}
		if !more {
			break
		}
	}
	return nil
}

func loggingFrame(fn string) bool {
	return strings.Contains(fn, "sirupsen/logrus") || strings.Contains(fn, "cascadeflow/logger")
}
