package scratch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/pysugar/go-sonar/internal/sonar/normalize"
)

// NoTraceback is recorded when no stack frame could be attributed.
const NoTraceback = "No traceback available"

// Dump queues each argument as its own dumps entry.
func Dump(ctx context.Context, args ...any) {
	b := FromContext(ctx)
	if b == nil {
		return
	}
	for _, arg := range args {
		b.Append(Dumps, normalize.Value(arg))
	}
}

// EventOption customizes an event.
type EventOption func(map[string]any)

// WithLevel overrides the default "info" level.
func WithLevel(level string) EventOption {
	return func(e map[string]any) { e["level"] = level }
}

// WithTags attaches free-form tags.
func WithTags(tags ...string) EventOption {
	return func(e map[string]any) {
		list := make([]any, len(tags))
		for i, tag := range tags {
			list[i] = tag
		}
		e["tags"] = list
	}
}

// Event queues a structured event and returns it.
func Event(ctx context.Context, name string, payload any, opts ...EventOption) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	event := map[string]any{
		"name":      name,
		"level":     "info",
		"payload":   normalize.Value(payload),
		"tags":      []any{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, opt := range opts {
		opt(event)
	}
	FromContext(ctx).Append(Events, event)
	return event
}

// CaptureError queues a handled error, attributed to the caller.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	b := FromContext(ctx)
	if b == nil {
		return
	}
	record := noFrameRecord(err.Error())
	if pc, file, line, ok := runtime.Caller(1); ok {
		record = frameRecord(runtime.Frame{PC: pc, File: file, Line: line, Function: funcName(pc)}, err.Error())
	}
	record["exception_type"] = typeOf(err)
	b.Append(Exceptions, record)
}

// CapturePanic queues the value recovered from a panic. It must be called
// from the deferred function that recovered, so the panicking frame is
// still on the stack. It never panics itself.
func CapturePanic(ctx context.Context, rec any) {
	b := FromContext(ctx)
	if b == nil || rec == nil {
		return
	}
	defer func() {
		if recover() != nil {
			b.Append(Exceptions, noFrameRecord(normalize.Placeholder(rec)))
		}
	}()

	message := panicMessage(rec)
	record := noFrameRecord(message)
	if frame, ok := panicFrame(); ok {
		record = frameRecord(frame, message)
	}
	record["exception_type"] = typeOf(rec)
	b.Append(Exceptions, record)
}

// IsAbort reports whether rec is the sentinel net/http uses to abort a
// response silently; such panics are not application errors.
func IsAbort(rec any) bool {
	err, ok := rec.(error)
	return ok && errors.Is(err, http.ErrAbortHandler)
}

// panicFrame walks the current stack to the frame that called panic, or
// the first non-runtime frame below a runtime fault such as a nil
// dereference.
func panicFrame() (runtime.Frame, bool) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	panicking := false
	for {
		frame, more := frames.Next()
		if frame.Function == "runtime.gopanic" {
			panicking = true
		} else if panicking && !strings.HasPrefix(frame.Function, "runtime.") {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func frameRecord(frame runtime.Frame, message string) map[string]any {
	return map[string]any{
		"file_name":         frame.File,
		"line_number":       frame.Line,
		"function_name":     frame.Function,
		"exception_message": message,
	}
}

func noFrameRecord(message string) map[string]any {
	return map[string]any{
		"exception_message":  message,
		"detailed_traceback": NoTraceback,
	}
}

func panicMessage(rec any) string {
	switch v := rec.(type) {
	case error:
		return v.Error()
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(rec)
}

func funcName(pc uintptr) string {
	if fn := runtime.FuncForPC(pc); fn != nil {
		return fn.Name()
	}
	return ""
}

func typeOf(v any) string {
	return fmt.Sprintf("%T", v)
}
