package ensemble

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// StackTrace is a captured goroutine stack, innermost frame first.
//
// A [WorkerPool] attaches one to every [TaskPanic], starting at the frame that panicked.
type StackTrace struct {
	Frames []StackFrame
}

// StackFrame is a single entry in a [StackTrace]. Any of the fields may be empty if the runtime
// could not resolve them.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// CaptureStack returns the stack of the calling goroutine. skip is the number of callers to
// omit, with zero meaning the caller of CaptureStack is the first frame.
func CaptureStack(skip int) StackTrace {
	return StackTrace{Frames: callerFrames(skip + 1)}
}

// panicStack must be called directly from a deferred function that is handling a panic. It
// returns the stack from the point of the panic, leaving out the recovering function and the
// runtime's own panic frames.
func panicStack() StackTrace {
	frames := callerFrames(1)

	start := -1
	for i, f := range frames {
		if f.Function == "runtime.gopanic" {
			start = i + 1
			break
		}
	}
	if start == -1 {
		return StackTrace{Frames: frames}
	}

	// runtime errors (nil dereference, bad index, ...) go through further runtime helpers before
	// reaching gopanic
	for start < len(frames) && isRuntimeFrame(frames[start]) {
		start += 1
	}

	return StackTrace{Frames: frames[start:]}
}

func isRuntimeFrame(f StackFrame) bool {
	return strings.HasPrefix(f.Function, "runtime.") || strings.HasPrefix(f.Function, "internal/runtime/")
}

// String formats the trace in two lines per frame, similar to the runtime's own tracebacks.
func (st StackTrace) String() string {
	if len(st.Frames) == 0 {
		return "<empty stack>\n"
	}

	var sb strings.Builder
	for _, f := range st.Frames {
		if f.Function != "" {
			sb.WriteString(f.Function)
			sb.WriteString("(...)")
		} else {
			sb.WriteString("<unknown function>")
		}

		sb.WriteString("\n\t")

		switch {
		case f.File == "":
			sb.WriteString("<unknown file>")
		case f.Line == 0:
			sb.WriteString(f.File)
		default:
			sb.WriteString(f.File)
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(f.Line))
		}

		sb.WriteByte('\n')
	}
	return sb.String()
}

var pcPool = sync.Pool{
	New: func() any {
		pcs := make([]uintptr, 64)
		return &pcs
	},
}

// callerFrames resolves the stack of the calling goroutine, skipping skip callers of
// callerFrames itself.
func callerFrames(skip int) []StackFrame {
	pcs := pcPool.Get().(*[]uintptr)
	defer func() {
		// don't keep oversized buffers around after a single deep stack
		if len(*pcs) <= 1024 {
			pcPool.Put(pcs)
		}
	}()

	var n int
	for {
		// +2 for runtime.Callers and callerFrames
		n = runtime.Callers(skip+2, *pcs)
		if n < len(*pcs) {
			break
		}
		*pcs = make([]uintptr, 2*len(*pcs))
	}
	if n == 0 {
		return nil
	}

	iter := runtime.CallersFrames((*pcs)[:n])
	frames := make([]StackFrame, 0, n)
	for {
		frame, more := iter.Next()
		frames = append(frames, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more {
			break
		}
	}
	return frames
}
