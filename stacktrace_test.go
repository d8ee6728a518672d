package ensemble_test

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/sharnoff/ensemble"
)

func concatLines(lines ...string) string {
	return strings.Join(lines, "\n")
}

func TestStackTraceFormatVarieties(t *testing.T) {
	t.Parallel()

	expected := concatLines(
		"packagename.foo(...)",
		"\t/path/to/package/foo.go:37",
		"packagename.bar(...)",
		"\t/path/to/package/bar.go",
		"packagename.baz(...)",
		"\t<unknown file>",
		"packagename.qux(...)",
		"\t<unknown file>",
		"<unknown function>",
		"\t/unknown/function/path.go:45",
		"<unknown function>",
		"\t<unknown file>",
		"",
	)

	st := ensemble.StackTrace{
		Frames: []ensemble.StackFrame{
			{Function: "packagename.foo", File: "/path/to/package/foo.go", Line: 37},
			{Function: "packagename.bar", File: "/path/to/package/bar.go"},
			{Function: "packagename.baz"},
			{Function: "packagename.qux", Line: 29}, // Line should have no effect if File is missing.
			{File: "/unknown/function/path.go", Line: 45},
			{},
		},
	}

	got := st.String()

	if got != expected {
		t.Fail()
		t.Log(
			"--- BEGIN expected formatting ---\n",
			fmt.Sprintf("%q", expected),
			"\n--- END expected formatting. BEGIN actual formatting ---\n",
			fmt.Sprintf("%q", got),
		)
	}
}

func TestStackTraceEmptyFormat(t *testing.T) {
	t.Parallel()

	if got := (ensemble.StackTrace{}).String(); got != "<empty stack>\n" {
		t.Fatalf("unexpected formatting of empty stack: %q", got)
	}
}

// validateFrames checks that the leading frames of got match expected, which holds regular
// expressions for Function and File, and only whether Line is zero or not.
func validateFrames(t *testing.T, expected []ensemble.StackFrame, got ensemble.StackTrace) {
	t.Helper()

	if len(got.Frames) < len(expected) {
		t.Fatalf("expected at least %d frames, got %d:\n%s", len(expected), len(got.Frames), got)
	}

	for i, e := range expected {
		g := got.Frames[i]

		if !regexp.MustCompile("^" + e.File + "$").MatchString(g.File) {
			t.Fatalf("Frames[%d].File: expected match for %q, got %q", i, e.File, g.File)
		}
		if !regexp.MustCompile("^" + e.Function + "$").MatchString(g.Function) {
			t.Fatalf("Frames[%d].Function: expected match for %q, got %q", i, e.Function, g.Function)
		}
		if (e.Line == 0) != (g.Line == 0) {
			t.Fatalf("Frames[%d].Line: expected zero = %v, got %d", i, e.Line == 0, g.Line)
		}
	}
}

func TestCaptureStackBasic(t *testing.T) {
	t.Parallel()

	expected := []ensemble.StackFrame{
		{Function: `.*/ensemble_test.TestCaptureStackBasic.func1`, File: `.*/stacktrace_test\.go`, Line: 1},
		{Function: `.*/ensemble_test.TestCaptureStackBasic.func2`, File: `.*/stacktrace_test\.go`, Line: 1},
		{Function: `.*/ensemble_test.TestCaptureStackBasic.func3`, File: `.*/stacktrace_test\.go`, Line: 1},
		{Function: `.*/ensemble_test.TestCaptureStackBasic`, File: `.*/stacktrace_test\.go`, Line: 1},
	}

	func1 := func() ensemble.StackTrace {
		return ensemble.CaptureStack(0)
	}
	func2 := func() ensemble.StackTrace {
		return func1()
	}
	func3 := func() ensemble.StackTrace {
		return func2()
	}

	validateFrames(t, expected, func3())
}

func TestCaptureStackPartialSkip(t *testing.T) {
	t.Parallel()

	expected := []ensemble.StackFrame{
		{Function: `.*/ensemble_test.TestCaptureStackPartialSkip.func3`, File: `.*/stacktrace_test\.go`, Line: 1},
		{Function: `.*/ensemble_test.TestCaptureStackPartialSkip.func4`, File: `.*/stacktrace_test\.go`, Line: 1},
		{Function: `.*/ensemble_test.TestCaptureStackPartialSkip`, File: `.*/stacktrace_test\.go`, Line: 1},
	}

	func1 := func() ensemble.StackTrace {
		return ensemble.CaptureStack(2)
	}
	func2 := func() ensemble.StackTrace {
		return func1()
	}
	func3 := func() ensemble.StackTrace {
		return func2()
	}
	func4 := func() ensemble.StackTrace {
		return func3()
	}

	validateFrames(t, expected, func4())
}

func TestCaptureStackSkipTooManyIsEmpty(t *testing.T) {
	t.Parallel()

	st := ensemble.CaptureStack(100000) // pick a big number to skip all frames
	if len(st.Frames) != 0 {
		t.Fatal("expected no frames, got", len(st.Frames))
	}
}

func TestCaptureStackDeep(t *testing.T) {
	t.Parallel()

	// deeper than the initial PC buffer, so it has to grow
	var recurse func(n int) ensemble.StackTrace
	recurse = func(n int) ensemble.StackTrace {
		if n == 0 {
			return ensemble.CaptureStack(0)
		}
		return recurse(n - 1)
	}

	st := recurse(300)
	if len(st.Frames) < 300 {
		t.Fatalf("expected at least 300 frames, got %d", len(st.Frames))
	}
}
