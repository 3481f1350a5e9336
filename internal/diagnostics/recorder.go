// Package diagnostics captures post-mortem state for killed or failed
// runs: a termination-signal handler and a top-level failure recorder,
// both writing a stack trace to a well-known file.
package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Recorder writes diagnostic traces for one run. A single Recorder is
// installed at startup and never reinstalled; Install is idempotent.
type Recorder struct {
	tracePath string
	log       *zap.Logger

	installOnce sync.Once
	sigCh       chan os.Signal

	// exit is swapped out by tests to observe the code without dying.
	exit func(code int)
}

// NewRecorder returns a Recorder bound to tracePath. Nothing is written
// until a signal arrives or a failure is captured; a clean run never
// produces a trace file.
func NewRecorder(tracePath string, log *zap.Logger) *Recorder {
	return &Recorder{
		tracePath: tracePath,
		log:       log,
		exit:      os.Exit,
	}
}

// Install registers handling for SIGINT and SIGTERM. On either signal
// the recorder logs a warning (distinguishing a user cancel from an
// external kill), overwrites the trace file with a full goroutine dump,
// and exits 0. Installing twice is a no-op.
func (r *Recorder) Install() {
	r.installOnce.Do(func() {
		r.sigCh = make(chan os.Signal, 1)
		signal.Notify(r.sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig, ok := <-r.sigCh
			if !ok {
				return
			}
			r.handleSignal(sig)
		}()
	})
}

// Uninstall stops signal interception. Safe to call more than once.
// Used by tests; production runs keep the handler for the whole
// process lifetime.
func (r *Recorder) Uninstall() {
	if r.sigCh != nil {
		signal.Stop(r.sigCh)
		close(r.sigCh)
		r.sigCh = nil
	}
}

// handleSignal runs to completion before the process exits: the trace
// write must not be lost to a racing exit.
func (r *Recorder) handleSignal(sig os.Signal) {
	if sig == os.Interrupt {
		r.log.Warn("user cancelled download", zap.String("stacktrace", r.tracePath))
	} else {
		r.log.Warn("process killed", zap.String("signal", sig.String()),
			zap.String("stacktrace", r.tracePath))
	}

	if err := r.writeTrace(fmt.Sprintf("terminated by signal: %s", sig)); err != nil {
		r.log.Warn("failed to write trace file", zap.Error(err))
	}

	// A deliberate kill is not reported as a failure to shell tooling.
	r.exit(0)
}

// CaptureFailure records an unhandled failure from setup or any
// pipeline phase: a warning naming the failure kind and the trace path,
// plus a trace file with the error and a full goroutine dump. The
// caller decides what to do next; the failure is otherwise swallowed.
func (r *Recorder) CaptureFailure(err error) {
	r.log.Warn("process failed",
		zap.String("kind", FailureKind(err)),
		zap.String("stacktrace", r.tracePath),
		zap.Error(err))

	if werr := r.writeTrace(fmt.Sprintf("unhandled failure: %v", err)); werr != nil {
		r.log.Warn("failed to write trace file", zap.Error(werr))
	}
}

// writeTrace truncates the trace file and writes the header followed by
// a dump of all goroutine stacks. Each run overwrites any prior trace.
func (r *Recorder) writeTrace(header string) error {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)

	content := header + "\n\n" + string(buf[:n])
	if err := os.WriteFile(r.tracePath, []byte(content), 0644); err != nil {
		return fmt.Errorf("write trace %s: %w", r.tracePath, err)
	}
	return nil
}

// FailureKind names the most specific error type in err's chain, for
// the one-line failure log. Wrapper types from fmt.Errorf are skipped.
func FailureKind(err error) string {
	if err == nil {
		return ""
	}

	kind := "error"
	for e := err; e != nil; e = errors.Unwrap(e) {
		name := typeName(e)
		if name == "wrapError" || name == "joinError" || name == "errorString" {
			continue
		}
		kind = name
	}
	return kind
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
