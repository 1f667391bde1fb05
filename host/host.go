// Package host is the single entry point an embedding application calls:
// hand in program text, get the result announced through a Notifier.
package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/stackvm/store"
	"github.com/chazu/stackvm/vm"
	"github.com/chazu/stackvm/vm/wire"
)

var log = commonlog.GetLogger("stackvm.host")

// Error kinds reported in an Outcome.
const (
	KindAssembly  = "assembly"
	KindExecution = "execution"
)

// Notifier receives the "Result is ..." message of every submission.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

// Notify calls f(message).
func (f NotifierFunc) Notify(message string) {
	f(message)
}

// Recorder persists submissions. *store.Store implements it.
type Recorder interface {
	Record(ctx context.Context, sub *store.Submission) error
}

// Outcome is everything known about one submission.
type Outcome struct {
	Result       vm.Result
	Err          error
	ErrorKind    string // KindAssembly or KindExecution when Err is set
	Output       string // Text written by PRINT
	ProgramHash  string // Empty when the program did not assemble
	SubmissionID string // Empty when no Recorder is set
	Elapsed      time.Duration
}

// Display is the text after "Result is ": the value's display text, None
// for an empty stack, or the error message.
func (o Outcome) Display() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if text, ok := o.Result.Display(); ok {
		return text
	}
	return "None"
}

// Message is the notification text for the outcome.
func (o Outcome) Message() string {
	return "Result is " + o.Display()
}

// DebugForm is the value as written to the log: quoted text, or None.
func (o Outcome) DebugForm() string {
	if o.Err != nil {
		return fmt.Sprintf("%q", o.Err.Error())
	}
	if text, ok := o.Result.Display(); ok {
		return fmt.Sprintf("%q", text)
	}
	return "None"
}

// Option configures a Host.
type Option func(*Host)

// WithMachineOptions sets the vm options every run uses.
func WithMachineOptions(opts ...vm.Option) Option {
	return func(h *Host) { h.machineOpts = append(h.machineOpts, opts...) }
}

// WithRecorder records every submission.
func WithRecorder(r Recorder) Option {
	return func(h *Host) { h.recorder = r }
}

// WithOutput sets where PRINT output is echoed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(h *Host) { h.output = w }
}

// Host runs submitted programs.
type Host struct {
	notifier    Notifier
	recorder    Recorder
	output      io.Writer
	machineOpts []vm.Option
}

// New creates a host that announces results through notifier. A nil
// notifier drops the announcements.
func New(notifier Notifier, opts ...Option) *Host {
	if notifier == nil {
		notifier = NotifierFunc(func(string) {})
	}
	h := &Host{
		notifier: notifier,
		output:   os.Stdout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit assembles and runs source, then notifies and logs the result. A
// failing program never takes the host down: faults come back in the
// Outcome.
func (h *Host) Submit(ctx context.Context, source string) Outcome {
	start := time.Now()

	program, err := vm.Assemble(source)
	if err != nil {
		out := Outcome{Err: err, ErrorKind: KindAssembly}
		return h.finish(ctx, source, start, out)
	}
	return h.finish(ctx, source, start, h.execute(ctx, program))
}

// SubmitProgram runs an already assembled program, such as one decoded
// from a compiled file. The recorded source is the program's listing.
func (h *Host) SubmitProgram(ctx context.Context, program *vm.Program) Outcome {
	start := time.Now()
	return h.finish(ctx, program.Disassemble(), start, h.execute(ctx, program))
}

func (h *Host) execute(ctx context.Context, program *vm.Program) Outcome {
	var out Outcome
	if hash, err := wire.ProgramHash(program); err == nil {
		out.ProgramHash = hash.String()
	} else {
		log.Warningf("hashing program: %s", err)
	}

	var captured bytes.Buffer
	opts := append([]vm.Option{}, h.machineOpts...)
	opts = append(opts, vm.WithOutput(io.MultiWriter(h.output, &captured)))

	var err error
	out.Result, err = vm.Run(ctx, program, opts...)
	out.Output = captured.String()
	if err != nil {
		out.Err = err
		out.ErrorKind = KindExecution
	}
	return out
}

// finish logs, notifies and records an outcome.
func (h *Host) finish(ctx context.Context, source string, start time.Time, out Outcome) Outcome {
	out.Elapsed = time.Since(start)

	log.Infof("Result=%s", out.DebugForm())
	h.notifier.Notify(out.Message())

	if h.recorder != nil {
		sub := &store.Submission{
			Source:      source,
			ProgramHash: out.ProgramHash,
			Success:     out.Err == nil,
			HasValue:    out.Result.HasValue,
			ErrorKind:   out.ErrorKind,
			Elapsed:     out.Elapsed,
		}
		if out.Err != nil {
			sub.ErrorMessage = out.Err.Error()
		} else if text, ok := out.Result.Display(); ok {
			sub.Result = text
		}
		if err := h.recorder.Record(ctx, sub); err != nil {
			log.Errorf("recording submission: %s", err)
		} else {
			out.SubmissionID = sub.ID
		}
	}

	return out
}

// Submit runs source on a default host that notifies through notifier.
func Submit(ctx context.Context, source string, notifier Notifier) Outcome {
	return New(notifier).Submit(ctx, source)
}
