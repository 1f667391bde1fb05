package vm

import (
	"io"
	"os"
	"time"
)

// Defaults for the SPAWN counting loops.
const (
	DefaultSpawnIterations = 9
	DefaultSpawnDelay      = time.Millisecond
)

// Option configures a Machine.
type Option func(*options)

type options struct {
	output      io.Writer
	diagnostics io.Writer
	stepLimit   int
	trace       bool

	spawnIterations int
	spawnDelay      time.Duration
	launch          func(name string, fn func())
}

func defaultOptions() options {
	return options{
		output:          os.Stdout,
		diagnostics:     os.Stdout,
		spawnIterations: DefaultSpawnIterations,
		spawnDelay:      DefaultSpawnDelay,
		launch:          func(_ string, fn func()) { go fn() },
	}
}

// WithOutput sets the writer PRINT writes to. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithDiagnostics sets the writer the channel and spawn instructions report
// to. Defaults to stdout.
func WithDiagnostics(w io.Writer) Option {
	return func(o *options) { o.diagnostics = w }
}

// WithStepLimit stops a run with ErrStepLimit after n instructions.
// Zero means unlimited.
func WithStepLimit(n int) Option {
	return func(o *options) { o.stepLimit = n }
}

// WithTrace logs every dispatched instruction at debug level.
func WithTrace(trace bool) Option {
	return func(o *options) { o.trace = trace }
}

// WithSpawnLoop sets the iteration count and per-iteration delay of the
// loops SPAWN starts.
func WithSpawnLoop(iterations int, delay time.Duration) Option {
	return func(o *options) {
		o.spawnIterations = iterations
		o.spawnDelay = delay
	}
}

// WithLauncher replaces how SPAWN starts its background loops. The default
// runs fn on a new goroutine and never waits for it.
func WithLauncher(launch func(name string, fn func())) Option {
	return func(o *options) { o.launch = launch }
}
