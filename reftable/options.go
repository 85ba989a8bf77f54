package reftable

import "log"

// Logger is the minimal logging capability the reader takes, matching the
// shape of pebble's own base.LoggerAndTracer parameter to readFooter
// (table.go) rather than adding a concrete structured-logging dependency
// that nothing in the teacher's retrieved files actually reaches for; see
// DESIGN.md for the justification.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// stdLogger is the nil-safe default Logger, a thin wrapper over the
// standard library's log package.
type stdLogger struct{}

func (stdLogger) Infof(format string, args ...interface{})  { log.Printf("[reftable] "+format, args...) }
func (stdLogger) Errorf(format string, args ...interface{}) { log.Printf("[reftable] "+format, args...) }

// DefaultLogger is used by NewReader when Options.Logger is nil.
var DefaultLogger Logger = stdLogger{}

// Options configures a Reader. A nil *Options is valid and means to use
// the default values, mirroring table.go's own Options.EnsureDefaults
// convention.
type Options struct {
	// Logger is kept in the Reader's options. Defaults to DefaultLogger.
	// No read path in this package writes messages to it.
	Logger Logger
	// Metrics, when non-nil, is incremented as the reader does work.
	// Defaults to a private, unregistered Metrics instance.
	Metrics *Metrics
}

func (o *Options) ensureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	n := *o
	if n.Logger == nil {
		n.Logger = DefaultLogger
	}
	if n.Metrics == nil {
		n.Metrics = NewMetrics(nil)
	}
	return &n
}
