package logger

// nopLogger discards everything. Nop returns the shared instance.
type nopLogger struct{}

var nop = &nopLogger{}

// Nop returns a logger that discards all output, for tests and for
// components run with logging disabled.
func Nop() Logger {
	return nop
}

func (*nopLogger) Debug(string, ...Field) {}
func (*nopLogger) Info(string, ...Field)  {}
func (*nopLogger) Warn(string, ...Field)  {}
func (*nopLogger) Error(string, ...Field) {}
func (*nopLogger) Fatal(string, ...Field) {}

func (l *nopLogger) With(...Field) Logger { return l }

func (*nopLogger) Sync() error { return nil }
