package logging

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// stumpyLogger adapts a logiface.Logger[*stumpy.Event] to the Logger
// interface. WithField/WithError accumulate onto an immutable field list,
// mirroring the Context-building style of logiface itself, until one of
// the level methods actually emits an event.
type stumpyLogger struct {
	base   *logiface.Logger[*stumpy.Event]
	fields []stumpyField
	err    error
}

type stumpyField struct {
	key string
	val any
}

// NewStumpy returns a Logger backed by stumpy's JSON event writer. If w is
// nil, stumpy's default writer (os.Stderr) is used.
func NewStumpy(w io.Writer) Logger {
	opts := []stumpy.Option{}
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(opts...),
	)
	if w != nil {
		logger = stumpy.L.New(
			stumpy.L.WithStumpy(opts...),
			stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
				_, err := w.Write(append(e.Bytes(), '\n'))
				return err
			})),
		)
	}
	return &stumpyLogger{base: logger}
}

func (l *stumpyLogger) clone() *stumpyLogger {
	fields := make([]stumpyField, len(l.fields))
	copy(fields, l.fields)
	return &stumpyLogger{base: l.base, fields: fields, err: l.err}
}

func (l *stumpyLogger) WithField(key string, value any) Logger {
	next := l.clone()
	next.fields = append(next.fields, stumpyField{key, value})
	return next
}

func (l *stumpyLogger) WithError(err error) Logger {
	next := l.clone()
	next.err = err
	return next
}

func (l *stumpyLogger) emit(b *logiface.Builder[*stumpy.Event], msg string) {
	for _, f := range l.fields {
		b = b.Any(f.key, f.val)
	}
	if l.err != nil {
		b = b.Err(l.err)
	}
	b.Log(msg)
}

func (l *stumpyLogger) Debug(msg string) { l.emit(l.base.Debug(), msg) }
func (l *stumpyLogger) Info(msg string)  { l.emit(l.base.Info(), msg) }
func (l *stumpyLogger) Warn(msg string)  { l.emit(l.base.Warning(), msg) }
func (l *stumpyLogger) Error(msg string) { l.emit(l.base.Err(), msg) }
