// Package logging defines the logging sink interface passed into the queue
// and update-kernel constructors, replacing a global logger singleton.
package logging

import (
	"log"
	"os"
)

// Sink is implemented by anything that can receive structured log lines at
// three severities. The queue and analysis packages depend only on this
// interface, never on a concrete logger.
type Sink interface {
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// StdSink is the default Sink, backed by the standard library logger.
type StdSink struct {
	l *log.Logger
}

// NewStdSink returns a Sink writing to os.Stderr with a standard
// timestamped prefix.
func NewStdSink() *StdSink {
	return &StdSink{l: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}
}

func (s *StdSink) Info(msg string, kv ...any)  { s.log("INFO", msg, kv...) }
func (s *StdSink) Warn(msg string, kv ...any)  { s.log("WARN", msg, kv...) }
func (s *StdSink) Error(msg string, kv ...any) { s.log("ERROR", msg, kv...) }

func (s *StdSink) log(level, msg string, kv ...any) {
	s.l.Printf("%s %s %v", level, msg, kv)
}

// Discard is a Sink that drops everything, useful in tests.
type Discard struct{}

func (Discard) Info(string, ...any)  {}
func (Discard) Warn(string, ...any)  {}
func (Discard) Error(string, ...any) {}
