package logger

import "strings"

// BadgerLogger satisfies badger.Logger without importing badger.
//
// Badger is chatty at INFO (compactions, value log GC), so its info and
// debug messages are demoted to DEBUG here.
type BadgerLogger struct {
	Prefix string
}

func (b BadgerLogger) Errorf(format string, v ...any) {
	Error(b.Prefix+trimNewline(format), v...)
}

func (b BadgerLogger) Warningf(format string, v ...any) {
	Warn(b.Prefix+trimNewline(format), v...)
}

func (b BadgerLogger) Infof(format string, v ...any) {
	Debug(b.Prefix+trimNewline(format), v...)
}

func (b BadgerLogger) Debugf(format string, v ...any) {
	Debug(b.Prefix+trimNewline(format), v...)
}

func trimNewline(s string) string {
	return strings.TrimRight(s, "\n")
}
