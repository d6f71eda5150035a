package rhi

import (
	"context"
	"fmt"
	"log/slog"
)

// Severity classifies a diagnostic message.
type Severity uint8

// Message severities.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	case SeverityFatal:
		return "Fatal"
	}
	return fmt.Sprintf("Severity(%d)", uint8(s))
}

// MessageCallback receives every diagnostic the runtime produces.
// Implementations must be safe for concurrent use; command lists recorded
// on different goroutines report through the same callback.
type MessageCallback interface {
	Message(severity Severity, text string)
}

// MessageFunc adapts a function to MessageCallback.
type MessageFunc func(severity Severity, text string)

// Message calls f(severity, text).
func (f MessageFunc) Message(severity Severity, text string) { f(severity, text) }

type slogCallback struct {
	l *slog.Logger
}

// SlogCallback returns a MessageCallback writing to l. A nil logger
// resolves to Logger() at the time of every message, so SetLogger
// takes effect on devices that were already created.
func SlogCallback(l *slog.Logger) MessageCallback {
	return slogCallback{l: l}
}

func (c slogCallback) Message(severity Severity, text string) {
	l := c.l
	if l == nil {
		l = Logger()
	}
	ctx := context.Background()
	switch severity {
	case SeverityInfo:
		l.InfoContext(ctx, text)
	case SeverityWarning:
		l.WarnContext(ctx, text)
	case SeverityError:
		l.ErrorContext(ctx, text)
	default:
		l.ErrorContext(ctx, text, "fatal", true)
	}
}

// Messages wraps a MessageCallback with printf-style helpers.
// The zero value routes messages to SlogCallback(nil).
type Messages struct {
	Callback MessageCallback
}

func (m Messages) emit(sev Severity, text string) {
	cb := m.Callback
	if cb == nil {
		cb = slogCallback{}
	}
	cb.Message(sev, text)
}

// Infof reports an Info message.
func (m Messages) Infof(format string, args ...any) {
	m.emit(SeverityInfo, fmt.Sprintf(format, args...))
}

// Warnf reports a Warning message.
func (m Messages) Warnf(format string, args ...any) {
	m.emit(SeverityWarning, fmt.Sprintf(format, args...))
}

// Errorf reports an Error message.
func (m Messages) Errorf(format string, args ...any) {
	m.emit(SeverityError, fmt.Sprintf(format, args...))
}

// Fatalf reports a Fatal message. It does not terminate the process.
func (m Messages) Fatalf(format string, args ...any) {
	m.emit(SeverityFatal, fmt.Sprintf(format, args...))
}

// Error reports err at Error severity and returns it unchanged.
func (m Messages) Error(err error) error {
	if err != nil {
		m.emit(SeverityError, err.Error())
	}
	return err
}
