package util

import (
	"bytes"
	"io"
	"log"
)

type LogLevel byte

const (
	LogLevelTrace   LogLevel = 0
	LogLevelDebug   LogLevel = 1
	LogLevelEnabled LogLevel = 2
)

// Log output is buffered until a destination is attached, so messages
// emitted before SetLogOutput are not lost.
type logBuffer struct {
	buffer *bytes.Buffer
	output io.Writer
}

func newLogBuffer() *logBuffer {
	return &logBuffer{
		buffer: new(bytes.Buffer),
		output: nil,
	}
}

func (logBuf *logBuffer) Write(p []byte) (n int, err error) {
	if logBuf.output == nil {
		return logBuf.buffer.Write(p)
	}
	return logBuf.output.Write(p)
}

func (logBuf *logBuffer) setOutput(output io.Writer) {
	if logBuf.buffer.Len() > 0 {
		b, _ := io.ReadAll(logBuf.buffer)
		output.Write(b)
	}
	logBuf.output = output
}

var enabledLogOutput *logBuffer = newLogBuffer()
var debugLogOutput *logBuffer = newLogBuffer()
var traceLogOutput *logBuffer = newLogBuffer()

func SetLogOutput(out io.Writer) {
	enabledLogOutput.setOutput(out)
}

// SetLogLevel chains the lower-level buffers into the enabled output.
// Levels below the given one stay buffered and are never emitted.
func SetLogLevel(level LogLevel) {
	if level <= LogLevelTrace {
		traceLogOutput.setOutput(debugLogOutput)
	}
	if level <= LogLevelDebug {
		debugLogOutput.setOutput(enabledLogOutput)
	}
}

// NewLogger returns a logger whose output is gated by the given level.
func NewLogger(prefix string, level LogLevel) *log.Logger {
	switch level {
	case LogLevelEnabled:
		return log.New(enabledLogOutput, prefix, 0)
	case LogLevelDebug:
		return log.New(debugLogOutput, prefix, 0)
	default:
		return log.New(traceLogOutput, prefix, 0)
	}
}
