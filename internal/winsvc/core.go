// Package winsvc runs the server as a Windows service and sends its log to
// the Windows Event Log. Other platforms get stubs.
package winsvc

import (
	"go.uber.org/zap/zapcore"
)

// eventSink is the subset of *eventlog.Log the core writes to.
type eventSink interface {
	Info(eid uint32, msg string) error
	Warning(eid uint32, msg string) error
	Error(eid uint32, msg string) error
}

const eventID = 1

// sinkCore is a zapcore.Core that writes one event log entry per log line.
// The event log stamps entries itself, so time is not encoded.
type sinkCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	sink eventSink
}

func newSinkCore(sink eventSink, level zapcore.LevelEnabler) zapcore.Core {
	cfg := zapcore.EncoderConfig{
		MessageKey:     "msg",
		NameKey:        "logger",
		LineEnding:     "",
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	return &sinkCore{
		LevelEnabler: level,
		enc:          zapcore.NewConsoleEncoder(cfg),
		sink:         sink,
	}
}

func (c *sinkCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &sinkCore{LevelEnabler: c.LevelEnabler, enc: c.enc.Clone(), sink: c.sink}
	for i := range fields {
		fields[i].AddTo(clone.enc)
	}
	return clone
}

func (c *sinkCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sinkCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	msg := buf.String()
	buf.Free()

	switch {
	case ent.Level >= zapcore.ErrorLevel:
		return c.sink.Error(eventID, msg)
	case ent.Level == zapcore.WarnLevel:
		return c.sink.Warning(eventID, msg)
	default:
		return c.sink.Info(eventID, msg)
	}
}

func (c *sinkCore) Sync() error { return nil }
