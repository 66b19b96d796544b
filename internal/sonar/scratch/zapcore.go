package scratch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pysugar/go-sonar/internal/sonar/normalize"
)

// core copies every enabled log entry into a request's log buffer.
type core struct {
	zapcore.LevelEnabler
	buffers *Buffers
	fields  []zapcore.Field
}

// NewCore returns a zapcore.Core writing into b's log buffer.
func NewCore(b *Buffers, enab zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: enab, buffers: b}
}

// Logger tees base into the log buffer bound to ctx. Outside a recorded
// request base is returned unchanged.
func Logger(ctx context.Context, base *zap.Logger, enab zapcore.LevelEnabler) *zap.Logger {
	b := FromContext(ctx)
	if b == nil || base == nil {
		return base
	}
	return base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, NewCore(b, enab))
	}))
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	attrs := normalize.Value(enc.Fields)

	record := map[string]any{
		"logger":    ent.LoggerName,
		"level":     ent.Level.String(),
		"message":   ent.Message,
		"context":   attrs,
		"extra":     attrs,
		"timestamp": ent.Time.UTC().Format(time.RFC3339Nano),
	}
	if ent.Caller.Defined {
		record["caller"] = ent.Caller.TrimmedPath()
	}
	c.buffers.Append(Logs, record)
	return nil
}

func (c *core) Sync() error { return nil }
