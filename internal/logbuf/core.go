package logbuf

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Core returns a zapcore.Core that writes "[HH:MM:SS] message k=v" lines
// into the buffer matching each entry's logger name.
func (s *Set) Core(enab zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: enab, set: s}
}

type core struct {
	zapcore.LevelEnabler
	set    *Set
	fields []zapcore.Field
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := &core{LevelEnabler: c.LevelEnabler, set: c.set}
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
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

	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(ent.Time.Format("15:04:05"))
	sb.WriteString("] ")
	if ent.Level != zapcore.InfoLevel {
		sb.WriteString(strings.ToUpper(ent.Level.String()))
		sb.WriteString(" ")
	}
	sb.WriteString(ent.Message)

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, enc.Fields[k])
	}

	c.set.route(ent.LoggerName).Append(sb.String())
	return nil
}

func (c *core) Sync() error { return nil }
