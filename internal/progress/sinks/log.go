package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/pagemirror/internal/progress"
)

// LogSink writes each run message through zap, mapping severities onto levels.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("severity", string(evt.Severity)),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if ce := s.logger.Check(levelFor(evt.Severity), evt.Message); ce != nil {
			ce.Time = evt.TS
			ce.Write(fields...)
		}
	}
	return nil
}

// Close flushes buffered log entries.
func (s *LogSink) Close(context.Context) error {
	// Sync on stdout/stderr fails on some platforms; nothing useful to report.
	_ = s.logger.Sync()
	return nil
}

func levelFor(severity progress.Severity) zapcore.Level {
	switch severity {
	case progress.SeverityWarning:
		return zapcore.WarnLevel
	case progress.SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
