package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("type", string(evt.Type)),
			zap.String("category", string(evt.Category)),
			zap.String("url", evt.URL),
			zap.Duration("dur", evt.Dur),
		}
		if len(evt.Payload) > 0 {
			fields = append(fields, zap.Any("payload", evt.Payload))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink; it does nothing.
func (s *LogSink) Close(context.Context) error {
	return nil
}
