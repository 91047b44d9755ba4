package eventbus

import (
	"context"

	"go.uber.org/zap"
)

// LogConsumer logs every event at info level.
type LogConsumer struct {
	log *zap.Logger
}

func NewLogConsumer(log *zap.Logger) *LogConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogConsumer{log: log}
}

func (c *LogConsumer) HandleEvent(_ context.Context, evt Event) error {
	c.log.Info("event",
		zap.String("type", evt.Type),
		zap.String("form_id", evt.FormID),
		zap.String("event_id", evt.ID),
		zap.Time("occurred_at", evt.OccurredAt),
	)
	return nil
}
