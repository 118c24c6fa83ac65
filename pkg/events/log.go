package events

import (
	"context"

	"trade-ledger/pkg/logging"

	"go.uber.org/zap"
)

// LogPublisher writes events to the structured log. It is the sink used
// when no broker is configured.
type LogPublisher struct {
	logger *logging.Logger
}

func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	if logger == nil {
		logger = logging.L()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.Info("event published",
		zap.String("key", msg.Key),
		zap.ByteString("value", msg.Value),
		zap.Time("time", msg.Time),
	)
	return nil
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Close() error { return nil }
