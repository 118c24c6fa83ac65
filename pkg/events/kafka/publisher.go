package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-ledger/pkg/events"

	"github.com/segmentio/kafka-go"
)

// Config configures the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds a single WriteMessages call. Default 10s.
	WriteTimeout time.Duration
}

// Publisher sends events to a Kafka topic. Messages are partitioned by key
// so each account's trades land on one partition in order.
type Publisher struct {
	writer *kafka.Writer
	topic  string
}

func NewPublisher(config Config) (*Publisher, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if config.Topic == "" {
		config.Topic = events.TopicTradeExecuted
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(config.Brokers...),
			Topic:                  config.Topic,
			Balancer:               &kafka.Hash{},
			WriteTimeout:           config.WriteTimeout,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic: config.Topic,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, msg events.Message) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Value,
		Time:  msg.Time,
	})
	if err != nil {
		return fmt.Errorf("kafka: publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Publisher) Name() string {
	return "kafka:" + p.topic
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
