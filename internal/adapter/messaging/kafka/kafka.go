// Package kafka carries provider notifications into the ledger and committed
// domain events out of it.
package kafka

import (
	"context"
	"fmt"
	"time"

	"custodial-ledger/config"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer the relay needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewReader creates a consumer-group reader for the notifications topic.
// Offsets are committed explicitly by the consumer after each message is handled.
func NewReader(cfg config.KafkaConfig, log zerolog.Logger) *kafkago.Reader {
	l := log.With().Str("component", "kafka-reader").Logger()
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.NotificationsTopic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		Logger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			l.Debug().Msg(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			l.Error().Msg(fmt.Sprintf(msg, args...))
		}),
	})
}

// NewWriter creates a synchronous writer for the domain events topic.
// Messages are hashed by key so every event of one aggregate lands on one partition.
func NewWriter(cfg config.KafkaConfig, log zerolog.Logger) *kafkago.Writer {
	l := log.With().Str("component", "kafka-writer").Logger()
	return &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Logger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			l.Debug().Msg(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			l.Error().Msg(fmt.Sprintf(msg, args...))
		}),
	}
}
