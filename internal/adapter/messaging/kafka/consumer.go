package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"
	"custodial-ledger/pkg/backoff"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	defaultRetryBase = 100 * time.Millisecond
	defaultRetryMax  = 10 * time.Second

	// defaultInternalRetries bounds retries of SYS_001 failures, which may be deterministic.
	defaultInternalRetries = 3
)

// NotificationConsumer feeds provider notifications from Kafka into the reconciliation service.
// Notifications on the topic have already passed provider signature verification.
//
// An offset is committed once its message is settled: handled, rejected as
// invalid, or undecodable. Transient failures and timeouts are retried in place
// with capped exponential backoff, so the partition does not advance past a
// notification that was never applied. Internal database errors get a bounded
// number of retries and are then committed with an error log.
type NotificationConsumer struct {
	reader          MessageReader
	svc             ports.ReconciliationService
	log             zerolog.Logger
	retryBase       time.Duration
	retryMax        time.Duration
	internalRetries int
}

// NewNotificationConsumer creates a new NotificationConsumer.
func NewNotificationConsumer(reader MessageReader, svc ports.ReconciliationService, log zerolog.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		reader:          reader,
		svc:             svc,
		log:             log.With().Str("component", "notification-consumer").Logger(),
		retryBase:       defaultRetryBase,
		retryMax:        defaultRetryMax,
		internalRetries: defaultInternalRetries,
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *NotificationConsumer) Run(ctx context.Context) error {
	c.log.Info().Msg("notification consumer started")
	defer c.log.Info().Msg("notification consumer stopped")

	fetchFailures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fetchFailures++
			c.log.Error().Err(err).Int("attempt", fetchFailures).Msg("kafka fetch failed")
			if backoff.Sleep(ctx, backoff.Capped(c.retryBase, c.retryMax, fetchFailures-1)) != nil {
				return nil
			}
			continue
		}
		fetchFailures = 0

		if !c.settle(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// The message will be redelivered; the idempotency marker absorbs the replay.
			c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("kafka commit failed")
		}
	}
}

// settle handles msg until it no longer needs retrying. It reports false when
// ctx was cancelled first.
func (c *NotificationConsumer) settle(ctx context.Context, msg kafkago.Message) bool {
	var n domain.ProviderNotification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		c.log.Error().
			Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("undecodable provider notification skipped")
		return true
	}

	internalFailures := 0
	for attempt := 0; ; attempt++ {
		res, err := c.svc.HandleProviderNotification(ctx, n)
		if err == nil {
			c.log.Debug().
				Str("event_id", n.EventID).
				Str("outcome", string(res.Outcome)).
				Int64("offset", msg.Offset).
				Msg("provider notification consumed")
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if !Retryable(err) {
			c.log.Warn().
				Err(err).
				Str("event_id", n.EventID).
				Str("error_code", apperror.CodeOf(err)).
				Msg("provider notification rejected")
			return true
		}
		if apperror.CodeOf(err) == apperror.CodeInternal {
			internalFailures++
			if internalFailures > c.internalRetries {
				c.log.Error().
					Err(err).
					Str("event_id", n.EventID).
					Str("provider", n.Provider).
					Int("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("provider notification skipped after repeated internal errors")
				return true
			}
		}

		delay := backoff.Capped(c.retryBase, c.retryMax, attempt)
		c.log.Warn().
			Err(err).
			Str("event_id", n.EventID).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("provider notification failed, retrying")
		if backoff.Sleep(ctx, delay) != nil {
			return false
		}
	}
}

// Retryable reports whether a reconciliation error is worth handling again:
// infrastructure failures are, rejections of the notification itself are not.
// A commit with an unknown outcome (SYS_002) is safe to replay because the
// processed-notification marker turns an applied replay into DUPLICATE.
func Retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch apperror.CodeOf(err) {
	case apperror.CodeTransient, apperror.CodeTimeout, apperror.CodeInternal:
		return true
	}
	return false
}

// Close closes the underlying reader.
func (c *NotificationConsumer) Close() error {
	return c.reader.Close()
}
