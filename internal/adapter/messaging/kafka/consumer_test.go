package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/core/ports/mocks"
	"custodial-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeReader serves a fixed queue and calls drained once it runs dry.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafkago.Message
	fetchErrs []error
	commitErr error
	committed []int64
	drained   func()
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafkago.Message{}, err
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	drained := r.drained
	r.mu.Unlock()

	if drained != nil {
		drained()
	}
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func notificationMessage(t *testing.T, offset int64, eventID string) kafkago.Message {
	t.Helper()
	value, err := json.Marshal(domain.ProviderNotification{
		EventID:         eventID,
		Provider:        "MoonPay",
		ProviderOrderID: "mp-1",
		ProviderStatus:  "completed",
	})
	require.NoError(t, err)
	return kafkago.Message{Offset: offset, Value: value}
}

func setupConsumer(t *testing.T, reader *fakeReader) (*NotificationConsumer, *mocks.MockReconciliationService, context.Context) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockReconciliationService(ctrl)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	reader.drained = cancel

	c := NewNotificationConsumer(reader, svc, zerolog.Nop())
	c.retryBase = time.Millisecond
	c.retryMax = 5 * time.Millisecond
	return c, svc, ctx
}

func applied() *ports.ReconciliationResult {
	return &ports.ReconciliationResult{Outcome: domain.OutcomeApplied}
}

func TestNotificationConsumer_CommitsHandledMessages(t *testing.T) {
	reader := &fakeReader{}
	reader.queue = []kafkago.Message{
		notificationMessage(t, 1, "evt-1"),
		notificationMessage(t, 2, "evt-2"),
	}
	c, svc, ctx := setupConsumer(t, reader)

	gomock.InOrder(
		svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, n domain.ProviderNotification) (*ports.ReconciliationResult, error) {
				assert.Equal(t, "evt-1", n.EventID)
				assert.Equal(t, "mp-1", n.ProviderOrderID)
				return applied(), nil
			}),
		svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).
			Return(&ports.ReconciliationResult{Outcome: domain.OutcomeDuplicate}, nil),
	)

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{1, 2}, reader.offsets())
}

func TestNotificationConsumer_UndecodableMessageIsCommitted(t *testing.T) {
	reader := &fakeReader{}
	reader.queue = []kafkago.Message{{Offset: 7, Value: []byte("{not json")}}
	c, _, ctx := setupConsumer(t, reader)

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{7}, reader.offsets())
}

func TestNotificationConsumer_RejectedNotificationIsCommitted(t *testing.T) {
	rejections := []error{
		apperror.ErrUnknownProvider("Acme"),
		apperror.Validation("event id is required"),
		apperror.ErrInsufficientBalance(),
	}
	for _, rejection := range rejections {
		t.Run(rejection.Error(), func(t *testing.T) {
			reader := &fakeReader{}
			reader.queue = []kafkago.Message{notificationMessage(t, 3, "evt-3")}
			c, svc, ctx := setupConsumer(t, reader)

			svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).Return(nil, rejection)

			require.NoError(t, c.Run(ctx))
			assert.Equal(t, []int64{3}, reader.offsets())
		})
	}
}

func TestNotificationConsumer_RetriesTransientFailures(t *testing.T) {
	reader := &fakeReader{}
	reader.queue = []kafkago.Message{notificationMessage(t, 4, "evt-4")}
	c, svc, ctx := setupConsumer(t, reader)

	gomock.InOrder(
		svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).
			Return(nil, apperror.ErrTransient(errors.New("deadlock detected"))),
		svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).
			Return(nil, apperror.ErrTimeout(context.DeadlineExceeded)),
		svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).Return(applied(), nil),
	)

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{4}, reader.offsets())
}

func TestNotificationConsumer_PersistentInternalErrorIsCommitted(t *testing.T) {
	reader := &fakeReader{}
	reader.queue = []kafkago.Message{
		notificationMessage(t, 10, "evt-10"),
		notificationMessage(t, 11, "evt-11"),
	}
	c, svc, ctx := setupConsumer(t, reader)
	c.internalRetries = 2

	gomock.InOrder(
		svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).
			Return(nil, apperror.ErrDatabaseError(errors.New("numeric field overflow"))).Times(3),
		svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).Return(applied(), nil),
	)

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{10, 11}, reader.offsets())
}

func TestNotificationConsumer_TransientFailuresAreNotCapped(t *testing.T) {
	reader := &fakeReader{}
	reader.queue = []kafkago.Message{notificationMessage(t, 12, "evt-12")}
	c, svc, ctx := setupConsumer(t, reader)
	c.internalRetries = 1

	gomock.InOrder(
		svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).
			Return(nil, apperror.ErrTransient(errors.New("serialization failure"))).Times(4),
		svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).Return(applied(), nil),
	)

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{12}, reader.offsets())
}

func TestNotificationConsumer_CancelDuringRetryLeavesOffset(t *testing.T) {
	reader := &fakeReader{}
	reader.queue = []kafkago.Message{notificationMessage(t, 5, "evt-5")}
	c, svc, _ := setupConsumer(t, reader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, domain.ProviderNotification) (*ports.ReconciliationResult, error) {
			calls++
			if calls == 2 {
				cancel()
			}
			return nil, apperror.ErrDatabaseError(errors.New("connection reset"))
		}).MinTimes(2)

	require.NoError(t, c.Run(ctx))
	assert.Empty(t, reader.offsets())
}

func TestNotificationConsumer_FetchErrorsBackOff(t *testing.T) {
	reader := &fakeReader{fetchErrs: []error{errors.New("broker unavailable"), errors.New("broker unavailable")}}
	reader.queue = []kafkago.Message{notificationMessage(t, 6, "evt-6")}
	c, svc, ctx := setupConsumer(t, reader)

	svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).Return(applied(), nil)

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{6}, reader.offsets())
}

func TestNotificationConsumer_CommitFailureKeepsConsuming(t *testing.T) {
	reader := &fakeReader{commitErr: errors.New("coordinator moved")}
	reader.queue = []kafkago.Message{
		notificationMessage(t, 8, "evt-8"),
		notificationMessage(t, 9, "evt-9"),
	}
	c, svc, ctx := setupConsumer(t, reader)

	svc.EXPECT().HandleProviderNotification(gomock.Any(), gomock.Any()).Return(applied(), nil).Times(2)

	require.NoError(t, c.Run(ctx))
	assert.Empty(t, reader.offsets())
}

func TestNotificationConsumer_Close(t *testing.T) {
	reader := &fakeReader{}
	c := NewNotificationConsumer(reader, nil, zerolog.Nop())
	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "transient", err: apperror.ErrTransient(errors.New("x")), want: true},
		{name: "timeout", err: apperror.ErrTimeout(errors.New("x")), want: true},
		{name: "database", err: apperror.ErrDatabaseError(errors.New("x")), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "validation", err: apperror.Validation("bad"), want: false},
		{name: "not found", err: apperror.ErrNotFound("ramp order"), want: false},
		{name: "invalid state", err: apperror.ErrInvalidState("terminal"), want: false},
		{name: "unknown provider", err: apperror.ErrUnknownProvider("Acme"), want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
