package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/stayops/stayops/internal/config"
	"github.com/stayops/stayops/internal/domain/outbox"
	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/logger"
	repo "github.com/stayops/stayops/internal/repository/postgres"
	"github.com/stayops/stayops/internal/testutil"
	"github.com/stayops/stayops/internal/types"
)

func validPublishMessage() *outbox.PublishMessage {
	return &outbox.PublishMessage{
		AggregateType: "reservation",
		AggregateID:   "res_123",
		EventType:     "reservation.confirmed",
		Topic:         "reservations",
		PartitionKey:  "res_123",
		Payload:       []byte(`{"id":"res_123"}`),
	}
}

type OutboxWriterSuite struct {
	suite.Suite
	ctx    context.Context
	store  *testutil.InMemoryOutboxStore
	writer OutboxWriter
}

func TestOutboxWriter(t *testing.T) {
	suite.Run(t, new(OutboxWriterSuite))
}

func (s *OutboxWriterSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.store = testutil.NewInMemoryOutboxStore(8, time.Minute)
	s.writer = NewOutboxWriter(s.store, logger.L)
}

func (s *OutboxWriterSuite) TestPublishEnqueuesPendingEvent() {
	err := s.writer.Publish(s.ctx, validPublishMessage())
	s.NoError(err)

	counts, err := s.writer.Stats(s.ctx)
	s.NoError(err)
	s.Equal(int64(1), counts.Pending)

	events, err := s.store.ClaimBatch(s.ctx, "claimer", 10)
	s.NoError(err)
	s.Require().Len(events, 1)

	event := events[0]
	s.Equal("reservation.confirmed", event.EventType)
	s.Equal("reservations", event.Topic)
	s.Equal("res_123", event.PartitionKey)
	s.Equal(types.GetTenantID(s.ctx), event.TenantID)
	s.Equal(types.OutboxEventStatusPending, event.Status)
	s.Zero(event.AttemptCount)
}

func (s *OutboxWriterSuite) TestPublishValidation() {
	s.Run("nil message", func() {
		err := s.writer.Publish(s.ctx, nil)
		s.True(ierr.IsValidation(err))
	})

	s.Run("missing partition key", func() {
		msg := validPublishMessage()
		msg.PartitionKey = ""
		err := s.writer.Publish(s.ctx, msg)
		s.True(ierr.IsValidation(err))
	})

	s.Run("missing topic", func() {
		msg := validPublishMessage()
		msg.Topic = ""
		err := s.writer.Publish(s.ctx, msg)
		s.True(ierr.IsValidation(err))
	})

	s.Run("missing tenant in context", func() {
		err := s.writer.Publish(context.Background(), validPublishMessage())
		s.True(ierr.IsValidation(err))
	})
}

func (s *OutboxWriterSuite) TestRequeueResetsFailedEvent() {
	s.NoError(s.writer.Publish(s.ctx, validPublishMessage()))

	events, err := s.store.ClaimBatch(s.ctx, "claimer", 1)
	s.NoError(err)
	s.Require().Len(events, 1)
	id := events[0].ID

	s.NoError(s.store.MarkFailed(s.ctx, id, 8, "broker unreachable", time.Now().UTC()))

	s.NoError(s.writer.Requeue(s.ctx, id))

	event, err := s.writer.Get(s.ctx, id)
	s.NoError(err)
	s.Equal(types.OutboxEventStatusPending, event.Status)
	s.Zero(event.AttemptCount)
	s.Nil(event.LastError)
	s.Nil(event.NextAttemptAt)
}

func (s *OutboxWriterSuite) TestRequeueRejectsNonFailedEvent() {
	s.NoError(s.writer.Publish(s.ctx, validPublishMessage()))

	events, err := s.store.ClaimBatch(s.ctx, "claimer", 1)
	s.NoError(err)
	s.Require().Len(events, 1)

	err = s.writer.Requeue(s.ctx, events[0].ID)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *OutboxWriterSuite) TestRequeueUnknownEvent() {
	err := s.writer.Requeue(s.ctx, "evt_missing")
	s.True(ierr.IsNotFound(err))
}

func (s *OutboxWriterSuite) TestGetValidation() {
	_, err := s.writer.Get(s.ctx, "")
	s.True(ierr.IsValidation(err))
}

// TestPublishTransactionAtomicity runs the writer against a real database
// transaction: an event enqueued inside a rolled-back transaction must leave
// no row behind, and a committed one exactly one.
func TestPublishTransactionAtomicity(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	testutil.CreateOutboxTable(t, db)

	cfg := config.GetDefaultConfig()
	writer := NewOutboxWriter(repo.NewOutboxRepository(db, cfg, logger.L), logger.L)
	ctx := testutil.SetupContext()

	countRows := func() int {
		var n int
		require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox_events`))
		return n
	}

	err := db.WithTx(ctx, func(txCtx context.Context) error {
		if err := writer.Publish(txCtx, validPublishMessage()); err != nil {
			return err
		}
		return fmt.Errorf("business logic failed after enqueue")
	})
	require.Error(t, err)
	require.Zero(t, countRows(), "rolled-back transaction must not leave an event")

	err = db.WithTx(ctx, func(txCtx context.Context) error {
		return writer.Publish(txCtx, validPublishMessage())
	})
	require.NoError(t, err)
	require.Equal(t, 1, countRows())
}
