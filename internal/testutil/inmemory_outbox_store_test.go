package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stayops/stayops/internal/domain/outbox"
)

func insertEvent(t *testing.T, store *InMemoryOutboxStore, partitionKey string, n int) *outbox.Event {
	t.Helper()
	ctx := SetupContext()
	event := outbox.NewEvent(ctx, &outbox.PublishMessage{
		AggregateType: "reservation",
		AggregateID:   partitionKey,
		EventType:     fmt.Sprintf("reservation.step_%d", n),
		Topic:         "reservations",
		PartitionKey:  partitionKey,
		Payload:       []byte(`{}`),
	})
	require.NoError(t, store.Insert(ctx, event))
	return event
}

// Only the oldest unpublished event of a partition is claimable. A second
// claimer arriving while the head is held must get nothing from that
// partition, not the tail; otherwise two workers could publish head and tail
// concurrently and invert the order on the bus.
func TestClaimBatchHeadOnlyPerPartition(t *testing.T) {
	ctx := SetupContext()
	store := NewInMemoryOutboxStore(8, time.Minute)

	p1 := insertEvent(t, store, "room-1", 1)
	p2 := insertEvent(t, store, "room-1", 2)
	insertEvent(t, store, "room-1", 3)
	q1 := insertEvent(t, store, "guest-9", 1)

	claimed, err := store.ClaimBatch(ctx, "claimer-a", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, p1.ID, claimed[0].ID)
	require.Equal(t, q1.ID, claimed[1].ID)

	// The partition tails stay out of reach for everyone while the heads are
	// in flight
	claimed, err = store.ClaimBatch(ctx, "claimer-b", 10)
	require.NoError(t, err)
	require.Empty(t, claimed)

	// Publishing the head promotes exactly the next event
	require.NoError(t, store.MarkPublished(ctx, p1.ID))
	claimed, err = store.ClaimBatch(ctx, "claimer-b", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, p2.ID, claimed[0].ID)
}

// A released head goes back to any claimer as the head, never leapfrogged by
// its tail.
func TestClaimBatchReleasedHeadStaysHead(t *testing.T) {
	ctx := SetupContext()
	store := NewInMemoryOutboxStore(8, time.Minute)

	p1 := insertEvent(t, store, "room-1", 1)
	insertEvent(t, store, "room-1", 2)

	claimed, err := store.ClaimBatch(ctx, "claimer-a", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, p1.ID, claimed[0].ID)

	require.NoError(t, store.ReleaseClaim(ctx, []string{p1.ID}))

	claimed, err = store.ClaimBatch(ctx, "claimer-b", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, p1.ID, claimed[0].ID)
}

// A parked head (attempts exhausted) blocks its partition's tail until an
// operator requeues it.
func TestClaimBatchParkedHeadBlocksTail(t *testing.T) {
	ctx := SetupContext()
	store := NewInMemoryOutboxStore(2, time.Minute)

	p1 := insertEvent(t, store, "room-1", 1)
	insertEvent(t, store, "room-1", 2)

	require.NoError(t, store.MarkFailed(ctx, p1.ID, 2, "broker unreachable", time.Now().UTC()))

	claimed, err := store.ClaimBatch(ctx, "claimer-a", 10)
	require.NoError(t, err)
	require.Empty(t, claimed)

	require.NoError(t, store.Requeue(ctx, p1.ID))

	claimed, err = store.ClaimBatch(ctx, "claimer-a", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, p1.ID, claimed[0].ID)
}
