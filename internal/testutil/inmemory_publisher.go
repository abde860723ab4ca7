package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/stayops/stayops/internal/pubsub"
	"github.com/stayops/stayops/internal/types"
)

var _ pubsub.Publisher = (*InMemoryPublisher)(nil)

// InMemoryPublisher records everything the relay ships, in receipt order,
// with injectable per-message and global failures.
type InMemoryPublisher struct {
	mu        sync.Mutex
	byTopic   map[string][]*message.Message
	failures  map[string]int
	failAll   error
	delivered map[string]int
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{
		byTopic:   make(map[string][]*message.Message),
		failures:  make(map[string]int),
		delivered: make(map[string]int),
	}
}

// FailNext makes the next n publishes of the given message UUID fail.
func (p *InMemoryPublisher) FailNext(uuid string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[uuid] = n
}

// SetFailAll makes every publish fail with err until cleared with nil.
func (p *InMemoryPublisher) SetFailAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAll = err
}

func (p *InMemoryPublisher) Publish(ctx context.Context, topic string, msg *message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failAll != nil {
		return p.failAll
	}
	if n := p.failures[msg.UUID]; n > 0 {
		p.failures[msg.UUID] = n - 1
		return fmt.Errorf("injected publish failure for %s", msg.UUID)
	}

	p.byTopic[topic] = append(p.byTopic[topic], msg)
	p.delivered[msg.UUID]++
	return nil
}

func (p *InMemoryPublisher) Close() error {
	return nil
}

// Received returns all messages published to a topic in receipt order.
func (p *InMemoryPublisher) Received(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.byTopic[topic]...)
}

// PartitionOrder returns the message UUIDs received for a partition key,
// across all topics, in receipt order.
func (p *InMemoryPublisher) PartitionOrder(partitionKey string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var uuids []string
	for _, msgs := range p.byTopic {
		for _, msg := range msgs {
			if msg.Metadata.Get(types.HeaderPartitionKey) == partitionKey {
				uuids = append(uuids, msg.UUID)
			}
		}
	}
	return uuids
}

// Deliveries returns how many times a message UUID was received.
func (p *InMemoryPublisher) Deliveries(uuid string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delivered[uuid]
}
