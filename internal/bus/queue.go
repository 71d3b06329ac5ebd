package bus

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const pollInterval = time.Second

// queueClient is the slice of the azqueue surface the transport uses.
type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// QueueBus is the Azure Storage queue transport. Each topic maps to a
// queue of the same name.
type QueueBus struct {
	newClient func(topic string) queueClient
	guarantee Guarantee

	mu     sync.Mutex
	queues map[string]queueClient
}

// NewQueueBus creates a queue transport from a storage connection
// string.
func NewQueueBus(connStr string, g Guarantee) (*QueueBus, error) {
	svc, err := azqueue.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &QueueBus{
		newClient: func(topic string) queueClient { return svc.NewQueueClient(topic) },
		guarantee: g,
		queues:    make(map[string]queueClient),
	}, nil
}

func (b *QueueBus) client(topic string) queueClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.queues[topic]; ok {
		return c
	}
	c := b.newClient(topic)
	b.queues[topic] = c
	return c
}

// Publish enqueues one message on the topic queue.
func (b *QueueBus) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := b.client(topic).EnqueueMessage(ctx, string(payload), nil)
	return err
}

// Subscribe polls the topic queue and feeds messages to h until ctx is
// canceled. Under at-most-once the message is deleted before handling;
// under at-least-once it is deleted only after h returns nil and
// otherwise reappears once its visibility timeout expires.
func (b *QueueBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	queue := b.client(topic)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := queue.DequeueMessage(ctx, nil)
		if err != nil {
			log.WithError(err).WithField("topic", topic).Error("dequeue failed")
			sleep(ctx, pollInterval)
			continue
		}
		if len(resp.Messages) == 0 {
			sleep(ctx, pollInterval)
			continue
		}
		msg := resp.Messages[0]
		if msg.MessageText == nil || msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}

		if b.guarantee == AtMostOnce {
			if _, err := queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
				log.WithError(err).WithField("topic", topic).Error("delete before handling failed")
			}
			if err := h(ctx, []byte(*msg.MessageText)); err != nil {
				log.WithError(err).WithField("topic", topic).Error("handler failed, message dropped")
			}
			continue
		}

		if err := h(ctx, []byte(*msg.MessageText)); err != nil {
			log.WithError(err).WithField("topic", topic).Error("handler failed, message will be redelivered")
			continue
		}
		if _, err := queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
			log.WithError(err).WithField("topic", topic).Error("delete after handling failed")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
