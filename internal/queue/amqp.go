package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPQueue publishes JSON jobs to durable RabbitMQ queues named after the topic.
// Subscribers receive the raw message body ([]byte).
type AMQPQueue struct {
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	pubMu  sync.Mutex
	logger *zap.Logger

	declared sync.Map

	mu        sync.Mutex
	consumers []consumer
	inflight  sync.WaitGroup
}

type consumer struct {
	ch  *amqp.Channel
	tag string
}

func DialAMQP(url string, logger *zap.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &AMQPQueue{conn: conn, pubCh: ch, logger: logger}, nil
}

func (q *AMQPQueue) declare(ch *amqp.Channel, topic string) error {
	if _, ok := q.declared.Load(topic); ok {
		return nil
	}
	if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	q.declared.Store(topic, true)
	return nil
}

func encodeJob(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return body, nil
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := encodeJob(payload)
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if err := q.declare(q.pubCh, topic); err != nil {
		return err
	}
	return q.pubCh.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Subscribe consumes topic one message at a time on its own channel.
// A handler error requeues the message once; a second failure drops it.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := q.declare(ch, topic); err != nil {
		ch.Close()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}
	tag := topic + "-" + uuid.NewString()
	deliveries, err := ch.Consume(topic, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume %s: %w", topic, err)
	}

	q.mu.Lock()
	q.consumers = append(q.consumers, consumer{ch: ch, tag: tag})
	q.mu.Unlock()

	q.inflight.Add(1)
	go func() {
		defer q.inflight.Done()
		for d := range deliveries {
			q.handle(topic, d, handler)
		}
		q.logger.Info("consumer stopped", zap.String("topic", topic))
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, d amqp.Delivery, handler func(payload any) error) {
	if err := handler(d.Body); err != nil {
		requeue := !d.Redelivered
		q.logger.Warn("job failed",
			zap.String("topic", topic),
			zap.Bool("redelivered", d.Redelivered),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
		if err := d.Nack(false, requeue); err != nil {
			q.logger.Error("failed to nack job", zap.String("topic", topic), zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		q.logger.Error("failed to ack job", zap.String("topic", topic), zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
	}
}

// Shutdown stops every consumer and waits for the jobs they are running to
// finish, or for ctx to expire, before closing the connection.
func (q *AMQPQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	consumers := q.consumers
	q.consumers = nil
	q.mu.Unlock()

	for _, c := range consumers {
		if err := c.ch.Cancel(c.tag, false); err != nil {
			q.logger.Warn("failed to cancel consumer", zap.String("consumer", c.tag), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.logger.Warn("closing broker with jobs still running", zap.Error(ctx.Err()))
	}
	return q.Close()
}

// Close drops the connection at once. Unacked jobs go back to the queue.
func (q *AMQPQueue) Close() error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if err := q.pubCh.Close(); err != nil {
		q.logger.Warn("failed to close channel", zap.Error(err))
	}
	return q.conn.Close()
}

var (
	_ Queue = (*AMQPQueue)(nil)
	_ Queue = (*InMemoryQueue)(nil)
)
