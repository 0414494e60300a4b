package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/wacampaigns-backend/internal/model"
)

const DefaultDispatchTopic = "campaign_dispatch"

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue delivers jobs to in-process subscribers with retry.
// Used when no broker is configured and in tests.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
		logger:     logger,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		job := JobPayload{Payload: payload, MaxRetries: q.maxRetries}
		q.wg.Add(1)
		go func(h func(payload any) error) {
			defer q.wg.Done()
			q.processJob(topic, h, job)
		}(handler)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(topic string, handler func(payload any) error, job JobPayload) {
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			return // ACK
		}

		job.RetryCount++
		q.logger.Warn("job failed",
			zap.String("topic", topic),
			zap.Int("attempt", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Error(err),
		)

		if job.RetryCount > job.MaxRetries {
			q.logger.Error("job permanently failed", zap.String("topic", topic), zap.Any("payload", job.Payload))
			return // No requeue
		}

		// linear backoff before retry
		time.Sleep(time.Duration(job.RetryCount) * q.retryDelay)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has been handled.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// DecodeDispatchJob accepts a job as published in-process or as a JSON body
// from the broker.
func DecodeDispatchJob(payload any) (model.DispatchJob, error) {
	switch v := payload.(type) {
	case model.DispatchJob:
		return v, nil
	case *model.DispatchJob:
		return *v, nil
	case []byte:
		var job model.DispatchJob
		if err := json.Unmarshal(v, &job); err != nil {
			return job, fmt.Errorf("invalid dispatch job: %w", err)
		}
		return job, nil
	}
	return model.DispatchJob{}, fmt.Errorf("invalid dispatch job payload %T", payload)
}

// StartCampaignDispatchSubscriber feeds dispatch jobs from topic to handle.
// Malformed payloads are dropped; handler errors trigger the queue's retry.
func StartCampaignDispatchSubscriber(q Queue, topic string, handle func(job model.DispatchJob) error, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return q.Subscribe(topic, func(payload any) error {
		job, err := DecodeDispatchJob(payload)
		if err != nil {
			logger.Warn("dropping dispatch job", zap.Error(err))
			return nil
		}

		logger.Info("processing dispatch job", zap.String("campaign_id", job.CampaignID.String()))
		return handle(job)
	})
}
