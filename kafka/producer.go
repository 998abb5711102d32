// Package kafka publishes terminal job snapshots for downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Mikkicon/bellflow/models"
)

//go:generate mockgen -destination=../mocks/mock_message_writer.go -package=mocks github.com/Mikkicon/bellflow/kafka MessageWriter

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka writer for publishing jobs.
type Producer struct {
	writer MessageWriter
}

// NewProducer creates a Kafka producer for the given brokers and topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: false,
		},
	}
}

// NewProducerWithWriter builds a producer using a custom writer (tests).
func NewProducerWithWriter(writer MessageWriter) *Producer {
	return &Producer{writer: writer}
}

// Close shuts down the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// WriteJob publishes a job keyed by its id, so every event of one job
// lands on the same partition.
func (p *Producer) WriteJob(ctx context.Context, job *models.ScrapeJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(job.JobID),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(job.Status)},
			{Key: "platform", Value: []byte(job.Platform)},
		},
	}

	return p.writer.WriteMessages(ctx, msg)
}

// Notify implements the job manager's notifier.
func (p *Producer) Notify(ctx context.Context, job *models.ScrapeJob) error {
	return p.WriteJob(ctx, job)
}
