package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facegate/internal/models"
)

type (
	TaskHandler  func(ctx context.Context, task models.ExtractionTask) error
	EventHandler func(ctx context.Context, ev models.RecognitionEvent) error
)

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

func decodeTask(data []byte) (models.ExtractionTask, error) {
	var task models.ExtractionTask
	if err := json.Unmarshal(data, &task); err != nil {
		return task, fmt.Errorf("decode extraction task: %w", err)
	}
	if task.JobID == uuid.Nil {
		return task, fmt.Errorf("decode extraction task: missing job_id")
	}
	return task, nil
}

// ackWait leaves room for one full extraction before redelivery.
func ackWait(jobTimeout time.Duration) time.Duration {
	if jobTimeout <= 0 {
		return 30 * time.Second
	}
	return jobTimeout + 30*time.Second
}

// ConsumeExtractions starts consuming jobs from the EXTRACTIONS stream.
// workerCount determines how many goroutines process messages concurrently.
// Malformed tasks are terminated; handler errors are redelivered up to
// MaxDeliver times.
func (c *Consumer) ConsumeExtractions(ctx context.Context, consumerName string, handler TaskHandler, workerCount int, jobTimeout time.Duration) error {
	stream, err := c.js.Stream(ctx, ExtractionsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ExtractionsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait(jobTimeout),
		MaxDeliver:    3,
		FilterSubject: ExtractionsSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch extractions error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				task, err := decodeTask(msg.Data())
				if err != nil {
					slog.Error("drop extraction task", "worker", workerID, "error", err, "subject", msg.Subject())
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, task); err != nil {
					slog.Error("process extraction error", "worker", workerID, "job_id", task.JobID, "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}(i)
	}

	slog.Info("extraction consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeRecognitions delivers new recognition events (for API to broadcast
// via WebSocket). Each API instance needs its own consumerName.
func (c *Consumer) ConsumeRecognitions(ctx context.Context, consumerName string, handler EventHandler) error {
	stream, err := c.js.Stream(ctx, RecognitionsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", RecognitionsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              consumerName,
		Durable:           consumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     RecognitionsSubject + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Hour,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var ev models.RecognitionEvent
				if err := json.Unmarshal(msg.Data(), &ev); err != nil {
					slog.Error("decode recognition event", "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, ev); err != nil {
					slog.Error("process event error", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("recognition consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
