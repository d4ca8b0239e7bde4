package messaging

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/bardlex/gompow/internal/search"
	"github.com/bardlex/gompow/internal/submit"
	"github.com/bardlex/gompow/internal/work"
	"github.com/bardlex/gompow/pkg/errors"
)

// Producer is the publishing side of KafkaClient
type Producer interface {
	PublishJSON(ctx context.Context, topic, key string, data []byte) error
	PublishProto(ctx context.Context, topic, key string, msg proto.Message) error
	Close() error
}

// Publisher turns miner activity into Kafka events
type Publisher struct {
	producer Producer
	miner    string
	now      func() time.Time
}

// NewPublisher creates a Publisher tagging every event with the miner address
func NewPublisher(producer Producer, miner string) *Publisher {
	return &Publisher{
		producer: producer,
		miner:    miner,
		now:      time.Now,
	}
}

// RecordJob publishes a job change
func (p *Publisher) RecordJob(ctx context.Context, item work.Item) error {
	event := &JobEvent{
		JobID:      item.ID,
		Ticker:     item.Ticker,
		Challenge:  item.Challenge,
		Location:   item.CurrentLocation,
		Difficulty: item.Difficulty,
		Miner:      p.miner,
		CreatedAt:  p.now().UTC(),
	}

	msg, err := event.Proto()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "record_job",
			"failed to encode job event").
			WithContext("job_id", item.ID)
	}
	return p.producer.PublishProto(ctx, TopicJobs, item.ID, msg)
}

// RecordShare publishes a submission outcome
func (p *Publisher) RecordShare(ctx context.Context, outcome *submit.Outcome) error {
	sol := outcome.Solution
	event := &ShareResultEvent{
		JobID:       sol.TokenID,
		Ticker:      sol.Ticker,
		Miner:       p.miner,
		Nonce:       sol.NonceHex(),
		Hash:        sol.HashHex(),
		Location:    sol.Location,
		Difficulty:  sol.Difficulty,
		Status:      outcome.Status.String(),
		StatusCode:  outcome.StatusCode,
		Response:    outcome.Body,
		Accepted:    outcome.Stats.Accepted,
		Rejected:    outcome.Stats.Rejected,
		LatencyMs:   float64(outcome.Duration.Microseconds()) / 1000,
		SubmittedAt: p.now().UTC(),
	}
	if outcome.Err != nil {
		event.ErrorMessage = outcome.Err.Error()
	}

	return p.publishJSON(ctx, "record_share", TopicShareResults, sol.TokenID, event)
}

// RecordHashrate publishes a batch summary
func (p *Publisher) RecordHashrate(ctx context.Context, result *search.BatchResult) error {
	event := &HashrateEvent{
		JobID:      result.Item.ID,
		Ticker:     result.Item.Ticker,
		Miner:      p.miner,
		Difficulty: result.Item.Difficulty,
		Attempts:   result.Attempts,
		Solutions:  len(result.Solutions),
		DurationMs: float64(result.Duration.Microseconds()) / 1000,
		Hashrate:   result.Hashrate(),
		RecordedAt: p.now().UTC(),
	}
	return p.publishJSON(ctx, "record_hashrate", TopicHashrate, result.Item.ID, event)
}

// Close closes the underlying producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}

func (p *Publisher) publishJSON(ctx context.Context, operation, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, operation,
			"failed to marshal event").
			WithContext("topic", topic)
	}
	return p.producer.PublishJSON(ctx, topic, key, data)
}
