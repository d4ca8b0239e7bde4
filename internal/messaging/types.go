package messaging

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// JobEvent announces that the miner switched to a new job
type JobEvent struct {
	JobID      string    `json:"job_id"`
	Ticker     string    `json:"ticker"`
	Challenge  string    `json:"challenge"`
	Location   string    `json:"location"`
	Difficulty int       `json:"difficulty"`
	Miner      string    `json:"miner"`
	CreatedAt  time.Time `json:"created_at"`
}

// Proto encodes the event as a protobuf Struct
func (e *JobEvent) Proto() (*structpb.Struct, error) {
	ts := timestamppb.New(e.CreatedAt)
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}

	return structpb.NewStruct(map[string]any{
		"job_id":     e.JobID,
		"ticker":     e.Ticker,
		"challenge":  e.Challenge,
		"location":   e.Location,
		"difficulty": e.Difficulty,
		"miner":      e.Miner,
		"created_at": ts.AsTime().Format(time.RFC3339Nano),
	})
}

// JobEventFromProto decodes an event written by JobEvent.Proto
func JobEventFromProto(s *structpb.Struct) (*JobEvent, error) {
	fields := s.GetFields()
	created, err := time.Parse(time.RFC3339Nano, fields["created_at"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}

	return &JobEvent{
		JobID:      fields["job_id"].GetStringValue(),
		Ticker:     fields["ticker"].GetStringValue(),
		Challenge:  fields["challenge"].GetStringValue(),
		Location:   fields["location"].GetStringValue(),
		Difficulty: int(fields["difficulty"].GetNumberValue()),
		Miner:      fields["miner"].GetStringValue(),
		CreatedAt:  created,
	}, nil
}

// ShareResultEvent reports the outcome of one submission
type ShareResultEvent struct {
	JobID        string    `json:"job_id"`
	Ticker       string    `json:"ticker"`
	Miner        string    `json:"miner"`
	Nonce        string    `json:"nonce"`
	Hash         string    `json:"hash"`
	Location     string    `json:"location"`
	Difficulty   int       `json:"difficulty"`
	Status       string    `json:"status"` // "accepted", "rejected", "failed"
	StatusCode   int       `json:"status_code,omitempty"`
	Response     string    `json:"response,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Accepted     int64     `json:"accepted"`
	Rejected     int64     `json:"rejected"`
	LatencyMs    float64   `json:"latency_ms"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// HashrateEvent reports one finished search batch
type HashrateEvent struct {
	JobID      string    `json:"job_id"`
	Ticker     string    `json:"ticker"`
	Miner      string    `json:"miner"`
	Difficulty int       `json:"difficulty"`
	Attempts   int64     `json:"attempts"`
	Solutions  int       `json:"solutions"`
	DurationMs float64   `json:"duration_ms"`
	Hashrate   float64   `json:"hashrate"`
	RecordedAt time.Time `json:"recorded_at"`
}
