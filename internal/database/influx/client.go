// Package influx writes the miner's time series to InfluxDB: hashrate per
// batch, submission outcomes and job changes.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client and checks server health
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := &Client{client: client, bucket: cfg.Bucket, org: cfg.Org}
	if err := c.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %w", err)
	}

	c.writeAPI = client.WriteAPI(cfg.Org, cfg.Bucket)
	c.queryAPI = client.QueryAPI(cfg.Org)
	return c, nil
}

// Errors exposes asynchronous write failures
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Mining metrics

// WriteHashrateMetric writes one batch summary
func (c *Client) WriteHashrateMetric(ticker, miner string, difficulty int, attempts int64, solutions int, hashrate float64, at time.Time) {
	c.writeAPI.WritePoint(HashratePoint(ticker, miner, difficulty, attempts, solutions, hashrate, at))
}

// WriteShareMetric writes one submission outcome
func (c *Client) WriteShareMetric(ticker, miner, status string, difficulty, statusCode int, latency time.Duration, at time.Time) {
	c.writeAPI.WritePoint(SharePoint(ticker, miner, status, difficulty, statusCode, latency, at))
}

// WriteJobMetric records a job change
func (c *Client) WriteJobMetric(ticker, jobID string, difficulty int, at time.Time) {
	c.writeAPI.WritePoint(JobPoint(ticker, jobID, difficulty, at))
}

// HashratePoint builds the "hashrate" measurement
func HashratePoint(ticker, miner string, difficulty int, attempts int64, solutions int, hashrate float64, at time.Time) *write.Point {
	tags := map[string]string{
		"ticker": ticker,
		"miner":  miner,
	}

	fields := map[string]any{
		"hashrate":   hashrate,
		"attempts":   attempts,
		"solutions":  solutions,
		"difficulty": difficulty,
	}

	return write.NewPoint("hashrate", tags, fields, at)
}

// SharePoint builds the "shares" measurement
func SharePoint(ticker, miner, status string, difficulty, statusCode int, latency time.Duration, at time.Time) *write.Point {
	tags := map[string]string{
		"ticker": ticker,
		"miner":  miner,
		"status": status,
	}

	fields := map[string]any{
		"count":       1,
		"difficulty":  difficulty,
		"status_code": statusCode,
		"latency_ms":  float64(latency.Microseconds()) / 1000,
	}

	return write.NewPoint("shares", tags, fields, at)
}

// JobPoint builds the "jobs" measurement
func JobPoint(ticker, jobID string, difficulty int, at time.Time) *write.Point {
	tags := map[string]string{
		"ticker": ticker,
	}

	fields := map[string]any{
		"job_id":     jobID,
		"difficulty": difficulty,
	}

	return write.NewPoint("jobs", tags, fields, at)
}

// Query methods

// GetHashrateHistory retrieves 1 minute hashrate means for a miner
func (c *Client) GetHashrateHistory(ctx context.Context, ticker, miner string, duration time.Duration) ([]HashrateSample, error) {
	query := fmt.Sprintf(`
		from(bucket: %s)
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "hashrate")
		|> filter(fn: (r) => r.ticker == %s)
		|> filter(fn: (r) => r.miner == %s)
		|> filter(fn: (r) => r._field == "hashrate")
		|> aggregateWindow(every: 1m, fn: mean, createEmpty: false)
	`, strconv.Quote(c.bucket), duration.String(), strconv.Quote(ticker), strconv.Quote(miner))

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query hashrate history: %w", err)
	}
	defer func() { _ = result.Close() }()

	var points []HashrateSample
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, HashrateSample{
				Time:     record.Time(),
				Hashrate: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

// Data structures

// HashrateSample is a hashrate measurement at a point in time
type HashrateSample struct {
	Time     time.Time `json:"time"`
	Hashrate float64   `json:"hashrate"`
}
