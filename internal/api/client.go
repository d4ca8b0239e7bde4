// Package api is the HTTP client for the token job API: it fetches the
// current job for a ticker and submits solutions.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bardlex/gompow/internal/work"
	"github.com/bardlex/gompow/pkg/circuit"
	"github.com/bardlex/gompow/pkg/errors"
	"github.com/bardlex/gompow/pkg/log"
)

const (
	searchPath = "/token/search/bsv"
	submitPath = "/mint/save"

	// maxBodySize caps how much of a response body is read.
	maxBodySize = 1 << 20
)

// Config identifies the miner to the job API.
type Config struct {
	BaseURL string
	Address string
	Chain   string
	Wallet  string
	Timeout time.Duration
}

// Client talks to the job API. Fetches and submissions each have their own
// circuit breaker that opens on repeated transport or server failures.
type Client struct {
	config        Config
	http          *http.Client
	fetchBreaker  *circuit.Breaker
	submitBreaker *circuit.Breaker
	logger        *log.Logger
}

// submitRequest is the body of POST /mint/save.
type submitRequest struct {
	BSVContractLocation string `json:"bsvContractLocation"`
	Nonce               string `json:"nonce"`
	TokenID             string `json:"tokenId"`
	WinningHash         string `json:"winningHash"`
}

// NewClient creates a job API client.
func NewClient(config Config, logger *log.Logger) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Chain == "" {
		config.Chain = "BSV"
	}
	if config.Wallet == "" {
		config.Wallet = "PANDA"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	logger = logger.WithComponent("api")

	return &Client{
		config:        config,
		http:          &http.Client{Timeout: config.Timeout},
		fetchBreaker:  newBreaker("job_api_fetch", logger),
		submitBreaker: newBreaker("job_api_submit", logger),
		logger:        logger,
	}
}

func newBreaker(name string, logger *log.Logger) *circuit.Breaker {
	return circuit.New(&circuit.Config{
		Name:            name,
		MaxFailures:     5,
		SuccessRequired: 1,
		Timeout:         5 * time.Second,
		ResetTimeout:    time.Minute,
		IsFailure:       errors.IsRetryable,
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// FetchBreaker exposes the breaker guarding FetchWork.
func (c *Client) FetchBreaker() *circuit.Breaker {
	return c.fetchBreaker
}

// SubmitBreaker exposes the breaker guarding SubmitSolution.
func (c *Client) SubmitBreaker() *circuit.Breaker {
	return c.submitBreaker
}

// FetchWork returns the current job for ticker. Transport failures, non-2xx
// responses and undecodable bodies are all errors.
func (c *Client) FetchWork(ctx context.Context, ticker string) (work.Item, error) {
	return circuit.ExecuteWithResult(ctx, c.fetchBreaker, func() (work.Item, error) {
		return c.fetchWork(ctx, ticker)
	})
}

func (c *Client) fetchWork(ctx context.Context, ticker string) (work.Item, error) {
	endpoint := c.config.BaseURL + searchPath + "?" + url.Values{"ticker": {ticker}}.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return work.Item{}, err
	}

	code, body, err := c.do(req, "fetch_work")
	if err != nil {
		return work.Item{}, err
	}
	if code < 200 || code > 299 {
		return work.Item{}, errors.FromStatus("fetch_work", code, string(body)).
			WithContext("ticker", ticker)
	}

	if noJob(body) {
		return work.Item{}, errors.New(errors.ErrorTypeValidation, "fetch_work",
			"job not found").
			WithContext("ticker", ticker)
	}

	var item work.Item
	if err := json.Unmarshal(body, &item); err != nil {
		return work.Item{}, errors.Wrap(err, errors.ErrorTypeValidation, "fetch_work",
			"failed to decode job").
			WithContext("ticker", ticker)
	}
	return item, nil
}

// noJob reports a 2xx body that carries no job at all. A job object with
// empty fields is still a job and is left to work validation.
func noJob(body []byte) bool {
	switch string(bytes.TrimSpace(body)) {
	case "", "null", "{}":
		return true
	}
	return false
}

// SubmitSolution posts sol and returns the status code and body. Any
// response, whatever its status, is returned without error; only transport
// failures are errors.
func (c *Client) SubmitSolution(ctx context.Context, sol *work.Solution) (int, string, error) {
	type response struct {
		code int
		body string
	}

	resp, err := circuit.ExecuteWithResult(ctx, c.submitBreaker, func() (response, error) {
		code, body, err := c.submitSolution(ctx, sol)
		if err != nil {
			return response{}, err
		}
		if code >= http.StatusInternalServerError {
			// Count server failures against the breaker but still hand the
			// response back as a rejection.
			return response{code, body}, errors.FromStatus("submit_solution", code, body)
		}
		return response{code, body}, nil
	})
	if err != nil && resp.code == 0 {
		return 0, "", err
	}
	return resp.code, resp.body, nil
}

func (c *Client) submitSolution(ctx context.Context, sol *work.Solution) (int, string, error) {
	payload, err := json.Marshal(submitRequest{
		BSVContractLocation: sol.Location,
		Nonce:               sol.NonceHex(),
		TokenID:             sol.TokenID,
		WinningHash:         sol.HashHex(),
	})
	if err != nil {
		return 0, "", errors.Wrap(err, errors.ErrorTypeInternal, "submit_solution",
			"failed to encode solution")
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.config.BaseURL+submitPath, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	code, body, err := c.do(req, "submit_solution")
	if err != nil {
		return 0, "", err
	}
	return code, string(body), nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "new_request",
			"failed to build request").
			WithContext("url", endpoint)
	}
	req.Header.Set("Address", c.config.Address)
	req.Header.Set("Chain", c.config.Chain)
	req.Header.Set("Wallet", c.config.Wallet)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, operation string) (int, []byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr == context.DeadlineExceeded {
			return 0, nil, errors.Wrap(ctxErr, errors.ErrorTypeTimeout, operation,
				"request timed out").
				WithContext("url", req.URL.Path)
		} else if ctxErr != nil {
			return 0, nil, errors.Wrap(ctxErr, errors.ErrorTypeNetwork, operation,
				"request cancelled").
				WithContext("url", req.URL.Path)
		}
		return 0, nil, errors.Wrap(err, errors.ErrorTypeNetwork, operation,
			"request failed").
			WithContext("url", req.URL.Path)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WithError(closeErr).Debug("failed to close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, errors.Wrap(err, errors.ErrorTypeNetwork, operation,
			fmt.Sprintf("failed to read response (status %d)", resp.StatusCode))
	}

	c.logger.LogDuration(operation, time.Since(start).Nanoseconds())
	return resp.StatusCode, body, nil
}
