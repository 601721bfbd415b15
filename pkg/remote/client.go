// Package remote is the client for the word prediction web service.
//
// A request is a GET on <base>/word/predict carrying the left context, the
// partial word and the vocabulary. The service answers with candidates in
// probability order:
//
//	{"results": [{"text": "going", "logprob": -1.2}, ...]}
//
// Every error returned by the client is a *Failure.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bastiangx/nextword/internal/logger"
	"github.com/bastiangx/nextword/internal/retry"
	"github.com/bastiangx/nextword/pkg/predict"
	"github.com/charmbracelet/log"
)

const (
	DefaultBaseURL  = "https://api.imagineville.org"
	DefaultLanguage = "en"
	// MaxRequestResults is the largest num the service accepts.
	MaxRequestResults = 10

	predictPath  = "/word/predict"
	maxBodyBytes = 1 << 20
)

// Kind classifies a remote failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindUnreachable Kind = "unreachable"
	KindRejected    Kind = "rejected"
	KindMalformed   Kind = "malformed_response"
)

// Failure is the error type of every client call.
type Failure struct {
	Kind   Kind
	Status int // HTTP status, 0 when no response arrived
	Err    error

	retryable bool
}

func (f *Failure) Error() string {
	msg := "remote " + string(f.Kind)
	if f.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", f.Status)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether another attempt may succeed.
func (f *Failure) Retryable() bool { return f.retryable }

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the failure kind of err, treating foreign errors as
// unreachable.
func KindOf(err error) Kind {
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	return KindUnreachable
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	MinTokenLength int
	HTTPClient     *http.Client
	// Backoff between attempts. Attempt count comes from each Request.
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Request is one prediction call. Timeout bounds each attempt; the whole call
// is bounded by Timeout*(1+MaxRetries).
type Request struct {
	Context    predict.Context
	Vocabulary string
	MaxResults int
	Timeout    time.Duration
	MaxRetries int
	SafeMode   bool
	Language   string
}

// Budget is the longest a call with these settings may take.
func (r Request) Budget() time.Duration {
	return r.Timeout * time.Duration(1+max(r.MaxRetries, 0))
}

// Client talks to the prediction service. It is safe for concurrent use.
type Client struct {
	base   string
	minLen int
	http   *http.Client
	delay  time.Duration
	maxGap time.Duration
	log    *log.Logger
}

// New creates a client. Zero options select the public service.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MinTokenLength < 1 {
		opts.MinTokenLength = 2
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = time.Second
	}
	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		minLen: opts.MinTokenLength,
		http:   opts.HTTPClient,
		delay:  opts.InitialDelay,
		maxGap: opts.MaxDelay,
		log:    logger.New("remote"),
	}
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string {
	return c.base
}

// Fetch asks the service for up to req.MaxResults next tokens. Transient
// failures are retried up to req.MaxRetries times.
func (c *Client) Fetch(ctx context.Context, req Request) (predict.RankedList, error) {
	if req.MaxResults <= 0 {
		return predict.RankedList{}, nil
	}
	if req.Timeout <= 0 {
		return nil, &Failure{Kind: KindTimeout, Err: errors.New("no time budget")}
	}
	ctx, cancel := context.WithTimeout(ctx, req.Budget())
	defer cancel()

	endpoint := c.base + predictPath + "?" + c.query(req).Encode()
	policy := &retry.Policy{
		MaxAttempts:  1 + max(req.MaxRetries, 0),
		InitialDelay: c.delay,
		MaxDelay:     c.maxGap,
		Multiplier:   2,
		Jitter:       true,
		RetryIf: func(err error) bool {
			f, ok := AsFailure(err)
			return ok && f.Retryable()
		},
	}

	attempt := 0
	list, err := retry.DoWithResult(ctx, policy, func(ctx context.Context) (predict.RankedList, error) {
		attempt++
		if attempt > 1 {
			c.log.Debugf("Retry %d/%d for %s", attempt-1, req.MaxRetries, req.Context)
		}
		return c.attempt(ctx, endpoint, req)
	})
	if err != nil {
		if f, ok := AsFailure(err); ok {
			c.log.Debugf("Prediction request failed after %d attempt(s): %v", attempt, f)
			return nil, f
		}
		return nil, &Failure{Kind: KindTimeout, Err: err}
	}
	c.log.Debugf("Received %d predictions for %s", len(list), req.Context)
	return list, nil
}

func (c *Client) query(req Request) url.Values {
	q := url.Values{}
	q.Set("num", strconv.Itoa(min(req.MaxResults, MaxRequestResults)))
	q.Set("vocab", req.Vocabulary)
	q.Set("sort", "logprob")
	q.Set("safe", strconv.FormatBool(req.SafeMode))
	lang := req.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	q.Set("lang", lang)
	if left := strings.ToLower(req.Context.Left()); left != "" {
		q.Set("left", left)
	}
	if prefix := predict.FoldToken(req.Context.Partial); prefix != "" {
		q.Set("prefix", prefix)
	}
	return q
}

func (c *Client) attempt(ctx context.Context, endpoint string, req Request) (predict.RankedList, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Failure{Kind: KindRejected, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportFailure(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportFailure(err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &Failure{Kind: KindUnreachable, Status: resp.StatusCode, retryable: true}
	case resp.StatusCode != http.StatusOK:
		return nil, &Failure{Kind: KindRejected, Status: resp.StatusCode, Err: errors.New(snippet(body))}
	}

	list, err := c.decode(body, req.MaxResults)
	if err != nil {
		return nil, &Failure{Kind: KindMalformed, Status: resp.StatusCode, Err: err}
	}
	return list, nil
}

func transportFailure(err error) *Failure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Failure{Kind: KindTimeout, Err: err, retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return &Failure{Kind: KindTimeout, Err: err}
	}
	return &Failure{Kind: KindUnreachable, Err: err, retryable: true}
}

type predictResponse struct {
	Results *[]predictResult `json:"results"`
}

type predictResult struct {
	Text    string   `json:"text"`
	Word    string   `json:"word"`
	Logprob *float64 `json:"logprob"`
}

// decode turns a response body into a ranked list. Results arrive in
// probability order; without a logprob the score falls back to (n-i)/n.
func (c *Client) decode(body []byte, maxResults int) (predict.RankedList, error) {
	var resp predictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Results == nil {
		return nil, errors.New("response has no results field")
	}

	results := *resp.Results
	list := make(predict.RankedList, 0, min(len(results), maxResults))
	seen := make(map[string]bool, len(results))
	for i, r := range results {
		text := r.Text
		if text == "" {
			text = r.Word
		}
		token := predict.FoldToken(text)
		if len([]rune(token)) < c.minLen || strings.ContainsAny(token, " \t\n") || seen[token] {
			continue
		}
		seen[token] = true

		score := float64(len(results)-i) / float64(len(results))
		if r.Logprob != nil && !math.IsNaN(*r.Logprob) && !math.IsInf(*r.Logprob, 0) {
			score = math.Pow(10, *r.Logprob)
		}
		list = append(list, predict.Candidate{Token: token, Score: score, Source: predict.SourceRemote})
		if len(list) == maxResults {
			break
		}
	}
	return list, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	if s == "" {
		s = "empty body"
	}
	return s
}

// Probe checks that the service answers at all. Any response below 500
// counts as reachable.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base, nil)
	if err != nil {
		return &Failure{Kind: KindUnreachable, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &Failure{Kind: KindUnreachable, Status: resp.StatusCode}
	}
	return nil
}
