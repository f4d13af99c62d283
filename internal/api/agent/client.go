// Package agent implements the HTTP client for the upstream agent wire
// protocol: a single respond call answered with a stream of
// newline-delimited, data-prefixed JSON records terminated by a sentinel.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arcfield/agentbridge/internal/domain"
)

const (
	// defaultTimeout bounds one forwarded response end to end. Agent tasks
	// can legitimately run for minutes; past this the call fails rather
	// than hang.
	defaultTimeout = 5 * time.Minute

	dataPrefix = "data: "
	sentinel   = "[DONE]"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client issues respond calls against agent endpoints.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a new agent client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamResult wraps one raw record or a read error from the stream.
type StreamResult struct {
	Data []byte
	Err  error
}

// Respond posts the payload to {endpoint}/respond and returns a channel of
// raw stream records. The channel closes when the sentinel record arrives
// or the upstream closes the connection; a read error is delivered on the
// channel before close. The underlying connection is released on every exit
// path. Cancelling ctx aborts the call and the stream.
func (c *Client) Respond(ctx context.Context, endpoint string, payload any) (<-chan StreamResult, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)

	url := strings.TrimSuffix(endpoint, "/") + "/respond"
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, domain.ErrTimeout("agent respond call", err)
		}
		return nil, domain.ErrUpstream("agent respond call failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		cancel()
		return nil, domain.ErrUpstream(
			fmt.Sprintf("agent returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	out := make(chan StreamResult)
	go c.streamReader(resp.Body, out, cancel)
	return out, nil
}

func (c *Client) streamReader(body io.ReadCloser, out chan<- StreamResult, cancel context.CancelFunc) {
	defer close(out)
	defer cancel()
	defer body.Close()

	scanner := bufio.NewScanner(body)
	// Discovery results can carry large item lists in one record.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		data := strings.TrimPrefix(line, dataPrefix)
		if data == sentinel {
			return
		}

		out <- StreamResult{Data: []byte(data)}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamResult{Err: fmt.Errorf("stream read error: %w", err)}
	}
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
