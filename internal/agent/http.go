package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/vrite/vrite/internal/stream"
)

// HTTPCompleter talks to a remote co-author service speaking this module's
// own protocol: JSON responses for complete turns, `data: {...}` frames for
// streamed ones.
type HTTPCompleter struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates a completer against a remote endpoint.
func NewHTTP(endpoint string) *HTTPCompleter {
	return &HTTPCompleter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *HTTPCompleter) post(ctx context.Context, req *Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(hreq)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{
			Err:         fmt.Errorf("agent endpoint returned %d: %s", resp.StatusCode, payload),
			HTTPStatus:  resp.StatusCode,
			IsRateLimit: resp.StatusCode == http.StatusTooManyRequests,
			IsAuth:      resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden,
		}
	}
	return resp, nil
}

// Complete runs one non-streaming turn.
func (c *HTTPCompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	r := *req
	r.Stream = false
	resp, err := c.post(ctx, &r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	return &out, nil
}

// Stream runs one streaming turn, decoding the response body's frame lines
// onto a channel.
func (c *HTTPCompleter) Stream(ctx context.Context, req *Request) (<-chan stream.Frame, <-chan error) {
	frameCh := make(chan stream.Frame, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(frameCh)
		defer close(errCh)

		r := *req
		r.Stream = true
		resp, err := c.post(ctx, &r)
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			f, ok, err := stream.DecodeLine(scanner.Bytes())
			if err != nil {
				log.Printf("dropping %v", err)
				continue
			}
			if !ok {
				continue
			}
			select {
			case frameCh <- f:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- wrapProviderError(err)
		}
	}()

	return frameCh, errCh
}
