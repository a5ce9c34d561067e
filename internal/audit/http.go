package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/withObsrvr/obsrvr-geotime/internal/config"
)

// httpPublisher POSTs events to the audit endpoint.
type httpPublisher struct {
	endpoint string
	retries  int
	delay    time.Duration
	client   *http.Client
	clock    clock.Clock
}

func newHTTPPublisher(cfg config.AuditConfig, clk clock.Clock) *httpPublisher {
	p := &httpPublisher{
		endpoint: cfg.Endpoint,
		retries:  cfg.Retries,
		delay:    cfg.RetryDelay,
		client:   &http.Client{Timeout: 30 * time.Second},
		clock:    clk,
	}
	if p.retries <= 0 {
		p.retries = 3
	}
	if p.delay <= 0 {
		p.delay = time.Second
	}
	return p
}

// Publish sends evt, doubling the delay after each failed attempt.
func (p *httpPublisher) Publish(ctx context.Context, evt *RefreshEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	delay := p.delay
	var lastErr error
	for attempt := 1; attempt <= p.retries; attempt++ {
		if lastErr = p.post(ctx, body); lastErr == nil {
			return nil
		}
		if attempt == p.retries {
			break
		}

		log.Printf("[audit] attempt %d/%d failed: %v, retrying in %v", attempt, p.retries, lastErr, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%d attempts: %w", p.retries, lastErr)
}

func (p *httpPublisher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post audit event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		log.Printf("[audit] POST %s -> %d", p.endpoint, resp.StatusCode)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("audit endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
}
