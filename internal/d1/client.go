// Package d1 is a REST client for a Cloudflare D1 database: parameterized
// queries, the init/ingest/poll bulk import protocol, and presigned artifact
// uploads.
package d1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-geotime/internal/store"
)

// DefaultBaseURL is the Cloudflare v4 API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// Config configures a Client.
type Config struct {
	AccountID  string
	DatabaseID string
	APIToken   string
	BaseURL    string
	Timeout    time.Duration

	// TransientSignatures override store.DefaultTransientSignatures.
	TransientSignatures []string
}

// Client talks to one D1 database. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	if cfg.AccountID == "" || cfg.DatabaseID == "" {
		return nil, errors.New("d1: account id and database id are required")
	}
	if cfg.APIToken == "" {
		return nil, errors.New("d1: api token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  slog.With("component", "d1", "database_id", cfg.DatabaseID),
	}, nil
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) endpoint(suffix string) string {
	return fmt.Sprintf("%s/accounts/%s/d1/database/%s/%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.AccountID, c.cfg.DatabaseID, suffix)
}

// post sends body to the database endpoint and decodes the envelope result
// into out.
func (c *Client) post(ctx context.Context, op, suffix string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(suffix), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return &store.Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &store.Error{Op: op, Code: resp.StatusCode, Err: err}
	}

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = resp.Status
		}
		return store.Classify(op, msg, resp.StatusCode, c.cfg.TransientSignatures)
	}

	if resp.StatusCode >= 300 || !env.Success {
		msg, code := summarize(env.Errors)
		if msg == "" {
			msg = resp.Status
		}
		if code == 0 {
			code = resp.StatusCode
		}
		return store.Classify(op, msg, code, c.cfg.TransientSignatures)
	}

	if out == nil || len(env.Result) == 0 {
		return nil
	}
	dec = json.NewDecoder(bytes.NewReader(env.Result))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s result: %w", op, err)
	}
	return nil
}

func summarize(errs []apiError) (string, int) {
	if len(errs) == 0 {
		return "", 0
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; "), errs[0].Code
}
