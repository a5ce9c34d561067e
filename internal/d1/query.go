package d1

import (
	"context"
	"fmt"

	"github.com/withObsrvr/obsrvr-geotime/internal/store"
)

type queryRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
}

type queryResult struct {
	Results []map[string]any `json:"results"`
	Success bool             `json:"success"`
}

// Query implements store.Querier. Params travel as JSON, so binary values
// must be passed as hex text and decoded in SQL with unhex(?).
func (c *Client) Query(ctx context.Context, sql string, params ...any) ([]store.Row, error) {
	for i, p := range params {
		if _, ok := p.([]byte); ok {
			return nil, fmt.Errorf("d1 query: param %d is binary; bind hex text with unhex(?)", i+1)
		}
	}

	var results []queryResult
	if err := c.post(ctx, "d1 query", "query", queryRequest{SQL: sql, Params: params}, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	if !results[0].Success {
		return nil, store.Classify("d1 query", "statement reported failure", 0, c.cfg.TransientSignatures)
	}

	rows := make([]store.Row, len(results[0].Results))
	for i, r := range results[0].Results {
		rows[i] = store.Row(r)
	}
	return rows, nil
}

// Exec implements store.Querier.
func (c *Client) Exec(ctx context.Context, sql string, params ...any) error {
	_, err := c.Query(ctx, sql, params...)
	return err
}
