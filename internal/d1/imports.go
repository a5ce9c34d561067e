package d1

import (
	"context"

	"github.com/withObsrvr/obsrvr-geotime/internal/store"
)

type importRequest struct {
	Action          string `json:"action"`
	ETag            string `json:"etag,omitempty"`
	Filename        string `json:"filename,omitempty"`
	CurrentBookmark string `json:"current_bookmark,omitempty"`
}

// Init asks for an upload slot for content with the given MD5 etag. When
// the content was already imported the result carries at_bookmark and no
// upload_url.
func (c *Client) Init(ctx context.Context, etag string) (*store.ImportStatus, error) {
	return c.importAction(ctx, "d1 import init", importRequest{Action: "init", ETag: etag})
}

// Ingest starts consuming an uploaded artifact.
func (c *Client) Ingest(ctx context.Context, etag, filename string) (*store.ImportStatus, error) {
	return c.importAction(ctx, "d1 import ingest", importRequest{Action: "ingest", ETag: etag, Filename: filename})
}

// Poll reports ingestion progress for bookmark.
func (c *Client) Poll(ctx context.Context, bookmark string) (*store.ImportStatus, error) {
	return c.importAction(ctx, "d1 import poll", importRequest{Action: "poll", CurrentBookmark: bookmark})
}

func (c *Client) importAction(ctx context.Context, op string, req importRequest) (*store.ImportStatus, error) {
	var status store.ImportStatus
	if err := c.post(ctx, op, "import", req, &status); err != nil {
		return nil, err
	}
	c.log.Debug(op, "status", status.Status, "bookmark", status.AtBookmark, "success", status.Success)
	return &status, nil
}
