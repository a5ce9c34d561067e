package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/withObsrvr/obsrvr-geotime/internal/tables"
)

// DefaultChunkSize is the number of rows per batch.
const DefaultChunkSize = 10000

// Batch is one chunk of rows from a CSV table.
type Batch struct {
	Index int // zero-based batch number
	Rows  []tables.Row
}

// StreamCSV reads the CSV at path and sends its rows, keyed by the header
// line, in batches of chunkSize. When chunkCount > 0 it stops after that
// many batches. The error channel receives at most one error.
func StreamCSV(ctx context.Context, path string, chunkSize, chunkCount int) (<-chan Batch, <-chan error) {
	batchCh := make(chan Batch, 2)
	errCh := make(chan error, 1)

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	go func() {
		defer close(batchCh)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open %s: %w", path, err)
			return
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.ReuseRecord = true

		header, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("missing header")
			}
			errCh <- fmt.Errorf("read header of %s: %w", path, err)
			return
		}
		header = append([]string(nil), header...)
		if len(header) > 0 {
			header[0] = strings.TrimPrefix(header[0], "\ufeff")
		}

		send := func(b Batch) bool {
			if err := ctx.Err(); err != nil {
				errCh <- err
				return false
			}
			select {
			case batchCh <- b:
				return true
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			}
		}

		batch := Batch{Rows: make([]tables.Row, 0, chunkSize)}
		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- fmt.Errorf("read %s: %w", path, err)
				return
			}

			row := make(tables.Row, len(header))
			for i, name := range header {
				row[name] = rec[i]
			}
			batch.Rows = append(batch.Rows, row)

			if len(batch.Rows) == chunkSize {
				if !send(batch) {
					return
				}
				if chunkCount > 0 && batch.Index+1 >= chunkCount {
					return
				}
				batch = Batch{Index: batch.Index + 1, Rows: make([]tables.Row, 0, chunkSize)}
			}
		}

		if len(batch.Rows) > 0 {
			send(batch)
		}
	}()

	return batchCh, errCh
}
