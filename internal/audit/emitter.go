// Package audit emits a hash-chained event for every committed refresh.
package audit

import (
	"context"
	"fmt"
	"log"

	"github.com/benbjohnson/clock"

	"github.com/withObsrvr/obsrvr-geotime/internal/config"
	"github.com/withObsrvr/obsrvr-geotime/internal/metrics"
)

// Event is what the refresher knows about a commit. The emitter adds the
// envelope and chain fields.
type Event struct {
	Dataset   string
	Marker    string
	RunID     string
	Store     string
	Artifacts map[string]ArtifactInfo
	Tables    map[string]TableInfo
	Producer  ProducerInfo
}

// Emitter records refresh events.
type Emitter interface {
	EmitRefresh(ctx context.Context, evt Event) error
	Close() error
}

// NewEmitter builds the emitter for cfg. Enabled emitters always keep a
// JSON copy of each event under BackupDir and also POST it when an
// endpoint is set.
func NewEmitter(cfg config.AuditConfig) Emitter {
	if !cfg.Enabled {
		log.Println("[audit] disabled, using no-op emitter")
		return noopEmitter{}
	}

	e, err := newChainEmitter(cfg, clock.New())
	if err != nil {
		log.Printf("[audit] %v, using no-op emitter", err)
		return noopEmitter{}
	}
	return e
}

type chainEmitter struct {
	ledger *ledger
	backup *fileBackup
	pub    *httpPublisher // nil when file-only
	clock  clock.Clock
}

func newChainEmitter(cfg config.AuditConfig, clk clock.Clock) (*chainEmitter, error) {
	chains, err := openLedger(cfg.BackupDir)
	if err != nil {
		return nil, err
	}
	backup, err := newFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, err
	}

	e := &chainEmitter{ledger: chains, backup: backup, clock: clk}
	if cfg.Endpoint != "" {
		e.pub = newHTTPPublisher(cfg, clk)
		log.Printf("[audit] publishing to %s, backups in %s", cfg.Endpoint, backup.dir)
	} else {
		log.Printf("[audit] file-only, events in %s", backup.dir)
	}
	return e, nil
}

func (e *chainEmitter) EmitRefresh(ctx context.Context, evt Event) error {
	re := e.seal(evt)
	if err := e.emit(ctx, &re); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncAuditErrors()
		}
		return err
	}
	return nil
}

// seal wraps evt in its envelope and links it after the current head of
// its chain.
func (e *chainEmitter) seal(evt Event) RefreshEvent {
	re := RefreshEvent{
		Version:   eventVersion,
		EventType: eventType,
		EventID:   GenerateEventID(),
		Timestamp: e.clock.Now().UTC(),
		Refresh: RefreshInfo{
			Dataset: evt.Dataset,
			Marker:  evt.Marker,
			RunID:   evt.RunID,
			Store:   evt.Store,
		},
		Artifacts: evt.Artifacts,
		Tables:    evt.Tables,
		Producer:  evt.Producer,
	}
	re.Link(e.ledger.Head(re.Refresh.ChainKey()))
	return re
}

// emit writes the backup before publishing so a failed POST still leaves
// the event on disk. The chain only advances once the event is delivered.
func (e *chainEmitter) emit(ctx context.Context, re *RefreshEvent) error {
	log.Printf("[audit] %s #%d marker=%q prev=%q event_hash=%s",
		re.Refresh.ChainKey(), re.Chain.Sequence, re.Refresh.Marker,
		re.Chain.PrevEventHash, re.Chain.EventHash)

	if err := e.backup.Save(re); err != nil {
		if e.pub == nil {
			return err
		}
		log.Printf("[audit] warning: %v", err)
	}

	if e.pub != nil {
		if err := e.pub.Publish(ctx, re); err != nil {
			return fmt.Errorf("publish audit event: %w", err)
		}
	}

	if err := e.ledger.Advance(re); err != nil {
		log.Printf("[audit] warning: %v", err)
	}
	return nil
}

func (e *chainEmitter) Close() error {
	if e.pub != nil {
		e.pub.client.CloseIdleConnections()
	}
	return nil
}

type noopEmitter struct{}

func (noopEmitter) EmitRefresh(context.Context, Event) error { return nil }

func (noopEmitter) Close() error { return nil }
