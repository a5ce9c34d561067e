// Command geotime-lookup prints geo and calendar lookups as JSON.
//
//	geotime-lookup <ip>
//	geotime-lookup <zone> [rfc3339 instant]
//	geotime-lookup zones [area]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/withObsrvr/obsrvr-geotime/internal/config"
	"github.com/withObsrvr/obsrvr-geotime/internal/d1"
	"github.com/withObsrvr/obsrvr-geotime/internal/geo"
	"github.com/withObsrvr/obsrvr-geotime/internal/logging"
	"github.com/withObsrvr/obsrvr-geotime/internal/store"
	"github.com/withObsrvr/obsrvr-geotime/internal/timezone"
)

const usage = `usage:
  geotime-lookup <ip>
  geotime-lookup <zone> [rfc3339 instant]
  geotime-lookup zones [area]`

// ipLookup is printed for an address.
type ipLookup struct {
	Status   string           `json:"status"`
	Location *geo.Location    `json:"location,omitempty"`
	Time     *timezone.Result `json:"time,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	sync := logging.Setup(logging.Config{Format: "console", Level: os.Getenv("LOG_LEVEL"), Output: os.Stderr})
	defer sync()

	out, err := run(context.Background(), os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		sync()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run answers zone queries from the embedded zone database; only address
// lookups load the store configuration.
func run(ctx context.Context, args []string) (any, error) {
	db, err := timezone.Load()
	if err != nil {
		return nil, err
	}

	if args[0] == "zones" {
		if len(args) > 1 {
			return db.ZonesByArea(args[1])
		}
		return db.Zones(), nil
	}

	if _, err := netip.ParseAddr(args[0]); err != nil {
		instant := time.Now()
		if len(args) > 1 {
			instant, err = time.Parse(time.RFC3339, args[1])
			if err != nil {
				return nil, fmt.Errorf("parse instant: %w", err)
			}
		}
		return db.Get(args[0], instant)
	}

	cfg, err := config.Load(os.Getenv("GEOTIME_CONFIG"))
	if err != nil {
		return nil, err
	}
	q, closeStore, err := openQuerier(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	loc, res, err := geo.NewResolver(q).Locate(ctx, args[0])
	if err != nil {
		return nil, err
	}
	out := ipLookup{Status: res.Status.String()}
	if loc.IP != "" {
		out.Location = &loc
	}
	if res.Zone != "" {
		if t, err := db.Now(res.Zone); err == nil {
			out.Time = &t
		}
	}
	return out, nil
}

func openQuerier(ctx context.Context, cfg config.Config) (store.Querier, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "d1":
		client, err := d1.New(d1.Config{
			AccountID:           cfg.Store.D1.AccountID,
			DatabaseID:          cfg.Store.D1.DatabaseID,
			APIToken:            cfg.Store.D1.APIToken,
			BaseURL:             cfg.Store.D1.BaseURL,
			Timeout:             cfg.Store.D1.Timeout,
			TransientSignatures: cfg.Store.D1.TransientSignatures,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	default:
		return nil, nil, errors.New("unknown store backend: " + cfg.Store.Backend)
	}
}
