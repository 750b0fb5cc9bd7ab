package ftp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// Discovery enumerates provider files for a cruise line across a window of
// (year, month) directories: /YYYY/MM/<lineId>/<shipId>/<codeToCruiseId>.json.
// Inaccessible subdirectories are skipped without failing the enumeration.
type Discovery struct {
	pool *Pool
	log  zerolog.Logger
}

// NewDiscovery creates a Discovery backed by the session pool
func NewDiscovery(pool *Pool, log zerolog.Logger) *Discovery {
	return &Discovery{
		pool: pool,
		log:  log.With().Str("component", "ftp_discovery").Logger(),
	}
}

// Discover lists all JSON files for lineID between windowStart and windowEnd
// (inclusive, month granularity).
func (d *Discovery) Discover(ctx context.Context, lineID int, windowStart, windowEnd time.Time) ([]ingestion.FileRef, error) {
	var refs []ingestion.FileRef

	err := d.pool.WithSession(ctx, func(conn Conn) error {
		for _, ym := range monthsBetween(windowStart, windowEnd) {
			if err := ctx.Err(); err != nil {
				return err
			}
			lineDir := fmt.Sprintf("/%04d/%02d/%d", ym.year, ym.month, lineID)
			ships, err := conn.List(lineDir)
			if err != nil {
				// Month directories appear as the provider publishes them;
				// absence is normal, other failures are skipped per directory.
				if errors.Is(err, shared.ErrFTPNotFound) {
					d.log.Debug().Str("dir", lineDir).Msg("month not published, skipping")
				} else {
					d.log.Warn().Str("dir", lineDir).Err(err).Msg("skipping line directory")
				}
				continue
			}
			for _, ship := range ships {
				if !ship.Dir {
					continue
				}
				shipID, err := strconv.Atoi(ship.Name)
				if err != nil {
					continue
				}
				shipDir := lineDir + "/" + ship.Name
				files, err := conn.List(shipDir)
				if err != nil {
					d.log.Warn().Str("dir", shipDir).Err(err).Msg("skipping ship directory")
					continue
				}
				for _, f := range files {
					if f.Dir || !strings.HasSuffix(f.Name, ".json") {
						continue
					}
					refs = append(refs, ingestion.FileRef{
						Path:           shipDir + "/" + f.Name,
						Year:           ym.year,
						Month:          ym.month,
						LineID:         lineID,
						ShipID:         shipID,
						CodeToCruiseID: strings.TrimSuffix(f.Name, ".json"),
						Size:           f.Size,
						LastModified:   f.Time,
					})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Info().Int("line_id", lineID).Int("files", len(refs)).Msg("discovery complete")
	return refs, nil
}

// Download fetches one provider file through the pool
func (d *Discovery) Download(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := d.pool.WithSession(ctx, func(conn Conn) error {
		var err error
		data, err = conn.Download(path)
		return err
	})
	return data, err
}

type yearMonth struct {
	year  int
	month int
}

func monthsBetween(start, end time.Time) []yearMonth {
	if end.Before(start) {
		return nil
	}
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []yearMonth
	for !cur.After(last) {
		out = append(out, yearMonth{year: cur.Year(), month: int(cur.Month())})
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}
