package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/seatrade/cruisesync-go/internal/adapters/metrics"
	"github.com/seatrade/cruisesync-go/internal/adapters/persistence"
	"github.com/seatrade/cruisesync-go/internal/domain/cruise"
	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// DrainStore is the slice of the cruise repository the drain needs
type DrainStore interface {
	UpsertBatch(ctx context.Context, items []persistence.UpsertItem, webhookEventID string) *persistence.BatchResult
	ListNeedingPriceUpdate(ctx context.Context, lineID int, limit int) ([]persistence.CruiseModel, error)
	CountNeedingPriceUpdate(ctx context.Context, lineID int) (int64, error)
}

// DrainConfig holds batch-sync drain tunables
type DrainConfig struct {
	// RatePerSec throttles file fetches so the drain never saturates the
	// provider's FTP server
	RatePerSec float64
	// BatchSize is the maximum sailings re-processed per run
	BatchSize int
	// CommitSize is the number of sailings committed per transaction
	CommitSize int
	// Interval is the pause between runs in Run
	Interval time.Duration
}

// Drainer re-processes sailings parked with needs_price_update by large
// webhooks. It reconstructs each file's provider path from the stored sailing
// and pushes it through the same normalize/extract/persist path as the inline
// batch, throttled to a fixed rate.
type Drainer struct {
	cruises    DrainStore
	flags      FlagStore
	downloader ingestion.Downloader
	normalizer *cruise.Normalizer
	limiter    *rate.Limiter
	cfg        DrainConfig
	clock      shared.Clock
	log        zerolog.Logger
}

// NewDrainer creates the batch-sync drainer
func NewDrainer(cruises DrainStore, flags FlagStore, downloader ingestion.Downloader, cfg DrainConfig, clock shared.Clock, log zerolog.Logger) *Drainer {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.CommitSize <= 0 {
		cfg.CommitSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Drainer{
		cruises:    cruises,
		flags:      flags,
		downloader: downloader,
		normalizer: cruise.NewNormalizer(),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		cfg:        cfg,
		clock:      clock,
		log:        log.With().Str("component", "batch_sync").Logger(),
	}
}

// Run drains on a fixed interval until the context is cancelled
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				d.log.Error().Err(err).Msg("batch sync run failed")
			}
		}
	}
}

// DrainOnce re-processes up to BatchSize parked sailings and returns how many
// it persisted. A paused batch sync returns immediately.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	paused, err := d.flags.GetBool(ctx, ingestion.FlagBatchSyncPaused, false)
	if err != nil {
		return 0, fmt.Errorf("failed to read batch_sync_paused flag: %w", err)
	}
	if paused {
		d.log.Info().Msg("batch sync paused, skipping run")
		return 0, nil
	}

	parked, err := d.cruises.ListNeedingPriceUpdate(ctx, 0, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list sailings needing price update: %w", err)
	}
	if len(parked) == 0 {
		return 0, nil
	}

	processed := 0
	batch := make([]persistence.UpsertItem, 0, d.cfg.CommitSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Each item carries the id of the webhook that parked it, so
		// snapshots written here still resolve to a ledger entry.
		res := d.cruises.UpsertBatch(ctx, batch, "")
		processed += res.Upserted
		for _, f := range res.Failed {
			d.log.Error().Err(f.Err).Str("code_to_cruise_id", f.CodeToCruiseID).
				Msg("parked sailing failed to persist")
		}
		batch = batch[:0]
	}

	for _, model := range parked {
		if err := d.limiter.Wait(ctx); err != nil {
			flush()
			return processed, err
		}

		path, ok := providerPath(&model)
		if !ok {
			d.log.Warn().Str("code_to_cruise_id", model.CodeToCruiseID).
				Msg("parked sailing has no sailing date, cannot rebuild provider path")
			continue
		}

		data, err := d.downloader.Download(ctx, path)
		if err != nil {
			metrics.RecordFileProcessed(model.CruiseLineID, "download_failed")
			d.log.Warn().Err(err).Str("path", path).Msg("skipping undownloadable parked file")
			continue
		}

		rec, form, err := d.normalizer.Normalize(path, data)
		if err != nil {
			metrics.RecordFileProcessed(model.CruiseLineID, "normalization_failed")
			d.log.Warn().Err(err).Str("path", path).Msg("skipping unnormalizable parked file")
			continue
		}
		metrics.RecordNormalizedForm(string(form))

		batch = append(batch, persistence.UpsertItem{
			Record:  rec,
			Prices:  cruise.ExtractPrices(rec, model.CruiseLineID),
			EventID: model.PriceUpdateEventID,
		})
		if len(batch) >= d.cfg.CommitSize {
			flush()
		}
	}
	flush()

	d.log.Info().Int("parked", len(parked)).Int("processed", processed).Msg("batch sync run complete")
	return processed, nil
}

// Backlog reports how many sailings are currently parked
func (d *Drainer) Backlog(ctx context.Context) (int64, error) {
	return d.cruises.CountNeedingPriceUpdate(ctx, 0)
}

// providerPath rebuilds /YYYY/MM/<lineId>/<shipId>/<codeToCruiseId>.json from
// a stored sailing. Requires the sailing date for the year/month directories.
func providerPath(model *persistence.CruiseModel) (string, bool) {
	if model.SailingDate == nil {
		return "", false
	}
	return fmt.Sprintf("/%04d/%02d/%d/%d/%s.json",
		model.SailingDate.Year(), int(model.SailingDate.Month()),
		model.CruiseLineID, model.ShipID, model.CodeToCruiseID), true
}
