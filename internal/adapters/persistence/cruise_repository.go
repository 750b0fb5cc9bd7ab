package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seatrade/cruisesync-go/internal/domain/cruise"
	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// DefaultPriceEpsilon is the change-detection threshold in currency units.
// Category moves at or below it are treated as noise and produce no snapshot.
const DefaultPriceEpsilon = 0.01

// UpsertItem pairs a normalized record with its extracted prices. EventID,
// when set, attributes this record's snapshot to a specific webhook event
// instead of the batch-level one (drain items carry their parking event).
type UpsertItem struct {
	Record  *cruise.Record
	Prices  cruise.PriceSet
	EventID string
}

// BatchFailure surfaces the record a batch could not persist
type BatchFailure struct {
	CodeToCruiseID string
	Err            error
}

// BatchResult summarizes one UpsertBatch call
type BatchResult struct {
	Upserted  int
	Snapshots int
	Failed    []BatchFailure
}

// GormCruiseRepository persists sailings and their lookups using GORM
type GormCruiseRepository struct {
	db      *gorm.DB
	epsilon float64
	clock   shared.Clock
	log     zerolog.Logger
}

// NewGormCruiseRepository creates a new GORM cruise repository
func NewGormCruiseRepository(db *gorm.DB, epsilon float64, clock shared.Clock, log zerolog.Logger) *GormCruiseRepository {
	if epsilon <= 0 {
		epsilon = DefaultPriceEpsilon
	}
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &GormCruiseRepository{
		db:      db,
		epsilon: epsilon,
		clock:   clock,
		log:     log.With().Str("component", "cruise_repository").Logger(),
	}
}

// UpsertBatch persists a batch of normalized records in one transaction.
// A failed transaction is retried once; if it still fails the batch is split
// in half and each half retried recursively, so a single poisoned record
// surfaces in Failed without sinking its neighbours.
func (r *GormCruiseRepository) UpsertBatch(ctx context.Context, items []UpsertItem, webhookEventID string) *BatchResult {
	res := &BatchResult{}
	r.upsertChunk(ctx, items, webhookEventID, res)
	return res
}

func (r *GormCruiseRepository) upsertChunk(ctx context.Context, items []UpsertItem, webhookEventID string, res *BatchResult) {
	if len(items) == 0 {
		return
	}

	snapshots, err := r.commitChunk(ctx, items, webhookEventID)
	if err != nil {
		r.log.Warn().Err(err).Int("batch_size", len(items)).Msg("batch commit failed, retrying once")
		snapshots, err = r.commitChunk(ctx, items, webhookEventID)
	}
	if err == nil {
		res.Upserted += len(items)
		res.Snapshots += snapshots
		return
	}

	if len(items) == 1 {
		code := ""
		if items[0].Record != nil {
			code = items[0].Record.CodeToCruiseID
		}
		r.log.Error().Err(err).Str("code_to_cruise_id", code).Msg("record failed to persist")
		res.Failed = append(res.Failed, BatchFailure{CodeToCruiseID: code, Err: err})
		return
	}

	mid := len(items) / 2
	r.upsertChunk(ctx, items[:mid], webhookEventID, res)
	r.upsertChunk(ctx, items[mid:], webhookEventID, res)
}

func (r *GormCruiseRepository) commitChunk(ctx context.Context, items []UpsertItem, webhookEventID string) (int, error) {
	snapshots := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			snap, err := r.applyRecord(tx, item, webhookEventID)
			if err != nil {
				return err
			}
			if snap {
				snapshots++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return snapshots, nil
}

// applyRecord writes one file's rows in the required order: line, ship,
// ports, regions, then the sailing and its dependents.
func (r *GormCruiseRepository) applyRecord(tx *gorm.DB, item UpsertItem, webhookEventID string) (snapshotted bool, err error) {
	rec := item.Record
	if rec == nil || rec.CodeToCruiseID == "" {
		return false, fmt.Errorf("record has no code_to_cruise_id")
	}

	if err := r.upsertLine(tx, rec); err != nil {
		return false, err
	}
	if err := r.upsertShip(tx, rec); err != nil {
		return false, err
	}
	if err := r.upsertPorts(tx, rec); err != nil {
		return false, err
	}
	if err := r.upsertRegions(tx, rec); err != nil {
		return false, err
	}
	return r.upsertSailing(tx, item, webhookEventID)
}

func (r *GormCruiseRepository) upsertLine(tx *gorm.DB, rec *cruise.Record) error {
	if rec.LineID == 0 {
		return nil
	}
	model := &CruiseLineModel{
		LineID: rec.LineID,
		Name:   mapString(rec.LineContent, "name"),
		Code:   mapString(rec.LineContent, "code"),
	}
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "line_id"}},
		DoNothing: true,
	}
	// An authoritative name wins over the placeholder created on first sight
	if model.Name != "" {
		conflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "line_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "code", "updated_at"}),
		}
	}
	if err := tx.Clauses(conflict).Create(model).Error; err != nil {
		return fmt.Errorf("failed to upsert cruise line %d: %w", rec.LineID, err)
	}
	return nil
}

func (r *GormCruiseRepository) upsertShip(tx *gorm.DB, rec *cruise.Record) error {
	if rec.ShipID == 0 {
		return nil
	}
	content := ""
	if rec.ShipContent != nil {
		raw, err := json.Marshal(rec.ShipContent)
		if err != nil {
			return fmt.Errorf("failed to marshal ship content for ship %d: %w", rec.ShipID, err)
		}
		content = string(raw)
	}
	model := &ShipModel{
		ShipID:       rec.ShipID,
		CruiseLineID: rec.LineID,
		Name:         mapString(rec.ShipContent, "name"),
		Content:      content,
	}
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "ship_id"}},
		DoNothing: true,
	}
	if model.Name != "" || content != "" {
		conflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "ship_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"cruise_line_id", "name", "content", "updated_at"}),
		}
	}
	if err := tx.Clauses(conflict).Create(model).Error; err != nil {
		return fmt.Errorf("failed to upsert ship %d: %w", rec.ShipID, err)
	}
	return nil
}

func (r *GormCruiseRepository) upsertPorts(tx *gorm.DB, rec *cruise.Record) error {
	names := make(map[int]string)
	ids := make(map[int]struct{})
	for _, id := range rec.PortIDs {
		ids[id] = struct{}{}
	}
	if rec.StartPortID != nil {
		ids[*rec.StartPortID] = struct{}{}
	}
	if rec.EndPortID != nil {
		ids[*rec.EndPortID] = struct{}{}
	}
	for _, day := range rec.Itinerary {
		if day.PortID != nil {
			ids[*day.PortID] = struct{}{}
			if day.PortName != "" {
				names[*day.PortID] = day.PortName
			}
		}
	}
	for id := range ids {
		model := &PortModel{PortID: id, Name: names[id]}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "port_id"}},
			DoNothing: true,
		}).Create(model).Error; err != nil {
			return fmt.Errorf("failed to upsert port %d: %w", id, err)
		}
	}
	return nil
}

func (r *GormCruiseRepository) upsertRegions(tx *gorm.DB, rec *cruise.Record) error {
	for _, id := range rec.RegionIDs {
		model := &RegionModel{RegionID: id}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "region_id"}},
			DoNothing: true,
		}).Create(model).Error; err != nil {
			return fmt.Errorf("failed to upsert region %d: %w", id, err)
		}
	}
	return nil
}

func (r *GormCruiseRepository) upsertSailing(tx *gorm.DB, item UpsertItem, webhookEventID string) (bool, error) {
	rec := item.Record
	now := r.clock.Now()
	if item.EventID != "" {
		webhookEventID = item.EventID
	}

	var existing CruiseModel
	var found bool
	err := tx.Where("code_to_cruise_id = ?", rec.CodeToCruiseID).First(&existing).Error
	switch {
	case err == nil:
		found = true
	case errors.Is(err, gorm.ErrRecordNotFound):
		found = false
	default:
		return false, fmt.Errorf("failed to read sailing %s: %w", rec.CodeToCruiseID, err)
	}

	// Absent incoming fields keep the stored values; present ones win
	merged := CruiseModel{
		CodeToCruiseID: rec.CodeToCruiseID,
		IsActive:       true,
		ShowCruise:     true,
	}
	if found {
		merged = existing
		merged.IsActive = true
	}

	if rec.CruiseID != 0 {
		merged.CruiseID = rec.CruiseID
	}
	if rec.LineID != 0 {
		merged.CruiseLineID = rec.LineID
	}
	if rec.ShipID != 0 {
		merged.ShipID = rec.ShipID
	}
	if rec.Name != "" {
		merged.Name = rec.Name
	}
	if rec.SailDate != nil {
		merged.SailingDate = rec.SailDate
		if rec.Nights > 0 {
			ret := rec.SailDate.AddDate(0, 0, rec.Nights)
			merged.ReturnDate = &ret
		}
	}
	if rec.Nights > 0 {
		n := rec.Nights
		merged.Nights = &n
	}
	if rec.StartPortID != nil {
		merged.EmbarkPortID = rec.StartPortID
	}
	if rec.EndPortID != nil {
		merged.DisembarkPortID = rec.EndPortID
	}
	if len(rec.PortIDs) > 0 {
		merged.PortIDs = joinInts(rec.PortIDs)
	}
	if len(rec.RegionIDs) > 0 {
		merged.RegionIDs = joinInts(rec.RegionIDs)
	}
	if len(rec.Raw) > 0 {
		merged.RawData = string(rec.Raw)
	}

	changed := false
	if item.Prices.Interior != nil {
		changed = changed || priceChanged(existingPrice(found, existing.InteriorPrice), item.Prices.Interior, r.epsilon)
		merged.InteriorPrice = item.Prices.Interior
	}
	if item.Prices.Oceanview != nil {
		changed = changed || priceChanged(existingPrice(found, existing.OceanviewPrice), item.Prices.Oceanview, r.epsilon)
		merged.OceanviewPrice = item.Prices.Oceanview
	}
	if item.Prices.Balcony != nil {
		changed = changed || priceChanged(existingPrice(found, existing.BalconyPrice), item.Prices.Balcony, r.epsilon)
		merged.BalconyPrice = item.Prices.Balcony
	}
	if item.Prices.Suite != nil {
		changed = changed || priceChanged(existingPrice(found, existing.SuitePrice), item.Prices.Suite, r.epsilon)
		merged.SuitePrice = item.Prices.Suite
	}

	// Cheapest is re-derived from the merged categories so a partial update
	// cannot leave a stale winner behind
	cheapest, cabinType := cruise.DeriveCheapest(
		merged.InteriorPrice, merged.OceanviewPrice, merged.BalconyPrice, merged.SuitePrice)
	merged.CheapestPrice = cheapest
	merged.CheapestCabinType = cabinString(cabinType)

	// The sailing was just refreshed from the provider
	merged.NeedsPriceUpdate = false
	merged.PriceUpdateRequestedAt = nil
	merged.PriceUpdateEventID = ""
	merged.UpdatedAt = now
	if !found {
		merged.CreatedAt = now
	}

	// Snapshot captures the pre-change values before the row is overwritten
	if found && changed {
		snapshot := &PriceSnapshotModel{
			CodeToCruiseID:    rec.CodeToCruiseID,
			InteriorPrice:     existing.InteriorPrice,
			OceanviewPrice:    existing.OceanviewPrice,
			BalconyPrice:      existing.BalconyPrice,
			SuitePrice:        existing.SuitePrice,
			CheapestPrice:     existing.CheapestPrice,
			CheapestCabinType: existing.CheapestCabinType,
			WebhookEventID:    webhookEventID,
			CreatedAt:         now,
		}
		if err := tx.Create(snapshot).Error; err != nil {
			return false, fmt.Errorf("failed to record price snapshot for %s: %w", rec.CodeToCruiseID, err)
		}
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code_to_cruise_id"}},
		UpdateAll: true,
	}).Create(&merged).Error; err != nil {
		return false, fmt.Errorf("failed to upsert sailing %s: %w", rec.CodeToCruiseID, err)
	}

	if err := r.replaceItinerary(tx, rec); err != nil {
		return false, err
	}
	if err := r.replacePricingDetails(tx, rec); err != nil {
		return false, err
	}

	mirror := &CheapestPricingModel{
		CodeToCruiseID:    rec.CodeToCruiseID,
		InteriorPrice:     merged.InteriorPrice,
		OceanviewPrice:    merged.OceanviewPrice,
		BalconyPrice:      merged.BalconyPrice,
		SuitePrice:        merged.SuitePrice,
		CheapestPrice:     merged.CheapestPrice,
		CheapestCabinType: merged.CheapestCabinType,
		UpdatedAt:         now,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code_to_cruise_id"}},
		UpdateAll: true,
	}).Create(mirror).Error; err != nil {
		return false, fmt.Errorf("failed to upsert cheapest pricing for %s: %w", rec.CodeToCruiseID, err)
	}

	return found && changed, nil
}

func (r *GormCruiseRepository) replaceItinerary(tx *gorm.DB, rec *cruise.Record) error {
	if len(rec.Itinerary) == 0 {
		return nil
	}
	if err := tx.Where("code_to_cruise_id = ?", rec.CodeToCruiseID).
		Delete(&ItineraryDayModel{}).Error; err != nil {
		return fmt.Errorf("failed to clear itinerary for %s: %w", rec.CodeToCruiseID, err)
	}
	days := make([]ItineraryDayModel, 0, len(rec.Itinerary))
	for _, entry := range rec.Itinerary {
		days = append(days, ItineraryDayModel{
			CodeToCruiseID: rec.CodeToCruiseID,
			DayNumber:      entry.Day,
			PortID:         entry.PortID,
			PortName:       entry.PortName,
			ArriveTime:     entry.ArriveTime,
			DepartTime:     entry.DepartTime,
			Description:    entry.Description,
		})
	}
	if err := tx.Create(&days).Error; err != nil {
		return fmt.Errorf("failed to insert itinerary for %s: %w", rec.CodeToCruiseID, err)
	}
	return nil
}

func (r *GormCruiseRepository) replacePricingDetails(tx *gorm.DB, rec *cruise.Record) error {
	if len(rec.Prices) == 0 {
		return nil
	}
	if err := tx.Where("code_to_cruise_id = ?", rec.CodeToCruiseID).
		Delete(&PricingDetailModel{}).Error; err != nil {
		return fmt.Errorf("failed to clear pricing details for %s: %w", rec.CodeToCruiseID, err)
	}
	var rows []PricingDetailModel
	for rateCode, cabins := range rec.Prices {
		for cabinCode, occupancies := range cabins {
			for occCode, cell := range occupancies {
				rows = append(rows, PricingDetailModel{
					CodeToCruiseID: rec.CodeToCruiseID,
					RateCode:       rateCode,
					CabinCode:      cabinCode,
					OccupancyCode:  occCode,
					CabinType:      cell.CabinType,
					Price:          cell.Price,
				})
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(&rows, 200).Error; err != nil {
		return fmt.Errorf("failed to insert pricing details for %s: %w", rec.CodeToCruiseID, err)
	}
	return nil
}

// GetByCodeToCruiseID loads one sailing row
func (r *GormCruiseRepository) GetByCodeToCruiseID(ctx context.Context, code string) (*CruiseModel, error) {
	var model CruiseModel
	if err := r.db.WithContext(ctx).Where("code_to_cruise_id = ?", code).First(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to load sailing %s: %w", code, err)
	}
	return &model, nil
}

// CheapestPricingFor loads the denormalized mirror row for one sailing
func (r *GormCruiseRepository) CheapestPricingFor(ctx context.Context, code string) (*CheapestPricingModel, error) {
	var model CheapestPricingModel
	if err := r.db.WithContext(ctx).Where("code_to_cruise_id = ?", code).First(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to load cheapest pricing for %s: %w", code, err)
	}
	return &model, nil
}

// SnapshotsFor returns price snapshots for a sailing, newest first
func (r *GormCruiseRepository) SnapshotsFor(ctx context.Context, code string) ([]PriceSnapshotModel, error) {
	var rows []PriceSnapshotModel
	if err := r.db.WithContext(ctx).
		Where("code_to_cruise_id = ?", code).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load snapshots for %s: %w", code, err)
	}
	return rows, nil
}

// ParkForPriceUpdate flags discovered files for the deferred drain instead of
// inline processing. Files whose sailing was never ingested get a skeleton row
// (ids and directory month from the discovery ref) so a line's first oversized
// webhook still leaves a drainable backlog. Existing rows keep their data and
// only the parking columns move. Returns the number of rows parked.
func (r *GormCruiseRepository) ParkForPriceUpdate(ctx context.Context, refs []ingestion.FileRef, webhookEventID string, requestedAt time.Time) (int64, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	now := r.clock.Now()
	var parked int64
	// Chunked so a very large line does not exceed placeholder limits
	for start := 0; start < len(refs); start += 500 {
		end := start + 500
		if end > len(refs) {
			end = len(refs)
		}
		rows := make([]CruiseModel, 0, end-start)
		for _, ref := range refs[start:end] {
			monthStart := time.Date(ref.Year, time.Month(ref.Month), 1, 0, 0, 0, 0, time.UTC)
			reqAt := requestedAt
			rows = append(rows, CruiseModel{
				CodeToCruiseID:         ref.CodeToCruiseID,
				CruiseLineID:           ref.LineID,
				ShipID:                 ref.ShipID,
				SailingDate:            &monthStart,
				IsActive:               true,
				ShowCruise:             true,
				NeedsPriceUpdate:       true,
				PriceUpdateRequestedAt: &reqAt,
				PriceUpdateEventID:     webhookEventID,
				CreatedAt:              now,
				UpdatedAt:              now,
			})
		}
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "code_to_cruise_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"needs_price_update", "price_update_requested_at", "price_update_event_id", "updated_at",
			}),
		}).Create(&rows)
		if res.Error != nil {
			return parked, fmt.Errorf("failed to park sailings for price update: %w", res.Error)
		}
		parked += int64(len(rows))
	}
	return parked, nil
}

// ListNeedingPriceUpdate returns sailings awaiting the deferred drain,
// oldest request first. lineID 0 means all lines.
func (r *GormCruiseRepository) ListNeedingPriceUpdate(ctx context.Context, lineID int, limit int) ([]CruiseModel, error) {
	query := r.db.WithContext(ctx).Where("needs_price_update = ?", true)
	if lineID > 0 {
		query = query.Where("cruise_line_id = ?", lineID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []CruiseModel
	if err := query.Order("price_update_requested_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sailings needing price update: %w", err)
	}
	return rows, nil
}

// CountNeedingPriceUpdate returns the pending deferred-drain backlog size
func (r *GormCruiseRepository) CountNeedingPriceUpdate(ctx context.Context, lineID int) (int64, error) {
	query := r.db.WithContext(ctx).Model(&CruiseModel{}).Where("needs_price_update = ?", true)
	if lineID > 0 {
		query = query.Where("cruise_line_id = ?", lineID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count sailings needing price update: %w", err)
	}
	return count, nil
}

// InactivateStale flips is_active off for sailings of a line not refreshed
// since the cutoff. Rows are never deleted.
func (r *GormCruiseRepository) InactivateStale(ctx context.Context, lineID int, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&CruiseModel{}).
		Where("cruise_line_id = ? AND is_active = ? AND updated_at < ?", lineID, true, cutoff).
		Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to inactivate stale sailings for line %d: %w", lineID, res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeSnapshotsOlderThan enforces snapshot retention
func (r *GormCruiseRepository) PurgeSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&PriceSnapshotModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge old snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func existingPrice(found bool, p *float64) *float64 {
	if !found {
		return nil
	}
	return p
}

func priceChanged(old, new *float64, epsilon float64) bool {
	if old == nil {
		return new != nil
	}
	if new == nil {
		return false
	}
	return math.Abs(*old-*new) > epsilon
}

func cabinString(cat *cruise.CabinCategory) *string {
	if cat == nil {
		return nil
	}
	s := string(*cat)
	return &s
}

func joinInts(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, ",")
}

func mapString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
