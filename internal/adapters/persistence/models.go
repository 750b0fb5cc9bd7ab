package persistence

import (
	"time"
)

// CruiseLineModel represents the cruise_lines table
type CruiseLineModel struct {
	LineID    int       `gorm:"column:line_id;primaryKey"`
	Name      string    `gorm:"column:name"`
	Code      string    `gorm:"column:code"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (CruiseLineModel) TableName() string {
	return "cruise_lines"
}

// ShipModel represents the ships table
type ShipModel struct {
	ShipID       int       `gorm:"column:ship_id;primaryKey"`
	CruiseLineID int       `gorm:"column:cruise_line_id;index;not null"`
	Name         string    `gorm:"column:name"`
	Content      string    `gorm:"column:content;type:jsonb"` // decks/images blob, JSON as text
	CreatedAt    time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (ShipModel) TableName() string {
	return "ships"
}

// PortModel represents the ports table
type PortModel struct {
	PortID    int       `gorm:"column:port_id;primaryKey"`
	Name      string    `gorm:"column:name"`
	Country   string    `gorm:"column:country"`
	Code      string    `gorm:"column:code"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (PortModel) TableName() string {
	return "ports"
}

// RegionModel represents the regions table
type RegionModel struct {
	RegionID  int       `gorm:"column:region_id;primaryKey"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (RegionModel) TableName() string {
	return "regions"
}

// CruiseModel represents the cruises table: one row per physical sailing,
// keyed by code_to_cruise_id. cruise_id groups sailings of the same itinerary.
type CruiseModel struct {
	CodeToCruiseID         string     `gorm:"column:code_to_cruise_id;primaryKey"`
	CruiseID               int64      `gorm:"column:cruise_id;index"`
	CruiseLineID           int        `gorm:"column:cruise_line_id;index:idx_cruises_line_sailing;not null"`
	ShipID                 int        `gorm:"column:ship_id;index"`
	Name                   string     `gorm:"column:name"`
	SailingDate            *time.Time `gorm:"column:sailing_date;index:idx_cruises_line_sailing"`
	ReturnDate             *time.Time `gorm:"column:return_date"`
	Nights                 *int       `gorm:"column:nights"`
	EmbarkPortID           *int       `gorm:"column:embark_port_id"`
	DisembarkPortID        *int       `gorm:"column:disembark_port_id"`
	PortIDs                string     `gorm:"column:port_ids"`   // comma-joined external ids
	RegionIDs              string     `gorm:"column:region_ids"` // comma-joined external ids
	InteriorPrice          *float64   `gorm:"column:interior_price"`
	OceanviewPrice         *float64   `gorm:"column:oceanview_price"`
	BalconyPrice           *float64   `gorm:"column:balcony_price"`
	SuitePrice             *float64   `gorm:"column:suite_price"`
	CheapestPrice          *float64   `gorm:"column:cheapest_price"`
	CheapestCabinType      *string    `gorm:"column:cheapest_cabin_type"`
	RawData                string     `gorm:"column:raw_data;type:jsonb"`
	IsActive               bool       `gorm:"column:is_active;not null;default:true"`
	ShowCruise             bool       `gorm:"column:show_cruise;not null;default:true"`
	NeedsPriceUpdate       bool       `gorm:"column:needs_price_update;not null;default:false;index"`
	PriceUpdateRequestedAt *time.Time `gorm:"column:price_update_requested_at"`
	PriceUpdateEventID     string     `gorm:"column:price_update_event_id"` // webhook that parked this row
	CreatedAt              time.Time  `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt              time.Time  `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (CruiseModel) TableName() string {
	return "cruises"
}

// ItineraryDayModel represents the itinerary_days table
type ItineraryDayModel struct {
	CodeToCruiseID string `gorm:"column:code_to_cruise_id;primaryKey"`
	DayNumber      int    `gorm:"column:day_number;primaryKey"`
	PortID         *int   `gorm:"column:port_id"`
	PortName       string `gorm:"column:port_name"`
	ArriveTime     string `gorm:"column:arrive_time"`
	DepartTime     string `gorm:"column:depart_time"`
	Description    string `gorm:"column:description;type:text"`
}

func (ItineraryDayModel) TableName() string {
	return "itinerary_days"
}

// PricingDetailModel represents the pricing_details table: fine-grained
// rate x cabin x occupancy rows when the provider supplies a price grid.
type PricingDetailModel struct {
	ID             int64    `gorm:"column:id;primaryKey;autoIncrement"`
	CodeToCruiseID string   `gorm:"column:code_to_cruise_id;index;not null"`
	RateCode       string   `gorm:"column:rate_code;not null"`
	CabinCode      string   `gorm:"column:cabin_code;not null"`
	OccupancyCode  string   `gorm:"column:occupancy_code;not null"`
	CabinType      string   `gorm:"column:cabin_type"`
	Price          *float64 `gorm:"column:price"`
}

func (PricingDetailModel) TableName() string {
	return "pricing_details"
}

// CheapestPricingModel represents the cheapest_pricing table: the denormalized
// per-sailing mirror of the four category prices and the derived cheapest.
type CheapestPricingModel struct {
	CodeToCruiseID    string    `gorm:"column:code_to_cruise_id;primaryKey"`
	InteriorPrice     *float64  `gorm:"column:interior_price"`
	OceanviewPrice    *float64  `gorm:"column:oceanview_price"`
	BalconyPrice      *float64  `gorm:"column:balcony_price"`
	SuitePrice        *float64  `gorm:"column:suite_price"`
	CheapestPrice     *float64  `gorm:"column:cheapest_price"`
	CheapestCabinType *string   `gorm:"column:cheapest_cabin_type"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (CheapestPricingModel) TableName() string {
	return "cheapest_pricing"
}

// PriceSnapshotModel represents the price_snapshots table. Rows are immutable:
// one per observed price change, carrying the pre-change values and the
// webhook event that caused the change.
type PriceSnapshotModel struct {
	ID                int64     `gorm:"column:id;primaryKey;autoIncrement"`
	CodeToCruiseID    string    `gorm:"column:code_to_cruise_id;index:idx_price_snapshots_sailing_created;not null"`
	InteriorPrice     *float64  `gorm:"column:interior_price"`
	OceanviewPrice    *float64  `gorm:"column:oceanview_price"`
	BalconyPrice      *float64  `gorm:"column:balcony_price"`
	SuitePrice        *float64  `gorm:"column:suite_price"`
	CheapestPrice     *float64  `gorm:"column:cheapest_price"`
	CheapestCabinType *string   `gorm:"column:cheapest_cabin_type"`
	WebhookEventID    string    `gorm:"column:webhook_event_id;index"`
	CreatedAt         time.Time `gorm:"column:created_at;not null;autoCreateTime;index:idx_price_snapshots_sailing_created"`
}

func (PriceSnapshotModel) TableName() string {
	return "price_snapshots"
}

// WebhookEventModel represents the webhook_events ledger table
type WebhookEventModel struct {
	ID                  string     `gorm:"column:id;primaryKey"`
	LineID              int        `gorm:"column:line_id;index:idx_webhook_events_line_received;not null"`
	EventType           string     `gorm:"column:event_type;not null"`
	Payload             string     `gorm:"column:payload;type:jsonb"`
	ReceivedAt          time.Time  `gorm:"column:received_at;not null;index:idx_webhook_events_line_received"`
	Status              string     `gorm:"column:status;not null;index"`
	ProcessingStartedAt *time.Time `gorm:"column:processing_started_at"`
	ProcessedAt         *time.Time `gorm:"column:processed_at"`
	ErrorMessage        string     `gorm:"column:error_message;type:text"`
	RetryCount          int        `gorm:"column:retry_count;not null;default:0"`
	DedupKey            string     `gorm:"column:dedup_key;index;not null"`
}

func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

// SyncLockModel represents the sync_locks table. The partial unique index
// allows at most one non-released lock per line.
type SyncLockModel struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	LineID      int        `gorm:"column:line_id;not null;uniqueIndex:idx_sync_locks_line_active,where:status <> 'released'"`
	Owner       string     `gorm:"column:owner;not null"`
	Status      string     `gorm:"column:status;not null"`
	AcquiredAt  time.Time  `gorm:"column:acquired_at;not null"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

func (SyncLockModel) TableName() string {
	return "sync_locks"
}

// SystemFlagModel represents the system_flags table
type SystemFlagModel struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (SystemFlagModel) TableName() string {
	return "system_flags"
}

// AllModels lists every table for auto-migration ordering
func AllModels() []interface{} {
	return []interface{}{
		&CruiseLineModel{},
		&ShipModel{},
		&PortModel{},
		&RegionModel{},
		&CruiseModel{},
		&ItineraryDayModel{},
		&PricingDetailModel{},
		&CheapestPricingModel{},
		&PriceSnapshotModel{},
		&WebhookEventModel{},
		&SyncLockModel{},
		&SystemFlagModel{},
	}
}
