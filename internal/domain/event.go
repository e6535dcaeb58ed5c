package domain

// Stage is a state of the supply update pipeline.
type Stage string

const (
	StageValidated      Stage = "validated"
	StageSubmitted      Stage = "submitted"
	StageConfirmed      Stage = "confirmed"
	StageSupplyMeasured Stage = "supply_measured"
	StagePriceComputed  Stage = "price_computed"
	StagePersisted      Stage = "persisted"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// Event status values.
const (
	EventStatusOK     = "ok"
	EventStatusFailed = "failed"
)

// UpdateEvent records one transition of a supply update.
// Corresponds to supply_update_events table in PostgreSQL.
type UpdateEvent struct {
	EventID         string        // SHA256(operation_id|stage|status)
	OperationID     string        // groups all events of one request
	ModelID         string        // model the operation targets
	TokenAddress    string        // fungible asset address
	Kind            OperationKind // mint | burn | "" for onboarding
	Stage           Stage         // state entered
	FailedStage     string        // ledger | supply-read | persist (failed events only)
	Status          string        // ok | failed
	TransactionHash string        // set once known
	Price           *float64      // quoted price at this stage (nullable)
	TotalSupply     *float64      // measured supply (nullable)
	ImpactPct       *float64      // price impact (nullable)
	Detail          string        // error text or note
	OccurredAt      int64         // ms
}

// PriceTick is an analytics record of one quoted price change.
// Corresponds to price_ticks table in ClickHouse.
type PriceTick struct {
	ModelID         string
	TokenAddress    string
	TransactionHash string
	Kind            OperationKind
	Amount          float64
	SupplyBaseline  float64
	TotalSupply     float64
	OldPrice        float64
	NewPrice        float64
	ImpactPct       float64
	TimestampMs     int64
}
