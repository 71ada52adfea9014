package factsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNoActiveMapping   = errors.New("no active venue mapping")
	ErrUnsupportedFamily = errors.New("unsupported pos family")
)

// Querier runs read-only queries against the source replica.
// *sourcedb.Manager satisfies it.
type Querier interface {
	Select(ctx context.Context, dest any, query string, args ...any) error
	Get(ctx context.Context, dest any, query string, args ...any) error
}

// Location identifies a venue inside a vendor's data. Name is the
// human-readable key historical tables use.
type Location struct {
	ID   string
	Name string
}

type ResolvedVenue struct {
	VenueId   string
	Location  Location
	Family    models.PosFamily
	MappingId uint
}

// RawDaySummary is one venue-day as a single source table reported it.
type RawDaySummary struct {
	ChecksCount int
	CoversCount int
	GrossSales  decimal.Decimal
	NetSales    decimal.Decimal
	TaxTotal    decimal.Decimal
	CompsTotal  decimal.Decimal
	VoidsTotal  decimal.Decimal
	Source      models.DataSource
}

type CategoryBreakdown struct {
	Name       string
	Type       models.CategoryType
	Quantity   decimal.Decimal
	GrossSales decimal.Decimal
}

type ServerBreakdown struct {
	EmployeeName string
	ChecksCount  int
	CoversCount  int
	GrossSales   decimal.Decimal
	NetSales     decimal.Decimal
	Tips         decimal.Decimal
}

type ItemBreakdown struct {
	Name       string
	Category   string
	Type       models.CategoryType
	Quantity   decimal.Decimal
	GrossSales decimal.Decimal
}

// Extractor reads one POS family's schema. ExtractDay returns nil when the
// source has no data for the day; the other calls take that summary so they
// follow the same source table.
type Extractor interface {
	Family() models.PosFamily
	ListDates(ctx context.Context, loc Location) ([]time.Time, error)
	ExtractDay(ctx context.Context, loc Location, date time.Time) (*RawDaySummary, error)
	ExtractCategoryBreakdown(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]CategoryBreakdown, error)
	ExtractTips(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) (decimal.Decimal, error)
	ExtractServers(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]ServerBreakdown, error)
	ExtractItems(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]ItemBreakdown, error)
}

// SyncPubSubPayload is the body of a run dispatch message.
type SyncPubSubPayload struct {
	RunId         uint   `json:"run_id"`
	CorrelationId string `json:"correlation_id"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type TriggerRunRequest struct {
	StartDate string   `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string   `json:"endDate" validate:"required,datetime=2006-01-02"`
	VenueIds  []string `json:"venueIds" validate:"omitempty,max=500,dive,required,max=64"`
}

type SyncRunResponse struct {
	ID            uint     `json:"id"`
	Status        string   `json:"status"`
	TriggeredBy   string   `json:"triggeredBy"`
	StartDate     string   `json:"startDate"`
	EndDate       string   `json:"endDate"`
	VenueIds      []string `json:"venueIds"`
	VenuesTotal   int      `json:"venuesTotal"`
	VenuesSkipped int      `json:"venuesSkipped"`
	DaysTotal     int      `json:"daysTotal"`
	DaysSynced    int      `json:"daysSynced"`
	DaysFailed    int      `json:"daysFailed"`
	ErrorCount    int      `json:"errorCount"`
	StartedAt     *string  `json:"startedAt"`
	FinishedAt    *string  `json:"finishedAt"`
	DurationMs    int64    `json:"durationMs"`
	ParentRunId   *uint    `json:"parentRunId"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID           uint    `json:"id"`
	VenueId      string  `json:"venueId"`
	BusinessDate *string `json:"businessDate"`
	Stage        string  `json:"stage"`
	Message      string  `json:"message"`
	Retryable    bool    `json:"retryable"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type VenueDayResponse struct {
	VenueId      string `json:"venueId"`
	BusinessDate string `json:"businessDate"`
	HasSales     bool   `json:"hasSales"`
	HasLabor     bool   `json:"hasLabor"`
	Error        string `json:"error,omitempty"`
}

func encodePayload(p SyncPubSubPayload) []byte {
	b, _ := json.Marshal(p)
	return b
}
