package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"returns-tracker/internal/core/logger"
	"returns-tracker/internal/features/tracking/domain"
	"returns-tracker/internal/features/tracking/ports"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

type trackingRecordRow struct {
	bun.BaseModel `bun:"table:tracking_records,alias:tr"`

	TrackingNumber string     `bun:"tracking_number,pk"`
	ShipmentRef    string     `bun:"shipment_ref,notnull"`
	Status         string     `bun:"status,notnull"`
	DestCountry    string     `bun:"dest_country"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	LastCheckedAt  time.Time  `bun:"last_checked_at,nullzero"`
	DeliveredAt    *time.Time `bun:"delivered_at"`
}

type trackingEventRow struct {
	bun.BaseModel `bun:"table:tracking_events,alias:te"`

	ID             int64     `bun:"id,pk,autoincrement"`
	TrackingNumber string    `bun:"tracking_number,notnull"`
	EventTimestamp time.Time `bun:"event_timestamp,notnull"`
	ICECode        string    `bun:"ice_code,notnull,default:''"`
	RICCode        string    `bun:"ric_code,notnull,default:''"`
	StatusText     string    `bun:"status_text"`
	Location       string    `bun:"location"`
	Country        string    `bun:"country"`
	Sequence       int       `bun:"sequence"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

type trackingSignatureRow struct {
	bun.BaseModel `bun:"table:tracking_signatures,alias:ts"`

	TrackingNumber string    `bun:"tracking_number,pk"`
	Image          []byte    `bun:"image,notnull"`
	MimeType       string    `bun:"mime_type,notnull,default:'image/gif'"`
	RetrievedAt    time.Time `bun:"retrieved_at,notnull"`
}

// BunStore implements ports.TrackingStore on top of a bun database.
type BunStore struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewBunStore creates a BunStore. Call Init before first use.
func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db, logger: logger.Get()}
}

// Init creates the tracking tables and the event identity index.
func (s *BunStore) Init(ctx context.Context) error {
	models := []interface{}{
		(*trackingRecordRow)(nil),
		(*trackingEventRow)(nil),
		(*trackingSignatureRow)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// Event identity: (tracking number, timestamp, code pair). The index backs
	// the insert-if-absent contract for timelines.
	if _, err := s.db.NewCreateIndex().
		Model((*trackingEventRow)(nil)).
		Index("ux_tracking_events_identity").
		Unique().
		Column("tracking_number", "event_timestamp", "ice_code", "ric_code").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create event identity index: %w", err)
	}

	return nil
}

// ListCandidates implements ports.TrackingStore.
func (s *BunStore) ListCandidates(ctx context.Context, now time.Time, maxAge time.Duration) ([]domain.TrackingRecord, error) {
	var rows []trackingRecordRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("status = ?", string(domain.StatusActive)).
		Where("created_at >= ?", now.Add(-maxAge)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}

	records := make([]domain.TrackingRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}
	return records, nil
}

// GetRecord implements ports.TrackingStore.
func (s *BunStore) GetRecord(ctx context.Context, trackingNumber string) (*domain.TrackingRecord, error) {
	var row trackingRecordRow
	err := s.db.NewSelect().
		Model(&row).
		Where("tracking_number = ?", trackingNumber).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", trackingNumber, err)
	}

	record := recordFromRow(row)
	return &record, nil
}

// ListEvents implements ports.TrackingStore. Events come back in insertion order.
func (s *BunStore) ListEvents(ctx context.Context, trackingNumber string) ([]domain.TrackingEvent, error) {
	var rows []trackingEventRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("tracking_number = ?", trackingNumber).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for %s: %w", trackingNumber, err)
	}

	events := make([]domain.TrackingEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.TrackingEvent{
			TrackingNumber: row.TrackingNumber,
			Timestamp:      row.EventTimestamp,
			ICECode:        row.ICECode,
			RICCode:        row.RICCode,
			StatusText:     row.StatusText,
			Location:       row.Location,
			Country:        row.Country,
			Sequence:       row.Sequence,
		})
	}
	return events, nil
}

// HasSignature implements ports.TrackingStore.
func (s *BunStore) HasSignature(ctx context.Context, trackingNumber string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*trackingSignatureRow)(nil)).
		Where("tracking_number = ?", trackingNumber).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check signature for %s: %w", trackingNumber, err)
	}
	return exists, nil
}

// GetSignature implements ports.TrackingStore.
func (s *BunStore) GetSignature(ctx context.Context, trackingNumber string) (*domain.SignatureArtifact, error) {
	var row trackingSignatureRow
	err := s.db.NewSelect().
		Model(&row).
		Where("tracking_number = ?", trackingNumber).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signature for %s: %w", trackingNumber, err)
	}

	return &domain.SignatureArtifact{
		TrackingNumber: row.TrackingNumber,
		Image:          row.Image,
		MimeType:       row.MimeType,
		RetrievedAt:    row.RetrievedAt,
	}, nil
}

// RegisterShipment implements ports.TrackingStore. Registration is
// insert-if-absent: re-registering an existing tracking number leaves the
// stored record untouched, keeping the tracking number immutable.
func (s *BunStore) RegisterShipment(ctx context.Context, shipmentRef, trackingNumber string, now time.Time) (*domain.TrackingRecord, error) {
	if shipmentRef == "" || trackingNumber == "" {
		return nil, fmt.Errorf("shipment ref and tracking number are required")
	}

	row := trackingRecordRow{
		TrackingNumber: trackingNumber,
		ShipmentRef:    shipmentRef,
		Status:         string(domain.StatusActive),
		CreatedAt:      now.UTC(),
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (tracking_number) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to register shipment %s: %w", trackingNumber, err)
	}

	return s.GetRecord(ctx, trackingNumber)
}

// ApplyUpdate implements ports.TrackingStore. The record upsert, event
// inserts and signature insert commit together or not at all, so a cycle can
// be aborted between shipments without partial writes.
func (s *BunStore) ApplyUpdate(ctx context.Context, record *domain.TrackingRecord, newEvents []domain.TrackingEvent, sig *domain.SignatureArtifact) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := rowFromRecord(*record)
		if _, err := tx.NewInsert().
			Model(&row).
			On("CONFLICT (tracking_number) DO UPDATE").
			Set("status = EXCLUDED.status").
			Set("dest_country = EXCLUDED.dest_country").
			Set("last_checked_at = EXCLUDED.last_checked_at").
			Set("delivered_at = EXCLUDED.delivered_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", record.TrackingNumber, err)
		}

		if len(newEvents) > 0 {
			rows := make([]trackingEventRow, 0, len(newEvents))
			for _, ev := range newEvents {
				rows = append(rows, trackingEventRow{
					TrackingNumber: record.TrackingNumber,
					EventTimestamp: ev.Timestamp,
					ICECode:        ev.ICECode,
					RICCode:        ev.RICCode,
					StatusText:     ev.StatusText,
					Location:       ev.Location,
					Country:        ev.Country,
					Sequence:       ev.Sequence,
					CreatedAt:      time.Now().UTC(),
				})
			}
			if _, err := tx.NewInsert().
				Model(&rows).
				On("CONFLICT DO NOTHING").
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert events for %s: %w", record.TrackingNumber, err)
			}
		}

		if sig != nil {
			sigRow := trackingSignatureRow{
				TrackingNumber: record.TrackingNumber,
				Image:          sig.Image,
				MimeType:       sig.MimeType,
				RetrievedAt:    sig.RetrievedAt.UTC(),
			}
			if _, err := tx.NewInsert().
				Model(&sigRow).
				On("CONFLICT (tracking_number) DO NOTHING").
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert signature for %s: %w", record.TrackingNumber, err)
			}
		}

		return nil
	})
}

func recordFromRow(row trackingRecordRow) domain.TrackingRecord {
	return domain.TrackingRecord{
		ShipmentRef:    row.ShipmentRef,
		TrackingNumber: row.TrackingNumber,
		Status:         domain.Status(row.Status),
		DestCountry:    row.DestCountry,
		CreatedAt:      row.CreatedAt,
		LastCheckedAt:  row.LastCheckedAt,
		DeliveredAt:    row.DeliveredAt,
	}
}

func rowFromRecord(record domain.TrackingRecord) trackingRecordRow {
	return trackingRecordRow{
		TrackingNumber: record.TrackingNumber,
		ShipmentRef:    record.ShipmentRef,
		Status:         string(record.Status),
		DestCountry:    record.DestCountry,
		CreatedAt:      record.CreatedAt,
		LastCheckedAt:  record.LastCheckedAt,
		DeliveredAt:    record.DeliveredAt,
	}
}
