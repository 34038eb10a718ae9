package ports

import (
	"context"
	"errors"
	"time"

	"returns-tracker/internal/features/tracking/domain"
)

var (
	// ErrSignatureUnavailable is returned by FetchSignature when the carrier
	// has no signature for the shipment. This is an expected outcome, not a
	// transport failure.
	ErrSignatureUnavailable = errors.New("signature not available")
	// ErrRecordNotFound is returned when no tracking record exists for a
	// tracking number.
	ErrRecordNotFound = errors.New("tracking record not found")
)

// PieceDetail is the carrier-agnostic result of a detail lookup for one
// piece code. Downstream components never see raw carrier XML.
type PieceDetail struct {
	// TrackingNumber is the piece code the detail belongs to.
	TrackingNumber string
	// Status is the internal status derived from carrier codes. Empty means
	// no status change could be derived from this response.
	Status domain.Status
	// StatusText is the carrier's free-text shipment status.
	StatusText string
	// ICECode and RICCode are the raw shipment-level carrier codes.
	ICECode string
	RICCode string
	// StatusTimestamp is the carrier timestamp of the current status.
	StatusTimestamp time.Time
	// DeliveryFlag is the carrier's delivery-event marker.
	DeliveryFlag bool
	// DestCountry is the destination country code.
	DestCountry string
	// Events is the event timeline from the response, in carrier order.
	Events []domain.TrackingEvent
}

// CarrierClient is the boundary to the carrier tracking API. Implementations
// own all knowledge of the external protocol.
type CarrierClient interface {
	// FetchBatchDetail looks up detail for up to domain.BatchSize piece codes
	// in one call. On any batch-level failure (transport, envelope, carrier
	// error code) it returns an error and no partial data.
	FetchBatchDetail(ctx context.Context, trackingNumbers []string) (map[string]PieceDetail, error)

	// FetchDetail looks up detail for a single piece code. Used as the
	// fallback when a batch call fails.
	FetchDetail(ctx context.Context, trackingNumber string) (PieceDetail, error)

	// FetchSignature retrieves the proof-of-delivery signature image.
	// Returns ErrSignatureUnavailable when the carrier has none.
	FetchSignature(ctx context.Context, trackingNumber string) (domain.SignatureArtifact, error)
}

// TrackingStore is the boundary to the durable store. Records are upserted by
// tracking number; events and signatures are insert-if-absent.
type TrackingStore interface {
	// ListCandidates returns active records whose tracking age at now does
	// not exceed maxAge, ordered by creation time. Each call re-queries from
	// scratch.
	ListCandidates(ctx context.Context, now time.Time, maxAge time.Duration) ([]domain.TrackingRecord, error)

	// GetRecord returns the record for a tracking number, or ErrRecordNotFound.
	GetRecord(ctx context.Context, trackingNumber string) (*domain.TrackingRecord, error)

	// ListEvents returns the stored event timeline in insertion order.
	ListEvents(ctx context.Context, trackingNumber string) ([]domain.TrackingEvent, error)

	// HasSignature reports whether a signature artifact is already stored.
	HasSignature(ctx context.Context, trackingNumber string) (bool, error)

	// GetSignature returns the stored signature, or ErrRecordNotFound.
	GetSignature(ctx context.Context, trackingNumber string) (*domain.SignatureArtifact, error)

	// RegisterShipment creates an active tracking record when a shipment
	// first receives a tracking number. Registering an existing tracking
	// number returns the stored record unchanged.
	RegisterShipment(ctx context.Context, shipmentRef, trackingNumber string, now time.Time) (*domain.TrackingRecord, error)

	// ApplyUpdate persists one shipment's merged state as a single atomic
	// unit: the record upsert, zero or more event inserts and an optional
	// signature insert all commit or none do.
	ApplyUpdate(ctx context.Context, record *domain.TrackingRecord, newEvents []domain.TrackingEvent, sig *domain.SignatureArtifact) error
}
