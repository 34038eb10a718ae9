package domain

import "time"

// Status is the lifecycle state of a tracked shipment.
type Status string

const (
	// StatusActive indicates the shipment is still in transit and under tracking.
	StatusActive Status = "active"
	// StatusDelivered indicates the carrier confirmed delivery.
	StatusDelivered Status = "delivered"
	// StatusException indicates the carrier reported a terminal problem
	// (not deliverable, returned to sender, lost).
	StatusException Status = "exception"
	// StatusExpired indicates tracking aged out without a carrier-terminal outcome.
	StatusExpired Status = "expired"
)

// IsTerminal reports whether no further transitions may occur from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusException, StatusExpired:
		return true
	}
	return false
}

const (
	// MaxTrackingAge is how long a shipment stays under tracking before it expires.
	MaxTrackingAge = 90 * 24 * time.Hour
	// BatchSize is the carrier's hard limit of piece codes per batch call.
	BatchSize = 20
)

// Policy carries the reconciliation constants. The values are fixed at build
// time but injected so tests can vary them.
type Policy struct {
	MaxAge    time.Duration
	BatchSize int
}

// DefaultPolicy returns the production reconciliation policy.
func DefaultPolicy() Policy {
	return Policy{MaxAge: MaxTrackingAge, BatchSize: BatchSize}
}

// TrackingRecord is the durable per-shipment tracking state.
// The tracking number is immutable once set and status transitions are
// monotone: terminal states are never left.
type TrackingRecord struct {
	// ShipmentRef links the record to the originating return shipment.
	ShipmentRef string `json:"shipment_ref"`
	// TrackingNumber is the carrier piece code.
	TrackingNumber string `json:"tracking_number"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// DestCountry is the destination country reported by the carrier.
	DestCountry string `json:"dest_country,omitempty"`
	// CreatedAt is when tracking started for this shipment.
	CreatedAt time.Time `json:"created_at"`
	// LastCheckedAt is when the carrier was last queried for this shipment.
	LastCheckedAt time.Time `json:"last_checked_at"`
	// DeliveredAt is set if and only if Status is StatusDelivered.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// Age returns how long the shipment has been under tracking at now.
func (r TrackingRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// TrackingEvent is one entry in a shipment's append-only event timeline.
// The raw carrier codes are persisted as-is; resolving them to human-readable
// descriptions is a presentation concern.
type TrackingEvent struct {
	// TrackingNumber is the carrier piece code this event belongs to.
	TrackingNumber string `json:"tracking_number"`
	// Timestamp is when the event occurred at the carrier.
	Timestamp time.Time `json:"timestamp"`
	// ICECode is the carrier's event code.
	ICECode string `json:"ice_code"`
	// RICCode is the carrier's event reason code.
	RICCode string `json:"ric_code"`
	// StatusText is the carrier's free-text event description.
	StatusText string `json:"status_text,omitempty"`
	// Location is the free-text event location.
	Location string `json:"location,omitempty"`
	// Country is the event country.
	Country string `json:"country,omitempty"`
	// Sequence is the event's position within the carrier response.
	Sequence int `json:"sequence"`
}

// EventKey identifies an event for deduplication.
type EventKey struct {
	TrackingNumber string
	UnixTimestamp  int64
	ICECode        string
	RICCode        string
}

// Key returns the deduplication identity of the event.
func (e TrackingEvent) Key() EventKey {
	return EventKey{
		TrackingNumber: e.TrackingNumber,
		UnixTimestamp:  e.Timestamp.Unix(),
		ICECode:        e.ICECode,
		RICCode:        e.RICCode,
	}
}

// SignatureArtifact is the proof-of-delivery image for a shipment.
// At most one exists per tracking record; once stored it is never re-fetched.
type SignatureArtifact struct {
	// TrackingNumber is the carrier piece code the signature belongs to.
	TrackingNumber string `json:"tracking_number"`
	// Image is the raw binary image payload.
	Image []byte `json:"-"`
	// MimeType is the image content type (typically image/gif).
	MimeType string `json:"mime_type"`
	// RetrievedAt is when the signature was fetched from the carrier.
	RetrievedAt time.Time `json:"retrieved_at"`
}
