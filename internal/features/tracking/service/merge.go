package service

import (
	"time"

	"returns-tracker/internal/features/tracking/domain"
	"returns-tracker/internal/features/tracking/ports"
)

// mergeResult is what one shipment's reconcile step produces: the updated
// record and the events that are new relative to the stored timeline.
type mergeResult struct {
	record    domain.TrackingRecord
	newEvents []domain.TrackingEvent
}

// mergeDetail applies fetched carrier detail onto the stored shipment state.
// Merging the same detail twice yields no additional events and the same
// record, so a replayed response is harmless.
func mergeDetail(record domain.TrackingRecord, stored []domain.TrackingEvent, detail ports.PieceDetail, now time.Time, policy domain.Policy) mergeResult {
	record.Status = domain.NextStatus(record.Status, detail.Status, record.CreatedAt, now, policy.MaxAge)
	record.LastCheckedAt = now

	if detail.DestCountry != "" {
		record.DestCountry = detail.DestCountry
	}

	if record.Status == domain.StatusDelivered && record.DeliveredAt == nil {
		deliveredAt := detail.StatusTimestamp
		if deliveredAt.IsZero() {
			deliveredAt = now
		}
		record.DeliveredAt = &deliveredAt
	}

	seen := make(map[domain.EventKey]struct{}, len(stored))
	for _, ev := range stored {
		seen[ev.Key()] = struct{}{}
	}

	var newEvents []domain.TrackingEvent
	for _, ev := range detail.Events {
		ev.TrackingNumber = record.TrackingNumber
		key := ev.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		newEvents = append(newEvents, ev)
	}

	return mergeResult{record: record, newEvents: newEvents}
}
