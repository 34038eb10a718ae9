package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"returns-tracker/internal/core/cache"
	"returns-tracker/internal/core/logger"
	"returns-tracker/internal/features/tracking/domain"
	"returns-tracker/internal/features/tracking/ports"

	"go.uber.org/zap"
)

// signatureDestCountry limits signature retrieval to domestic deliveries;
// the carrier only serves signatures for those.
const signatureDestCountry = "DE"

// CycleSummary reports what one reconciliation cycle did.
type CycleSummary struct {
	// Total is the number of candidate shipments at cycle start.
	Total int `json:"total"`
	// Updated is the number of shipments whose merged state was persisted.
	Updated int `json:"updated"`
	// NoUpdate is the number of shipments with no usable carrier data this cycle.
	NoUpdate int `json:"no_update"`
	// Failed is the number of shipments whose merged state could not be persisted.
	Failed int `json:"failed"`
	// BatchCalls is the number of planned batch API calls.
	BatchCalls int `json:"batch_calls"`
}

// Reconciler runs tracking reconciliation cycles: select candidates, plan
// batches, fetch carrier detail with fallback, merge and persist per shipment.
type Reconciler struct {
	store    ports.TrackingStore
	carrier  ports.CarrierClient
	cache    cache.Cache
	policy   domain.Policy
	resolver *batchResolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler creates a Reconciler. The cache is optional and may be nil.
func NewReconciler(store ports.TrackingStore, carrier ports.CarrierClient, responseCache cache.Cache, policy domain.Policy) *Reconciler {
	l := logger.Get()
	return &Reconciler{
		store:    store,
		carrier:  carrier,
		cache:    responseCache,
		policy:   policy,
		resolver: &batchResolver{carrier: carrier, logger: l},
		logger:   l,
		now:      time.Now,
	}
}

// RunCycle performs one full reconciliation pass. Only total unavailability
// of the store fails the cycle; carrier and per-shipment persistence problems
// are absorbed into the summary counters. The context is honored between
// batches, so a shutdown never interrupts a shipment mid-write.
func (r *Reconciler) RunCycle(ctx context.Context) (CycleSummary, error) {
	now := r.now().UTC()

	candidates, err := r.store.ListCandidates(ctx, now, r.policy.MaxAge)
	if err != nil {
		return CycleSummary{}, fmt.Errorf("failed to select candidates: %w", err)
	}

	summary := CycleSummary{Total: len(candidates)}
	if len(candidates) == 0 {
		return summary, nil
	}

	recordsByNumber := make(map[string]domain.TrackingRecord, len(candidates))
	numbers := make([]string, 0, len(candidates))
	for _, record := range candidates {
		recordsByNumber[record.TrackingNumber] = record
		numbers = append(numbers, record.TrackingNumber)
	}

	r.logger.Info("Reconciliation cycle started",
		zap.Int("candidates", len(candidates)),
		zap.Int("batch_size", r.policy.BatchSize),
	)

	for _, batch := range domain.PlanBatches(numbers, r.policy.BatchSize) {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		summary.BatchCalls++
		outcomes := r.resolver.Resolve(ctx, batch)

		for _, trackingNumber := range batch {
			outcome := outcomes[trackingNumber]
			if !outcome.OK() {
				summary.NoUpdate++
				continue
			}

			record := recordsByNumber[trackingNumber]
			if err := r.applyOutcome(ctx, record, outcome.Detail, now); err != nil {
				r.logger.Error("Failed to persist shipment update",
					zap.String("tracking_number", trackingNumber),
					zap.Error(err),
				)
				summary.Failed++
				continue
			}
			summary.Updated++
		}
	}

	r.logger.Info("Reconciliation cycle complete",
		zap.Int("total", summary.Total),
		zap.Int("updated", summary.Updated),
		zap.Int("no_update", summary.NoUpdate),
		zap.Int("failed", summary.Failed),
		zap.Int("batch_calls", summary.BatchCalls),
	)
	return summary, nil
}

// ReconcileOne refreshes a single shipment on demand. Terminal records are
// returned unchanged; their state is settled.
func (r *Reconciler) ReconcileOne(ctx context.Context, trackingNumber string) (*domain.TrackingRecord, error) {
	record, err := r.store.GetRecord(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	if record.Status.IsTerminal() {
		return record, nil
	}

	outcome := r.resolver.resolveOne(ctx, trackingNumber)
	if !outcome.OK() {
		return nil, fmt.Errorf("carrier lookup failed for %s: %w", trackingNumber, outcome.Err)
	}

	if err := r.applyOutcome(ctx, *record, outcome.Detail, r.now().UTC()); err != nil {
		return nil, err
	}

	return r.store.GetRecord(ctx, trackingNumber)
}

// applyOutcome merges fetched detail into stored state and persists the
// result as one atomic per-shipment write. A signature fetch failure never
// rolls back the merged status and events.
func (r *Reconciler) applyOutcome(ctx context.Context, record domain.TrackingRecord, detail ports.PieceDetail, now time.Time) error {
	stored, err := r.store.ListEvents(ctx, record.TrackingNumber)
	if err != nil {
		return fmt.Errorf("failed to load stored events: %w", err)
	}

	merged := mergeDetail(record, stored, detail, now, r.policy)

	var sig *domain.SignatureArtifact
	if r.wantsSignature(ctx, merged.record) {
		artifact, sigErr := r.carrier.FetchSignature(ctx, record.TrackingNumber)
		switch {
		case sigErr == nil:
			sig = &artifact
		case errors.Is(sigErr, ports.ErrSignatureUnavailable):
			r.logger.Debug("No signature available yet",
				zap.String("tracking_number", record.TrackingNumber),
			)
		default:
			r.logger.Warn("Signature fetch failed, will retry next cycle",
				zap.String("tracking_number", record.TrackingNumber),
				zap.Error(sigErr),
			)
		}
	}

	if err := r.store.ApplyUpdate(ctx, &merged.record, merged.newEvents, sig); err != nil {
		return fmt.Errorf("failed to persist update: %w", err)
	}

	r.invalidateCache(ctx, record.TrackingNumber)
	return nil
}

// wantsSignature reports whether a proof-of-delivery fetch should run for the
// merged record: delivered, domestic, and no artifact stored yet.
func (r *Reconciler) wantsSignature(ctx context.Context, record domain.TrackingRecord) bool {
	if record.Status != domain.StatusDelivered {
		return false
	}
	if !strings.EqualFold(record.DestCountry, signatureDestCountry) {
		return false
	}
	has, err := r.store.HasSignature(ctx, record.TrackingNumber)
	if err != nil {
		r.logger.Warn("Signature lookup failed, skipping fetch",
			zap.String("tracking_number", record.TrackingNumber),
			zap.Error(err),
		)
		return false
	}
	return !has
}

func (r *Reconciler) invalidateCache(ctx context.Context, trackingNumber string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, TrackingCacheKey(trackingNumber)); err != nil {
		r.logger.Debug("Cache invalidation failed",
			zap.String("tracking_number", trackingNumber),
			zap.Error(err),
		)
	}
}

// TrackingCacheKey is the cache key for a shipment's tracking detail response.
func TrackingCacheKey(trackingNumber string) string {
	return "tracking:" + trackingNumber
}
