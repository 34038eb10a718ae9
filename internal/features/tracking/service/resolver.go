package service

import (
	"context"

	"returns-tracker/internal/features/tracking/ports"

	"go.uber.org/zap"
)

// FetchOutcome is the tagged result of resolving one tracking number:
// either detail data or a failure meaning "no update this cycle".
type FetchOutcome struct {
	Detail ports.PieceDetail
	Err    error
}

// OK reports whether the outcome carries usable detail data.
func (o FetchOutcome) OK() bool {
	return o.Err == nil
}

// batchResolver applies the two-tier fetch strategy: one batch call first,
// then one individual call per piece code when the batch call fails at the
// batch level. An individual failure never blocks sibling numbers.
type batchResolver struct {
	carrier ports.CarrierClient
	logger  *zap.Logger
}

// Resolve fetches detail for every tracking number in the batch and always
// returns an outcome per number.
func (r *batchResolver) Resolve(ctx context.Context, batch []string) map[string]FetchOutcome {
	outcomes := make(map[string]FetchOutcome, len(batch))
	if len(batch) == 0 {
		return outcomes
	}

	details, err := r.carrier.FetchBatchDetail(ctx, batch)
	if err != nil {
		r.logger.Warn("Batch detail call failed, falling back to individual lookups",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		for _, trackingNumber := range batch {
			outcomes[trackingNumber] = r.resolveOne(ctx, trackingNumber)
		}
		return outcomes
	}

	var missing []string
	for _, trackingNumber := range batch {
		if detail, ok := details[trackingNumber]; ok {
			outcomes[trackingNumber] = FetchOutcome{Detail: detail}
		} else {
			missing = append(missing, trackingNumber)
		}
	}

	// A successful batch response may still omit individual piece codes;
	// fill the gaps one by one.
	if len(missing) > 0 {
		r.logger.Info("Batch response missing results, trying individually",
			zap.Int("missing", len(missing)),
		)
		for _, trackingNumber := range missing {
			outcomes[trackingNumber] = r.resolveOne(ctx, trackingNumber)
		}
	}

	return outcomes
}

func (r *batchResolver) resolveOne(ctx context.Context, trackingNumber string) FetchOutcome {
	detail, err := r.carrier.FetchDetail(ctx, trackingNumber)
	if err != nil {
		r.logger.Warn("Individual detail lookup failed, no update this cycle",
			zap.String("tracking_number", trackingNumber),
			zap.Error(err),
		)
		return FetchOutcome{Err: err}
	}
	return FetchOutcome{Detail: detail}
}
