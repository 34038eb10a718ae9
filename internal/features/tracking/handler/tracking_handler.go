package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"returns-tracker/internal/core/cache"
	"returns-tracker/internal/core/logger"
	"returns-tracker/internal/features/tracking/domain"
	"returns-tracker/internal/features/tracking/ports"
	"returns-tracker/internal/features/tracking/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// detailCacheTTL bounds how stale a cached tracking response may get between
// reconciliation cycles.
const detailCacheTTL = 5 * time.Minute

// Refresher triggers an on-demand reconciliation of a single shipment.
type Refresher interface {
	ReconcileOne(ctx context.Context, trackingNumber string) (*domain.TrackingRecord, error)
}

// TrackingHandler handles HTTP requests for tracking operations.
type TrackingHandler struct {
	store     ports.TrackingStore
	refresher Refresher
	cache     cache.Cache
}

// NewTrackingHandler creates a new TrackingHandler. The cache is optional
// and may be nil.
func NewTrackingHandler(store ports.TrackingStore, refresher Refresher, responseCache cache.Cache) *TrackingHandler {
	return &TrackingHandler{
		store:     store,
		refresher: refresher,
		cache:     responseCache,
	}
}

// ErrorResponse represents an error response with Ray ID.
type ErrorResponse struct {
	// Message is the error description.
	Message string `json:"message"`
	// RayID is the unique request identifier for tracing.
	RayID string `json:"ray_id,omitempty"`
}

// TrackingDetailResponse is the API view of one shipment: its current record
// plus the full ordered event history.
type TrackingDetailResponse struct {
	ShipmentRef    string                 `json:"shipment_ref"`
	TrackingNumber string                 `json:"tracking_number"`
	Status         domain.Status          `json:"status"`
	DestCountry    string                 `json:"dest_country,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	LastCheckedAt  time.Time              `json:"last_checked_at"`
	DeliveredAt    *time.Time             `json:"delivered_at,omitempty"`
	Events         []domain.TrackingEvent `json:"events"`
}

// RegisterShipmentRequest is the request body for registering a return label.
type RegisterShipmentRequest struct {
	ShipmentRef    string `json:"shipment_ref"`
	TrackingNumber string `json:"tracking_number"`
}

// GetTracking handles GET /tracking/:number.
func (h *TrackingHandler) GetTracking(c *fiber.Ctx) error {
	trackingNumber := c.Params("number")
	if trackingNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Message: "tracking number is required",
			RayID:   rayID(c),
		})
	}

	ctx := c.Context()

	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, service.TrackingCacheKey(trackingNumber)); err == nil {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(cached)
		}
	}

	record, err := h.store.GetRecord(ctx, trackingNumber)
	if err != nil {
		if errors.Is(err, ports.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Message: "tracking number not found",
				RayID:   rayID(c),
			})
		}
		logger.Get().Error("Failed to load tracking record", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Message: "internal server error",
			RayID:   rayID(c),
		})
	}

	events, err := h.store.ListEvents(ctx, trackingNumber)
	if err != nil {
		logger.Get().Error("Failed to load tracking events", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Message: "internal server error",
			RayID:   rayID(c),
		})
	}

	response := detailResponse(record, events)

	if h.cache != nil {
		if body, err := json.Marshal(response); err == nil {
			if err := h.cache.Set(ctx, service.TrackingCacheKey(trackingNumber), body, detailCacheTTL); err != nil {
				logger.Get().Debug("Failed to cache tracking response", zap.Error(err))
			}
		}
	}

	return c.JSON(response)
}

// GetSignature handles GET /tracking/:number/signature. It serves the stored
// proof-of-delivery image as binary with its original mime type.
func (h *TrackingHandler) GetSignature(c *fiber.Ctx) error {
	trackingNumber := c.Params("number")
	if trackingNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Message: "tracking number is required",
			RayID:   rayID(c),
		})
	}

	sig, err := h.store.GetSignature(c.Context(), trackingNumber)
	if err != nil {
		if errors.Is(err, ports.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Message: "no signature stored for this shipment",
				RayID:   rayID(c),
			})
		}
		logger.Get().Error("Failed to load signature", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Message: "internal server error",
			RayID:   rayID(c),
		})
	}

	c.Set(fiber.HeaderContentType, sig.MimeType)
	return c.Send(sig.Image)
}

// RefreshTracking handles POST /tracking/:number/refresh. It bypasses the
// worker schedule and reconciles one shipment against the carrier now.
func (h *TrackingHandler) RefreshTracking(c *fiber.Ctx) error {
	trackingNumber := c.Params("number")
	if trackingNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Message: "tracking number is required",
			RayID:   rayID(c),
		})
	}

	record, err := h.refresher.ReconcileOne(c.Context(), trackingNumber)
	if err != nil {
		if errors.Is(err, ports.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Message: "tracking number not found",
				RayID:   rayID(c),
			})
		}
		logger.Get().Warn("On-demand refresh failed",
			zap.String("tracking_number", trackingNumber),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{
			Message: "carrier lookup failed",
			RayID:   rayID(c),
		})
	}

	events, err := h.store.ListEvents(c.Context(), trackingNumber)
	if err != nil {
		logger.Get().Error("Failed to load tracking events", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Message: "internal server error",
			RayID:   rayID(c),
		})
	}

	return c.JSON(detailResponse(record, events))
}

// RegisterShipment handles POST /shipments. Registration is idempotent per
// tracking number; a missing shipment reference gets a generated one.
func (h *TrackingHandler) RegisterShipment(c *fiber.Ctx) error {
	var req RegisterShipmentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Message: "invalid request body",
			RayID:   rayID(c),
		})
	}

	if req.TrackingNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Message: "tracking_number is required",
			RayID:   rayID(c),
		})
	}
	if req.ShipmentRef == "" {
		req.ShipmentRef = uuid.NewString()
	}

	record, err := h.store.RegisterShipment(c.Context(), req.ShipmentRef, req.TrackingNumber, time.Now().UTC())
	if err != nil {
		logger.Get().Error("Failed to register shipment", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Message: "internal server error",
			RayID:   rayID(c),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(detailResponse(record, nil))
}

func detailResponse(record *domain.TrackingRecord, events []domain.TrackingEvent) TrackingDetailResponse {
	if events == nil {
		events = []domain.TrackingEvent{}
	}
	return TrackingDetailResponse{
		ShipmentRef:    record.ShipmentRef,
		TrackingNumber: record.TrackingNumber,
		Status:         record.Status,
		DestCountry:    record.DestCountry,
		CreatedAt:      record.CreatedAt,
		LastCheckedAt:  record.LastCheckedAt,
		DeliveredAt:    record.DeliveredAt,
		Events:         events,
	}
}

func rayID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}
