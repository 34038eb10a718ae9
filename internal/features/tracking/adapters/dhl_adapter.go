package adapter

import (
	"context"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"returns-tracker/internal/core/config"
	"returns-tracker/internal/core/httpclient"
	"returns-tracker/internal/core/logger"
	"returns-tracker/internal/features/tracking/domain"
	"returns-tracker/internal/features/tracking/ports"

	"go.uber.org/zap"
)

// ICE codes indicating delivery.
var deliveredICECodes = map[string]bool{
	"DLVRD": true, // delivered
	"PCKDU": true, // picked up at parcel shop
}

// ICE codes indicating terminal exceptions.
var exceptionICECodes = map[string]bool{
	"NTDEL": true, // not deliverable
	"SRTED": true, // sorted out
	"RETUR": true, // returned to sender
	"RSTRY": true, // restow / retry exhausted
}

// Timestamp layouts observed across DHL response variants.
var dhlTimestampLayouts = []string{
	"02.01.2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// minSignatureBytes guards against responses carrying a truncated image attribute.
const minSignatureBytes = 10

// DHLAdapter talks to the DHL piece tracking XML API. Requests carry an XML
// payload in the "xml" query parameter; application credentials travel inside
// the payload, client credentials as HTTP Basic auth.
type DHLAdapter struct {
	baseURL      string
	username     string
	password     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewDHLAdapter creates a DHLAdapter from the carrier configuration.
func NewDHLAdapter(cfg config.DHLConfig) *DHLAdapter {
	return &DHLAdapter{
		baseURL:      cfg.APIURL,
		username:     cfg.Username,
		password:     cfg.Password,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpclient.NewClient(60 * time.Second),
		logger:       logger.Get(),
	}
}

// xmlNode models DHL's generic envelope where every element is named <data>
// and all payload lives in attributes.
type xmlNode struct {
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []xmlNode  `xml:"data"`
}

func (n *xmlNode) attr(key string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == key {
			return a.Value
		}
	}
	return ""
}

// find returns the first descendant reachable as a direct child (or the node
// itself) whose name attribute matches one of names.
func (n *xmlNode) find(names ...string) *xmlNode {
	for _, name := range names {
		if n.attr("name") == name {
			return n
		}
	}
	for i := range n.Children {
		child := &n.Children[i]
		for _, name := range names {
			if child.attr("name") == name {
				return child
			}
		}
	}
	return nil
}

// FetchBatchDetail implements ports.CarrierClient. Piece codes are joined
// with semicolons into a single d-get-piece-detail request. Any batch-level
// failure returns an error; the adapter never guesses which numbers succeeded.
func (a *DHLAdapter) FetchBatchDetail(ctx context.Context, trackingNumbers []string) (map[string]ports.PieceDetail, error) {
	if len(trackingNumbers) == 0 {
		return map[string]ports.PieceDetail{}, nil
	}
	if len(trackingNumbers) > domain.BatchSize {
		return nil, fmt.Errorf("batch of %d exceeds carrier limit of %d", len(trackingNumbers), domain.BatchSize)
	}

	payload := a.pieceDetailPayload(strings.Join(trackingNumbers, ";"))
	root, err := a.doRequest(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("batch detail request failed: %w", err)
	}
	if code := root.attr("code"); code != "" && code != "0" {
		return nil, fmt.Errorf("carrier API error code %s", code)
	}

	list := root.find("piece-shipment-list")
	if list == nil {
		return nil, fmt.Errorf("piece-shipment-list missing from batch response")
	}

	results := make(map[string]ports.PieceDetail, len(trackingNumbers))
	for i := range list.Children {
		piece := &list.Children[i]
		if piece.attr("name") != "piece-shipment" {
			continue
		}
		pieceCode := piece.attr("piece-code")
		if pieceCode == "" {
			continue
		}
		results[pieceCode] = a.pieceDetail(pieceCode, piece)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("batch response contained no piece shipments")
	}
	return results, nil
}

// FetchDetail implements ports.CarrierClient for a single piece code.
func (a *DHLAdapter) FetchDetail(ctx context.Context, trackingNumber string) (ports.PieceDetail, error) {
	payload := a.pieceDetailPayload(trackingNumber)
	root, err := a.doRequest(ctx, payload)
	if err != nil {
		return ports.PieceDetail{}, fmt.Errorf("detail request for %s failed: %w", trackingNumber, err)
	}
	if code := root.attr("code"); code != "" && code != "0" {
		return ports.PieceDetail{}, fmt.Errorf("carrier API error code %s for %s", code, trackingNumber)
	}

	list := root.find("piece-shipment-list")
	if list == nil {
		return ports.PieceDetail{}, fmt.Errorf("piece-shipment-list missing from response for %s", trackingNumber)
	}
	piece := list.find("piece-shipment")
	if piece == nil {
		return ports.PieceDetail{}, fmt.Errorf("piece-shipment missing from response for %s", trackingNumber)
	}

	return a.pieceDetail(trackingNumber, piece), nil
}

// FetchSignature implements ports.CarrierClient. The d-get-signature response
// carries the proof-of-delivery image as hex-encoded bytes in the "image"
// attribute. A missing or unusable image is ErrSignatureUnavailable, not a
// transport failure.
func (a *DHLAdapter) FetchSignature(ctx context.Context, trackingNumber string) (domain.SignatureArtifact, error) {
	payload := fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8" standalone="no"?>`+
			`<data appname="%s" password="%s" request="d-get-signature" piece-code="%s"/>`,
		a.username, a.password, trackingNumber,
	)

	root, err := a.doRequest(ctx, payload)
	if err != nil {
		return domain.SignatureArtifact{}, fmt.Errorf("signature request for %s failed: %w", trackingNumber, err)
	}
	if code := root.attr("code"); code != "" && code != "0" {
		a.logger.Debug("Signature API returned error code",
			zap.String("tracking_number", trackingNumber),
			zap.String("code", code),
		)
		return domain.SignatureArtifact{}, ports.ErrSignatureUnavailable
	}

	list := root.find("signature-list", "signaturelist")
	if list == nil {
		return domain.SignatureArtifact{}, ports.ErrSignatureUnavailable
	}
	sig := list.find("signature")
	if sig == nil {
		return domain.SignatureArtifact{}, ports.ErrSignatureUnavailable
	}

	hexImage := sig.attr("image")
	if hexImage == "" {
		return domain.SignatureArtifact{}, ports.ErrSignatureUnavailable
	}
	image, err := hex.DecodeString(hexImage)
	if err != nil {
		a.logger.Warn("Signature image is not valid hex",
			zap.String("tracking_number", trackingNumber),
			zap.Error(err),
		)
		return domain.SignatureArtifact{}, ports.ErrSignatureUnavailable
	}
	if len(image) < minSignatureBytes {
		return domain.SignatureArtifact{}, ports.ErrSignatureUnavailable
	}

	mimeType := sig.attr("mime-type")
	if mimeType == "" {
		mimeType = "image/gif"
	}

	return domain.SignatureArtifact{
		TrackingNumber: trackingNumber,
		Image:          image,
		MimeType:       mimeType,
		RetrievedAt:    time.Now().UTC(),
	}, nil
}

func (a *DHLAdapter) pieceDetailPayload(pieceCodes string) string {
	return fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8" standalone="no"?>`+
			`<data appname="%s" language-code="de" password="%s" piece-code="%s" request="d-get-piece-detail"/>`,
		a.username, a.password, pieceCodes,
	)
}

// doRequest performs one API call and decodes the envelope. Carrier-level
// error codes inside the envelope are left to the caller; each request type
// treats them differently.
func (a *DHLAdapter) doRequest(ctx context.Context, payload string) (*xmlNode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	q := req.URL.Query()
	q.Set("xml", payload)
	req.URL.RawQuery = q.Encode()

	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("DHL-API-Key", a.clientID)
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Accept", "application/xml")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("carrier API returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var root xmlNode
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("failed to parse carrier XML: %w", err)
	}

	return &root, nil
}

// pieceDetail maps one piece-shipment element to the carrier-agnostic result.
func (a *DHLAdapter) pieceDetail(trackingNumber string, piece *xmlNode) ports.PieceDetail {
	iceCode := piece.attr("ice")
	deliveryFlag := piece.attr("delivery-event-flag") == "1"

	detail := ports.PieceDetail{
		TrackingNumber: trackingNumber,
		Status:         a.carrierStatus(trackingNumber, iceCode, deliveryFlag),
		StatusText:     piece.attr("status"),
		ICECode:        iceCode,
		RICCode:        piece.attr("ric"),
		DeliveryFlag:   deliveryFlag,
		DestCountry:    piece.attr("dest-country"),
	}
	if ts, ok := parseDHLTimestamp(piece.attr("status-timestamp")); ok {
		detail.StatusTimestamp = ts
	}

	if events := piece.find("piece-event-list"); events != nil {
		for i := range events.Children {
			ev := &events.Children[i]
			if ev.attr("name") != "piece-event" {
				continue
			}
			event := domain.TrackingEvent{
				TrackingNumber: trackingNumber,
				ICECode:        ev.attr("ice"),
				RICCode:        ev.attr("ric"),
				StatusText:     ev.attr("event-status"),
				Location:       ev.attr("event-location"),
				Country:        ev.attr("event-country"),
				Sequence:       len(detail.Events),
			}
			if ts, ok := parseDHLTimestamp(ev.attr("event-timestamp")); ok {
				event.Timestamp = ts
			}
			detail.Events = append(detail.Events, event)
		}
	}

	return detail
}

// carrierStatus maps carrier codes onto the internal vocabulary. Unrecognized
// codes yield an empty status, which downstream treats as "no change".
func (a *DHLAdapter) carrierStatus(trackingNumber, iceCode string, deliveryFlag bool) domain.Status {
	ice := strings.ToUpper(iceCode)
	switch {
	case deliveredICECodes[ice]:
		return domain.StatusDelivered
	case exceptionICECodes[ice]:
		return domain.StatusException
	case deliveryFlag:
		return domain.StatusDelivered
	case ice == "":
		return ""
	}

	a.logger.Warn("Unrecognized DHL ICE code, keeping current status",
		zap.String("tracking_number", trackingNumber),
		zap.String("ice_code", iceCode),
	)
	return ""
}

func parseDHLTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dhlTimestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
