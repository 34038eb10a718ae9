package adapter

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"returns-tracker/internal/core/config"
	"returns-tracker/internal/features/tracking/domain"
	"returns-tracker/internal/features/tracking/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapter(serverURL string) *DHLAdapter {
	return NewDHLAdapter(config.DHLConfig{
		APIURL:       serverURL,
		Username:     "test-app",
		Password:     "test-pass",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
}

const batchResponseXML = `<?xml version="1.0" encoding="UTF-8"?>
<data name="piece-tracking" code="0" request-id="abc">
  <data name="piece-shipment-list">
    <data name="piece-shipment" piece-code="00340434161094000001" ice="DLVRD" ric="POSTA"
          status="Delivered" status-timestamp="10.02.2026 11:42" delivery-event-flag="1"
          dest-country="DE">
      <data name="piece-event-list">
        <data name="piece-event" ice="SHPDE" ric="NRQRD" event-status="Shipment picked up"
              event-timestamp="08.02.2026 09:15" event-location="Bonn" event-country="DE"/>
        <data name="piece-event" ice="DLVRD" ric="POSTA" event-status="Delivered"
              event-timestamp="10.02.2026 11:42" event-location="Koeln" event-country="DE"/>
      </data>
    </data>
    <data name="piece-shipment" piece-code="00340434161094000002" ice="ULFMV" ric="OTHER"
          status="In transit" status-timestamp="2026-02-10 06:00:00" dest-country="AT"/>
  </data>
</data>`

// TestDHLAdapter_FetchBatchDetail_ParsesShipments verifies the batch request
// payload, auth, and response mapping.
func TestDHLAdapter_FetchBatchDetail_ParsesShipments(t *testing.T) {
	var gotXML, gotAPIKey, gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXML = r.URL.Query().Get("xml")
		gotAPIKey = r.Header.Get("DHL-API-Key")
		gotUser, gotPass, _ = r.BasicAuth()
		fmt.Fprint(w, batchResponseXML)
	}))
	defer server.Close()

	dhl := testAdapter(server.URL)
	numbers := []string{"00340434161094000001", "00340434161094000002"}

	results, err := dhl.FetchBatchDetail(context.Background(), numbers)
	require.NoError(t, err)

	assert.Contains(t, gotXML, `request="d-get-piece-detail"`)
	assert.Contains(t, gotXML, `piece-code="00340434161094000001;00340434161094000002"`)
	assert.Contains(t, gotXML, `appname="test-app"`)
	assert.Equal(t, "client-id", gotAPIKey)
	assert.Equal(t, "client-id", gotUser)
	assert.Equal(t, "client-secret", gotPass)

	require.Len(t, results, 2)

	delivered := results["00340434161094000001"]
	assert.Equal(t, domain.StatusDelivered, delivered.Status)
	assert.Equal(t, "DLVRD", delivered.ICECode)
	assert.Equal(t, "DE", delivered.DestCountry)
	assert.True(t, delivered.DeliveryFlag)
	assert.Equal(t, time.Date(2026, 2, 10, 11, 42, 0, 0, time.UTC), delivered.StatusTimestamp)
	require.Len(t, delivered.Events, 2)
	assert.Equal(t, "SHPDE", delivered.Events[0].ICECode)
	assert.Equal(t, 0, delivered.Events[0].Sequence)
	assert.Equal(t, "Koeln", delivered.Events[1].Location)

	// ULFMV is not a recognized terminal code; the status stays undecided.
	inTransit := results["00340434161094000002"]
	assert.Equal(t, domain.Status(""), inTransit.Status)
	assert.Equal(t, time.Date(2026, 2, 10, 6, 0, 0, 0, time.UTC), inTransit.StatusTimestamp)
}

// TestDHLAdapter_FetchBatchDetail_RejectsOversizedBatch verifies the carrier
// limit is enforced before any request goes out.
func TestDHLAdapter_FetchBatchDetail_RejectsOversizedBatch(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	dhl := testAdapter(server.URL)
	numbers := make([]string, domain.BatchSize+1)
	for i := range numbers {
		numbers[i] = fmt.Sprintf("piece-%d", i)
	}

	_, err := dhl.FetchBatchDetail(context.Background(), numbers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds carrier limit")
	assert.False(t, called)
}

// TestDHLAdapter_FetchBatchDetail_CarrierErrorCode verifies a non-zero
// envelope code fails the whole batch.
func TestDHLAdapter_FetchBatchDetail_CarrierErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<data name="piece-tracking" code="100" error="no data found"/>`)
	}))
	defer server.Close()

	dhl := testAdapter(server.URL)
	_, err := dhl.FetchBatchDetail(context.Background(), []string{"00340434161094000001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error code 100")
}

// TestDHLAdapter_FetchBatchDetail_HTTPError verifies transport failures
// surface as errors.
func TestDHLAdapter_FetchBatchDetail_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	dhl := testAdapter(server.URL)
	_, err := dhl.FetchBatchDetail(context.Background(), []string{"00340434161094000001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

// TestDHLAdapter_FetchBatchDetail_EmptyShipmentList verifies a well-formed
// response without shipments is still a batch failure.
func TestDHLAdapter_FetchBatchDetail_EmptyShipmentList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<data name="piece-tracking" code="0"><data name="piece-shipment-list"/></data>`)
	}))
	defer server.Close()

	dhl := testAdapter(server.URL)
	_, err := dhl.FetchBatchDetail(context.Background(), []string{"00340434161094000001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no piece shipments")
}

// TestDHLAdapter_FetchDetail_ExceptionStatus verifies exception ICE codes map
// to the exception status.
func TestDHLAdapter_FetchDetail_ExceptionStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<data name="piece-tracking" code="0">
  <data name="piece-shipment-list">
    <data name="piece-shipment" piece-code="00340434161094000003" ice="RETUR" ric="OTHER"
          status="Returned to sender" status-timestamp="2026-02-09T14:30:00" dest-country="DE"/>
  </data>
</data>`)
	}))
	defer server.Close()

	dhl := testAdapter(server.URL)
	detail, err := dhl.FetchDetail(context.Background(), "00340434161094000003")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusException, detail.Status)
	assert.Equal(t, "RETUR", detail.ICECode)
	assert.Equal(t, time.Date(2026, 2, 9, 14, 30, 0, 0, time.UTC), detail.StatusTimestamp)
}

// TestDHLAdapter_FetchDetail_DeliveryFlagWithoutICE verifies the
// delivery-event-flag alone marks a shipment delivered.
func TestDHLAdapter_FetchDetail_DeliveryFlagWithoutICE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<data name="piece-tracking" code="0">
  <data name="piece-shipment-list">
    <data name="piece-shipment" piece-code="00340434161094000004" status="Zustellung erfolgreich"
          delivery-event-flag="1" dest-country="DE"/>
  </data>
</data>`)
	}))
	defer server.Close()

	dhl := testAdapter(server.URL)
	detail, err := dhl.FetchDetail(context.Background(), "00340434161094000004")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, detail.Status)
}

// TestDHLAdapter_FetchSignature_DecodesImage verifies the hex image decode
// and mime type default.
func TestDHLAdapter_FetchSignature_DecodesImage(t *testing.T) {
	image := []byte("GIF89a-proof-of-delivery")
	var gotXML string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXML = r.URL.Query().Get("xml")
		fmt.Fprintf(w, `<data name="piece-tracking" code="0">
  <data name="signature-list">
    <data name="signature" image="%s"/>
  </data>
</data>`, hex.EncodeToString(image))
	}))
	defer server.Close()

	dhl := testAdapter(server.URL)
	sig, err := dhl.FetchSignature(context.Background(), "00340434161094000001")
	require.NoError(t, err)

	assert.Contains(t, gotXML, `request="d-get-signature"`)
	assert.Equal(t, "00340434161094000001", sig.TrackingNumber)
	assert.Equal(t, image, sig.Image)
	assert.Equal(t, "image/gif", sig.MimeType)
	assert.False(t, sig.RetrievedAt.IsZero())
}

// TestDHLAdapter_FetchSignature_Unavailable verifies every non-usable
// signature response maps to the sentinel, not a transport error.
func TestDHLAdapter_FetchSignature_Unavailable(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"carrier error code", `<data code="100" error="no data found"/>`},
		{"missing signature list", `<data code="0"/>`},
		{"missing signature element", `<data code="0"><data name="signature-list"/></data>`},
		{"empty image", `<data code="0"><data name="signature-list"><data name="signature" image=""/></data></data>`},
		{"invalid hex", `<data code="0"><data name="signature-list"><data name="signature" image="zzzz"/></data></data>`},
		{"truncated image", fmt.Sprintf(`<data code="0"><data name="signature-list"><data name="signature" image="%s"/></data></data>`,
			hex.EncodeToString([]byte("tiny")))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			dhl := testAdapter(server.URL)
			_, err := dhl.FetchSignature(context.Background(), "00340434161094000001")
			assert.ErrorIs(t, err, ports.ErrSignatureUnavailable)
		})
	}
}

// TestDHLAdapter_FetchSignature_TransportErrorIsNotUnavailable verifies HTTP
// failures stay retryable errors rather than the unavailable sentinel.
func TestDHLAdapter_FetchSignature_TransportErrorIsNotUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	dhl := testAdapter(server.URL)
	_, err := dhl.FetchSignature(context.Background(), "00340434161094000001")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrSignatureUnavailable)
}

// TestParseDHLTimestamp covers the layout variants seen across API responses.
func TestParseDHLTimestamp(t *testing.T) {
	cases := []struct {
		value string
		want  time.Time
		ok    bool
	}{
		{"10.02.2026 11:42", time.Date(2026, 2, 10, 11, 42, 0, 0, time.UTC), true},
		{"2026-02-10 06:00:00", time.Date(2026, 2, 10, 6, 0, 0, 0, time.UTC), true},
		{"2026-02-10T06:00:00", time.Date(2026, 2, 10, 6, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"not a timestamp", time.Time{}, false},
	}

	for _, tc := range cases {
		got, ok := parseDHLTimestamp(tc.value)
		assert.Equal(t, tc.ok, ok, tc.value)
		if tc.ok {
			assert.True(t, tc.want.Equal(got), tc.value)
		}
	}
}

// TestCarrierStatus_CaseInsensitive verifies ICE code matching ignores case.
func TestCarrierStatus_CaseInsensitive(t *testing.T) {
	dhl := testAdapter("http://unused.invalid")

	assert.Equal(t, domain.StatusDelivered, dhl.carrierStatus("tn", "dlvrd", false))
	assert.Equal(t, domain.StatusException, dhl.carrierStatus("tn", strings.ToLower("NTDEL"), false))
	assert.Equal(t, domain.Status(""), dhl.carrierStatus("tn", "SHPDE", false))
	assert.Equal(t, domain.Status(""), dhl.carrierStatus("tn", "", false))
}
