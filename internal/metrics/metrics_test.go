package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandler_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/products/{id}", "418"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/abc", nil))

	require.Equal(t, http.StatusTeapot, rr.Code)
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/products/{id}", "418"))
	assert.Equal(t, before+1, after)
}

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(orderTransitions.WithLabelValues("awaiting_payment", "paid", "false"))
	RecordTransition("awaiting_payment", "paid", false)
	after := testutil.ToFloat64(orderTransitions.WithLabelValues("awaiting_payment", "paid", "false"))
	assert.Equal(t, before+1, after)
}

func TestHandler_ExposesCustomCollectors(t *testing.T) {
	RecordWebhookEvent("order_created", "processed")
	SetQueueDepth(3)

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `storefront_webhook_events_total{event="order_created",outcome="processed"}`))
	assert.True(t, strings.Contains(body, "storefront_worker_queue_depth 3"))
}
