package metrics_test

import (
	"net/http/httptest"
	"testing"

	"github.com/muchq/tensorgraph/metrics"
	"github.com/stretchr/testify/assert"
)

func TestHandlerExposesObservedCounters(t *testing.T) {
	r := metrics.New()
	r.ObserveGetWeights()
	r.ObserveGetWeights()
	r.ObserveSetWeights()
	r.ObserveVersionMismatch()
	r.ObserveVersionOrdinal(3)
	r.ObserveWeightsSize(1024)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "training_master_get_weights_total 2")
	assert.Contains(t, body, "training_master_set_weights_total 1")
	assert.Contains(t, body, "training_master_version_mismatch_total 1")
	assert.Contains(t, body, "training_master_current_version_ordinal 3")
	assert.Contains(t, body, "training_master_weights_bytes 1024")
}

func TestIndependentRecordersDoNotShareState(t *testing.T) {
	a := metrics.New()
	b := metrics.New()
	a.ObserveGetWeights()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "training_master_get_weights_total 0")
}
